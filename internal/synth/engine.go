package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Device and precision selection for the inference runner.
const (
	deviceCUDA = "cuda"
	deviceMPS  = "mps"
	deviceCPU  = "cpu"

	precisionBF16 = "bfloat16"
	precisionF32  = "float32"

	attnFlash = "flash_attention_2"
	attnSDPA  = "sdpa"
)

const (
	defaultStartupTimeout = 5 * time.Minute
	probeInterval         = 500 * time.Millisecond
	healthPollInterval    = time.Second
)

// EngineLoader loads models by launching the inference runner as a child
// process that holds the model in memory and serves synthesis requests over
// local HTTP. Releasing the handle terminates the process, which is what
// frees the model's memory and accelerator allocation.
type EngineLoader struct {
	ModelsDir      string
	RunnerBin      string
	ListenAddr     string
	Device         string // empty means autodetect
	StartupTimeout time.Duration
	Log            *logrus.Logger
}

// Load resolves the model directory, picks device, precision and attention
// implementation for the current hardware, and starts the runner. The fast
// attention path is attempted first; if the runner cannot come up with it,
// the load is retried on the broadly compatible path. Any remaining failure
// is fatal for this load and nothing is cached.
func (l *EngineLoader) Load(modelName string) (*Handle, error) {
	modelPath, err := l.resolveModelPath(modelName)
	if err != nil {
		return nil, err
	}

	device := l.Device
	if device == "" {
		device = detectDevice()
	}
	precision := precisionFor(device)

	attn := attnSDPA
	if device == deviceCUDA {
		attn = attnFlash
	}

	l.Log.WithFields(logrus.Fields{
		"model":     modelName,
		"device":    device,
		"precision": precision,
		"attention": attn,
	}).Info("loading model")

	proc, err := l.startRunner(modelPath, device, precision, attn)
	if err != nil && attn == attnFlash {
		l.Log.WithError(err).Warn("fast attention path unavailable, retrying with sdpa")
		attn = attnSDPA
		proc, err = l.startRunner(modelPath, device, precision, attn)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, modelName, err)
	}

	client := &engineClient{
		baseURL: "http://" + l.ListenAddr,
		http:    &http.Client{},
	}
	return NewHandle(modelName, FamilyFor(modelName), client, proc.stop), nil
}

func (l *EngineLoader) resolveModelPath(modelName string) (string, error) {
	absRoot, err := filepath.Abs(l.ModelsDir)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrModelLoad, modelName, err)
	}

	path := filepath.Join(absRoot, modelName)
	if !strings.HasPrefix(path, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s: model path escapes models directory", ErrModelLoad, modelName)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s: not installed", ErrModelLoad, modelName)
	}
	return path, nil
}

// runnerProcess is one live inference runner holding a loaded model. done is
// closed when the process exits; waitErr is valid only after that.
type runnerProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	log     *logrus.Logger
}

func (l *EngineLoader) startRunner(modelPath, device, precision, attn string) (*runnerProcess, error) {
	// #nosec G204 -- model path is containment-checked, remaining args are constants
	cmd := exec.Command(l.RunnerBin,
		"--model", modelPath,
		"--device", device,
		"--dtype", precision,
		"--attention", attn,
		"--listen", l.ListenAddr,
	)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start runner: %w", err)
	}

	proc := &runnerProcess{cmd: cmd, done: make(chan struct{}), log: l.Log}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.done)
	}()

	if err := l.awaitHealthy(proc); err != nil {
		proc.stop()
		return nil, err
	}
	return proc, nil
}

// awaitHealthy polls the runner's health endpoint until it answers or the
// startup timeout elapses. A runner that exits early fails immediately.
func (l *EngineLoader) awaitHealthy(proc *runnerProcess) error {
	timeout := l.StartupTimeout
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}
	deadline := time.Now().Add(timeout)

	url := "http://" + l.ListenAddr + "/healthz"
	client := &http.Client{Timeout: healthPollInterval}

	for time.Now().Before(deadline) {
		select {
		case <-proc.done:
			return fmt.Errorf("runner exited during startup: %v", proc.waitErr)
		default:
		}

		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(healthPollInterval)
	}
	return errors.New("runner did not become healthy before timeout")
}

// stop terminates the runner, releasing the model's memory. Graceful first,
// then hard kill.
func (p *runnerProcess) stop() {
	select {
	case <-p.done:
		return
	default:
	}

	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
		if err := p.cmd.Process.Kill(); err != nil {
			p.log.WithError(err).Warn("failed to kill runner process")
		}
		<-p.done
	}
}

// engineClient speaks to the runner's local HTTP interface.
type engineClient struct {
	baseURL string
	http    *http.Client
}

type synthesizeRequest struct {
	Text           string  `json:"text"`
	VoicePath      string  `json:"voice_path,omitempty"`
	GuidanceScale  float64 `json:"cfg_scale"`
	InferenceSteps int     `json:"inference_steps"`
}

type synthesizeResponse struct {
	Samples    []float64 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
}

// Synthesize posts one generation request to the runner. The cancellation
// probe is polled while the request runs; when it reports true the request
// context is cancelled and the runner abandons the generation.
func (c *engineClient) Synthesize(ctx context.Context, req SynthesisRequest, probe func() bool) ([]float64, int, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if probe != nil {
		go func() {
			ticker := time.NewTicker(probeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-reqCtx.Done():
					return
				case <-ticker.C:
					if probe() {
						cancel()
						return
					}
				}
			}
		}()
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:           req.Text,
		VoicePath:      req.VoicePath,
		GuidanceScale:  req.GuidanceScale,
		InferenceSteps: req.InferenceSteps,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encode synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Surface the caller's context error so cancellation and timeout
		// keep their meaning through the HTTP layer.
		if ctxErr := reqCtx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("synthesis engine returned status %d", resp.StatusCode)
	}

	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("decode synthesis response: %w", err)
	}
	if len(out.Samples) == 0 {
		return nil, 0, errors.New("no audio generated")
	}
	return out.Samples, out.SampleRate, nil
}

// detectDevice picks the best available compute device: accelerator first,
// then the Apple GPU path, then plain CPU.
func detectDevice() string {
	if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
		return deviceCUDA
	}
	if runtime.GOOS == "darwin" {
		return deviceMPS
	}
	return deviceCPU
}

func precisionFor(device string) string {
	if device == deviceCUDA {
		return precisionBF16
	}
	return precisionF32
}
