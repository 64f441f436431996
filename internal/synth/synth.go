// Package synth wraps the text-to-speech inference engine behind a small
// interface and enforces single-slot model residency. The engine itself is
// opaque: it takes text plus a voice and returns raw samples.
package synth

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrModelLoad marks a failed model load. Fatal for that acquire call;
	// a half-loaded model is never cached.
	ErrModelLoad = errors.New("model load failed")
	// ErrInvalidVoice marks a voice id that is unknown, malformed, or
	// resolves outside the voice directory.
	ErrInvalidVoice = errors.New("invalid voice")
)

// Family is the capability tag of a loaded model, resolved once at load time.
type Family string

const (
	// FamilyRealtime is the streaming model line; requires a prefetched
	// voice prompt.
	FamilyRealtime Family = "realtime"
	// FamilyStandard is the standard model line; takes optional voice
	// reference audio.
	FamilyStandard Family = "standard"
	// FamilyPipeline is the generic fallback path for anything else.
	FamilyPipeline Family = "pipeline"
)

// FamilyFor classifies a model by name, mirroring how the model lines are
// published.
func FamilyFor(modelName string) Family {
	if !strings.Contains(modelName, "VibeVoice") {
		return FamilyPipeline
	}
	if strings.Contains(modelName, "Realtime") || strings.Contains(modelName, "0.5B") {
		return FamilyRealtime
	}
	return FamilyStandard
}

// SynthesisRequest carries everything the engine needs for one generation.
type SynthesisRequest struct {
	Text           string
	VoicePath      string
	GuidanceScale  float64
	InferenceSteps int
}

// Synthesizer is the opaque generation call. Implementations may poll the
// probe at their own checkpoints and abandon work when it reports true.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest, probe func() bool) (samples []float64, sampleRate int, err error)
}

// Handle is a loaded, resident model. Release frees the model's memory and
// accelerator resources; the handle must not be used afterwards.
type Handle struct {
	ModelName string
	Family    Family
	Synth     Synthesizer

	release func()
}

// NewHandle builds a handle around a synthesizer and its release hook.
func NewHandle(modelName string, family Family, s Synthesizer, release func()) *Handle {
	return &Handle{ModelName: modelName, Family: family, Synth: s, release: release}
}

// Release frees the handle's resources. Safe to call on a handle without a
// release hook.
func (h *Handle) Release() {
	if h.release != nil {
		h.release()
	}
}

// Loader loads a named model into memory and returns its handle.
type Loader interface {
	Load(modelName string) (*Handle, error)
}
