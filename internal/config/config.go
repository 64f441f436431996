package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultListenAddr  = ":8080"
	defaultNATSURL     = "nats://127.0.0.1:4222"
	defaultDBPath      = "tospeech.db"
	defaultArtifactDir = "generated_audio"
	defaultModelsDir   = "local_models"
	defaultVoicesDir   = "voices"
	defaultLinkTTL     = 60 * time.Minute
	defaultCancelTTL   = time.Hour
	defaultJobTimeout  = 10 * time.Minute
	defaultWorkers     = 1
	defaultRunnerBin   = "tospeech-engine"
	defaultEngineAddr  = "127.0.0.1:7071"

	envConfigFile  = "TOSPEECH_CONFIG"
	envListenAddr  = "TOSPEECH_LISTEN_ADDR"
	envNATSURL     = "TOSPEECH_NATS_URL"
	envDBPath      = "TOSPEECH_DB_PATH"
	envArtifactDir = "TOSPEECH_AUDIO_DIR"
	envModelsDir   = "TOSPEECH_MODELS_DIR"
	envVoicesDir   = "TOSPEECH_VOICES_DIR"
	envLinkSecret  = "TOSPEECH_LINK_SECRET"
	envLinkTTL     = "TOSPEECH_LINK_TTL"
	envCancelTTL   = "TOSPEECH_CANCEL_TTL"
	envJobTimeout  = "TOSPEECH_JOB_TIMEOUT"
	envWorkers     = "TOSPEECH_WORKERS"
	envRunnerBin   = "TOSPEECH_RUNNER_BIN"
	envEngineAddr  = "TOSPEECH_ENGINE_ADDR"
	envDevice      = "TOSPEECH_DEVICE"
	envLogLevel    = "TOSPEECH_LOG_LEVEL"
)

// Config holds application configuration. Values come from an optional TOML
// file named by TOSPEECH_CONFIG, overridden by environment variables.
type Config struct {
	ListenAddr  string
	NATSURL     string
	DBPath      string
	ArtifactDir string
	ModelsDir   string
	VoicesDir   string
	LinkSecret  string
	LinkTTL     time.Duration
	CancelTTL   time.Duration
	JobTimeout  time.Duration
	Workers     int
	RunnerBin   string
	EngineAddr  string
	Device      string
	LogLevel    slog.Level
}

// fileConfig is the TOML shape of the config file.
type fileConfig struct {
	ListenAddr  string `toml:"listen_addr"`
	NATSURL     string `toml:"nats_url"`
	DBPath      string `toml:"db_path"`
	ArtifactDir string `toml:"audio_dir"`
	ModelsDir   string `toml:"models_dir"`
	VoicesDir   string `toml:"voices_dir"`
	LinkSecret  string `toml:"link_secret"`
	LinkTTL     string `toml:"link_ttl"`
	CancelTTL   string `toml:"cancel_ttl"`
	JobTimeout  string `toml:"job_timeout"`
	Workers     int    `toml:"workers"`
	RunnerBin   string `toml:"runner_bin"`
	EngineAddr  string `toml:"engine_addr"`
	Device      string `toml:"device"`
	LogLevel    string `toml:"log_level"`
}

// Load reads configuration from the optional TOML file and the environment.
// Environment variables take precedence over file values.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:  defaultListenAddr,
		NATSURL:     defaultNATSURL,
		DBPath:      defaultDBPath,
		ArtifactDir: defaultArtifactDir,
		ModelsDir:   defaultModelsDir,
		VoicesDir:   defaultVoicesDir,
		LinkTTL:     defaultLinkTTL,
		CancelTTL:   defaultCancelTTL,
		JobTimeout:  defaultJobTimeout,
		Workers:     defaultWorkers,
		RunnerBin:   defaultRunnerBin,
		EngineAddr:  defaultEngineAddr,
		LogLevel:    slog.LevelInfo,
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.NATSURL != "" {
		cfg.NATSURL = fc.NATSURL
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.ArtifactDir != "" {
		cfg.ArtifactDir = fc.ArtifactDir
	}
	if fc.ModelsDir != "" {
		cfg.ModelsDir = fc.ModelsDir
	}
	if fc.VoicesDir != "" {
		cfg.VoicesDir = fc.VoicesDir
	}
	if fc.LinkSecret != "" {
		cfg.LinkSecret = fc.LinkSecret
	}
	if d, ok := parseDuration(fc.LinkTTL); ok {
		cfg.LinkTTL = d
	}
	if d, ok := parseDuration(fc.CancelTTL); ok {
		cfg.CancelTTL = d
	}
	if d, ok := parseDuration(fc.JobTimeout); ok {
		cfg.JobTimeout = d
	}
	if fc.Workers > 0 {
		cfg.Workers = fc.Workers
	}
	if fc.RunnerBin != "" {
		cfg.RunnerBin = fc.RunnerBin
	}
	if fc.EngineAddr != "" {
		cfg.EngineAddr = fc.EngineAddr
	}
	if fc.Device != "" {
		cfg.Device = fc.Device
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}

	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envNATSURL); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envArtifactDir); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv(envModelsDir); v != "" {
		cfg.ModelsDir = v
	}
	if v := os.Getenv(envVoicesDir); v != "" {
		cfg.VoicesDir = v
	}
	if v := os.Getenv(envLinkSecret); v != "" {
		cfg.LinkSecret = v
	}
	if d, ok := parseDuration(os.Getenv(envLinkTTL)); ok {
		cfg.LinkTTL = d
	}
	if d, ok := parseDuration(os.Getenv(envCancelTTL)); ok {
		cfg.CancelTTL = d
	}
	if d, ok := parseDuration(os.Getenv(envJobTimeout)); ok {
		cfg.JobTimeout = d
	}
	if v := os.Getenv(envWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv(envRunnerBin); v != "" {
		cfg.RunnerBin = v
	}
	if v := os.Getenv(envEngineAddr); v != "" {
		cfg.EngineAddr = v
	}
	if v := os.Getenv(envDevice); v != "" {
		cfg.Device = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
}

func parseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
