package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envConfigFile, envListenAddr, envNATSURL, envDBPath, envArtifactDir,
		envModelsDir, envVoicesDir, envLinkSecret, envLinkTTL, envCancelTTL,
		envJobTimeout, envWorkers, envRunnerBin, envEngineAddr, envDevice, envLogLevel,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.NATSURL != defaultNATSURL {
		t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, defaultNATSURL)
	}
	if cfg.LinkTTL != defaultLinkTTL {
		t.Errorf("LinkTTL = %v, want %v", cfg.LinkTTL, defaultLinkTTL)
	}
	if cfg.CancelTTL != defaultCancelTTL {
		t.Errorf("CancelTTL = %v, want %v", cfg.CancelTTL, defaultCancelTTL)
	}
	if cfg.Workers != defaultWorkers {
		t.Errorf("Workers = %d, want %d", cfg.Workers, defaultWorkers)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envLinkSecret, "s3cret")
	t.Setenv(envJobTimeout, "2m")
	t.Setenv(envWorkers, "4")
	t.Setenv(envLogLevel, "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LinkSecret != "s3cret" {
		t.Errorf("LinkSecret = %q, want %q", cfg.LinkSecret, "s3cret")
	}
	if cfg.JobTimeout != 2*time.Minute {
		t.Errorf("JobTimeout = %v, want 2m", cfg.JobTimeout)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "tospeech.toml")
	contents := `
listen_addr = ":7070"
nats_url = "nats://broker:4222"
link_ttl = "30m"
workers = 2
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(envConfigFile, path)
	t.Setenv(envListenAddr, ":6060") // env wins over file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":6060" {
		t.Errorf("ListenAddr = %q, want env override %q", cfg.ListenAddr, ":6060")
	}
	if cfg.NATSURL != "nats://broker:4222" {
		t.Errorf("NATSURL = %q, want file value", cfg.NATSURL)
	}
	if cfg.LinkTTL != 30*time.Minute {
		t.Errorf("LinkTTL = %v, want 30m", cfg.LinkTTL)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
}

func TestLoadBadConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("listen_addr = [not toml"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(envConfigFile, path)

	if _, err := Load(); err == nil {
		t.Fatal("Load with malformed file = nil error, want error")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
