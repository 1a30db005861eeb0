package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvPort, EnvLogLevel, EnvLogFile, EnvDataDir, EnvServiceURL, EnvPollInterval, EnvHTTPTimeout, EnvHeadless, EnvInboxDir} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv(EnvEnvFile, filepath.Join(t.TempDir(), "missing.env"))
}

func TestNew_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 500ms", cfg.PollInterval())
	}
	if cfg.HTTPTimeout() != 60*time.Second {
		t.Errorf("HTTPTimeout() = %v, want 60s", cfg.HTTPTimeout())
	}
	if !cfg.Simulated() {
		t.Error("Simulated() = false, want true without a service URL")
	}
	if cfg.InboxDir() != filepath.Join(cfg.DataDir(), "inbox") {
		t.Errorf("InboxDir() = %q", cfg.InboxDir())
	}
}

func TestNew_FromEnv(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv(EnvPort, "9090")
	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvServiceURL, "http://localhost:5000/")
	t.Setenv(EnvPollInterval, "250")
	t.Setenv(EnvHeadless, "true")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9090 {
		t.Errorf("Port() = %d, want 9090", cfg.Port())
	}
	if cfg.DBPath() != filepath.Join(dir, DBFilename) {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.ServiceURL() != "http://localhost:5000" || cfg.Simulated() {
		t.Errorf("ServiceURL() = %q simulated=%v", cfg.ServiceURL(), cfg.Simulated())
	}
	if cfg.PollInterval() != 250*time.Millisecond {
		t.Errorf("PollInterval() = %v", cfg.PollInterval())
	}
	if !cfg.Headless() {
		t.Error("Headless() = false, want true")
	}
}

func TestNew_Invalid(t *testing.T) {
	cases := map[string]string{
		EnvPort:         "70000",
		EnvServiceURL:   "localhost:5000",
		EnvPollInterval: "10",
		EnvHTTPTimeout:  "zero",
		EnvHeadless:     "sometimes",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			isolate(t)
			t.Setenv(key, val)
			if _, err := New(); err == nil {
				t.Errorf("New() with %s=%q should fail", key, val)
			}
		})
	}
}

func TestNew_DotEnv(t *testing.T) {
	isolate(t)
	envFile := filepath.Join(t.TempDir(), "agent.env")
	content := "PIPETRACE_PORT=9191\nPIPETRACE_LOG_LEVEL=debug\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvEnvFile, envFile)
	t.Setenv(EnvLogLevel, "warn")
	t.Cleanup(func() { os.Unsetenv(EnvPort) })

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9191 {
		t.Errorf("Port() = %d, want 9191 from .env", cfg.Port())
	}
	if cfg.LogLevel() != "warn" {
		t.Errorf("LogLevel() = %q, want process env to win", cfg.LogLevel())
	}
}
