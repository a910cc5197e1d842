package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JOBTALK_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Outbox.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.Outbox.MaxAttempts)
	}
	if cfg.Outbox.BaseDelay() != 500*time.Millisecond {
		t.Errorf("base delay = %v, want 500ms", cfg.Outbox.BaseDelay())
	}
	if cfg.Outbox.MaxDelay() != 30*time.Second {
		t.Errorf("max delay = %v, want 30s", cfg.Outbox.MaxDelay())
	}
	if !cfg.Sweeper.Enabled || cfg.Sweeper.Schedule != "*/5 * * * *" {
		t.Errorf("sweeper = %+v", cfg.Sweeper)
	}
	if cfg.Server.APIPort != 8080 || cfg.Server.BindAddr != "127.0.0.1" {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("JOBTALK_HOME", dir)

	content := `
[device]
id = "laptop"

[outbox]
max_attempts = 7
base_delay_ms = 100

[sweeper]
enabled = false

[server]
api_port = 9090
api_key = "secret"
`
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Device.ID != "laptop" {
		t.Errorf("device id = %q, want laptop", cfg.Device.ID)
	}
	if cfg.Outbox.MaxAttempts != 7 || cfg.Outbox.BaseDelayMS != 100 {
		t.Errorf("outbox = %+v", cfg.Outbox)
	}
	// Unset keys keep their defaults.
	if cfg.Outbox.MaxDelayMS != 30000 {
		t.Errorf("max_delay_ms = %d, want 30000", cfg.Outbox.MaxDelayMS)
	}
	if cfg.Sweeper.Enabled {
		t.Error("sweeper should be disabled")
	}
	if cfg.Server.APIPort != 9090 || cfg.Server.APIKey != "secret" {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	t.Setenv("JOBTALK_HOME", t.TempDir())

	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Outbox.MaxAttempts != 5 {
		t.Errorf("defaults not applied: %+v", cfg.Outbox)
	}
}

func TestHomeDirFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("JOBTALK_HOME", dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HomeDir != dir {
		t.Errorf("home = %q, want %q", cfg.HomeDir, dir)
	}
	if cfg.DatabasePath() != filepath.Join(dir, "jobtalk.db") {
		t.Errorf("db path = %q", cfg.DatabasePath())
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := expandPath("~/data"); got != filepath.Join(home, "data") {
		t.Errorf("expandPath(~/data) = %q", got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("expandPath(/abs/path) = %q", got)
	}
	if got := expandPath(""); got != "" {
		t.Errorf("expandPath(\"\") = %q", got)
	}
}
