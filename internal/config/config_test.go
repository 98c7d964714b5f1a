package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := validate.Struct(cfg); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Fatalf("got level %q, want INFO", cfg.Logging.Level)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Logging.Level = "DEBUG"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "0.0.0.0:9999"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Logging.Level != "DEBUG" {
		t.Fatalf("got level %q, want DEBUG", loaded.Logging.Level)
	}
	if loaded.Metrics.Addr != "0.0.0.0:9999" {
		t.Fatalf("got metrics addr %q, want 0.0.0.0:9999", loaded.Metrics.Addr)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: BOGUS\n  format: text\n  output: stderr\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for invalid log level")
	}
}

func TestDefaultConfigPathUsesXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdgtest")
	got := DefaultConfigPath()
	want := filepath.Join("/tmp/xdgtest", "netboot", "config.yaml")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
