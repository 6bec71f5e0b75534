package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Integration tests that exercise the full LoadFrom pipeline:
// defaults < YAML < environment variables.

func TestLoadFrom_FullHierarchy(t *testing.T) {
	// YAML sets port=9090, env overrides to 7070. Env must win.
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
logging:
  level: "debug"
cache:
  draft_ttl: 5m
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("COACHFORGE_PORT", "7070")
	t.Setenv("COACHFORGE_LOG_LEVEL", "warn")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env should override YAML port: got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env should override YAML level: got %s", cfg.Logging.Level)
	}
	if cfg.Cache.DraftTTL.String() != "5m0s" {
		t.Errorf("YAML should override default draft ttl: got %v", cfg.Cache.DraftTTL)
	}
	if cfg.Onboarding.MaxAttempts != 3 {
		t.Errorf("default max_attempts should survive: got %d", cfg.Onboarding.MaxAttempts)
	}
}

func TestLoadFrom_ValidationFailure(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
store:
  driver: cassandra
`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected validation error for unknown store driver")
	}
}
