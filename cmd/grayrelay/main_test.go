package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("GRAYRELAY_CONFIG")
	defer os.Setenv("GRAYRELAY_CONFIG", originalEnv)

	os.Setenv("GRAYRELAY_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidJWTSecret verifies run fails config validation when the
// JWT secret is missing.
func TestRun_InvalidJWTSecret(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
service:
  name: grayrelay-test

database:
  path: "` + filepath.Join(tmpDir, "relay.db") + `"
  wal_mode: true
  busy_timeout: 5

instances:
  - id: home
    name: Home
    host: 127.0.0.1
    port: 8123
    token: test-token

mqtt:
  enabled: false

metrics:
  enabled: false

logging:
  level: info
  format: text
  output: stdout

security:
  jwt:
    secret: ""
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("GRAYRELAY_CONFIG")
	defer os.Setenv("GRAYRELAY_CONFIG", originalEnv)
	os.Setenv("GRAYRELAY_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when jwt secret is missing")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("GRAYRELAY_CONFIG")
	defer os.Setenv("GRAYRELAY_CONFIG", originalEnv)

	os.Unsetenv("GRAYRELAY_CONFIG")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("GRAYRELAY_CONFIG")
	defer os.Setenv("GRAYRELAY_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("GRAYRELAY_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
