package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
service:
  id: "test-relay"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
relay:
  poll_interval: 100ms
  retention_window: 30m
instances:
  - id: "hub-main"
    name: "Main House"
    host: "hub.local"
    port: 8123
    token: "abc"
api:
  host: "0.0.0.0"
  port: 8090
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "test-relay" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "test-relay")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.Relay.PollInterval != 100*time.Millisecond {
		t.Errorf("Relay.PollInterval = %v, want %v", cfg.Relay.PollInterval, 100*time.Millisecond)
	}
	if cfg.Relay.RetentionWindow != 30*time.Minute {
		t.Errorf("Relay.RetentionWindow = %v, want %v", cfg.Relay.RetentionWindow, 30*time.Minute)
	}

	// Defaults should survive partial relay config
	if cfg.Relay.DrainInterval != 250*time.Millisecond {
		t.Errorf("Relay.DrainInterval = %v, want default %v", cfg.Relay.DrainInterval, 250*time.Millisecond)
	}

	if len(cfg.Instances) != 1 {
		t.Fatalf("len(Instances) = %d, want 1", len(cfg.Instances))
	}
	if cfg.Instances[0].ID != "hub-main" {
		t.Errorf("Instances[0].ID = %q, want %q", cfg.Instances[0].ID, "hub-main")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
service:
  id: "test-relay"
database:
  path: "/tmp/test.db"
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("GRAYRELAY_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override %q", cfg.Database.Path, "/tmp/override.db")
	}
}

func TestConfig_Validate(t *testing.T) {
	// validJWTSecret is a secret that meets the 32-character minimum requirement
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = validJWTSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing service id",
			mutate:  func(c *Config) { c.Service.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "zero retention window",
			mutate:  func(c *Config) { c.Relay.RetentionWindow = 0 },
			wantErr: true,
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: true,
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
		{
			name: "instance without id",
			mutate: func(c *Config) {
				c.Instances = []InstanceConfig{{Host: "hub.local"}}
			},
			wantErr: true,
		},
		{
			name: "duplicate instance ids",
			mutate: func(c *Config) {
				c.Instances = []InstanceConfig{
					{ID: "hub-a", Host: "a.local"},
					{ID: "hub-a", Host: "b.local"},
				}
			},
			wantErr: true,
		},
		{
			name: "instance without host",
			mutate: func(c *Config) {
				c.Instances = []InstanceConfig{{ID: "hub-a"}}
			},
			wantErr: true,
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Instance(t *testing.T) {
	cfg := defaultConfig()
	cfg.Instances = []InstanceConfig{
		{ID: "hub-a", Host: "a.local"},
		{ID: "hub-b", Host: "b.local"},
	}

	if got := cfg.Instance("hub-b"); got == nil || got.Host != "b.local" {
		t.Errorf("Instance(hub-b) = %+v, want host b.local", got)
	}
	if got := cfg.Instance("hub-c"); got != nil {
		t.Errorf("Instance(hub-c) = %+v, want nil", got)
	}
}
