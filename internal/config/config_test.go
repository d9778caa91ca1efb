package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8080" || cfg.DBDriver != "sqlite3" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.GraceWindow != 5*time.Second || cfg.SnapshotInterval != 5*time.Second {
		t.Errorf("timing defaults = %v / %v", cfg.GraceWindow, cfg.SnapshotInterval)
	}
	if cfg.JWTSecret == "" {
		t.Error("development mode should fall back to a dev secret")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GRACE_WINDOW", "0s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DB_DRIVER", "postgres")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GraceWindow != 0 {
		t.Errorf("GraceWindow = %v, want 0", cfg.GraceWindow)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SNAPSHOT_INTERVAL=2s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SNAPSHOT_INTERVAL", "")
	os.Unsetenv("SNAPSHOT_INTERVAL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SnapshotInterval != 2*time.Second {
		t.Errorf("SnapshotInterval = %v, want 2s", cfg.SnapshotInterval)
	}
	os.Unsetenv("SNAPSHOT_INTERVAL")
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("Load() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(c *Config) {}, false},
		{"bad driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"production without secret", func(c *Config) { c.Env = "production"; c.JWTSecret = "" }, true},
		{"negative grace", func(c *Config) { c.GraceWindow = -time.Second }, true},
		{"zero store timeout", func(c *Config) { c.StoreTimeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Env: "development", DBDriver: "sqlite3", JWTSecret: "s", TokenTTL: time.Hour,
				StoreTimeout: time.Second, UploadMaxBytes: 1,
			}
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
