package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunegate.toml")
	cfg, err := LoadOrCreateServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:3000" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if !strings.Contains(string(raw), "upstream_base_url") {
		t.Errorf("default config missing upstream_base_url:\n%s", raw)
	}
}

func TestLoadExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunegate.toml")
	body := `
listen_addr = ":8080"
upstream_base_url = "https://api.example.net/"
log_level = "DEBUG"

[database]
host = "db.internal"
user = "svc"
password = "secret"
name = "stats"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadOrCreateServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	// Trailing slash trimmed by Normalize.
	if cfg.UpstreamBaseURL != "https://api.example.net" {
		t.Errorf("upstream = %q", cfg.UpstreamBaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 3306 {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Database.PoolSize != 10 {
		t.Errorf("pool size default = %d", cfg.Database.PoolSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "override.internal")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_POOL_SIZE", "25")
	t.Setenv("STATELESS", "true")
	t.Setenv("TUNEGATE_LISTEN_ADDR", ":9000")
	t.Setenv("TUNEGATE_UPSTREAM", "https://env.example.com/base/")

	cfg := NewDefaultServerConfig()
	cfg.ApplyEnv()
	cfg.Normalize()
	if cfg.Database.Host != "override.internal" {
		t.Errorf("host = %q", cfg.Database.Host)
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("port = %d", cfg.Database.Port)
	}
	if cfg.Database.PoolSize != 25 {
		t.Errorf("pool size = %d", cfg.Database.PoolSize)
	}
	if !cfg.Stateless {
		t.Error("stateless not applied")
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.UpstreamBaseURL != "https://env.example.com/base" {
		t.Errorf("upstream = %q", cfg.UpstreamBaseURL)
	}
}

func TestEnvIgnoresBlankValues(t *testing.T) {
	t.Setenv("DB_HOST", "   ")
	cfg := NewDefaultServerConfig()
	cfg.ApplyEnv()
	if cfg.Database.Host != "localhost" {
		t.Errorf("blank env should not override, got %q", cfg.Database.Host)
	}
}

func TestValidate(t *testing.T) {
	cfg := NewDefaultServerConfig()
	cfg.UpstreamBaseURL = "not a url"
	cfg.Normalize()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for relative upstream URL")
	}

	cfg = NewDefaultServerConfig()
	cfg.TLS.Enabled = true
	cfg.Normalize()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for tls without domain")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := NewDefaultServerConfig()
	cfg.DataDir = "/var/lib/tunegate"
	if got := cfg.StatsFilePath(); got != "/var/lib/tunegate/stats.json" {
		t.Errorf("stats path = %q", got)
	}
	if got := cfg.BackupDir(); got != "/var/lib/tunegate/backups" {
		t.Errorf("backup dir = %q", got)
	}
}
