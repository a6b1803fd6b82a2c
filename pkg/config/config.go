// Package config loads the server configuration from a TOML file and
// applies the environment overrides recognized by the deployment platform.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const defaultConfigFileName = "tunegate.toml"

// DatabaseConfig holds the optional MySQL connection parameters. A bare
// localhost/root/no-password configuration counts as unconfigured and the
// server silently uses file storage instead.
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	PoolSize int    `toml:"pool_size"`
}

type TLSConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	Domain     string `toml:"domain"`
	Email      string `toml:"email"`
	CacheDir   string `toml:"cache_dir"`
}

type ServerConfig struct {
	ListenAddr      string         `toml:"listen_addr"`
	UpstreamBaseURL string         `toml:"upstream_base_url"`
	UpstreamTimeout int            `toml:"upstream_timeout_seconds"`
	DataDir         string         `toml:"data_dir"`
	LogLevel        string         `toml:"log_level"`
	Stateless       bool           `toml:"stateless"`
	Database        DatabaseConfig `toml:"database"`
	TLS             TLSConfig      `toml:"tls"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "tunegate", defaultConfigFileName)
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tunegate-data"
	}
	return filepath.Join(home, ".cache", "tunegate")
}

func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:      "127.0.0.1:3000",
		UpstreamBaseURL: "https://music-api.example.com",
		UpstreamTimeout: 30,
		DataDir:         DefaultDataDir(),
		LogLevel:        "info",
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			PoolSize: 10,
		},
		TLS: TLSConfig{
			ListenAddr: ":443",
		},
	}
}

// LoadOrCreateServerConfig reads the config file, writing the defaults first
// when it does not exist, then applies environment overrides.
func LoadOrCreateServerConfig(path string) (*ServerConfig, error) {
	cfg := NewDefaultServerConfig()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	_, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeAtomic(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat config: %w", err)
	default:
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	}
	cfg.ApplyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeAtomic(path string, v any) error {
	raw, err := toml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ApplyEnv overlays the environment variables recognized by the deployment
// platform on top of the file config. Database variables use the bare names
// the original deployment used; server options carry the TUNEGATE_ prefix.
func (c *ServerConfig) ApplyEnv() {
	if v, ok := lookupEnv("TUNEGATE_LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := lookupEnv("TUNEGATE_UPSTREAM"); ok {
		c.UpstreamBaseURL = v
	}
	if v, ok := lookupEnv("TUNEGATE_DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := lookupEnv("TUNEGATE_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookupEnv("DB_HOST"); ok {
		c.Database.Host = v
	}
	if v, ok := lookupEnv("DB_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v, ok := lookupEnv("DB_USER"); ok {
		c.Database.User = v
	}
	if v, ok := lookupEnv("DB_PASSWORD"); ok {
		c.Database.Password = v
	}
	if v, ok := lookupEnv("DB_NAME"); ok {
		c.Database.Name = v
	}
	if v, ok := lookupEnv("DB_POOL_SIZE"); ok {
		if size, err := strconv.Atoi(v); err == nil {
			c.Database.PoolSize = size
		}
	}
	if v, ok := lookupEnv("STATELESS"); ok {
		c.Stateless = parseBool(v)
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (c *ServerConfig) Normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	c.UpstreamBaseURL = strings.TrimRight(strings.TrimSpace(c.UpstreamBaseURL), "/")
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = 30
	}
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.PoolSize <= 0 {
		c.Database.PoolSize = 10
	}
	c.TLS.ListenAddr = strings.TrimSpace(c.TLS.ListenAddr)
	if c.TLS.ListenAddr == "" {
		c.TLS.ListenAddr = ":443"
	}
	c.TLS.CacheDir = strings.TrimSpace(c.TLS.CacheDir)
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = filepath.Join(c.DataDir, "tls-autocert")
	}
}

func (c *ServerConfig) Validate() error {
	if c.UpstreamBaseURL == "" {
		return errors.New("upstream_base_url cannot be empty")
	}
	u, err := url.Parse(c.UpstreamBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream_base_url %q is not an absolute URL", c.UpstreamBaseURL)
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.Domain) == "" {
		return errors.New("tls.domain is required when tls.enabled=true")
	}
	return nil
}

// StatsFilePath is the file backend's JSON document location.
func (c *ServerConfig) StatsFilePath() string {
	return filepath.Join(c.DataDir, "stats.json")
}

// BackupDir holds the rotating counter backups.
func (c *ServerConfig) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}
