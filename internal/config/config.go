// Package config handles loading and managing goatmail configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"` // postgres:// URL or SQLite path
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort         int      `toml:"api_port"`  // default 8080
	BindAddr        string   `toml:"bind_addr"` // default 127.0.0.1
	JWTSecret       string   `toml:"jwt_secret"`
	TokenTTL        Duration `toml:"token_ttl"` // default 1h
	CORSOrigins     []string `toml:"cors_origins"`
	CORSCredentials bool     `toml:"cors_credentials"`
	CORSMaxAge      int      `toml:"cors_max_age"` // seconds
	RateLimitRPS    float64  `toml:"rate_limit_rps"`
	RateLimitBurst  int      `toml:"rate_limit_burst"`
}

// MailConfig tunes the aggregation engine.
type MailConfig struct {
	FetchLimit     int      `toml:"fetch_limit"`
	FlagScanLimit  int      `toml:"flag_scan_limit"`
	Timeout        Duration `toml:"timeout"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	EncryptionKey  string   `toml:"encryption_key"` // 64 hex chars
}

// FlagsConfig selects where flag overlays live.
type FlagsConfig struct {
	Backend       string `toml:"backend"` // "sql" or "redis"
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
}

// SendConfig controls the scheduled-send dispatcher.
type SendConfig struct {
	Schedule string `toml:"schedule"` // cron expression
	Enabled  bool   `toml:"enabled"`
}

// Config represents the goatmail configuration.
type Config struct {
	Data   DataConfig   `toml:"data"`
	Server ServerConfig `toml:"server"`
	Mail   MailConfig   `toml:"mail"`
	Flags  FlagsConfig  `toml:"flags"`
	Send   SendConfig   `toml:"send"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	ConfigPath string `toml:"-"`
}

// Duration decodes TOML strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const (
	FlagsBackendSQL   = "sql"
	FlagsBackendRedis = "redis"
)

// DefaultHome returns the default goatmail home directory.
// Respects GOATMAIL_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("GOATMAIL_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".goatmail"
	}
	return filepath.Join(home, ".goatmail")
}

// NewDefaultConfig returns a configuration with default values.
func NewDefaultConfig() *Config {
	return defaultsFor(DefaultHome())
}

func defaultsFor(homeDir string) *Config {
	return &Config{
		HomeDir:    homeDir,
		ConfigPath: filepath.Join(homeDir, "config.toml"),
		Data:       DataConfig{DataDir: homeDir},
		Server: ServerConfig{
			APIPort:        8080,
			BindAddr:       "127.0.0.1",
			TokenTTL:       Duration{time.Hour},
			CORSMaxAge:     86400,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Mail: MailConfig{
			FetchLimit:     20,
			FlagScanLimit:  100,
			Timeout:        Duration{30 * time.Second},
			ConnectTimeout: Duration{10 * time.Second},
		},
		Flags: FlagsConfig{
			Backend:   FlagsBackendSQL,
			RedisAddr: "localhost:6379",
			KeyPrefix: "goatmail:flags",
		},
		Send: SendConfig{
			Schedule: "* * * * *",
			Enabled:  true,
		},
	}
}

// Load reads the configuration. An explicit path must exist; otherwise
// config.toml under homeDir (or DefaultHome) is read if present. When path
// is given, its directory becomes the home directory.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	switch {
	case explicit:
		path = expandPath(path)
		if homeDir == "" {
			homeDir = filepath.Dir(path)
		}
	case homeDir != "":
		homeDir = expandPath(homeDir)
		path = filepath.Join(homeDir, "config.toml")
	default:
		homeDir = DefaultHome()
		path = filepath.Join(homeDir, "config.toml")
	}
	homeDir = expandPath(homeDir)

	cfg := defaultsFor(homeDir)
	cfg.ConfigPath = path

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, decodeError(err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	if cfg.Data.DataDir != "" && !filepath.IsAbs(cfg.Data.DataDir) {
		cfg.Data.DataDir = filepath.Join(homeDir, cfg.Data.DataDir)
	}
	cfg.applyEnv()
	return cfg, nil
}

// decodeError adds a hint for the common Windows-path mistake.
func decodeError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "invalid escape") || strings.Contains(msg, "hexadecimal digits") {
		return fmt.Errorf("decode config: %w\nhint: use forward slashes or single quotes for paths in TOML", err)
	}
	return fmt.Errorf("decode config: %w", err)
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		c.Mail.EncryptionKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Data.DatabaseURL = v
	}
}

// DatabaseDSN returns the database URL, or the default SQLite path.
func (c *Config) DatabaseDSN() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "goatmail.db")
}

// IsLoopback reports whether the API binds only to the local host.
func (c *Config) IsLoopback() bool {
	host := c.Server.BindAddr
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Validate checks settings that would otherwise fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.APIPort <= 0 || c.Server.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("server.api_port %d out of range", c.Server.APIPort))
	}
	if !c.IsLoopback() && c.Server.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("server.jwt_secret is required when binding to %s", c.Server.BindAddr))
	}
	switch c.Flags.Backend {
	case FlagsBackendSQL:
	case FlagsBackendRedis:
		if c.Flags.RedisAddr == "" {
			errs = append(errs, errors.New("flags.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("flags.backend %q must be %q or %q", c.Flags.Backend, FlagsBackendSQL, FlagsBackendRedis))
	}
	if c.Mail.FetchLimit <= 0 || c.Mail.FlagScanLimit <= 0 {
		errs = append(errs, errors.New("mail.fetch_limit and mail.flag_scan_limit must be positive"))
	}
	return errors.Join(errs...)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
