package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENCRYPTION_KEY", "JWT_SECRET", "DATABASE_URL"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("GOATMAIL_HOME", tmpDir)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Server.APIPort != 8080 || cfg.Server.BindAddr != "127.0.0.1" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.TokenTTL.Duration != time.Hour {
		t.Errorf("TokenTTL = %v, want 1h", cfg.Server.TokenTTL)
	}
	if cfg.Mail.FetchLimit != 20 || cfg.Mail.FlagScanLimit != 100 {
		t.Errorf("Mail limits = %d/%d", cfg.Mail.FetchLimit, cfg.Mail.FlagScanLimit)
	}
	if cfg.Mail.Timeout.Duration != 30*time.Second || cfg.Mail.ConnectTimeout.Duration != 10*time.Second {
		t.Errorf("Mail timeouts = %v/%v", cfg.Mail.Timeout, cfg.Mail.ConnectTimeout)
	}
	if cfg.Flags.Backend != FlagsBackendSQL {
		t.Errorf("Flags.Backend = %q", cfg.Flags.Backend)
	}
	if cfg.Send.Schedule != "* * * * *" || !cfg.Send.Enabled {
		t.Errorf("Send = %+v", cfg.Send)
	}
	if want := filepath.Join(tmpDir, "goatmail.db"); cfg.DatabaseDSN() != want {
		t.Errorf("DatabaseDSN() = %q, want %q", cfg.DatabaseDSN(), want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("GOATMAIL_HOME", tmpDir)
	writeConfig(t, tmpDir, `
[data]
database_url = "postgres://goat@localhost/goatmail"

[server]
api_port = 9090
bind_addr = "0.0.0.0"
jwt_secret = "file-secret"
token_ttl = "15m"
cors_origins = ["https://app.example.com"]

[mail]
fetch_limit = 50
timeout = "45s"
connect_timeout = "5s"
encryption_key = "abcd"

[flags]
backend = "redis"
redis_addr = "redis:6379"

[send]
schedule = "*/5 * * * *"
enabled = false
`)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.APIPort != 9090 || cfg.Server.JWTSecret != "file-secret" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.TokenTTL.Duration != 15*time.Minute {
		t.Errorf("TokenTTL = %v", cfg.Server.TokenTTL)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Mail.FetchLimit != 50 || cfg.Mail.FlagScanLimit != 100 {
		t.Errorf("Mail limits = %d/%d", cfg.Mail.FetchLimit, cfg.Mail.FlagScanLimit)
	}
	if cfg.Mail.Timeout.Duration != 45*time.Second || cfg.Mail.ConnectTimeout.Duration != 5*time.Second {
		t.Errorf("Mail timeouts = %v/%v", cfg.Mail.Timeout, cfg.Mail.ConnectTimeout)
	}
	if cfg.Flags.Backend != FlagsBackendRedis || cfg.Flags.RedisAddr != "redis:6379" {
		t.Errorf("Flags = %+v", cfg.Flags)
	}
	if cfg.Send.Enabled || cfg.Send.Schedule != "*/5 * * * *" {
		t.Errorf("Send = %+v", cfg.Send)
	}
	if cfg.DatabaseDSN() != "postgres://goat@localhost/goatmail" {
		t.Errorf("DatabaseDSN() = %q", cfg.DatabaseDSN())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("GOATMAIL_HOME", tmpDir)
	t.Setenv("ENCRYPTION_KEY", "from-env")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("DATABASE_URL", "")
	writeConfig(t, tmpDir, `
[server]
jwt_secret = "file-secret"
[mail]
encryption_key = "from-file"
`)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mail.EncryptionKey != "from-env" || cfg.Server.JWTSecret != "env-secret" {
		t.Errorf("env did not override: key=%q secret=%q", cfg.Mail.EncryptionKey, cfg.Server.JWTSecret)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	clearEnv(t)
	if _, err := Load("/nonexistent/path/config.toml", ""); err == nil ||
		!strings.Contains(err.Error(), "config file not found") {
		t.Errorf("missing explicit config err = %v", err)
	}

	tmpDir := t.TempDir()
	path := writeConfig(t, tmpDir, "[mail]\nfetch_limit = 7\n")
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load(%q) error = %v", path, err)
	}
	if cfg.HomeDir != tmpDir || cfg.Data.DataDir != tmpDir {
		t.Errorf("HomeDir/DataDir = %q/%q, want %q", cfg.HomeDir, cfg.Data.DataDir, tmpDir)
	}
	if cfg.Mail.FetchLimit != 7 {
		t.Errorf("FetchLimit = %d", cfg.Mail.FetchLimit)
	}
}

func TestLoadWithHomeDir(t *testing.T) {
	clearEnv(t)
	homeDir := t.TempDir()
	writeConfig(t, homeDir, "[data]\ndata_dir = \"data\"\n")

	cfg, err := Load("", homeDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HomeDir != homeDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, homeDir)
	}
	if want := filepath.Join(homeDir, "data"); cfg.Data.DataDir != want {
		t.Errorf("relative data_dir = %q, want %q", cfg.Data.DataDir, want)
	}
}

func TestLoadBackslashErrorHint(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("GOATMAIL_HOME", tmpDir)
	writeConfig(t, tmpDir, "[data]\ndata_dir = \"C:\\Games\\goatmail\"\n")

	_, err := Load("", "")
	if err == nil {
		t.Fatal("Load should fail on TOML backslash error")
	}
	if !strings.Contains(err.Error(), "hint:") || !strings.Contains(err.Error(), "forward slashes") {
		t.Errorf("error should carry a hint, got: %s", err)
	}
}

func TestLoadBadDuration(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("GOATMAIL_HOME", tmpDir)
	writeConfig(t, tmpDir, "[mail]\ntimeout = \"soon\"\n")
	if _, err := Load("", ""); err == nil {
		t.Error("Load should reject an unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"public bind without secret", func(c *Config) { c.Server.BindAddr = "0.0.0.0" }, "jwt_secret"},
		{"public bind with secret", func(c *Config) { c.Server.BindAddr = "0.0.0.0"; c.Server.JWTSecret = "x" }, ""},
		{"localhost", func(c *Config) { c.Server.BindAddr = "localhost" }, ""},
		{"ipv6 loopback", func(c *Config) { c.Server.BindAddr = "::1" }, ""},
		{"bad port", func(c *Config) { c.Server.APIPort = 0 }, "api_port"},
		{"bad backend", func(c *Config) { c.Flags.Backend = "memcached" }, "flags.backend"},
		{"redis without addr", func(c *Config) { c.Flags.Backend = "redis"; c.Flags.RedisAddr = "" }, "redis_addr"},
		{"zero scan limit", func(c *Config) { c.Mail.FlagScanLimit = 0 }, "flag_scan_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultsFor(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct{ in, want string }{
		{"", ""},
		{"~", home},
		{"~/x/y", filepath.Join(home, "x/y")},
		{"/abs/path", "/abs/path"},
		{"~user/x", "~user/x"},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
