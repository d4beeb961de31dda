package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imapd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "users:\n  alice: secret\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":1143", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(64<<20), cfg.Server.MaxLiteralSize)
	assert.False(t, cfg.Server.AllowInsecureAuth)
	assert.Equal(t, 100, cfg.Storage.MaxAnnotations)
	assert.Equal(t, map[string]string{"alice": "secret"}, cfg.Users)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:2143
  read_timeout: 90s
  allow_insecure_auth: true
storage:
  backend: sqlite
  dsn: /var/lib/imapd/mail.db
  max_annotations: 8
metrics:
  addr: :9100
log:
  level: debug
  format: json
users:
  alice: secret
  bob: hunter2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2143", cfg.Server.Addr)
	assert.Equal(t, 90*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Server.AllowInsecureAuth)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/imapd/mail.db", cfg.Storage.DSN)
	assert.Equal(t, 8, cfg.Storage.MaxAnnotations)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Len(t, cfg.Users, 2)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: :1143\nusers:\n  alice: secret\n")
	t.Setenv("IMAPSTORE_SERVER_ADDR", ":3143")
	t.Setenv("IMAPSTORE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":3143", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Storage: StorageConfig{Backend: BackendMemory},
			Users:   map[string]string{"alice": "secret"},
		}
	}

	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"memory", func(*Config) {}, true},
		{"sqlite without dsn", func(c *Config) { c.Storage.Backend = BackendSQLite }, false},
		{"postgres with dsn", func(c *Config) {
			c.Storage.Backend = BackendPostgres
			c.Storage.DSN = "postgres://localhost/mail"
		}, true},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, false},
		{"cert without key", func(c *Config) { c.Server.TLSCert = "cert.pem" }, false},
		{"implicit tls without cert", func(c *Config) { c.Server.ImplicitTLS = true }, false},
		{"no users", func(c *Config) { c.Users = nil }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTLSConfigUnset(t *testing.T) {
	cfg, err := (&ServerConfig{}).TLSConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestNewLogger(t *testing.T) {
	l, err := (&LogConfig{Level: "debug", Format: "json"}).NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.Logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Logger.Formatter)

	_, err = (&LogConfig{Level: "loud"}).NewLogger()
	assert.Error(t, err)
	_, err = (&LogConfig{Level: "info", Format: "xml"}).NewLogger()
	assert.Error(t, err)
}
