// Package config loads the imapd configuration from a file, an optional
// .env file and IMAPSTORE_* environment variables.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. IMAPSTORE_SERVER_ADDR.
const EnvPrefix = "IMAPSTORE"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the complete imapd configuration.
type Config struct {
	Server  ServerConfig      `mapstructure:"server"`
	Storage StorageConfig     `mapstructure:"storage"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	Log     LogConfig         `mapstructure:"log"`

	// Users maps user names to passwords. Names are lowercased on load.
	Users map[string]string `mapstructure:"users"`
}

// ServerConfig configures the IMAP listener.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	Greeting          string        `mapstructure:"greeting"`
	MaxLiteralSize    int64         `mapstructure:"max_literal_size"`
	MaxLineLength     int           `mapstructure:"max_line_length"`
	MaxConnections    int           `mapstructure:"max_connections"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	AllowInsecureAuth bool          `mapstructure:"allow_insecure_auth"`
	TLSCert           string        `mapstructure:"tls_cert"`
	TLSKey            string        `mapstructure:"tls_key"`

	// RateLimit is the sustained commands per second per client host.
	// 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// ImplicitTLS serves TLS from the first byte instead of STARTTLS.
	ImplicitTLS bool `mapstructure:"implicit_tls"`
}

// StorageConfig selects the mailbox store.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`

	// MaxAnnotations caps the METADATA keys per mailbox. 0 disables it.
	MaxAnnotations int `mapstructure:"max_annotations"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":1143")
	v.SetDefault("server.greeting", "imapstore ready")
	v.SetDefault("server.max_literal_size", 64<<20)
	v.SetDefault("server.max_line_length", 64<<10)
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.read_timeout", 30*time.Minute)
	v.SetDefault("server.write_timeout", time.Minute)
	v.SetDefault("server.command_timeout", 5*time.Minute)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.allow_insecure_auth", false)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.max_annotations", 100)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads path, if set, and applies environment overrides. A .env file
// in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not read .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for backend %q", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if c.Server.ImplicitTLS && c.Server.TLSCert == "" {
		return errors.New("server.implicit_tls requires a certificate")
	}
	if len(c.Users) == 0 {
		return errors.New("no users configured")
	}
	return nil
}

// TLSConfig loads the certificate pair. It returns nil when none is
// configured.
func (c *ServerConfig) TLSConfig() (*tls.Config, error) {
	if c.TLSCert == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.TLSCert, c.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("could not load certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// NewLogger returns the root logger entry for c.
func (c *LogConfig) NewLogger() (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	switch c.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return logrus.NewEntry(logger), nil
}
