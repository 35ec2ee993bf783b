package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/aquamarinepk/relaybus/log"
)

// Config holds the configuration surface of the demonstration binary.
// The bus library itself is never constructed from a Config directly —
// callers translate it into a bus.Config (and transport/audit configs)
// once loading and validation have completed.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	Bus       BusConfig       `koanf:"bus"`
	Transport TransportConfig `koanf:"transport"`
	NATS      NATSConfig      `koanf:"nats"`
	Database  DatabaseConfig  `koanf:"database"`
	Audit     AuditConfig     `koanf:"audit"`

	k      *koanf.Koanf
	logger log.Logger
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `koanf:"level"`
}

// ServerConfig holds the control-plane HTTP server configuration.
type ServerConfig struct {
	Port string `koanf:"port"`
}

// BusConfig mirrors the bus's own Config, in koanf-loadable form.
type BusConfig struct {
	QueueCapacity       int    `koanf:"queue_capacity"`
	WorkerThreads       int    `koanf:"worker_threads"`
	EnablePriorityQueue bool   `koanf:"enable_priority_queue"`
	OverflowPolicy      string `koanf:"overflow_policy"`
	Mode                string `koanf:"mode"`
	ShutdownTimeout     string `koanf:"shutdown_timeout"`
}

// TransportConfig configures the framed TCP transport.
type TransportConfig struct {
	Kind          string `koanf:"kind"` // "tcp" or "nats"
	ListenAddr    string `koanf:"listen_addr"`
	ConnectAddr   string `koanf:"connect_addr"`
	MaxFrameBytes int    `koanf:"max_frame_bytes"`
	Compress      bool   `koanf:"compress"`
	Encrypt       bool   `koanf:"encrypt"`
	CipherKeyHex  string `koanf:"cipher_key_hex"`
}

// NATSConfig holds NATS connection configuration, used by transport/nats
// when transport.kind == "nats".
type NATSConfig struct {
	URL            string `koanf:"url"`
	ClusterID      string `koanf:"clusterid"`
	ClientID       string `koanf:"clientid"`
	MaxReconnect   int    `koanf:"maxreconnect"`
	ReconnectWaitS int    `koanf:"reconnect_wait_seconds"`
	ConnectTimeoutS int   `koanf:"connect_timeout_seconds"`
}

// DatabaseConfig holds the Postgres connection used by the audit sink.
type DatabaseConfig struct {
	Driver   string `koanf:"driver"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	Schema   string `koanf:"schema"`
	SSLMode  string `koanf:"sslmode"`
}

// AuditConfig toggles and scopes the optional audit subscriber.
type AuditConfig struct {
	Enabled     bool   `koanf:"enabled"`
	TopicFilter string `koanf:"topic_filter"`
}

// Option configures Config during initialization.
type Option func(*configOptions) error

type configOptions struct {
	prefix       string
	file         string
	defaults     map[string]interface{}
	envExpansion bool
}

// WithPrefix sets the environment variable prefix (e.g., "RELAYBUS_").
func WithPrefix(prefix string) Option {
	return func(opts *configOptions) error {
		opts.prefix = prefix
		return nil
	}
}

// WithFile loads configuration from a YAML file.
func WithFile(path string) Option {
	return func(opts *configOptions) error {
		opts.file = path
		return nil
	}
}

// WithDefaults provides default values via a map, overriding the baseline.
func WithDefaults(defaults map[string]interface{}) Option {
	return func(opts *configOptions) error {
		opts.defaults = defaults
		return nil
	}
}

// WithEnvExpansion enables ${VAR} expansion in config files.
func WithEnvExpansion() Option {
	return func(opts *configOptions) error {
		opts.envExpansion = true
		return nil
	}
}

// New loads Config from baseline defaults, an optional YAML file, and
// prefixed environment variables, in that order of increasing precedence.
func New(logger log.Logger, opts ...Option) (*Config, error) {
	cfg := &Config{
		logger: logger,
		k:      koanf.New("."),
	}

	options := &configOptions{
		defaults: make(map[string]interface{}),
	}

	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	baselineDefaults := map[string]interface{}{
		"log.level":                          "info",
		"server.port":                        ":8080",
		"bus.queue_capacity":                 1024,
		"bus.worker_threads":                 0,
		"bus.enable_priority_queue":           false,
		"bus.overflow_policy":                "drop_newest",
		"bus.mode":                           "local_only",
		"bus.shutdown_timeout":               "5s",
		"transport.kind":                     "tcp",
		"transport.listen_addr":              "",
		"transport.connect_addr":             "",
		"transport.max_frame_bytes":          64 * 1024 * 1024,
		"transport.compress":                 false,
		"transport.encrypt":                  false,
		"transport.cipher_key_hex":           "",
		"nats.url":                           "nats://localhost:4222",
		"nats.clusterid":                     "",
		"nats.clientid":                      "",
		"nats.maxreconnect":                  10,
		"nats.reconnect_wait_seconds":        2,
		"nats.connect_timeout_seconds":       5,
		"database.driver":                    "postgres",
		"database.host":                      "localhost",
		"database.port":                      5432,
		"database.user":                      "relaybus",
		"database.password":                 "relaybus",
		"database.database":                 "relaybus",
		"database.schema":                    "relaybus",
		"database.sslmode":                   "disable",
		"audit.enabled":                      false,
		"audit.topic_filter":                 "#",
	}

	for k, v := range baselineDefaults {
		if _, exists := options.defaults[k]; !exists {
			options.defaults[k] = v
		}
	}

	if err := cfg.k.Load(confmap.Provider(options.defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if options.file != "" {
		raw, err := os.ReadFile(options.file)
		if err != nil {
			logger.Debugf("Config file not found: %s (using defaults)", options.file)
		} else {
			if options.envExpansion {
				raw = []byte(os.ExpandEnv(string(raw)))
			}
			if err := cfg.k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			logger.Debugf("Loaded config from file: %s", options.file)
		}
	}

	if options.prefix != "" {
		if err := cfg.k.Load(env.Provider(options.prefix, ".", func(s string) string {
			return strings.Replace(strings.ToLower(
				strings.TrimPrefix(s, options.prefix)), "_", ".", -1)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	if err := cfg.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Infof("Configuration loaded: mode=%s transport=%s port=%s log=%s",
		cfg.Bus.Mode, cfg.Transport.Kind, cfg.Server.Port, cfg.Log.Level)

	return cfg, nil
}

// LoadFlags overlays command-line flags on top of an already-loaded
// Config, mirroring the precedence documented on New.
func LoadFlags(cfg *Config, args []string) (*Config, error) {
	if len(args) <= 1 {
		return cfg, nil
	}

	fs := pflag.NewFlagSet(args[0], pflag.ExitOnError)
	fs.String("log.level", cfg.Log.Level, "Log level (debug, info, error)")
	fs.String("server.port", cfg.Server.Port, "Control-plane HTTP port")
	fs.Int("bus.queue_capacity", cfg.Bus.QueueCapacity, "Bus queue capacity")
	fs.Int("bus.worker_threads", cfg.Bus.WorkerThreads, "Worker pool size (0 = runtime.NumCPU)")
	fs.String("bus.overflow_policy", cfg.Bus.OverflowPolicy, "drop_newest, drop_oldest, or block")
	fs.String("bus.mode", cfg.Bus.Mode, "local_only, remote_only, or hybrid")
	fs.String("transport.kind", cfg.Transport.Kind, "tcp or nats")
	fs.String("transport.listen_addr", cfg.Transport.ListenAddr, "TCP listen address")
	fs.String("transport.connect_addr", cfg.Transport.ConnectAddr, "TCP peer address")
	fs.Parse(args[1:])

	if err := cfg.k.Load(posflag.Provider(fs, ".", cfg.k), nil); err != nil {
		return nil, fmt.Errorf("cannot load flags: %w", err)
	}

	if err := cfg.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// GetString returns the string value for the given path.
func (c *Config) GetString(path string) string { return c.k.String(path) }

// GetInt returns the int value for the given path.
func (c *Config) GetInt(path string) int { return c.k.Int(path) }

// GetBool returns the bool value for the given path.
func (c *Config) GetBool(path string) bool { return c.k.Bool(path) }

// GetFloat returns the float64 value for the given path.
func (c *Config) GetFloat(path string) float64 { return c.k.Float64(path) }

// GetDuration parses and returns a time.Duration for the given path.
func (c *Config) GetDuration(path string) (time.Duration, error) {
	s := c.k.String(path)
	if s == "" {
		return 0, fmt.Errorf("no value found for path: %s", path)
	}
	return time.ParseDuration(s)
}

// Exists returns true if the given path exists in the configuration.
func (c *Config) Exists(path string) bool { return c.k.Exists(path) }

// Validate checks the loaded configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be 'debug', 'info', or 'error', got '%s'", c.Log.Level)
	}

	validModes := map[string]bool{"local_only": true, "remote_only": true, "hybrid": true}
	if !validModes[c.Bus.Mode] {
		return fmt.Errorf("bus.mode must be 'local_only', 'remote_only', or 'hybrid', got '%s'", c.Bus.Mode)
	}

	validPolicies := map[string]bool{"drop_newest": true, "drop_oldest": true, "block": true}
	if !validPolicies[c.Bus.OverflowPolicy] {
		return fmt.Errorf("bus.overflow_policy must be 'drop_newest', 'drop_oldest', or 'block', got '%s'", c.Bus.OverflowPolicy)
	}

	if c.Bus.Mode != "local_only" {
		validKinds := map[string]bool{"tcp": true, "nats": true}
		if !validKinds[c.Transport.Kind] {
			return fmt.Errorf("transport.kind must be 'tcp' or 'nats', got '%s'", c.Transport.Kind)
		}
	}

	if c.Audit.Enabled {
		validDrivers := map[string]bool{"postgres": true}
		if !validDrivers[c.Database.Driver] {
			return fmt.Errorf("database.driver must be 'postgres' when audit is enabled, got '%s'", c.Database.Driver)
		}
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required when audit is enabled")
		}
	}

	c.logger.Debugf("Configuration validated successfully")

	return nil
}

// ConnectionString builds a PostgreSQL connection string with schema support.
func (d DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)

	if d.Schema != "" {
		connStr += fmt.Sprintf(" search_path=%s", d.Schema)
	}

	return connStr
}
