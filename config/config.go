// Package config loads mcpclient configuration from a YAML file with
// environment overrides.
//
// A minimal file:
//
//	log:
//	  backend: zap
//	  level: debug
//	journal:
//	  path: /var/lib/mcpclient/journal.db
//	servers:
//	  weather:
//	    command: weather-mcp
//	    args: ["--stdio"]
//	    env:
//	      WEATHER_API_KEY: ${WEATHER_API_KEY}
//	    request_timeout: 45s
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/shaharia-lab/mcpclient/journal"
	"github.com/shaharia-lab/mcpclient/mcp"
	"github.com/shaharia-lab/mcpclient/observability"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no path
// is given: ./mcpclient.yaml, then ~/.config/mcpclient/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"mcpclient.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcpclient", "config.yaml"))
	}
	return paths
}

// FindConfig locates a config file. An explicit path must exist; otherwise the
// first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config is the full client configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Journal JournalConfig `yaml:"journal"`

	// DefaultServer names the server used when none is requested. It may be
	// omitted when exactly one server is configured.
	DefaultServer string                  `yaml:"default_server"`
	Servers       map[string]ServerConfig `yaml:"servers"`
}

type LogConfig struct {
	Backend string `yaml:"backend"`
	Level   string `yaml:"level"`
}

// JournalConfig selects where tool calls are recorded. With the sqlite3
// driver an empty path keeps the journal in memory; postgres needs a DSN.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// Open creates the recorder described by j.
func (j JournalConfig) Open(logger observability.Logger) (journal.Recorder, error) {
	switch journal.Dialect(j.Driver) {
	case "", journal.DialectSQLite:
		if j.Path == "" {
			return journal.NewInMemoryRecorder(), nil
		}
		return journal.NewSQLiteRecorder(j.Path, logger)
	case journal.DialectPostgres:
		return journal.NewPostgresRecorder(j.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", j.Driver)
	}
}

func (j JournalConfig) validate() error {
	if j.Driver != "" && !journal.Dialect(j.Driver).Valid() {
		return fmt.Errorf("unknown driver %q", j.Driver)
	}
	if journal.Dialect(j.Driver) == journal.DialectPostgres && j.DSN == "" {
		return fmt.Errorf("dsn is required for the postgres driver")
	}
	return nil
}

// ServerConfig describes one MCP server process.
type ServerConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`

	RequestTimeout   time.Duration `yaml:"request_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	GracePeriod      time.Duration `yaml:"grace_period"`

	ProtocolVersions []string `yaml:"protocol_versions"`
	AutoRefreshTools bool     `yaml:"auto_refresh_tools"`
	AllowedTools     []string `yaml:"allowed_tools"`
}

// EnvOverrides are read from the environment and take precedence over the file.
type EnvOverrides struct {
	ConfigPath     string        `env:"MCPCLIENT_CONFIG"`
	LogBackend     string        `env:"MCPCLIENT_LOG_BACKEND"`
	LogLevel       string        `env:"MCPCLIENT_LOG_LEVEL"`
	RequestTimeout time.Duration `env:"MCPCLIENT_REQUEST_TIMEOUT"`
	JournalPath    string        `env:"MCPCLIENT_JOURNAL"`
	JournalDSN     string        `env:"MCPCLIENT_JOURNAL_DSN"`
}

// Default returns a configuration with logging defaults and no servers.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Backend: observability.BackendDefault,
			Level:   "info",
		},
		Servers: map[string]ServerConfig{},
	}
}

// Load reads a YAML file on top of Default. ${VAR} references in the file are
// expanded from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of Default.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]ServerConfig{}
	}
	return cfg, nil
}

// DecodeEnv reads EnvOverrides from the environment.
func DecodeEnv() (EnvOverrides, error) {
	var env EnvOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return EnvOverrides{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return env, nil
}

// Apply copies the non-empty overrides into c. RequestTimeout applies to
// every server.
func (e EnvOverrides) Apply(c *Config) {
	if e.LogBackend != "" {
		c.Log.Backend = e.LogBackend
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	if e.JournalPath != "" {
		c.Journal.Path = e.JournalPath
	}
	if e.JournalDSN != "" {
		c.Journal.DSN = e.JournalDSN
	}
	if e.RequestTimeout > 0 {
		for name, s := range c.Servers {
			s.RequestTimeout = e.RequestTimeout
			c.Servers[name] = s
		}
	}
}

// Resolve finds, loads, overrides and validates the configuration. explicit
// wins over MCPCLIENT_CONFIG, which wins over the search paths.
func Resolve(explicit string) (*Config, error) {
	env, err := DecodeEnv()
	if err != nil {
		return nil, err
	}
	if explicit == "" {
		explicit = env.ConfigPath
	}

	path, err := FindConfig(explicit)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	env.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first problem found in c.
func (c *Config) Validate() error {
	if _, err := observability.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Backend {
	case observability.BackendDefault, observability.BackendLogrus, observability.BackendZap,
		observability.BackendSlog, observability.BackendNone:
	default:
		return fmt.Errorf("log.backend: unknown backend %q", c.Log.Backend)
	}
	if err := c.Journal.validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}

	if len(c.Servers) == 0 {
		return fmt.Errorf("no servers configured")
	}
	if c.DefaultServer != "" {
		if _, ok := c.Servers[c.DefaultServer]; !ok {
			return fmt.Errorf("default_server %q is not configured", c.DefaultServer)
		}
	}

	for _, name := range c.ServerNames() {
		if err := c.Servers[name].Validate(); err != nil {
			return fmt.Errorf("servers.%s: %w", name, err)
		}
	}
	return nil
}

// ServerNames returns the configured server names in sorted order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Server returns the named server, or the default one when name is empty.
func (c *Config) Server(name string) (ServerConfig, error) {
	if name == "" {
		name = c.DefaultServer
	}
	if name == "" {
		if len(c.Servers) != 1 {
			return ServerConfig{}, fmt.Errorf("%d servers configured and no default_server set", len(c.Servers))
		}
		name = c.ServerNames()[0]
	}

	s, ok := c.Servers[name]
	if !ok {
		return ServerConfig{}, fmt.Errorf("server %q is not configured", name)
	}
	return s, nil
}

// NewLogger builds the logger described by c.Log.
func (c *Config) NewLogger() (observability.Logger, error) {
	level, err := observability.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return observability.NewLogger(c.Log.Backend, level)
}

func (s ServerConfig) Validate() error {
	if s.Command == "" {
		return fmt.Errorf("command is required")
	}
	if s.RequestTimeout < 0 || s.HandshakeTimeout < 0 || s.GracePeriod < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	for _, v := range s.ProtocolVersions {
		if !mcp.ProtocolVersion(v).IsKnown() {
			return fmt.Errorf("unsupported protocol version %q", v)
		}
	}
	return nil
}

// ClientConfig converts s into a session configuration. Zero values fall back
// to the session defaults.
func (s ServerConfig) ClientConfig(logger observability.Logger) mcp.ClientConfig {
	var versions []mcp.ProtocolVersion
	for _, v := range s.ProtocolVersions {
		versions = append(versions, mcp.ProtocolVersion(v))
	}

	return mcp.ClientConfig{
		Transport: mcp.TransportConfig{
			Command:     s.Command,
			Args:        s.Args,
			Env:         s.Env,
			Dir:         s.Dir,
			GracePeriod: s.GracePeriod,
		},
		ProtocolVersions: versions,
		RequestTimeout:   s.RequestTimeout,
		HandshakeTimeout: s.HandshakeTimeout,
		AutoRefreshTools: s.AutoRefreshTools,
		Logger:           logger,
	}
}
