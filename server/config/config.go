package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Log      LogConfig      `yaml:"log" toml:"log"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Dispatch DispatchConfig `yaml:"dispatch" toml:"dispatch"`
	Paseli   PaseliConfig   `yaml:"paseli" toml:"paseli"`
	Services ServicesConfig `yaml:"services" toml:"services"`
}

// ServerConfig holds listener settings for every transport
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	// PublicHost is the address advertised to cabinets in services.get.
	// Defaults to Host when empty.
	PublicHost     string `yaml:"public_host" toml:"public_host"`
	BackendPort    int    `yaml:"backend_port" toml:"backend_port"`
	AdminPort      int    `yaml:"admin_port" toml:"admin_port"`
	StreamPort     int    `yaml:"stream_port" toml:"stream_port"`
	BackendEnabled bool   `yaml:"backend_enabled" toml:"backend_enabled"`
	AdminEnabled   bool   `yaml:"admin_enabled" toml:"admin_enabled"`
	StreamEnabled  bool   `yaml:"stream_enabled" toml:"stream_enabled"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`           // "json" or "console"
	FilePath   string `yaml:"file_path" toml:"file_path"`     // Path to log file
	Console    bool   `yaml:"console" toml:"console"`         // Whether to log to console
	MaxSize    int    `yaml:"max_size" toml:"max_size"`       // Max file size in MB
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"` // Max number of backup files
	MaxAge     int    `yaml:"max_age" toml:"max_age"`         // Max age in days
	Cleanup    bool   `yaml:"cleanup" toml:"cleanup"`         // Whether to cleanup log file on startup
}

// DatabaseConfig selects the record store
type DatabaseConfig struct {
	Driver   string        `yaml:"driver" toml:"driver"` // "memory" or "sqlite"
	Path     string        `yaml:"path" toml:"path"`
	CacheTTL time.Duration `yaml:"cache_ttl" toml:"cache_ttl"` // zero disables the read cache
}

// SessionConfig bounds per-connection resources
type SessionConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	MaxConnections  int           `yaml:"max_connections" toml:"max_connections"`
	QueueDepth      int           `yaml:"queue_depth" toml:"queue_depth"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" toml:"cleanup_interval"`
}

// DispatchConfig tunes request handling
type DispatchConfig struct {
	HandlerTimeout    time.Duration `yaml:"handler_timeout" toml:"handler_timeout"`
	CompressResponses bool          `yaml:"compress_responses" toml:"compress_responses"`
}

// PaseliConfig controls the e-money facility advertised to cabinets
type PaseliConfig struct {
	Enabled  bool `yaml:"enabled" toml:"enabled"`
	Infinite bool `yaml:"infinite" toml:"infinite"`
}

// ServicesConfig controls the services.get and pcbtracker replies
type ServicesConfig struct {
	Mode   string `yaml:"mode" toml:"mode"`
	Expire int    `yaml:"expire" toml:"expire"` // seconds
}

// LoadDefaultConfig returns a default configuration
func LoadDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           DEFAULT_SERVER_ADDRESS,
			BackendPort:    BACKEND_SERVER_PORT,
			AdminPort:      ADMIN_SERVER_PORT,
			StreamPort:     STREAM_SERVER_PORT,
			BackendEnabled: BACKEND_SERVER_ENABLED,
			AdminEnabled:   ADMIN_SERVER_ENABLED,
			StreamEnabled:  STREAM_SERVER_ENABLED,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			FilePath:   "logs/oxygen.log",
			Console:    true,
			MaxSize:    100, // 100MB
			MaxBackups: 3,
			MaxAge:     7,
			Cleanup:    false,
		},
		Database: DatabaseConfig{
			Driver:   DRIVER_SQLITE,
			Path:     "./data/oxygen.db",
			CacheTTL: 30 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:     5 * time.Minute,
			MaxConnections:  1000,
			QueueDepth:      32,
			CleanupInterval: time.Minute,
		},
		Dispatch: DispatchConfig{
			HandlerTimeout:    10 * time.Second,
			CompressResponses: false,
		},
		Paseli: PaseliConfig{
			Enabled:  true,
			Infinite: true,
		},
		Services: ServicesConfig{
			Mode:   "operation",
			Expire: 600,
		},
	}
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by
// extension, on top of the defaults. Environment overrides apply last.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.New(ErrConfigFileReadFailed, "failed to read config file", err).AddContext("file", filename)
	}

	config := LoadDefaultConfig()
	if err := decode(filename, data, config); err != nil {
		return nil, errors.New(ErrConfigFileParseFailed, "failed to parse config file", err).AddContext("file", filename)
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, errors.New(ErrConfigValidationFailed, "configuration validation failed", err)
	}

	return config, nil
}

func isTOML(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".toml")
}

func decode(filename string, data []byte, config *Config) error {
	if isTOML(filename) {
		_, err := toml.Decode(string(data), config)
		return err
	}
	return yaml.Unmarshal(data, config)
}

// SaveConfig saves configuration to a file in the format implied by its extension
func SaveConfig(config *Config, filename string) error {
	var data []byte
	if isTOML(filename) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(config); err != nil {
			return errors.New(ErrConfigFileMarshalFailed, "failed to marshal config", err)
		}
		data = buf.Bytes()
	} else {
		out, err := yaml.Marshal(config)
		if err != nil {
			return errors.New(ErrConfigFileMarshalFailed, "failed to marshal config", err)
		}
		data = out
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.New(ErrConfigFileWriteFailed, "failed to write config file", err)
	}

	return nil
}

// envOverrides lists the settings that can be replaced from the environment.
var envOverrides = map[string]func(v *viper.Viper, key string, c *Config){
	"server.host":        func(v *viper.Viper, k string, c *Config) { c.Server.Host = v.GetString(k) },
	"server.public_host": func(v *viper.Viper, k string, c *Config) { c.Server.PublicHost = v.GetString(k) },
	"server.backend_port": func(v *viper.Viper, k string, c *Config) {
		c.Server.BackendPort = v.GetInt(k)
	},
	"server.admin_port":  func(v *viper.Viper, k string, c *Config) { c.Server.AdminPort = v.GetInt(k) },
	"server.stream_port": func(v *viper.Viper, k string, c *Config) { c.Server.StreamPort = v.GetInt(k) },
	"server.stream_enabled": func(v *viper.Viper, k string, c *Config) {
		c.Server.StreamEnabled = v.GetBool(k)
	},
	"log.level":       func(v *viper.Viper, k string, c *Config) { c.Log.Level = v.GetString(k) },
	"log.file_path":   func(v *viper.Viper, k string, c *Config) { c.Log.FilePath = v.GetString(k) },
	"database.driver": func(v *viper.Viper, k string, c *Config) { c.Database.Driver = v.GetString(k) },
	"database.path":   func(v *viper.Viper, k string, c *Config) { c.Database.Path = v.GetString(k) },
	"dispatch.handler_timeout": func(v *viper.Viper, k string, c *Config) {
		c.Dispatch.HandlerTimeout = v.GetDuration(k)
	},
	"dispatch.compress_responses": func(v *viper.Viper, k string, c *Config) {
		c.Dispatch.CompressResponses = v.GetBool(k)
	},
	"paseli.enabled":  func(v *viper.Viper, k string, c *Config) { c.Paseli.Enabled = v.GetBool(k) },
	"paseli.infinite": func(v *viper.Viper, k string, c *Config) { c.Paseli.Infinite = v.GetBool(k) },
}

// ApplyEnv replaces settings with OXYGEN_<SECTION>_<KEY> environment
// variables when they are present.
func ApplyEnv(config *Config) error {
	v := viper.New()
	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, apply := range envOverrides {
		if err := v.BindEnv(key); err != nil {
			return errors.New(ErrConfigEnvFailed, "failed to bind environment override", err).AddContext("key", key)
		}
		if v.IsSet(key) {
			apply(v, key, config)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if c.Dispatch.HandlerTimeout <= 0 {
		return errors.New(ErrInvalidDuration, "dispatch.handler_timeout must be positive", nil).
			AddContext("value", c.Dispatch.HandlerTimeout.String())
	}
	return nil
}

// Validate checks ports of enabled listeners and that they do not collide
func (s *ServerConfig) Validate() error {
	ports := map[string]struct {
		port    int
		enabled bool
	}{
		"backend": {s.BackendPort, s.BackendEnabled},
		"admin":   {s.AdminPort, s.AdminEnabled},
		"stream":  {s.StreamPort, s.StreamEnabled},
	}

	used := make(map[int]string)
	for _, name := range []string{"backend", "admin", "stream"} {
		p := ports[name]
		if !p.enabled {
			continue
		}
		if !IsValidPort(p.port) {
			return errors.New(ErrInvalidPort, "invalid port", nil).
				AddContext("server", name).
				AddContext("port", fmt.Sprint(p.port))
		}
		if other, ok := used[p.port]; ok {
			return errors.New(ErrPortConflict, "two servers share a port", nil).
				AddContext("server", name).
				AddContext("other", other).
				AddContext("port", fmt.Sprint(p.port))
		}
		used[p.port] = name
	}
	return nil
}

// Validate checks the store driver
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case DRIVER_MEMORY:
	case DRIVER_SQLITE:
		if d.Path == "" {
			return errors.New(ErrDatabasePathRequired, "database.path is required for sqlite", nil)
		}
	default:
		return errors.New(ErrUnknownDriver, "unknown database driver", nil).AddContext("driver", d.Driver)
	}
	if d.CacheTTL < 0 {
		return errors.New(ErrInvalidDuration, "database.cache_ttl must not be negative", nil)
	}
	return nil
}

// Validate checks session limits
func (s *SessionConfig) Validate() error {
	if s.IdleTimeout <= 0 || s.CleanupInterval <= 0 {
		return errors.New(ErrInvalidDuration, "session timeouts must be positive", nil)
	}
	if s.MaxConnections <= 0 || s.QueueDepth <= 0 {
		return errors.New(ErrInvalidLimit, "session limits must be positive", nil)
	}
	return nil
}

// GetBackendAddress returns the backend listen address
func (c *Config) GetBackendAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.BackendPort)
}

// GetAdminAddress returns the admin listen address
func (c *Config) GetAdminAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.AdminPort)
}

// GetStreamAddress returns the stream listen address
func (c *Config) GetStreamAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.StreamPort)
}

// GetPublicHost returns the host cabinets should use to reach this server
func (c *Config) GetPublicHost() string {
	host := c.Server.PublicHost
	if host == "" {
		host = c.Server.Host
	}
	if host == DEFAULT_SERVER_ADDRESS {
		return LOCALHOST_ADDRESS
	}
	return host
}

// GetServiceURL returns the base URL advertised for backend services
func (c *Config) GetServiceURL() string {
	return fmt.Sprintf("http://%s:%d/", c.GetPublicHost(), c.Server.BackendPort)
}

// GetAdminURL returns the base URL of the admin API
func (c *Config) GetAdminURL() string {
	return fmt.Sprintf("http://%s:%d/", c.GetPublicHost(), c.Server.AdminPort)
}
