package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Tasks     TasksConfig     `toml:"tasks"`
	Notify    NotifyConfig    `toml:"notify"`
	Auth      AuthConfig      `toml:"auth"`
	Storage   StorageConfig   `toml:"storage"`
	Nextcloud NextcloudConfig `toml:"nextcloud"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver       string `toml:"driver"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// RedisConfig points at the shared state store.
type RedisConfig struct {
	Addr        string        `toml:"addr"`
	Password    string        `toml:"password"`
	DB          int           `toml:"db"`
	Prefix      string        `toml:"prefix"`
	DialTimeout time.Duration `toml:"dial_timeout"`
}

// TasksConfig controls lock leases and snapshot retention.
type TasksConfig struct {
	Lease         time.Duration `toml:"lease"`
	ActiveTTL     time.Duration `toml:"active_ttl"`
	Retention     time.Duration `toml:"retention"`
	ShutdownGrace time.Duration `toml:"shutdown_grace"`
}

// NotifyConfig controls per-connection delivery.
type NotifyConfig struct {
	MailboxSize      int           `toml:"mailbox_size"`
	PingInterval     time.Duration `toml:"ping_interval"`
	HeartbeatTimeout time.Duration `toml:"heartbeat_timeout"`
	WriteTimeout     time.Duration `toml:"write_timeout"`
}

// AuthConfig holds the token secret and configured API keys.
type AuthConfig struct {
	JWTSecret string         `toml:"jwt_secret"`
	TokenTTL  time.Duration  `toml:"token_ttl"`
	APIKeys   []APIKeyConfig `toml:"api_keys"`
}

// APIKeyConfig is a bcrypt-hashed API key bound to a user.
type APIKeyConfig struct {
	UserID int64  `toml:"user_id"`
	Admin  bool   `toml:"admin"`
	Hash   string `toml:"hash"`
	Legacy bool   `toml:"legacy"`
}

// StorageConfig contains filesystem locations and limits used by job work.
type StorageConfig struct {
	ExportDir   string        `toml:"export_dir"`
	BackupDir   string        `toml:"backup_dir"`
	FeedTimeout time.Duration `toml:"feed_timeout"`
	ImportRate  float64       `toml:"import_rate"`
}

// NextcloudConfig contains OAuth2 client settings for the gPodder sync app.
type NextcloudConfig struct {
	URL          string `toml:"url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	TokenPath    string `toml:"token_path"`
}

// LogConfig sets the logger level.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides selected fields from PODTASKS_* environment variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"PODTASKS_SERVER_HOST":     &c.Server.Host,
		"PODTASKS_DATABASE_DRIVER": &c.Database.Driver,
		"PODTASKS_DATABASE_DSN":    &c.Database.DSN,
		"PODTASKS_REDIS_ADDR":      &c.Redis.Addr,
		"PODTASKS_REDIS_PASSWORD":  &c.Redis.Password,
		"PODTASKS_JWT_SECRET":      &c.Auth.JWTSecret,
		"PODTASKS_LOG_LEVEL":       &c.Log.Level,
		"PODTASKS_NEXTCLOUD_URL":   &c.Nextcloud.URL,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PODTASKS_SERVER_PORT": &c.Server.Port,
		"PODTASKS_REDIS_DB":    &c.Redis.DB,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, name, v)
		}
		*dst = n
	}
	return nil
}

// Validate reports the first setting that would make the coordinator misbehave.
func (c *Config) Validate() error {
	switch {
	case c.Database.Driver != "sqlite3" && c.Database.Driver != "postgres":
		return fmt.Errorf("%w: database.driver must be sqlite3 or postgres, got %q", ErrInvalidConfig, c.Database.Driver)
	case c.Redis.Addr == "":
		return fmt.Errorf("%w: redis.addr is required", ErrInvalidConfig)
	case c.Tasks.Lease <= 0:
		return fmt.Errorf("%w: tasks.lease must be positive", ErrInvalidConfig)
	case c.Tasks.ActiveTTL < c.Tasks.Lease:
		return fmt.Errorf("%w: tasks.active_ttl must be at least tasks.lease", ErrInvalidConfig)
	case c.Tasks.Retention <= 0:
		return fmt.Errorf("%w: tasks.retention must be positive", ErrInvalidConfig)
	case c.Notify.MailboxSize <= 0:
		return fmt.Errorf("%w: notify.mailbox_size must be positive", ErrInvalidConfig)
	case c.Notify.PingInterval <= 0 || c.Notify.HeartbeatTimeout <= c.Notify.PingInterval:
		return fmt.Errorf("%w: notify.heartbeat_timeout must exceed notify.ping_interval", ErrInvalidConfig)
	case c.Auth.JWTSecret == "":
		return fmt.Errorf("%w: auth.jwt_secret is required", ErrInvalidConfig)
	}

	for i, k := range c.Auth.APIKeys {
		if k.UserID <= 0 || k.Hash == "" {
			return fmt.Errorf("%w: auth.api_keys[%d] needs user_id and hash", ErrInvalidConfig, i)
		}
	}
	return nil
}
