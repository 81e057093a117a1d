package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MEDRIDE_API_URL
const EnvPrefix = "MEDRIDE"

// Config holds all configuration for the client and the development backend
type Config struct {
	API       APIConfig
	Socket    SocketConfig
	Tokens    TokensConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	DevServer DevServerConfig
}

// APIConfig locates the REST backend
type APIConfig struct {
	URL     string
	Timeout time.Duration
}

// SocketConfig locates the realtime server
type SocketConfig struct {
	URL               string
	ReconnectAttempts uint64
	ReconnectDelay    time.Duration
}

// TokensConfig selects where the session tokens are kept
type TokensConfig struct {
	Backend string // keyring, file, memory, redis
	Path    string // file backend only; empty means the user config dir
}

// RedisConfig holds Redis configuration for the redis token backend
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// MetricsConfig exposes the client metrics; empty Addr disables the endpoint
type MetricsConfig struct {
	Addr string
}

// DevServerConfig configures the local development backend
type DevServerConfig struct {
	Addr           string
	DatabaseURL    string
	AccessSecret   string
	RefreshSecret  string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	SeedDemo       bool
	AllowedOrigins []string
	LoginRate      float64
	LoginBurst     int
	PurgeSchedule  string
}

// Load reads .env files, an optional medride.yaml and MEDRIDE_* environment
// variables, in increasing order of precedence over the defaults
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	return LoadFrom(newViper())
}

// LoadFile is Load with an explicit config file
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := newViper()
	v.SetConfigFile(path)
	return LoadFrom(v)
}

// LoadFrom decodes v. Exposed for tests.
func LoadFrom(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("medride")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/medride")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.url", "http://localhost:3000/api")
	v.SetDefault("api.timeout", "30s")

	v.SetDefault("socket.url", "ws://localhost:3000/socket")
	v.SetDefault("socket.reconnectattempts", 5)
	v.SetDefault("socket.reconnectdelay", "1s")

	v.SetDefault("tokens.backend", "keyring")
	v.SetDefault("tokens.path", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "medride")

	// Logging configuration - defaults suitable for an interactive CLI
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("devserver.addr", ":3000")
	v.SetDefault("devserver.databaseurl", "medride-dev.sqlite")
	v.SetDefault("devserver.accesssecret", "dev-access-secret-change-me")
	v.SetDefault("devserver.refreshsecret", "dev-refresh-secret-change-me")
	v.SetDefault("devserver.accessttl", "15m")
	v.SetDefault("devserver.refreshttl", "720h") // 30 days
	v.SetDefault("devserver.seeddemo", true)
	v.SetDefault("devserver.allowedorigins", "http://localhost:4200,http://localhost:8100")
	v.SetDefault("devserver.loginrate", 1.0)
	v.SetDefault("devserver.loginburst", 5)
	v.SetDefault("devserver.purgeschedule", "@every 1h")
}

func (c *Config) validate() error {
	switch c.Tokens.Backend {
	case "keyring", "file", "memory", "redis":
	default:
		return fmt.Errorf("invalid tokens.backend %q: must be keyring, file, memory or redis", c.Tokens.Backend)
	}
	if c.API.URL == "" {
		return fmt.Errorf("api.url must not be empty")
	}
	if c.DevServer.AccessSecret == c.DevServer.RefreshSecret {
		return fmt.Errorf("devserver access and refresh secrets must differ")
	}
	return nil
}
