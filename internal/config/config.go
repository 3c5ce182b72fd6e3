// Package config loads the service configuration.
//
// Precedence (highest to lowest): flags > REQS_ env vars > config file > defaults.
// DATABASE_URL and PORT are honored when nothing else sets the database URL or port.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides: REQS_CACHE_REDIS_ADDR -> cache.redis_addr.
const EnvPrefix = "REQS_"

// Store drivers and cache backends.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Cache      CacheConfig      `koanf:"cache"`
	RuleSets   RuleSetsConfig   `koanf:"rulesets"`
	Evaluation EvaluationConfig `koanf:"evaluation"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Log        LogConfig        `koanf:"log"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `koanf:"driver"`
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type CacheConfig struct {
	Backend       string        `koanf:"backend"`
	TTL           time.Duration `koanf:"ttl"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	RedisPrefix   string        `koanf:"redis_prefix"`
}

// RuleSetsConfig configures the YAML rule-set source. An empty path disables it.
type RuleSetsConfig struct {
	Path     string        `koanf:"path"`
	Watch    bool          `koanf:"watch"`
	Debounce time.Duration `koanf:"debounce"`
}

type EvaluationConfig struct {
	// Strict rejects invalid rule-set files and makes malformed conditions fail to match.
	Strict bool `koanf:"strict"`
}

type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

type LogConfig struct {
	Level      string `koanf:"level"`
	SampleRate int    `koanf:"sample_rate"`
}

// Defaults returns the built-in configuration values keyed by koanf path.
func Defaults() map[string]any {
	return map[string]any{
		"server.port":                8080,
		"server.read_timeout":        "15s",
		"server.write_timeout":       "30s",
		"server.idle_timeout":        "60s",
		"server.request_timeout":     "30s",
		"server.shutdown_timeout":    "30s",
		"database.driver":            DriverPostgres,
		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "5m",
		"cache.backend":              CacheMemory,
		"cache.ttl":                  "1h",
		"cache.redis_addr":           "localhost:6379",
		"cache.redis_prefix":         "requirements:",
		"rulesets.debounce":          "250ms",
		"metrics.enabled":            true,
		"metrics.namespace":          "requirements",
		"log.level":                  "INFO",
		"log.sample_rate":            1,
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"port":          "server.port",
	"database-url":  "database.url",
	"store":         "database.driver",
	"cache-backend": "cache.backend",
	"cache-ttl":     "cache.ttl",
	"redis-addr":    "cache.redis_addr",
	"rulesets-path": "rulesets.path",
	"watch":         "rulesets.watch",
	"strict":        "evaluation.strict",
	"log-level":     "log.level",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.Int("port", 0, "HTTP listen port")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("store", "", "store driver (postgres|memory)")
	fs.String("cache-backend", "", "rule-set cache backend (memory|redis)")
	fs.Duration("cache-ttl", 0, "rule-set cache TTL")
	fs.String("redis-addr", "", "Redis address for the redis cache backend")
	fs.String("rulesets-path", "", "YAML rule-set file or directory")
	fs.Bool("watch", false, "reload rule-set files on change")
	fs.Bool("strict", false, "strict rule validation and evaluation")
	fs.String("log-level", "", "log level (TRACE|DEBUG|INFO|WARN|ERROR)")
}

// Load reads the configuration. cfgFile may be empty; flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == "" && flags != nil {
		cfgFile, _ = flags.GetString("config")
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// REQS_DATABASE_URL -> database.url; only the first underscore nests.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(key, "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if !k.Exists("database.url") {
		if url := os.Getenv("DATABASE_URL"); url != "" {
			_ = k.Set("database.url", url)
		}
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"SERVER_PORT") == "" {
		if p, err := strconv.Atoi(port); err == nil {
			_ = k.Set("server.port", p)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.Cache.Backend = strings.ToLower(cfg.Cache.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q (must be postgres or memory)", c.Database.Driver))
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q (must be memory or redis)", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL))
	}
	if c.RuleSets.Watch && c.RuleSets.Path == "" {
		errs = append(errs, errors.New("rulesets.watch requires rulesets.path"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
