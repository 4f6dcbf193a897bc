// Package config loads runtime settings from the environment and an
// optional config file.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"untestables/model"
)

// EnvPrefix namespaces environment variables, e.g. UNTESTABLES_DATABASE_URL.
const EnvPrefix = "UNTESTABLES"

// legacyEnvKeys maps viper keys to bare environment variable names kept
// for compatibility with older deployments.
var legacyEnvKeys = map[string]string{
	"min_stars":      "ABS_MIN_STARS",
	"max_stars":      "ABS_MAX_STARS",
	"chunk_size":     "DEFAULT_CHUNK_SIZE",
	"worker_command": "SCANNER_COMMAND",
	"database_url":   "DATABASE_URL",
	"github_token":   "GITHUB_TOKEN",
	"redis_addr":     "REDIS_ADDR",
}

// Config holds everything the orchestrator, worker and API need.
type Config struct {
	MinStars  int `mapstructure:"min_stars"`
	MaxStars  int `mapstructure:"max_stars"`
	ChunkSize int `mapstructure:"chunk_size"`

	WorkerCommand string `mapstructure:"worker_command"`
	GithubToken   string `mapstructure:"github_token"`

	DatabaseURL string `mapstructure:"database_url"`
	RedisAddr   string `mapstructure:"redis_addr"`

	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`

	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	IdleInterval  time.Duration `mapstructure:"idle_interval"`
	LeaseExpiry   time.Duration `mapstructure:"lease_expiry"`

	MaxRetries        int           `mapstructure:"max_retries"`
	InitialRetryDelay time.Duration `mapstructure:"initial_retry_delay"`
}

// Bound returns the scan bound as a model value.
func (c *Config) Bound() model.Bound {
	return model.Bound{Min: c.MinStars, Max: c.MaxStars}
}

// Load reads configuration from the environment and, when path is not
// empty, a YAML config file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnvKeys {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), env); err != nil {
			return nil, errors.Wrapf(err, "binding env for %s", key)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("min_stars", model.DefaultMinStars)
	v.SetDefault("max_stars", model.DefaultMaxStars)
	v.SetDefault("chunk_size", model.DefaultChunkSize)
	v.SetDefault("worker_command", "untestables-scanner")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("cycle_interval", model.DefaultCycleSleepInterval)
	v.SetDefault("idle_interval", model.DefaultIdleSleepInterval)
	v.SetDefault("lease_expiry", 30*time.Second)
	v.SetDefault("max_retries", model.DefaultMaxRetries)
	v.SetDefault("initial_retry_delay", model.DefaultInitialRetryDelay)
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.MinStars < 0 {
		return errors.Errorf("min_stars must not be negative, got %d", c.MinStars)
	}
	if c.MinStars > c.MaxStars {
		return errors.Errorf("min_stars (%d) must not exceed max_stars (%d)", c.MinStars, c.MaxStars)
	}
	if c.ChunkSize < 1 {
		return errors.Errorf("chunk_size must be at least 1, got %d", c.ChunkSize)
	}
	if c.WorkerCommand == "" {
		return errors.New("worker_command must not be empty")
	}
	if c.MaxRetries < 0 {
		return errors.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}
