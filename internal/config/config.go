// Package config loads pdb-ids settings from defaults, an optional YAML
// file, PDB_IDS_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/pdb-ids/pkg/client"
	"github.com/Sternrassler/pdb-ids/pkg/logging"
	"github.com/Sternrassler/pdb-ids/pkg/output"
	"github.com/Sternrassler/pdb-ids/pkg/pagination"
)

const (
	// FileName is the config file base name searched in "." and ~/.config/pdb-ids.
	FileName = "pdb-ids"

	// EnvPrefix prefixes environment overrides, e.g. PDB_IDS_PAGE_SIZE.
	EnvPrefix = "PDB_IDS"
)

// Config is the fully resolved application configuration.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	UserAgent string `mapstructure:"user_agent"`

	TotalHint              int           `mapstructure:"total_hint"`
	PageSize               int           `mapstructure:"page_size"`
	Policy                 string        `mapstructure:"policy"`
	OnError                string        `mapstructure:"on_error"`
	Concurrency            int           `mapstructure:"concurrency"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	Deadline               time.Duration `mapstructure:"deadline"`
	Retries                int           `mapstructure:"retries"`
	MinInterval            time.Duration `mapstructure:"min_interval"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	MaxPages               int           `mapstructure:"max_pages"`
	Dedupe                 bool          `mapstructure:"dedupe"`

	Output            string `mapstructure:"output"`
	Format            string `mapstructure:"format"`
	IgnoreWriteErrors bool   `mapstructure:"ignore_write_errors"`

	// Store is the sqlite database path. Empty disables run history.
	Store string `mapstructure:"store"`

	// MetricsAddr serves /metrics while fetching. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`

	Redis RedisConfig `mapstructure:"redis"`
	Log   LogConfig   `mapstructure:"log"`
}

// RedisConfig configures the optional page cache. Empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// SetDefaults registers every key with its default so that env overrides
// and Unmarshal see the complete key set.
func SetDefaults(v *viper.Viper) {
	cc := client.DefaultConfig()
	pc := pagination.DefaultConfig()

	v.SetDefault("endpoint", cc.Endpoint)
	v.SetDefault("user_agent", cc.UserAgent)

	v.SetDefault("total_hint", pc.TotalHint)
	v.SetDefault("page_size", pc.PageSize)
	v.SetDefault("policy", string(pc.Policy))
	v.SetDefault("on_error", string(pc.OnError))
	v.SetDefault("concurrency", pc.MaxConcurrency)
	v.SetDefault("request_timeout", pc.RequestTimeout)
	v.SetDefault("deadline", pc.Deadline)
	v.SetDefault("retries", cc.Retry.MaxAttempts)
	v.SetDefault("min_interval", cc.MinInterval)
	v.SetDefault("max_consecutive_failures", pc.MaxConsecutiveFailures)
	v.SetDefault("max_pages", pc.MaxPages)
	v.SetDefault("dedupe", pc.Dedupe)

	v.SetDefault("output", "list_file.txt")
	v.SetDefault("format", "")
	v.SetDefault("ignore_write_errors", false)
	v.SetDefault("store", "")
	v.SetDefault("metrics_addr", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile reads an explicit config file, or searches the default
// locations when path is empty. A missing file in the default locations
// is not an error.
func ReadFile(v *viper.Viper, path string) (string, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that viper cannot type-check.
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint must be an absolute URL, got %q", c.Endpoint)
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be at least 1, got %d", c.Retries)
	}
	if c.Output == "" {
		return errors.New("output path must not be empty")
	}
	if c.Redis.TTL < 0 {
		return fmt.Errorf("redis ttl must not be negative, got %v", c.Redis.TTL)
	}
	if _, err := c.OutputFormat(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	pc, err := c.Pagination()
	if err != nil {
		return err
	}
	return pc.Validate()
}

// OutputFormat resolves Format, falling back to the output file extension.
func (c Config) OutputFormat() (output.Format, error) {
	if c.Format == "" {
		return output.FormatFromPath(c.Output), nil
	}
	return output.ParseFormat(c.Format)
}

// Pagination builds the accumulator configuration.
func (c Config) Pagination() (pagination.Config, error) {
	policy, err := pagination.ParseBoundaryPolicy(c.Policy)
	if err != nil {
		return pagination.Config{}, err
	}
	onError, err := pagination.ParseFailurePolicy(c.OnError)
	if err != nil {
		return pagination.Config{}, err
	}

	return pagination.Config{
		TotalHint:              c.TotalHint,
		PageSize:               c.PageSize,
		Policy:                 policy,
		OnError:                onError,
		MaxConcurrency:         c.Concurrency,
		RequestTimeout:         c.RequestTimeout,
		Deadline:               c.Deadline,
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
		Dedupe:                 c.Dedupe,
		MaxPages:               c.MaxPages,
	}, nil
}

// Client builds the search client configuration. The cache manager is
// attached by the caller once redis is connected.
func (c Config) Client() client.Config {
	cc := client.DefaultConfig()
	cc.Endpoint = c.Endpoint
	cc.UserAgent = c.UserAgent
	if c.RequestTimeout > 0 {
		cc.Timeout = c.RequestTimeout
	}
	cc.Retry.MaxAttempts = c.Retries
	cc.MinInterval = c.MinInterval
	if c.PageSize > 0 {
		cc.Base = cc.Base.WithRows(c.PageSize)
	}
	return cc
}

// Logging builds the logger configuration. Output defaults to stderr.
func (c Config) Logging() logging.Config {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Pretty = c.Log.Pretty
	return lc
}
