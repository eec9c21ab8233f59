package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"logslice/internal/core/domain"
	"logslice/internal/planner"
)

const envPrefix = "LOGSLICE"

// Config holds all configuration for an extraction run.
type Config struct {
	Source        string    `mapstructure:"source"`
	OutputDir     string    `mapstructure:"output_dir"`
	StagingDir    string    `mapstructure:"staging_dir"`
	ChunkSize     int64     `mapstructure:"chunk_size"`
	Workers       int       `mapstructure:"workers"`
	FailurePolicy string    `mapstructure:"failure_policy"`
	MetricsFile   string    `mapstructure:"metrics_file"`
	Log           LogConfig `mapstructure:"log"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
}

// NewViper returns a viper instance with defaults and LOGSLICE_* env binding.
// Values from a .env file in the working directory are loaded into the
// environment first, without overriding variables that are already set.
func NewViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("source", "test_logs.log")
	v.SetDefault("output_dir", "output")
	v.SetDefault("staging_dir", "")
	v.SetDefault("chunk_size", planner.DefaultChunkSize)
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("failure_policy", string(domain.PolicySkip))
	v.SetDefault("metrics_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile (if non-empty) into v and returns the validated config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Source) == "" {
		errs = append(errs, errors.New("source must not be empty"))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output_dir must not be empty"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if _, err := domain.ParsePolicy(c.FailurePolicy); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Policy returns the parsed failure policy. Call after Validate.
func (c *Config) Policy() domain.FailurePolicy {
	p, _ := domain.ParsePolicy(c.FailurePolicy)
	return p
}
