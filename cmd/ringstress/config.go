package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/exp/slices"
)

// Config is the complete ringstress configuration
type Config struct {
	// Threads is the total number of threads to create over the run
	Threads int `mapstructure:"threads"`
	// Fanout is the maximum number of children each thread creates
	Fanout int `mapstructure:"fanout"`
	// MaxLive limits the number of thread goroutines running at once (0 = no limit). Creating
	// beyond it fails, and the failure is counted.
	MaxLive int `mapstructure:"max_live"`
	// Cleanups is the number of cleanups each thread pushes. About a third are popped again.
	Cleanups int `mapstructure:"cleanups"`
	// CancelRatio is the probability that a thread cancels each child it creates
	CancelRatio float64 `mapstructure:"cancel_ratio"`
	// Seed seeds the random choices of every thread
	Seed int64 `mapstructure:"seed"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig controls logging to stderr
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// Format is "text" or "json"
	Format string `mapstructure:"format"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Threads:     1000,
		Fanout:      4,
		MaxLive:     256,
		Cleanups:    3,
		CancelRatio: 0.1,
		Seed:        1,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("threads", defaults.Threads)
	v.SetDefault("fanout", defaults.Fanout)
	v.SetDefault("max_live", defaults.MaxLive)
	v.SetDefault("cleanups", defaults.Cleanups)
	v.SetDefault("cancel_ratio", defaults.CancelRatio)
	v.SetDefault("seed", defaults.Seed)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
}

// Load reads the configuration out of v and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// Validate checks the Config for invalid values, returning all the problems found, or nil.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Threads < 0 {
		errs = append(errs, ValidationError{"threads", c.Threads, "must not be negative"})
	}
	if c.Fanout < 1 {
		errs = append(errs, ValidationError{"fanout", c.Fanout, "must be at least 1"})
	}
	if c.MaxLive < 0 {
		errs = append(errs, ValidationError{"max_live", c.MaxLive, "must not be negative"})
	}
	if c.Cleanups < 0 {
		errs = append(errs, ValidationError{"cleanups", c.Cleanups, "must not be negative"})
	}
	if c.CancelRatio < 0 || c.CancelRatio > 1 {
		errs = append(errs, ValidationError{"cancel_ratio", c.CancelRatio, "must be between 0 and 1"})
	}
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		errs = append(errs, ValidationError{
			"log.level", c.Log.Level, "must be one of " + strings.Join(ValidLogLevels(), ", "),
		})
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Log.Format)) {
		errs = append(errs, ValidationError{
			"log.format", c.Log.Format, "must be one of " + strings.Join(ValidLogFormats(), ", "),
		})
	}

	return errs
}
