// Package config loads inferd runtime parameters.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. INFERD_MODEL_PATH.
const EnvPrefix = "INFERD_"

// Config holds runtime parameters for the service.
type Config struct {
	Addr           string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelPath      string   `json:"model_path" yaml:"model_path" toml:"model_path"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`

	ContextSize  int `json:"context_size" yaml:"context_size" toml:"context_size"`
	BatchSize    int `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	MaxNewTokens int `json:"max_new_tokens" yaml:"max_new_tokens" toml:"max_new_tokens"`
	Threads      int `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers    int `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`

	Workers             int   `json:"workers" yaml:"workers" toml:"workers"`
	QueueWaitSeconds    int   `json:"queue_wait_seconds" yaml:"queue_wait_seconds" toml:"queue_wait_seconds"`
	InferTimeoutSeconds int   `json:"infer_timeout_seconds" yaml:"infer_timeout_seconds" toml:"infer_timeout_seconds"`
	MaxBodyBytes        int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	CacheTTLSeconds int `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
	CacheCapacity   int `json:"cache_capacity" yaml:"cache_capacity" toml:"cache_capacity"`

	RateLimitRPS   float64 `json:"rate_limit_rps" yaml:"rate_limit_rps" toml:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst" yaml:"rate_limit_burst" toml:"rate_limit_burst"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:           "127.0.0.1:8080",
		AllowedOrigins: []string{"http://localhost:3000"},
		ContextSize:    4096,
		BatchSize:      512,
		MaxNewTokens:   4096,
		MaxBodyBytes:   1 << 20,
		CacheCapacity:  256,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// Load reads a configuration file over the defaults based on its extension.
// Supports: .yaml/.yml, .json, .toml. Keys absent from the file keep their
// default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// envSetters maps the suffix after EnvPrefix to the field it sets.
var envSetters = map[string]func(c *Config, v string) error{
	"ADDR":       func(c *Config, v string) error { c.Addr = v; return nil },
	"MODEL_PATH": func(c *Config, v string) error { c.ModelPath = v; return nil },
	"ALLOWED_ORIGINS": func(c *Config, v string) error {
		c.AllowedOrigins = SplitCSV(v)
		return nil
	},
	"CONTEXT_SIZE":          intSetter(func(c *Config) *int { return &c.ContextSize }),
	"BATCH_SIZE":            intSetter(func(c *Config) *int { return &c.BatchSize }),
	"MAX_NEW_TOKENS":        intSetter(func(c *Config) *int { return &c.MaxNewTokens }),
	"THREADS":               intSetter(func(c *Config) *int { return &c.Threads }),
	"GPU_LAYERS":            intSetter(func(c *Config) *int { return &c.GPULayers }),
	"WORKERS":               intSetter(func(c *Config) *int { return &c.Workers }),
	"QUEUE_WAIT_SECONDS":    intSetter(func(c *Config) *int { return &c.QueueWaitSeconds }),
	"INFER_TIMEOUT_SECONDS": intSetter(func(c *Config) *int { return &c.InferTimeoutSeconds }),
	"CACHE_TTL_SECONDS":     intSetter(func(c *Config) *int { return &c.CacheTTLSeconds }),
	"CACHE_CAPACITY":        intSetter(func(c *Config) *int { return &c.CacheCapacity }),
	"RATE_LIMIT_BURST":      intSetter(func(c *Config) *int { return &c.RateLimitBurst }),
	"MAX_BODY_BYTES": func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.MaxBodyBytes = n
		return nil
	},
	"RATE_LIMIT_RPS": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RateLimitRPS = f
		return nil
	},
	"LOG_LEVEL":  func(c *Config, v string) error { c.LogLevel = v; return nil },
	"LOG_FORMAT": func(c *Config, v string) error { c.LogFormat = v; return nil },
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// ApplyEnv overlays INFERD_* variables found by lookup (os.LookupEnv in
// production). Set but empty variables are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for suffix, set := range envSetters {
		v, ok := lookup(EnvPrefix + suffix)
		if !ok || v == "" {
			continue
		}
		if err := set(c, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, suffix, err))
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.ModelPath == "" {
		errs = append(errs, errors.New("model_path is required"))
	}
	if c.ContextSize <= 0 {
		errs = append(errs, fmt.Errorf("context_size must be positive, got %d", c.ContextSize))
	}
	if c.BatchSize <= 0 || c.BatchSize > c.ContextSize {
		errs = append(errs, fmt.Errorf("batch_size must be in 1..context_size, got %d", c.BatchSize))
	}
	if c.MaxNewTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_new_tokens must be positive, got %d", c.MaxNewTokens))
	}
	for _, f := range []struct {
		key string
		v   int
	}{
		{"threads", c.Threads},
		{"gpu_layers", c.GPULayers},
		{"workers", c.Workers},
		{"queue_wait_seconds", c.QueueWaitSeconds},
		{"infer_timeout_seconds", c.InferTimeoutSeconds},
		{"cache_ttl_seconds", c.CacheTTLSeconds},
		{"cache_capacity", c.CacheCapacity},
		{"rate_limit_burst", c.RateLimitBurst},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", f.key, f.v))
		}
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must not be negative, got %d", c.MaxBodyBytes))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("rate_limit_rps must not be negative, got %g", c.RateLimitRPS))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c Config) QueueWait() time.Duration {
	return time.Duration(c.QueueWaitSeconds) * time.Second
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// SplitCSV splits a comma-separated list, dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
