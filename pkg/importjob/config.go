package importjob

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls the job queue, worker pool, and retry policy.
type Config struct {
	Concurrency     int           // worker goroutines. Default 3.
	ItemConcurrency int           // per-job item parallelism cap. Default 4.
	MaxRetries      int           // retry attempts per job. Default 3.
	PollInterval    time.Duration // worker claim poll. Default 2s.
	SweepInterval   time.Duration // stuck/retention sweep. Default 30s.
	ClaimTimeout    time.Duration // processing time before a job counts as stuck. Default 10m.
	StepTimeout     time.Duration // default per-step budget. Default 2m.
	BackoffBase     time.Duration // retry backoff base. Default 5s.
	BackoffCap      time.Duration // retry backoff ceiling. Default 10m.
	RetentionDays   int           // terminal job/event/preview retention. Default 30.
	Enabled         bool          // whether workers run. Default true.
}

// DefaultConfig returns the default job configuration.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:     3,
		ItemConcurrency: 4,
		MaxRetries:      3,
		PollInterval:    2 * time.Second,
		SweepInterval:   30 * time.Second,
		ClaimTimeout:    10 * time.Minute,
		StepTimeout:     2 * time.Minute,
		BackoffBase:     5 * time.Second,
		BackoffCap:      10 * time.Minute,
		RetentionDays:   30,
		Enabled:         true,
	}
}

// ConfigFromEnv loads config from environment variables on top of the
// defaults. IMPORT_JOB_CONCURRENCY, IMPORT_JOB_ITEM_CONCURRENCY,
// IMPORT_JOB_MAX_RETRIES, IMPORT_JOB_POLL_INTERVAL_SECONDS,
// IMPORT_JOB_SWEEP_INTERVAL_SECONDS, IMPORT_JOB_CLAIM_TIMEOUT_MINUTES,
// IMPORT_JOB_STEP_TIMEOUT_SECONDS, IMPORT_JOB_BACKOFF_BASE_SECONDS,
// IMPORT_JOB_RETENTION_DAYS, IMPORT_JOB_ENABLED.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("IMPORT_JOB_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("IMPORT_JOB_ITEM_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ItemConcurrency = n
		}
	}

	if v := os.Getenv("IMPORT_JOB_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	if v := os.Getenv("IMPORT_JOB_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("IMPORT_JOB_SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("IMPORT_JOB_CLAIM_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClaimTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("IMPORT_JOB_STEP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StepTimeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("IMPORT_JOB_BACKOFF_BASE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BackoffBase = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("IMPORT_JOB_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	if v := os.Getenv("IMPORT_JOB_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}

// fileConfig is the YAML shape of the config file. Durations are Go
// duration strings ("30s", "10m").
type fileConfig struct {
	Concurrency     int    `yaml:"concurrency"`
	ItemConcurrency int    `yaml:"itemConcurrency"`
	MaxRetries      int    `yaml:"maxRetries"`
	PollInterval    string `yaml:"pollInterval"`
	SweepInterval   string `yaml:"sweepInterval"`
	ClaimTimeout    string `yaml:"claimTimeout"`
	StepTimeout     string `yaml:"stepTimeout"`
	BackoffBase     string `yaml:"backoffBase"`
	BackoffCap      string `yaml:"backoffCap"`
	RetentionDays   int    `yaml:"retentionDays"`
	Enabled         *bool  `yaml:"enabled"`
}

// LoadConfigFile overlays a YAML config file on top of cfg. Absent or
// zero-valued fields in the file keep their current values.
func LoadConfigFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if file.Concurrency > 0 {
		cfg.Concurrency = file.Concurrency
	}
	if file.ItemConcurrency > 0 {
		cfg.ItemConcurrency = file.ItemConcurrency
	}
	if file.MaxRetries > 0 {
		cfg.MaxRetries = file.MaxRetries
	}
	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{file.PollInterval, "pollInterval", &cfg.PollInterval},
		{file.SweepInterval, "sweepInterval", &cfg.SweepInterval},
		{file.ClaimTimeout, "claimTimeout", &cfg.ClaimTimeout},
		{file.StepTimeout, "stepTimeout", &cfg.StepTimeout},
		{file.BackoffBase, "backoffBase", &cfg.BackoffBase},
		{file.BackoffCap, "backoffCap", &cfg.BackoffCap},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("config file %s: invalid %s %q", path, d.name, d.raw)
		}
		*d.dst = parsed
	}
	if file.RetentionDays > 0 {
		cfg.RetentionDays = file.RetentionDays
	}
	if file.Enabled != nil {
		cfg.Enabled = *file.Enabled
	}
	return nil
}

// Backoff returns the delay before retry attempt n (0-based), exponential
// with a ceiling.
func (c *Config) Backoff(retryCount int) time.Duration {
	d := c.BackoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= c.BackoffCap {
			return c.BackoffCap
		}
	}
	if d > c.BackoffCap {
		return c.BackoffCap
	}
	return d
}
