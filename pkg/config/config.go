// Package config loads the s3crawl YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/eunmann/s3crawl/pkg/crawl"
	"github.com/eunmann/s3crawl/pkg/jobs"
	"github.com/eunmann/s3crawl/pkg/s3store"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalid indicates a configuration that cannot be run.
var ErrInvalid = errors.New("invalid configuration")

// Environment variables that override secrets from the file.
const (
	EnvRedisAddr     = "S3CRAWL_REDIS_ADDR"
	EnvRedisPassword = "S3CRAWL_REDIS_PASSWORD"
	EnvPostgresDSN   = "S3CRAWL_POSTGRES_DSN"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the complete process configuration.
type Config struct {
	Log      LogConfig       `yaml:"log"`
	Queue    QueueConfig     `yaml:"queue"`
	Counters CountersConfig  `yaml:"counters"`
	Crawl    CrawlConfig     `yaml:"crawl"`
	Accounts []AccountConfig `yaml:"accounts"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
	Human bool   `yaml:"human"`
}

// RedisConfig addresses one Redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig selects the job queue.
type QueueConfig struct {
	Backend string      `yaml:"backend"`
	Key     string      `yaml:"key"`
	Redis   RedisConfig `yaml:"redis"`
}

// CountersConfig selects the counters store. Redis settings are shared
// with the queue when Redis.Addr is empty.
type CountersConfig struct {
	Backend     string      `yaml:"backend"`
	Prefix      string      `yaml:"prefix"`
	Redis       RedisConfig `yaml:"redis"`
	PostgresDSN string      `yaml:"postgres_dsn"`
}

// CrawlConfig tunes partitioning, remediation and job handling.
type CrawlConfig struct {
	BatchThreshold   int           `yaml:"batch_threshold"`
	FanoutThreshold  int           `yaml:"fanout_threshold"`
	EscapeHatchCalls int           `yaml:"escape_hatch_calls"`
	PageSize         int           `yaml:"page_size"`
	MaxNGramDepth    int           `yaml:"max_ngram_depth"`
	Width            int           `yaml:"width"`
	ThrottlePause    time.Duration `yaml:"throttle_pause"`
	JobTimeout       time.Duration `yaml:"job_timeout"`
	Workers          int           `yaml:"workers"`
}

// AccountConfig describes one account. Accounts with a BlobURL are
// crawled through the portable blob API; the rest through S3.
type AccountConfig struct {
	s3store.Account `yaml:",inline"`

	// BlobURL is a bucket URL template such as "gs://{bucket}" or
	// "file:///srv/data/{bucket}".
	BlobURL string `yaml:"blob_url,omitempty"`
}

// ScheduleConfig drives the schedule command.
type ScheduleConfig struct {
	Cron     string   `yaml:"cron"`
	Accounts []string `yaml:"accounts"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	opts := crawl.DefaultOptions()
	return Config{
		Log: LogConfig{Level: "info"},
		Queue: QueueConfig{
			Backend: BackendRedis,
			Key:     jobs.DefaultRedisKey,
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Counters: CountersConfig{
			Backend: BackendRedis,
			Prefix:  "s3crawl",
		},
		Crawl: CrawlConfig{
			BatchThreshold:   opts.BatchThreshold,
			FanoutThreshold:  opts.FanoutThreshold,
			EscapeHatchCalls: opts.EscapeHatchCalls,
			PageSize:         opts.PageSize,
			MaxNGramDepth:    opts.MaxNGramDepth,
			Width:            opts.Width,
			ThrottlePause:    opts.ThrottlePause,
			JobTimeout:       jobs.DefaultJobTimeout,
			Workers:          4,
		},
		Schedule: ScheduleConfig{Cron: "0 3 * * *"},
		Metrics:  MetricsConfig{Namespace: "s3crawl"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load without the file read.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Queue.Redis.Addr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Queue.Redis.Password = v
		if c.Counters.Redis.Addr != "" {
			c.Counters.Redis.Password = v
		}
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Counters.PostgresDSN = v
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	switch c.Queue.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Queue.Redis.Addr == "" {
			invalid("queue.redis.addr is required for the redis queue")
		}
	default:
		invalid("queue.backend %q is not memory or redis", c.Queue.Backend)
	}

	switch c.Counters.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.CountersRedis().Addr == "" {
			invalid("counters.redis.addr is required for redis counters")
		}
	case BackendPostgres:
		if c.Counters.PostgresDSN == "" {
			invalid("counters.postgres_dsn is required for postgres counters")
		}
	default:
		invalid("counters.backend %q is not memory, redis or postgres", c.Counters.Backend)
	}

	opts := c.CrawlOptions()
	if err := opts.Validate(); err != nil {
		invalid("crawl: %v", err)
	}
	if c.Crawl.JobTimeout < 0 || c.Crawl.Workers < 0 {
		invalid("crawl.job_timeout and crawl.workers must not be negative")
	}

	var names []string
	for i, a := range c.Accounts {
		if a.Name == "" {
			invalid("accounts[%d] has no name", i)
			continue
		}
		if slices.Contains(names, a.Name) {
			invalid("account %q is listed twice", a.Name)
		}
		names = append(names, a.Name)
		if a.BlobURL != "" && (a.Endpoint != "" || a.RoleARN != "" || a.Profile != "") {
			invalid("account %q mixes blob_url with S3 settings", a.Name)
		}
	}

	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			invalid("schedule.cron: %v", err)
		}
	}
	for _, name := range c.Schedule.Accounts {
		if !slices.Contains(names, name) {
			invalid("schedule names unknown account %q", name)
		}
	}
	return errors.Join(errs...)
}

// CrawlOptions converts the crawl section.
func (c *Config) CrawlOptions() crawl.Options {
	return crawl.Options{
		BatchThreshold:   c.Crawl.BatchThreshold,
		FanoutThreshold:  c.Crawl.FanoutThreshold,
		EscapeHatchCalls: c.Crawl.EscapeHatchCalls,
		PageSize:         c.Crawl.PageSize,
		MaxNGramDepth:    c.Crawl.MaxNGramDepth,
		Width:            c.Crawl.Width,
		ThrottlePause:    c.Crawl.ThrottlePause,
	}
}

// CountersRedis returns the Redis settings for the counters store,
// falling back to the queue's server.
func (c *Config) CountersRedis() RedisConfig {
	if c.Counters.Redis.Addr != "" {
		return c.Counters.Redis
	}
	return c.Queue.Redis
}

// Account returns the named account.
func (c *Config) Account(name string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// S3Accounts returns the accounts crawled through S3.
func (c *Config) S3Accounts() []s3store.Account {
	var out []s3store.Account
	for _, a := range c.Accounts {
		if a.BlobURL == "" {
			out = append(out, a.Account)
		}
	}
	return out
}

// ScheduledAccounts returns the accounts the schedule scans, all of them
// when the schedule names none.
func (c *Config) ScheduledAccounts() []string {
	if len(c.Schedule.Accounts) > 0 {
		return c.Schedule.Accounts
	}
	names := make([]string, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		names = append(names, a.Name)
	}
	return names
}
