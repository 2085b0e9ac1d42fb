package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/eunmann/s3crawl/pkg/crawl"
)

const sample = `
log:
  level: debug
queue:
  backend: redis
  redis:
    addr: redis:6379
counters:
  backend: postgres
  postgres_dsn: postgres://crawl@db/crawl
crawl:
  fanout_threshold: 8
  throttle_pause: 250ms
  job_timeout: 10m
accounts:
  - name: prod
    role_arn: arn:aws:iam::123456789012:role/crawler
    region: eu-west-1
    list_rate: 20
  - name: archive
    blob_url: gs://{bucket}
    buckets: [cold, colder]
schedule:
  cron: "30 2 * * *"
  accounts: [prod]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Queue.Redis.Addr != "redis:6379" {
		t.Errorf("log/queue = %+v %+v", cfg.Log, cfg.Queue)
	}
	opts := cfg.CrawlOptions()
	want := crawl.DefaultOptions().WithFanoutThreshold(8).WithThrottlePause(250 * time.Millisecond)
	if opts != want {
		t.Errorf("CrawlOptions() = %+v, want %+v", opts, want)
	}
	if cfg.Crawl.JobTimeout != 10*time.Minute {
		t.Errorf("job timeout = %v", cfg.Crawl.JobTimeout)
	}

	prod, ok := cfg.Account("prod")
	if !ok || prod.RoleARN == "" || prod.ListRate != 20 || prod.Region != "eu-west-1" {
		t.Errorf("Account(prod) = %+v, %v", prod, ok)
	}
	if s3 := cfg.S3Accounts(); len(s3) != 1 || s3[0].Name != "prod" {
		t.Errorf("S3Accounts() = %+v", s3)
	}
	archive, _ := cfg.Account("archive")
	if archive.BlobURL != "gs://{bucket}" || !slices.Equal(archive.Buckets, []string{"cold", "colder"}) {
		t.Errorf("Account(archive) = %+v", archive)
	}
	if got := cfg.ScheduledAccounts(); !slices.Equal(got, []string{"prod"}) {
		t.Errorf("ScheduledAccounts() = %v", got)
	}
	if cfg.CountersRedis().Addr != "redis:6379" {
		t.Errorf("CountersRedis() did not fall back to the queue server")
	}
}

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	def := Default()
	if cfg.Queue != def.Queue || cfg.Crawl != def.Crawl || cfg.Schedule.Cron != def.Schedule.Cron {
		t.Errorf("Parse(nil) = %+v, want defaults", cfg)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv(EnvRedisPassword, "hunter2")
	t.Setenv(EnvPostgresDSN, "postgres://env@db/crawl")

	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Queue.Redis.Password != "hunter2" {
		t.Errorf("redis password = %q", cfg.Queue.Redis.Password)
	}
	if cfg.CountersRedis().Password != "hunter2" {
		t.Errorf("counters redis password = %q", cfg.CountersRedis().Password)
	}
	if cfg.Counters.PostgresDSN != "postgres://env@db/crawl" {
		t.Errorf("postgres dsn = %q", cfg.Counters.PostgresDSN)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown key":       "bogus: 1\n",
		"queue backend":     "queue: {backend: kafka}\n",
		"postgres dsn":      "counters: {backend: postgres}\n",
		"fanout":            "crawl: {fanout_threshold: 1}\n",
		"duplicate account": "accounts: [{name: a}, {name: a}]\n",
		"unnamed account":   "accounts: [{region: us-east-1}]\n",
		"mixed account":     "accounts: [{name: a, blob_url: 'mem://', endpoint: 'http://x'}]\n",
		"cron":              "schedule: {cron: 'every day'}\n",
		"schedule account":  "schedule: {accounts: [ghost]}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			if err == nil {
				t.Fatal("Parse() error = nil")
			}
			if name != "unknown key" && !errors.Is(err, ErrInvalid) {
				t.Errorf("Parse() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s3crawl.yaml")
	if err := os.WriteFile(path, []byte("queue: {backend: memory}\ncounters: {backend: memory}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Queue.Backend != BackendMemory || cfg.Counters.Backend != BackendMemory {
		t.Errorf("backends = %s/%s", cfg.Queue.Backend, cfg.Counters.Backend)
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Errorf("Load(missing) error = %v", err)
	}
}
