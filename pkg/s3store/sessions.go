// Package s3store adapts the AWS SDK to the crawl collaborators: listing,
// bucket probes, the per-key remediation action and bucket discovery.
package s3store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/eunmann/s3crawl/pkg/crawl"
	"golang.org/x/time/rate"
)

// DefaultRegion is used when neither the account nor the environment
// names a region.
const DefaultRegion = "us-east-1"

// ErrUnknownAccount is returned for an account that was not configured.
var ErrUnknownAccount = errors.New("unknown account")

// Account describes how to reach one account's buckets.
type Account struct {
	Name    string `yaml:"name"`
	Profile string `yaml:"profile,omitempty"`
	Region  string `yaml:"region,omitempty"`

	// RoleARN is assumed through STS on top of the base credentials.
	RoleARN    string `yaml:"role_arn,omitempty"`
	ExternalID string `yaml:"external_id,omitempty"`

	// Endpoint points at an S3-compatible store. Path-style addressing is
	// used and region lookups are skipped.
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	// Buckets restricts discovery to a fixed list. Empty means ListBuckets.
	Buckets []string `yaml:"buckets,omitempty"`

	// ListRate caps listing calls per second across this process. Zero is
	// unlimited.
	ListRate float64 `yaml:"list_rate,omitempty"`
}

// Sessions opens a fresh AWS session per work unit.
type Sessions struct {
	accounts map[string]Account
	limiters map[string]*rate.Limiter
}

// NewSessions indexes accounts by name. Listing limiters are shared by
// every session of the same account.
func NewSessions(accounts []Account) (*Sessions, error) {
	s := &Sessions{
		accounts: make(map[string]Account, len(accounts)),
		limiters: make(map[string]*rate.Limiter, len(accounts)),
	}
	for _, a := range accounts {
		if a.Name == "" {
			return nil, errors.New("account without name")
		}
		if _, dup := s.accounts[a.Name]; dup {
			return nil, fmt.Errorf("duplicate account %q", a.Name)
		}
		if a.ListRate < 0 {
			return nil, fmt.Errorf("account %q: list_rate must not be negative", a.Name)
		}
		s.accounts[a.Name] = a
		s.limiters[a.Name] = newLimiter(a.ListRate)
	}
	return s, nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond == 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
}

// Accounts returns the configured account names.
func (s *Sessions) Accounts() []string {
	names := make([]string, 0, len(s.accounts))
	for name := range s.accounts {
		names = append(names, name)
	}
	return names
}

// Session implements crawl.SessionProvider.
func (s *Sessions) Session(ctx context.Context, account string) (*crawl.Session, error) {
	acct, ok := s.accounts[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	cfg, err := LoadConfig(ctx, acct)
	if err != nil {
		return nil, err
	}
	c := NewClient(cfg, acct, s.limiters[account])
	return &crawl.Session{Lister: c, Probe: c, Action: c, Discover: c}, nil
}

// LoadConfig resolves the AWS configuration for one account.
func LoadConfig(ctx context.Context, acct Account) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if acct.Region != "" {
		opts = append(opts, config.WithRegion(acct.Region))
	}
	if acct.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(acct.Profile))
	}
	if acct.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(acct.AccessKeyID, acct.SecretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config for %s: %w", acct.Name, err)
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	if acct.RoleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), acct.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "s3crawl-" + acct.Name
			if acct.ExternalID != "" {
				o.ExternalID = aws.String(acct.ExternalID)
			}
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return cfg, nil
}
