// Package config holds the process wide, read only configuration. It is
// parsed once at startup and passed by pointer into every constructor.
package config

import (
	"errors"
	"flag"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"skin-api/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
)

type Server struct {
	Addr          string
	Debug         bool
	MetricsAPIKey string
	AuditDir      string
	PromptPath    string
	RateLimit     int
	RateWindow    time.Duration
}

type ObjectStore struct {
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Endpoint        string
	Region          string
	UseSSL          bool
	Prefix          string
}

type Vision struct {
	AccessKeyID     string
	AccessKeySecret string
	Endpoint        string
	OrgID           string
	OrgName         string
	Timeout         time.Duration
}

type Reasoning struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type Config struct {
	Server      Server
	ObjectStore ObjectStore
	Vision      Vision
	Reasoning   Reasoning
	DSN         string
	RedisAddr   string
}

// Load registers flags on fs, fills them from the environment and parses args
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	fs.StringVar(&cfg.Server.Addr, "addr", ":80", "Listen address")
	fs.BoolVar(&cfg.Server.Debug, "debug", false, "Debug enabled")
	fs.StringVar(&cfg.Server.MetricsAPIKey, "metrics-api-key", "", "Metrics api key")
	fs.StringVar(&cfg.Server.AuditDir, "audit-dir", "user_TempImage", "Directory for audit copies of uploads")
	fs.StringVar(&cfg.Server.PromptPath, "prompt-path", "", "Prompt template file, embedded default when empty")
	fs.IntVar(&cfg.Server.RateLimit, "rate-limit", shared.DefaultRateLimit, "Analysis requests per client per window, 0 disables")
	fs.DurationVar(&cfg.Server.RateWindow, "rate-window", shared.DefaultRateLimitWindow, "Rate limit window")

	fs.StringVar(&cfg.ObjectStore.AccessKeyID, "oss-access-key-id", "", "Object store access key id")
	fs.StringVar(&cfg.ObjectStore.AccessKeySecret, "oss-access-key-secret", "", "Object store access key secret")
	fs.StringVar(&cfg.ObjectStore.Bucket, "oss-bucket", "", "Object store bucket")
	fs.StringVar(&cfg.ObjectStore.Endpoint, "oss-endpoint", "", "Object store endpoint host")
	fs.StringVar(&cfg.ObjectStore.Region, "oss-region", "", "Object store region")
	fs.BoolVar(&cfg.ObjectStore.UseSSL, "oss-use-ssl", true, "Use https for the object store")
	fs.StringVar(&cfg.ObjectStore.Prefix, "oss-prefix", shared.DefaultObjectPrefix, "Object name prefix")

	fs.StringVar(&cfg.Vision.AccessKeyID, "vision-access-key-id", "", "Vision service access key id")
	fs.StringVar(&cfg.Vision.AccessKeySecret, "vision-access-key-secret", "", "Vision service access key secret")
	fs.StringVar(&cfg.Vision.Endpoint, "vision-endpoint", "imageprocess.cn-shanghai.aliyuncs.com", "Vision service endpoint")
	fs.StringVar(&cfg.Vision.OrgID, "vision-org-id", "", "Vision service organization id")
	fs.StringVar(&cfg.Vision.OrgName, "vision-org-name", "", "Vision service organization name")
	fs.DurationVar(&cfg.Vision.Timeout, "vision-timeout", shared.DefaultVisionTimeout, "Vision call timeout")

	fs.StringVar(&cfg.Reasoning.APIKey, "reasoning-api-key", "", "LLM api key")
	fs.StringVar(&cfg.Reasoning.BaseURL, "reasoning-base-url", "https://api.deepseek.com", "LLM base url")
	fs.StringVar(&cfg.Reasoning.Model, "reasoning-model", "deepseek-reasoner", "LLM model name")
	fs.Float64Var(&cfg.Reasoning.Temperature, "reasoning-temperature", shared.DefaultTemperature, "LLM sampling temperature")
	fs.DurationVar(&cfg.Reasoning.Timeout, "reasoning-timeout", shared.DefaultReasoningTimeout, "LLM stream timeout")

	fs.StringVar(&cfg.DSN, "dsn", "", "MySQL DSN, analysis records are not persisted when empty")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "Redis host:port, cache and rate limiting are disabled when empty")

	if fs == flag.CommandLine {
		if err := eflag.SetFlagsFromEnvironment(); err != nil {
			return nil, err
		}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.ObjectStore.Endpoint = EndpointHost(cfg.ObjectStore.Endpoint)
	cfg.Reasoning.BaseURL = strings.TrimSuffix(cfg.Reasoning.BaseURL, "/")
	return cfg, nil
}

// Validate fails fast on missing credentials
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"oss-access-key-id":        c.ObjectStore.AccessKeyID,
		"oss-access-key-secret":    c.ObjectStore.AccessKeySecret,
		"oss-bucket":               c.ObjectStore.Bucket,
		"oss-endpoint":             c.ObjectStore.Endpoint,
		"vision-access-key-id":     c.Vision.AccessKeyID,
		"vision-access-key-secret": c.Vision.AccessKeySecret,
		"vision-endpoint":          c.Vision.Endpoint,
		"vision-org-id":            c.Vision.OrgID,
		"reasoning-api-key":        c.Reasoning.APIKey,
		"reasoning-base-url":       c.Reasoning.BaseURL,
		"reasoning-model":          c.Reasoning.Model,
	}
	for _, name := range slices.Sorted(maps.Keys(required)) {
		if strings.TrimSpace(required[name]) == "" {
			errs = append(errs, fmt.Errorf("missing required flag %s", name))
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("rate-limit must not be negative"))
	}
	return errors.Join(errs...)
}

// EndpointHost strips any scheme and trailing slash from an endpoint
func EndpointHost(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimSuffix(endpoint, "/")
}
