package types

import "time"

// HTTPConfig holds shared HTTP settings used by every source client.
type HTTPConfig struct {
	// Timeout bounds a single HTTP request.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "pharma-research/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// SourceConfig holds the operator settings for one source.
type SourceConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Requests per Per is the published rate ceiling. The bucket holds
	// Requests tokens and refills continuously at Requests/Per.
	Requests int           `json:"requests" yaml:"requests" mapstructure:"requests"`
	Per      time.Duration `json:"per" yaml:"per" mapstructure:"per"`

	// TTL overrides the global cache TTL when non-zero.
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty" mapstructure:"ttl"`

	// MaxResults caps the records requested from the source.
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`

	// APIKey is sent to sources that accept one. Loaded from .secrets/.
	APIKey string `json:"-" yaml:"-" mapstructure:"api_key"`
}

// RedisConfig holds connection settings for the redis cache backend.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string `json:"-" yaml:"-" mapstructure:"password"`
	DB       int    `json:"db" yaml:"db" mapstructure:"db"`
	Prefix   string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

// CacheBackend selects the cache store implementation.
type CacheBackend string

const (
	CacheMemory  CacheBackend = "memory"
	CacheSQLite  CacheBackend = "sqlite"
	CacheRedis   CacheBackend = "redis"
	CacheLevelDB CacheBackend = "leveldb"
)

// CacheConfig holds settings for the response cache.
type CacheConfig struct {
	Enabled bool         `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Backend CacheBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// TTL is the default time-to-live of a cached response (default 24h).
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`

	// Dir is the data directory of the sqlite and leveldb backends.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// SweepInterval enables a periodic sweep of expired entries in the
	// memory backend. Zero disables it; expiry is lazy either way.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval" mapstructure:"sweep_interval"`

	Redis RedisConfig `json:"redis" yaml:"redis" mapstructure:"redis"`
}

// RetryConfig controls the per-source retry loop.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// BaseDelay doubles each attempt and is capped at MaxDelay.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay  time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
}

// RateLimitConfig holds settings shared by every bucket.
type RateLimitConfig struct {
	// WaitTimeout bounds how long Acquire may block for a token.
	WaitTimeout time.Duration `json:"wait_timeout" yaml:"wait_timeout" mapstructure:"wait_timeout"`
}

// OrchestratorConfig holds settings for a research run.
type OrchestratorConfig struct {
	// Timeout is the global time budget of one run (default 120s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// Config groups every setting the core reads at construction time.
type Config struct {
	HTTP         HTTPConfig                `json:"http" yaml:"http" mapstructure:"http"`
	Orchestrator OrchestratorConfig        `json:"orchestrator" yaml:"orchestrator" mapstructure:"orchestrator"`
	Cache        CacheConfig               `json:"cache" yaml:"cache" mapstructure:"cache"`
	Retry        RetryConfig               `json:"retry" yaml:"retry" mapstructure:"retry"`
	RateLimit    RateLimitConfig           `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
	Sources      map[SourceID]SourceConfig `json:"sources" yaml:"sources" mapstructure:"sources"`
}

// DefaultConfig returns the operator defaults. Rate ceilings follow each
// source's published limits.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:   15 * time.Second,
			UserAgent: "pharma-research/0.1",
		},
		Orchestrator: OrchestratorConfig{Timeout: 120 * time.Second},
		Cache: CacheConfig{
			Enabled: true,
			Backend: CacheMemory,
			TTL:     24 * time.Hour,
			Dir:     "data/cache",
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "pharma-research:"},
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{WaitTimeout: 30 * time.Second},
		Sources: map[SourceID]SourceConfig{
			SourceClinicalTrials: {Enabled: true, Requests: 10, Per: time.Second, MaxResults: 20},
			SourceOpenFDA:        {Enabled: true, Requests: 240, Per: time.Minute, MaxResults: 5},
			SourcePubChem:        {Enabled: true, Requests: 5, Per: time.Second, MaxResults: 1},
			SourcePubMed:         {Enabled: true, Requests: 3, Per: time.Second, MaxResults: 10},
		},
	}
}

// SourceTTL returns the cache TTL for source, honoring per-source overrides.
func (c Config) SourceTTL(source SourceID) time.Duration {
	if sc, ok := c.Sources[source]; ok && sc.TTL > 0 {
		return sc.TTL
	}
	return c.Cache.TTL
}
