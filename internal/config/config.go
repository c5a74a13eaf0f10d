// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the engine's run parameters plus the sections a
// deployment needs to wire a store, committer, event sinks, and the
// monitoring endpoint.
type Config struct {
	ID               string   `mapstructure:"id"`
	WorkDir          string   `mapstructure:"work_dir"`
	NumThreads       int      `mapstructure:"num_threads"`
	MaxDocuments     int      `mapstructure:"max_documents"`
	OrphansStrategy  string   `mapstructure:"orphans_strategy"`
	StopOnExceptions []string `mapstructure:"stop_on_exceptions"`
	Resume           bool     `mapstructure:"resume"`

	Store      StoreConfig       `mapstructure:"store"`
	Committer  CommitterConfig   `mapstructure:"committer"`
	Progress   ProgressConfig    `mapstructure:"progress"`
	Monitoring MonitoringConfig  `mapstructure:"monitoring"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	HTTPCrawl  HTTPCrawlConfig   `mapstructure:"http_crawl"`
	SpoilRules []SpoilRuleConfig `mapstructure:"spoil_rules"`
}

// HTTPCrawlConfig configures the httpcrawl plugin: fetch limits,
// politeness, and when to promote a reference to headless rendering.
type HTTPCrawlConfig struct {
	AllowedDomains  []string        `mapstructure:"allowed_domains"`
	UserAgent       string          `mapstructure:"user_agent"`
	RespectRobots   bool            `mapstructure:"respect_robots"`
	MaxDepth        int             `mapstructure:"max_depth"`
	Timeout         time.Duration   `mapstructure:"timeout"`
	HeadlessEnabled bool            `mapstructure:"headless_enabled"`
	Headless        HeadlessConfig  `mapstructure:"headless"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	DetectorMinHTML int             `mapstructure:"detector_min_html"`
}

// HeadlessConfig mirrors httpcrawl.HeadlessConfig for unmarshaling.
type HeadlessConfig struct {
	MaxParallel       int           `mapstructure:"max_parallel"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// RateLimitConfig mirrors httpcrawl.RateLimiterConfig for unmarshaling.
type RateLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// SpoilRuleConfig mirrors spoil.Rule for unmarshaling.
type SpoilRuleConfig struct {
	Pattern     string `mapstructure:"pattern"`
	CaseSens    bool   `mapstructure:"case_sensitive"`
	Disposition string `mapstructure:"disposition"`
}

// StoreConfig selects and configures the crawl record store backend.
type StoreConfig struct {
	Provider string              `mapstructure:"provider"` // "memory" or "postgres"
	Postgres PostgresStoreConfig `mapstructure:"postgres"`
}

// PostgresStoreConfig configures the durable pgx-backed store.
type PostgresStoreConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// CommitterConfig selects and configures the downstream sink.
type CommitterConfig struct {
	Provider string          `mapstructure:"provider"` // "noop", "memory", "local", or "gcs"
	Local    LocalBlobConfig `mapstructure:"local"`
	GCS      GCSBlobConfig   `mapstructure:"gcs"`
}

// LocalBlobConfig configures the filesystem-backed committer.
type LocalBlobConfig struct {
	Dir string `mapstructure:"dir"`
}

// GCSBlobConfig configures the GCS-backed committer.
type GCSBlobConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// ProgressConfig controls which event sinks the engine registers.
type ProgressConfig struct {
	LogEnabled        bool             `mapstructure:"log_enabled"`
	PrometheusEnabled bool             `mapstructure:"prometheus_enabled"`
	PubSub            PubSubSinkConfig `mapstructure:"pubsub"`
}

// PubSubSinkConfig configures optional event republishing to Pub/Sub.
type PubSubSinkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// MonitoringConfig controls the optional chi-mounted HTTP endpoint that
// exposes health checks and Prometheus metrics for the run.
type MonitoringConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("num_threads", 1)
	v.SetDefault("max_documents", -1)
	v.SetDefault("orphans_strategy", "IGNORE")
	v.SetDefault("store.provider", "memory")
	v.SetDefault("committer.provider", "noop")
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.addr", ":9090")
	v.SetDefault("logging.development", true)
	v.SetDefault("http_crawl.user_agent", "crawlcore/1.0")
	v.SetDefault("http_crawl.timeout", "15s")
	v.SetDefault("http_crawl.rate_limit.default_rps", 1.0)
	v.SetDefault("http_crawl.rate_limit.default_burst", 1)
	v.SetDefault("http_crawl.detector_min_html", 2048)
}

// Validate enforces the fields the engine cannot safely default.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("id must be non-blank")
	}
	if c.NumThreads < 1 {
		return fmt.Errorf("num_threads must be >= 1")
	}
	switch strings.ToUpper(c.OrphansStrategy) {
	case "", "IGNORE", "PROCESS", "DELETE":
	default:
		return fmt.Errorf("orphans_strategy must be one of IGNORE, PROCESS, DELETE")
	}
	switch c.Store.Provider {
	case "memory", "postgres":
	default:
		return fmt.Errorf("store.provider must be one of memory, postgres")
	}
	if c.Store.Provider == "postgres" && c.Store.Postgres.DSN == "" {
		return fmt.Errorf("store.provider is postgres but store.postgres.dsn is not set")
	}
	switch c.Committer.Provider {
	case "noop", "memory", "local", "gcs":
	default:
		return fmt.Errorf("committer.provider must be one of noop, memory, local, gcs")
	}
	if c.Committer.Provider == "gcs" && c.Committer.GCS.Bucket == "" {
		return fmt.Errorf("committer.provider is gcs but committer.gcs.bucket is not set")
	}
	return nil
}
