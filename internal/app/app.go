// Package app initializes and holds the long-lived services a crawl run
// needs, acting as a dependency injection container for cmd/crawlcore.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/committer"
	committerblob "github.com/crawlcore/crawlcore/internal/committer/blob"
	"github.com/crawlcore/crawlcore/internal/config"
	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/crawlstore/memory"
	"github.com/crawlcore/crawlcore/internal/crawlstore/postgres"
	"github.com/crawlcore/crawlcore/internal/events"
	"github.com/crawlcore/crawlcore/internal/events/sinks"
	"github.com/crawlcore/crawlcore/internal/logging"
	"github.com/crawlcore/crawlcore/internal/plugin"
	"github.com/crawlcore/crawlcore/internal/plugin/httpcrawl"
	"github.com/crawlcore/crawlcore/internal/spoil"
	storagegcs "github.com/crawlcore/crawlcore/internal/storage/gcs"
	storagelocal "github.com/crawlcore/crawlcore/internal/storage/local"
	storagememory "github.com/crawlcore/crawlcore/internal/storage/memory"
)

// App holds the shared services a crawl run drives: the logger, the
// record store, the plugin specialization, the spoiled-reference policy,
// the committer, and the event hub. It is built once per run from Config
// and handed to the engine as engine.Deps.
type App struct {
	logger      *zap.Logger
	cfg         config.Config
	store       crawlstore.Store
	plug        plugin.Plugin
	spoilPolicy spoil.Policy
	dest        committer.Committer
	eventHub    *events.Hub

	closers []func() error
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Store returns the crawl record store.
func (a *App) Store() crawlstore.Store { return a.store }

// Plugin returns the wired specialization.
func (a *App) Plugin() plugin.Plugin { return a.plug }

// SpoilPolicy returns the configured spoiled-reference policy, nil if none.
func (a *App) SpoilPolicy() spoil.Policy { return a.spoilPolicy }

// Committer returns the configured downstream committer.
func (a *App) Committer() committer.Committer { return a.dest }

// EventHub returns the event hub lifecycle and document events are
// published to.
func (a *App) EventHub() *events.Hub { return a.eventHub }

// NewApp builds an App from cfg. It reads provider selections from
// viper-backed cfg sections and instantiates the concrete store,
// committer, and plugin accordingly, failing fast if any cannot be
// initialized.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	l := logging.L
	l.Info("initializing application services", zap.String("crawler_id", cfg.ID))

	a := &App{logger: l, cfg: cfg}

	store, storeCloser, err := buildStore(ctx, cfg.Store, cfg.ID, l)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.store = store
	if storeCloser != nil {
		a.closers = append(a.closers, storeCloser)
	}

	dest, destCloser, err := buildCommitter(ctx, cfg.Committer, l)
	if err != nil {
		return nil, fmt.Errorf("init committer: %w", err)
	}
	a.dest = dest
	if destCloser != nil {
		a.closers = append(a.closers, destCloser)
	}

	plug, err := buildPlugin(cfg.HTTPCrawl, dest, l)
	if err != nil {
		return nil, fmt.Errorf("init plugin: %w", err)
	}
	a.plug = plug
	if closer, ok := plug.(interface{ Close() }); ok {
		a.closers = append(a.closers, func() error { closer.Close(); return nil })
	}

	policy, err := buildSpoilPolicy(cfg.SpoilRules)
	if err != nil {
		return nil, fmt.Errorf("init spoil policy: %w", err)
	}
	a.spoilPolicy = policy

	hub, hubCloser, err := buildEventHub(ctx, cfg.Progress, cfg.ID, l)
	if err != nil {
		return nil, fmt.Errorf("init event hub: %w", err)
	}
	a.eventHub = hub
	if hubCloser != nil {
		a.closers = append(a.closers, hubCloser)
	}

	l.Info("application services initialized successfully")
	return a, nil
}

func buildStore(ctx context.Context, cfg config.StoreConfig, crawlerID string, l *zap.Logger) (crawlstore.Store, func() error, error) {
	switch cfg.Provider {
	case "", "memory":
		l.Info("using in-memory crawl store")
		return memory.New(), nil, nil
	case "postgres":
		l.Info("connecting to PostgreSQL crawl store")
		store, err := postgres.New(ctx, postgres.Config{
			DSN:       cfg.Postgres.DSN,
			CrawlerID: crawlerID,
			MaxConns:  int32(cfg.Postgres.MaxOpenConns),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres store: %w", err)
		}
		return store, func() error { return store.Close(ctx) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store provider: %s", cfg.Provider)
	}
}

func buildCommitter(ctx context.Context, cfg config.CommitterConfig, l *zap.Logger) (committer.Committer, func() error, error) {
	switch cfg.Provider {
	case "", "noop":
		l.Info("using no-op committer; fetched content will be discarded")
		return committer.Noop{}, nil, nil
	case "memory":
		l.Info("using in-memory committer; committed content does not survive process exit")
		return committerblob.New(storagememory.NewBlobStore(), l, ""), nil, nil
	case "local":
		l.Info("using local filesystem committer", zap.String("dir", cfg.Local.Dir))
		store, err := storagelocal.New(storagelocal.Config{BaseDir: cfg.Local.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local blob store: %w", err)
		}
		return committerblob.New(store, l, ""), nil, nil
	case "gcs":
		l.Info("using GCS committer", zap.String("bucket", cfg.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create GCS client: %w", err)
		}
		store, err := storagegcs.New(client, storagegcs.Config{Bucket: cfg.GCS.Bucket})
		if err != nil {
			closeErr := client.Close()
			l.Warn("closing GCS client after init failure", zap.Error(closeErr))
			return nil, nil, fmt.Errorf("init GCS blob store: %w", err)
		}
		return committerblob.New(store, l, cfg.GCS.Prefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown committer provider: %s", cfg.Provider)
	}
}

func buildPlugin(cfg config.HTTPCrawlConfig, dest committer.Committer, l *zap.Logger) (plugin.Plugin, error) {
	plug, err := httpcrawl.New(httpcrawl.Config{
		AllowedDomains:  cfg.AllowedDomains,
		UserAgent:       cfg.UserAgent,
		RespectRobots:   cfg.RespectRobots,
		MaxDepth:        cfg.MaxDepth,
		Timeout:         cfg.Timeout,
		HeadlessEnabled: cfg.HeadlessEnabled,
		Headless: httpcrawl.HeadlessConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Headless.UserAgent,
			NavigationTimeout: cfg.Headless.NavigationTimeout,
		},
		RateLimit: httpcrawl.RateLimiterConfig{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		},
		DetectorMinHTML: cfg.DetectorMinHTML,
	}, dest, l)
	if err != nil {
		return nil, fmt.Errorf("build httpcrawl plugin: %w", err)
	}
	return plug, nil
}

func buildSpoilPolicy(rules []config.SpoilRuleConfig) (spoil.Policy, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	specs := make([]spoil.Rule, len(rules))
	for i, r := range rules {
		specs[i] = spoil.Rule{
			Pattern:     r.Pattern,
			CaseSens:    r.CaseSens,
			Disposition: spoil.Disposition(r.Disposition),
		}
	}
	policy, err := spoil.NewRegexPolicy(specs)
	if err != nil {
		return nil, fmt.Errorf("compile spoil rules: %w", err)
	}
	return policy, nil
}

func buildEventHub(ctx context.Context, cfg config.ProgressConfig, crawlerID string, l *zap.Logger) (*events.Hub, func() error, error) {
	var hubSinks []events.Sink
	if cfg.LogEnabled {
		hubSinks = append(hubSinks, sinks.NewLog(l))
	}
	if cfg.PrometheusEnabled {
		hubSinks = append(hubSinks, sinks.NewPrometheus(prometheus.DefaultRegisterer))
	}
	var pubsubClient *pubsub.Client
	if cfg.PubSub.Enabled {
		if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicID == "" {
			return nil, nil, fmt.Errorf("progress.pubsub is enabled but project_id or topic_id is not set")
		}
		l.Info("republishing events to Pub/Sub", zap.String("topic", cfg.PubSub.TopicID))
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pubsubClient = client
		hubSinks = append(hubSinks, sinks.NewPubSub(client.Topic(cfg.PubSub.TopicID)))
	}

	hub := events.NewHub(events.Config{
		BaseContext: ctx,
		Logger:      l,
		SinkTimeout: 10 * time.Second,
	}, hubSinks...)

	closer := func() error {
		closeErr := hub.Close(ctx)
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				return err
			}
		}
		return closeErr
	}
	return hub, closer, nil
}

// Close releases every resource NewApp opened, logging but not failing on
// individual close errors so shutdown always completes.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("error syncing logger on shutdown", zap.Error(err))
	}
}
