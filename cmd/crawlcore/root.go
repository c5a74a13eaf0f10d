// Package main hosts the crawlcore CLI entrypoint.
//
// Architecture overview:
//   - Config: internal/config loads run parameters and provider
//     selections from file/env via viper.
//   - Dependency container: internal/app builds the concrete store,
//     committer, plugin, spoiled-reference policy, and event hub that
//     selection resolves to, failing fast on misconfiguration.
//   - Engine: internal/engine.Engine drives the worker pool, the orphan
//     resolver, and the committer flush for one run.
//   - Monitoring: internal/monitoring optionally exposes health checks
//     and Prometheus metrics over HTTP while the run is in progress.
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/app"
	"github.com/crawlcore/crawlcore/internal/config"
	"github.com/crawlcore/crawlcore/internal/logging"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlcore",
		Short: "A protocol-agnostic crawl engine",
		Long: `crawlcore drives a reference-driven crawl to completion: it queues
references, processes them through a worker pool, reconciles orphans left
over from a prior run, and commits fetched documents to a configured
destination.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logging.SetDefault(logger)

			appInstance, err := app.NewApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml/json/toml, resolved by viper)")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the CLI entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("command execution failed", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}
