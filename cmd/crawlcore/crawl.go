package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/engine"
	"github.com/crawlcore/crawlcore/internal/monitoring"
	"github.com/crawlcore/crawlcore/internal/orphan"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl to completion",
		Long: `Runs the configured crawl from its queued references through to
completion, reconciling any orphaned references left over from a
previous run before exiting.`,
		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	cfg := appInstance.Config()

	eng := engine.New(engine.Config{
		ID:               cfg.ID,
		WorkDir:          cfg.WorkDir,
		NumThreads:       cfg.NumThreads,
		MaxDocuments:     cfg.MaxDocuments,
		OrphansStrategy:  orphan.Strategy(cfg.OrphansStrategy),
		StopOnExceptions: cfg.StopOnExceptions,
		Resume:           cfg.Resume,
	}, engine.Deps{
		Store:       appInstance.Store(),
		Plugin:      appInstance.Plugin(),
		SpoilPolicy: appInstance.SpoilPolicy(),
		Committer:   appInstance.Committer(),
		EventHub:    appInstance.EventHub(),
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.Enabled {
		srv := monitoring.NewServer(eng, logger)
		go func() {
			if err := monitoring.ListenAndServe(ctx, cfg.Monitoring.Addr, srv); err != nil {
				logger.Warn("monitoring server stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		<-ctx.Done()
		eng.Stop()
	}()

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}

	logger.Info("crawl finished", zap.Int64("processed", eng.ProcessedCount()))
	return nil
}
