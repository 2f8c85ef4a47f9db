package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"boardcache/internal/config"
	"boardcache/internal/credentials"
	"boardcache/internal/metrics"
	"boardcache/internal/refresh"
	"boardcache/internal/server"
	"boardcache/internal/shutdown"
	"boardcache/internal/snapshot"
	"boardcache/internal/upstream/notion"
	"boardcache/internal/utils"
)

func newServeCmd(cliCfg *Config) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache server",
		Long:  "Start the HTTP server, the snapshot store, and the periodic refresh loops.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cliCfg.ConfigPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := utils.GetLogger()

	info, err := credentials.NewManager().Get(context.Background())
	if err != nil {
		return err
	}
	if !info.Found {
		return utils.ErrCredentialsNotFound()
	}
	logger.Debug("using upstream token from %s", info.Source)

	collector := metrics.NewCollector()

	fetcher, err := notion.New(notion.Config{
		Token:        info.Token,
		BaseURL:      cfg.Upstream.BaseURL,
		APIVersion:   cfg.Upstream.APIVersion,
		Databases:    cfg.DatabaseIDs(),
		MaxRetries:   cfg.Upstream.MaxRetries,
		RetryDelay:   cfg.RetryDelay(),
		EnableJitter: true,
		OnRetry: func(status int, delay time.Duration) {
			collector.RecordRetry(status)
			logger.Debug("upstream answered %d, retrying in %v", status, delay)
		},
	})
	if err != nil {
		return err
	}

	store, err := snapshot.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	collector.ObserveStore(store)

	coordinator := refresh.NewCoordinator(store, fetcher, refresh.WithMetrics(collector))
	scheduler := refresh.NewScheduler(coordinator, refresh.SchedulerConfig{
		Interval:       cfg.RefreshInterval(),
		Overrides:      cfg.RefreshOverrides(),
		RefreshOnStart: cfg.Refresh.OnStart,
	})
	srv := server.New(store, coordinator, cfg.Staleness(), server.WithMetricsHandler(collector))

	mgr := shutdown.NewManager()
	mgr.HandleSignals()
	mgr.RegisterCleanup("store", func(ctx context.Context) error {
		return store.Close()
	})
	mgr.RegisterCleanup("scheduler", func(ctx context.Context) error {
		scheduler.Stop()
		return nil
	})
	mgr.RegisterCleanup("server", srv.Shutdown)

	scheduler.Start(mgr.Context())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(cfg.Server.ListenAddr)
	}()

	var runErr error
	select {
	case runErr = <-serveErr:
		mgr.Shutdown()
	case <-mgr.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := mgr.Wait(ctx); err != nil {
		logger.Warn("shutdown incomplete: %v", err)
	}
	return runErr
}
