package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailagent/internal/httpapi"
	"mailagent/internal/renewal"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (webhook, ingest, renew-watch)",
		Long:  "Serves the push endpoints and, when enabled, the watch renewal scheduler. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Renewal.Enabled {
		sched, err := renewal.NewScheduler(renewal.SchedulerConfig{
			Renewer:  a.renewer,
			Schedule: cfg.Renewal.Schedule,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	srvCfg := httpapi.ServerConfig{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		ReadTimeout:   time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		Notifications: a.pipeline,
		Ingester:      a.ingest,
		Renewer:       a.renewer,
		Logger:        logger,
	}
	if cfg.Metrics.Enabled {
		srvCfg.Metrics = a.metrics
		srvCfg.MetricsPath = cfg.Metrics.Endpoint
	}

	logger.Info("mailagent started", "version", version, "mailbox", cfg.Mailbox.Address)
	if err := httpapi.NewServer(srvCfg).Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func renewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renew-watch",
		Short: "Renew the mailbox watch once and store the returned cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			r, closeState, err := newRenewer(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeState()

			res, err := r.Renew(ctx)
			if err != nil {
				return fmt.Errorf("renew watch: %w", err)
			}
			fmt.Printf("historyId:  %s\n", res.Cursor)
			if !res.Expiration.IsZero() {
				fmt.Printf("expiration: %s\n", res.Expiration.Format(time.RFC3339))
			}
			return nil
		},
	}
}
