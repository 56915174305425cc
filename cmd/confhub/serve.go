package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confhub/internal/config"
	"github.com/alfredjeanlab/confhub/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the configuration server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an HTTP client.
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger, logCloser, err := logging.New(os.Stderr, logging.Options{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
			File:   cfg.LogFile,
		})
		if err != nil {
			return err
		}
		defer logCloser.Close()
		slog.SetDefault(logger)

		natsDir := ""
		if embedded, _ := cmd.Flags().GetBool("embedded-nats"); embedded {
			natsDir, _ = cmd.Flags().GetString("embedded-nats-dir")
			if natsDir == "" {
				if natsDir, err = os.MkdirTemp("", "confhub-nats-"); err != nil {
					return err
				}
				defer os.RemoveAll(natsDir)
			}
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, natsDir, logger)
		if err != nil {
			return err
		}
		a.start()

		<-ctx.Done()
		logger.Info("shutting down")
		if err := a.shutdown(); err != nil {
			logger.Error("shutdown", "error", err)
			return err
		}
		logger.Info("stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("embedded-nats", false, "run an in-process NATS server with JetStream for events and the cache")
	serveCmd.Flags().String("embedded-nats-dir", "", "JetStream storage directory for --embedded-nats (default: temporary)")
}
