package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mediapipe/internal/events"
	"mediapipe/internal/server"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when Kafka is configured, the reprocess consumer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(runCtx, cfg.Config, cfg.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			deps := server.Deps{
				Processor:   a.processor,
				Catalog:     a.catalog,
				Breakpoints: a.resolver,
				Logger:      cfg.logger,
			}
			if a.producer != nil {
				deps.Events = a.producer
			}
			srv, err := server.NewServer(cfg.Config, deps)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(runCtx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				cfg.logger.Info("shutting down")
				return srv.Stop(shutdownCtx)
			})
			if cfg.Kafka.Enabled() {
				consumer := events.NewConsumer(cfg.Kafka, a.processor, cfg.logger)
				g.Go(func() error { return consumer.Run(gctx) })
			}

			err = g.Wait()
			if err != nil {
				cfg.logger.Error("server stopped", slog.Any("error", err))
			}
			return err
		},
	}
}
