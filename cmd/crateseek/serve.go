package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crateseek/crateseek/internal/api"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/mcp"
	"github.com/crateseek/crateseek/internal/storage"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP search API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			opts := []api.Option{
				api.WithLogger(logger.Component(a.logger, "api")),
				api.WithMetrics(a.metrics),
			}
			if a.cfg.Server.Metrics {
				opts = append(opts, api.WithGatherer(a.registry))
			}

			srv, err := api.New(a.searcher, api.Config{
				Addr:            a.cfg.Server.Addr,
				AllowedOrigins:  a.cfg.Server.AllowedOrigins,
				ReadTimeout:     a.cfg.Server.ReadTimeout,
				WriteTimeout:    a.cfg.Server.WriteTimeout,
				ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
			}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.LogServerStart(a.logger, a.cfg.Server.Addr, a.cfg.Database.Path)
			err = srv.ListenAndServe(ctx)
			logger.LogServerShutdown(a.logger)
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools on stdio",
		Long:  "Serve search_reviews, ingest_reviews and get_status over the Model Context Protocol. Logs go to stderr.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			srv, err := mcp.NewServer(version, a.searcher, a.indexer, a.store, logger.Component(a.logger, "mcp"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.logger.Info().
				Str("version", version).
				Str("build_mode", storage.BuildMode).
				Bool("vector_extension", storage.VectorExtensionAvailable).
				Str("database", a.cfg.Database.Path).
				Msg("mcp server ready")
			return srv.Serve(ctx)
		},
	}
}
