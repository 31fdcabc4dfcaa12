package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/zen-systems/modelgate/pkg/config"
	"github.com/zen-systems/modelgate/pkg/logging"
	"github.com/zen-systems/modelgate/pkg/server"
	"github.com/zen-systems/modelgate/pkg/service"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: logging.Format(cfg.Log.Format)})
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			rt, err := service.Build(cfg, logger, reg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if cfg.License.Secret == "" {
				logger.Warn().Msg("license.secret is not set; only anonymous free-tier requests will be accepted")
			}
			providers := cfg.ConfiguredProviders()
			if len(providers) == 0 {
				logger.Warn().Msg("no provider credentials configured; every call will fail with an auth error")
			}

			srv := server.New(server.Config{
				Addr:          cfg.Server.Addr,
				ReadTimeout:   cfg.Server.ReadTimeout,
				WriteTimeout:  cfg.Server.WriteTimeout,
				LicenseSecret: cfg.License.Secret,
			}, rt.Service, reg, logging.Component(logger, "server"))

			ctx, cancel := signalContext()
			defer cancel()

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			logger.Info().Msg("shutting down")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancelShutdown()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return <-errc
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
