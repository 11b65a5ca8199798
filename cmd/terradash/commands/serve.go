package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/terradash/terradash/pkg/config"
	"github.com/terradash/terradash/pkg/server"
	"github.com/terradash/terradash/pkg/telemetry"
)

func newServeCommand(version string) *cobra.Command {
	var (
		addr    string
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard JSON API",
		Long: `Serve the JSON HTTP API used by dashboard frontends.

Endpoints:
  POST   /api/v1/validate    validate a descriptor document
  POST   /api/v1/plan/fetch  run the retrieval pipeline
  GET    /api/v1/plan        read the fetched plan JSON
  GET    /api/v1/session     session lifecycle state
  DELETE /api/v1/session     clear session data
  GET    /healthz            liveness probe
  GET    /metrics            Prometheus metrics

The descriptor file is watched for changes and reloaded while serving,
unless --no-watch is given.`,
		Example: `  # Serve on the default address
  terradash serve

  # Serve on a specific address without hot reload
  terradash serve --addr :9090 --no-watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := loadDescriptor()
			if err != nil {
				return err
			}

			tel, err := telemetry.NewTelemetry(telemetryConfig(version))
			if err != nil {
				return err
			}
			defer func() {
				if err := tel.Shutdown(context.Background()); err != nil {
					log.Warn().Err(err).Msg("telemetry shutdown incomplete")
				}
			}()

			srv := server.New(server.Options{
				Descriptor: desc,
				Version:    version,
				Telemetry:  tel,
			})

			ctx := cmd.Context()

			if !noWatch {
				go func() {
					err := config.Watch(ctx, configPath, func(next *config.Descriptor, result *config.Result) {
						if next == nil || result == nil || !result.Valid {
							errs := 0
							if result != nil {
								errs = len(result.Errors)
							}
							log.Error().
								Int("errors", errs).
								Msg("Reloaded descriptor is invalid; keeping previous configuration")
							_ = tel.Events.PublishConfigReloaded(configPath, false)
							return
						}
						next.ApplyEnv()
						srv.SetDescriptor(next)
						log.Info().Str("path", configPath).Msg("Configuration reloaded")
						_ = tel.Events.PublishConfigReloaded(configPath, true)
					})
					if err != nil && ctx.Err() == nil {
						log.Error().Err(err).Msg("Config watcher stopped")
					}
				}()
			}

			return srv.Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable descriptor hot reload")

	return cmd
}

// telemetryConfig derives the serve-mode telemetry setup from global flags.
func telemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	return cfg
}
