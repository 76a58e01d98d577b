package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d-lab/serverless-mephisto/config"
	"github.com/d-lab/serverless-mephisto/handler"
	"github.com/d-lab/serverless-mephisto/server"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve every configured handler over HTTP",
		Long:  "serve exposes the launcher, DNS binder and data synchronizer on one HTTP listener. Handlers whose configuration is incomplete answer 503.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := telemetry.NewLogger("server", v.GetString("LOG_LEVEL"), true)
			shutdown := initTracer("server", logger)
			defer shutdown(ctx)
			metrics := telemetry.NewMetrics()
			componentLogger := func(name string) zerolog.Logger {
				return telemetry.NewLogger(name, v.GetString("LOG_LEVEL"), true)
			}

			var (
				launch *handler.Launch
				dns    *handler.DNS
				sync   *handler.Sync
			)
			if cfg, err := config.LoadLauncher(v); err != nil {
				logger.Warn().Err(err).Msg("launch handler disabled")
			} else if launch, err = buildLaunch(ctx, cfg, componentLogger(handler.NameLaunch), metrics); err != nil {
				return err
			}
			if cfg, err := config.LoadDNS(v); err != nil {
				logger.Warn().Err(err).Msg("dns handler disabled")
			} else if dns, err = buildDNS(ctx, cfg, componentLogger(handler.NameDNS), metrics); err != nil {
				return err
			}
			if cfg, err := config.LoadSync(v); err != nil {
				logger.Warn().Err(err).Msg("sync handler disabled")
			} else if sync, err = buildSync(ctx, cfg, componentLogger(handler.NameSync), metrics); err != nil {
				return err
			}

			return server.New(launch, dns, sync, metrics, logger).ListenAndServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
