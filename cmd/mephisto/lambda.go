package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d-lab/serverless-mephisto/config"
	"github.com/d-lab/serverless-mephisto/handler"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

func newLambdaCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "lambda {launch|dns|sync}",
		Short:     "Serve one handler inside the AWS Lambda runtime",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{handler.NameLaunch, handler.NameDNS, handler.NameSync},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLambda(cmd.Context(), v, args[0])
		},
	}
	return cmd
}

func runLambda(ctx context.Context, v *viper.Viper, name string) error {
	logger := telemetry.NewLogger(name, v.GetString("LOG_LEVEL"), false)
	shutdown := initTracer(name, logger)
	defer shutdown(context.Background())
	metrics := telemetry.NewMetrics()

	// A configuration error fails every invocation, not the cold start.
	switch name {
	case handler.NameLaunch:
		cfg, err := config.LoadLauncher(v)
		if err == nil {
			var h *handler.Launch
			if h, err = buildLaunch(ctx, cfg, logger, metrics); err == nil {
				lambda.Start(h.Handle)
				return nil
			}
		}
		lambda.Start(handler.Failing(err, logger))
	case handler.NameDNS:
		cfg, err := config.LoadDNS(v)
		if err == nil {
			var h *handler.DNS
			if h, err = buildDNS(ctx, cfg, logger, metrics); err == nil {
				lambda.Start(h.Handle)
				return nil
			}
		}
		lambda.Start(handler.Failing(err, logger))
	case handler.NameSync:
		cfg, err := config.LoadSync(v)
		if err == nil {
			var h *handler.Sync
			if h, err = buildSync(ctx, cfg, logger, metrics); err == nil {
				lambda.Start(h.Handle)
				return nil
			}
		}
		lambda.Start(handler.Failing(err, logger))
	default:
		return fmt.Errorf("unknown handler %q", name)
	}
	return nil
}
