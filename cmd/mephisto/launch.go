package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d-lab/serverless-mephisto/config"
	"github.com/d-lab/serverless-mephisto/handler"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

func newLaunchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Replace the running task with a fresh one",
		Long:  "launch stops every running task in the cluster and starts one new task from the configured task definition.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := telemetry.NewLogger(handler.NameLaunch, v.GetString("LOG_LEVEL"), true)
			shutdown := initTracer(handler.NameLaunch, logger)
			defer shutdown(context.Background())

			cfg, err := config.LoadLauncher(v)
			if err != nil {
				return err
			}
			h, err := buildLaunch(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			res, err := h.Launcher.Launch(ctx, h.Request)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	flags := cmd.Flags()
	flags.String("task-definition", "", "task definition family or ARN (env TASK_DEFINITION)")
	flags.String("subnets", "", "JSON list or comma-separated subnet IDs (env SUBNETS)")
	flags.String("security-group", "", "security group ID (env SECURITY_GROUP)")
	flags.String("container-name", "", "workload container name (env CONTAINER_NAME)")
	flags.String("app-name", "", "application name used for tags (env APP_NAME)")
	bindFlags(v, cmd, map[string]string{
		"TASK_DEFINITION": "task-definition",
		"SUBNETS":         "subnets",
		"SECURITY_GROUP":  "security-group",
		"CONTAINER_NAME":  "container-name",
		"APP_NAME":        "app-name",
	})
	return cmd
}

// initTracer installs the tracer provider, returning a no-op shutdown when
// tracing cannot be set up.
func initTracer(name string, logger zerolog.Logger) func(context.Context) error {
	shutdown, err := telemetry.InitTracer("serverless-mephisto-"+name, Version)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
		return func(context.Context) error { return nil }
	}
	return shutdown
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
