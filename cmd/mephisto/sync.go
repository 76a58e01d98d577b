package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d-lab/serverless-mephisto/config"
	"github.com/d-lab/serverless-mephisto/handler"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

func newSyncCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy the shared folder to S3 once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := telemetry.NewLogger(handler.NameSync, v.GetString("LOG_LEVEL"), true)
			shutdown := initTracer(handler.NameSync, logger)
			defer shutdown(context.Background())

			cfg, err := config.LoadSync(v)
			if err != nil {
				return err
			}
			h, err := buildSync(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			report, err := h.Synchronizer.Run(ctx)
			if report != nil {
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	flags := cmd.Flags()
	flags.String("bucket", "", "destination bucket (env BUCKET_NAME)")
	flags.String("prefix", "", "destination key prefix (env S3_PATH)")
	flags.String("root", "", "local folder to copy (env EFS_MOUNTED_FOLDER)")
	flags.Int("max-attempts", config.DefaultMaxAttempts, "upload attempts per file (env SYNC_MAX_ATTEMPTS)")
	bindFlags(v, cmd, map[string]string{
		"BUCKET_NAME":        "bucket",
		"S3_PATH":            "prefix",
		"EFS_MOUNTED_FOLDER": "root",
		"SYNC_MAX_ATTEMPTS":  "max-attempts",
	})
	return cmd
}
