package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d-lab/serverless-mephisto/config"
)

// Version is set at build time.
var Version = "0.1.0"

func newRootCmd() *cobra.Command {
	v := config.New()
	root := &cobra.Command{
		Use:           "mephisto",
		Short:         "Run the single-task lifecycle controller",
		Long:          "mephisto launches the workload's single Fargate task, keeps its DNS record current and copies its shared folder to S3 on teardown.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.String("region", "", "AWS region (env AWS_REGION)")
	flags.String("endpoint-url", "", "custom AWS endpoint for simulator mode (env ENDPOINT_URL)")
	flags.String("log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	flags.String("cluster", "", "ECS cluster name (env CLUSTER_NAME)")
	bindFlags(v, root, map[string]string{
		"AWS_REGION":   "region",
		"ENDPOINT_URL": "endpoint-url",
		"LOG_LEVEL":    "log-level",
		"CLUSTER_NAME": "cluster",
	})

	root.AddCommand(
		newLambdaCmd(v),
		newLaunchCmd(v),
		newSyncCmd(v),
		newServeCmd(v),
	)
	return root
}

// bindFlags lets explicitly set flags override the environment. Flags that are
// not set fall through to the env value or default.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		f := cmd.PersistentFlags().Lookup(name)
		if f == nil {
			f = cmd.Flags().Lookup(name)
		}
		if f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}
