package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/d-lab/serverless-mephisto/api"
	"github.com/d-lab/serverless-mephisto/cloud"
	"github.com/d-lab/serverless-mephisto/config"
	"github.com/d-lab/serverless-mephisto/datasync"
	"github.com/d-lab/serverless-mephisto/dnsbind"
	"github.com/d-lab/serverless-mephisto/handler"
	"github.com/d-lab/serverless-mephisto/launcher"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

func buildLaunch(ctx context.Context, cfg config.Launcher, logger zerolog.Logger, metrics *telemetry.Metrics) (*handler.Launch, error) {
	clients, err := cloud.NewClients(ctx, cfg.Region, cfg.EndpointURL)
	if err != nil {
		return nil, err
	}
	return &handler.Launch{
		Launcher: launcher.New(clients.ECS, cfg.AppName, logger, metrics),
		Request: api.LaunchRequest{
			Cluster:        cfg.Cluster,
			TaskDefinition: cfg.TaskDefinition,
			Subnets:        cfg.Subnets,
			SecurityGroup:  cfg.SecurityGroup,
			ContainerName:  cfg.ContainerName,
		},
		Logger:  logger,
		Metrics: metrics,
	}, nil
}

func buildDNS(ctx context.Context, cfg config.DNS, logger zerolog.Logger, metrics *telemetry.Metrics) (*handler.DNS, error) {
	clients, err := cloud.NewClients(ctx, cfg.Region, cfg.EndpointURL)
	if err != nil {
		return nil, err
	}
	binder := dnsbind.New(dnsbind.Config{
		Cluster:      cfg.Cluster,
		HostedZoneID: cfg.HostedZoneID,
		RecordName:   cfg.RecordName(),
	}, clients.EC2, clients.Route53, logger, metrics)
	return &handler.DNS{Binder: binder, Logger: logger, Metrics: metrics}, nil
}

func buildSync(ctx context.Context, cfg config.Sync, logger zerolog.Logger, metrics *telemetry.Metrics) (*handler.Sync, error) {
	clients, err := cloud.NewClients(ctx, cfg.Region, cfg.EndpointURL)
	if err != nil {
		return nil, err
	}
	sync := datasync.New(datasync.Config{
		Cluster:     cfg.Cluster,
		Root:        cfg.MountPath,
		Bucket:      cfg.Bucket,
		Prefix:      cfg.Prefix,
		MaxAttempts: cfg.MaxAttempts,
	}, afero.NewOsFs(), clients.S3, logger, metrics)
	return &handler.Sync{Synchronizer: sync, Logger: logger, Metrics: metrics}, nil
}
