// Package cloud builds the AWS SDK clients used by the handlers.
package cloud

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Clients holds the SDK clients for every service the controller touches.
type Clients struct {
	ECS     *ecs.Client
	EC2     *ec2.Client
	Route53 *route53.Client
	S3      *s3.Client
}

// NewClients resolves the AWS configuration and builds all clients. A
// non-empty endpointURL points every client at a simulator with static test
// credentials and path-style S3 addressing.
func NewClients(ctx context.Context, region, endpointURL string) (*Clients, error) {
	cfg, err := LoadConfig(ctx, region, endpointURL)
	if err != nil {
		return nil, err
	}
	var base *string
	if endpointURL != "" {
		base = aws.String(endpointURL)
	}
	return &Clients{
		ECS:     ecs.NewFromConfig(cfg, func(o *ecs.Options) { o.BaseEndpoint = base }),
		EC2:     ec2.NewFromConfig(cfg, func(o *ec2.Options) { o.BaseEndpoint = base }),
		Route53: route53.NewFromConfig(cfg, func(o *route53.Options) { o.BaseEndpoint = base }),
		S3: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = base
			o.UsePathStyle = base != nil
		}),
	}, nil
}

// LoadConfig resolves the shared AWS configuration with the adaptive retryer;
// Route 53 throttles change requests per account.
func LoadConfig(ctx context.Context, region, endpointURL string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMode(aws.RetryModeAdaptive),
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if endpointURL != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
