// Package dnsbind keeps the workload's A record pointed at the public IP of
// the task that is currently running.
//
// Every notification is reconciled on its own: the public address is looked up
// again from the task's network interface and the record is either upserted or
// deleted. Nothing is remembered between invocations, so duplicate or
// reordered notifications converge on the same record.
package dnsbind

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/d-lab/serverless-mephisto/api"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

// RecordTTL is kept short so a replacement task is picked up quickly.
const RecordTTL int64 = 180

// EC2API is the subset of the EC2 client used to resolve public addresses.
type EC2API interface {
	DescribeNetworkInterfaces(ctx context.Context, params *ec2.DescribeNetworkInterfacesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
}

// Route53API is the subset of the Route 53 client used to mutate records.
type Route53API interface {
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// Action is what a notification asks the binder to do.
type Action int

const (
	ActionIgnore Action = iota
	ActionBind
	ActionUnbind
)

func (a Action) String() string {
	switch a {
	case ActionBind:
		return "bind"
	case ActionUnbind:
		return "unbind"
	default:
		return "ignore"
	}
}

// Outcome is the result of handling one notification.
type Outcome string

const (
	OutcomeBound   Outcome = "bound"
	OutcomeUnbound Outcome = "unbound"
	OutcomeIgnored Outcome = "ignored"
	OutcomeSkipped Outcome = "skipped" // no address to act on
	OutcomeFailed  Outcome = "failed"
)

// Classify maps a task's (lastStatus, desiredStatus) pair to an action.
func Classify(ev api.TaskStateChange) Action {
	if ev.LastStatus == api.StatusRunning && ev.DesiredStatus == api.StatusRunning {
		return ActionBind
	}
	if ev.DesiredStatus == api.StatusStopped {
		switch ev.LastStatus {
		case api.StatusDeprovisioning, api.StatusRunning, api.StatusStopped:
			return ActionUnbind
		}
	}
	return ActionIgnore
}

// Config identifies the record managed by a Binder.
type Config struct {
	Cluster      string // events from other clusters are ignored; empty accepts all
	HostedZoneID string
	RecordName   string
}

// Binder reconciles the workload's DNS record with task notifications.
type Binder struct {
	cfg     Config
	ec2     EC2API
	route53 Route53API
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates a Binder.
func New(cfg Config, ec2Client EC2API, r53 Route53API, logger zerolog.Logger, metrics *telemetry.Metrics) *Binder {
	return &Binder{cfg: cfg, ec2: ec2Client, route53: r53, logger: logger, metrics: metrics}
}

// HandleEvent applies one task notification. It never returns an error:
// lookup and mutation failures are logged and reported as OutcomeFailed or
// OutcomeSkipped, leaving retries to the event source.
func (b *Binder) HandleEvent(ctx context.Context, ev api.TaskStateChange) Outcome {
	logger := b.logger.With().
		Str("cluster", ev.ClusterName()).
		Str("task", ev.TaskArn).
		Str("last_status", ev.LastStatus).
		Str("desired_status", ev.DesiredStatus).
		Logger()

	if b.cfg.Cluster != "" && ev.ClusterName() != b.cfg.Cluster {
		logger.Debug().Msg("event for another cluster, skipping")
		return OutcomeIgnored
	}

	action := Classify(ev)
	if action == ActionIgnore {
		logger.Debug().Msg("intermediate task state, nothing to do")
		return OutcomeIgnored
	}

	ip, err := b.publicIP(ctx, ev)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to resolve public IP")
		return OutcomeSkipped
	}
	if ip == "" {
		logger.Info().Msg("public IP not found")
		return OutcomeSkipped
	}
	logger = logger.With().Str("domain", b.cfg.RecordName).Str("ip", ip).Str("service", ev.GroupName()).Logger()

	switch action {
	case ActionBind:
		if err := b.change(ctx, r53types.ChangeActionUpsert, ev.ClusterName(), ip); err != nil {
			logger.Error().Err(err).Msg("failed to upsert DNS record")
			return OutcomeFailed
		}
		logger.Info().Msg("DNS record upserted")
		return OutcomeBound
	default:
		err := b.change(ctx, r53types.ChangeActionDelete, ev.ClusterName(), ip)
		if err != nil && !isRecordAbsent(err) {
			logger.Error().Err(err).Msg("failed to delete DNS record")
			return OutcomeFailed
		}
		if err != nil {
			logger.Info().Msg("DNS record already absent")
		} else {
			logger.Info().Msg("DNS record deleted")
		}
		return OutcomeUnbound
	}
}

// publicIP resolves the public address of the task's ENI. A task without an
// ENI yet, or an ENI without a public association, yields "".
func (b *Binder) publicIP(ctx context.Context, ev api.TaskStateChange) (string, error) {
	eniID := ev.NetworkInterfaceID()
	if eniID == "" {
		return "", nil
	}
	out, err := b.ec2.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
		NetworkInterfaceIds: []string{eniID},
	})
	if err != nil {
		return "", fmt.Errorf("describe network interface %s: %w", eniID, err)
	}
	for _, ni := range out.NetworkInterfaces {
		if ni.Association != nil && aws.ToString(ni.Association.PublicIp) != "" {
			return aws.ToString(ni.Association.PublicIp), nil
		}
	}
	return "", nil
}

func (b *Binder) change(ctx context.Context, action r53types.ChangeAction, cluster, ip string) error {
	_, err := b.route53.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(b.cfg.HostedZoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Comment: aws.String("Auto generated Record for ECS Fargate cluster " + cluster),
			Changes: []r53types.Change{RecordChange(action, b.cfg.RecordName, ip)},
		},
	})
	b.metrics.DNSChange(string(action), err == nil || (action == r53types.ChangeActionDelete && isRecordAbsent(err)))
	return err
}

// RecordChange builds the change for the workload's A record.
func RecordChange(action r53types.ChangeAction, name, ip string) r53types.Change {
	return r53types.Change{
		Action: action,
		ResourceRecordSet: &r53types.ResourceRecordSet{
			Name: aws.String(name),
			Type: r53types.RRTypeA,
			TTL:  aws.Int64(RecordTTL),
			ResourceRecords: []r53types.ResourceRecord{
				{Value: aws.String(ip)},
			},
		},
	}
}

// isRecordAbsent reports whether Route 53 rejected a DELETE because no record
// with that exact value exists: either the name is gone or it already points
// at a replacement task. Both are the desired end state.
func isRecordAbsent(err error) bool {
	var icb *r53types.InvalidChangeBatch
	if errors.As(err, &icb) {
		return mentionsAbsent(icb.ErrorMessage()) || anyAbsent(icb.Messages)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidChangeBatch" {
		return mentionsAbsent(apiErr.ErrorMessage())
	}
	return false
}

func anyAbsent(msgs []string) bool {
	for _, m := range msgs {
		if mentionsAbsent(m) {
			return true
		}
	}
	return false
}

func mentionsAbsent(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "do not match")
}
