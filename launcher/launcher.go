// Package launcher starts the single task of the workload, preempting any
// task already running in the cluster.
package launcher

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/d-lab/serverless-mephisto/api"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

// StartedBy marks tasks launched by this controller.
const StartedBy = "serverless-mephisto"

// ECSAPI is the subset of the ECS client the launcher needs.
type ECSAPI interface {
	awsecs.ListTasksAPIClient
	StopTask(ctx context.Context, params *awsecs.StopTaskInput, optFns ...func(*awsecs.Options)) (*awsecs.StopTaskOutput, error)
	RunTask(ctx context.Context, params *awsecs.RunTaskInput, optFns ...func(*awsecs.Options)) (*awsecs.RunTaskOutput, error)
}

// Launcher runs the workload's task.
type Launcher struct {
	ecs     ECSAPI
	appName string
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates a Launcher. appName is only used for tagging.
func New(client ECSAPI, appName string, logger zerolog.Logger, metrics *telemetry.Metrics) *Launcher {
	return &Launcher{ecs: client, appName: appName, logger: logger, metrics: metrics}
}

// Launch stops every task in the cluster whose desired status is RUNNING, then
// asks ECS to run exactly one new task. It does not wait for the old tasks to
// stop. Preemption failures are logged only; a rejected RunTask is an error.
func (l *Launcher) Launch(ctx context.Context, req api.LaunchRequest) (*api.LaunchResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	logger := l.logger.With().Str("cluster", req.Cluster).Logger()
	logger.Info().
		Str("task_definition", req.TaskDefinition).
		Strs("subnets", req.Subnets).
		Str("security_group", req.SecurityGroup).
		Str("container", req.ContainerName).
		Msg("launching task")

	result := &api.LaunchResult{}
	for _, taskArn := range l.runningTasks(ctx, req.Cluster, logger) {
		logger.Info().Str("task", taskArn).Msg("stopping task")
		_, err := l.ecs.StopTask(ctx, &awsecs.StopTaskInput{
			Cluster: aws.String(req.Cluster),
			Task:    aws.String(taskArn),
			Reason:  aws.String("Replaced by a new deployment"),
		})
		l.metrics.StopAttempt(err == nil)
		if err != nil {
			logger.Warn().Err(err).Str("task", taskArn).Msg("failed to stop task")
			result.StopFailures++
			continue
		}
		result.StoppedTasks = append(result.StoppedTasks, taskArn)
	}

	out, err := l.ecs.RunTask(ctx, l.runTaskInput(req))
	if err != nil {
		return nil, &api.LaunchError{Cluster: req.Cluster, Err: err}
	}
	for _, task := range out.Tasks {
		result.TaskArns = append(result.TaskArns, aws.ToString(task.TaskArn))
	}
	if len(result.TaskArns) == 0 {
		reasons := make([]string, 0, len(out.Failures))
		for _, f := range out.Failures {
			reasons = append(reasons, fmt.Sprintf("%s: %s", aws.ToString(f.Arn), aws.ToString(f.Reason)))
		}
		return nil, &api.LaunchError{Cluster: req.Cluster, Reasons: reasons}
	}

	logger.Info().Strs("tasks", result.TaskArns).Int("stopped", len(result.StoppedTasks)).Msg("task launched")
	return result, nil
}

// runningTasks lists tasks whose desired status is RUNNING. A listing failure
// is treated as an empty cluster so the launch can still proceed.
func (l *Launcher) runningTasks(ctx context.Context, cluster string, logger zerolog.Logger) []string {
	var arns []string
	p := awsecs.NewListTasksPaginator(l.ecs, &awsecs.ListTasksInput{
		Cluster:       aws.String(cluster),
		DesiredStatus: ecstypes.DesiredStatusRunning,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to list running tasks, assuming none")
			return nil
		}
		arns = append(arns, page.TaskArns...)
	}
	if len(arns) == 0 {
		logger.Info().Msg("no running task found")
	} else {
		logger.Info().Int("count", len(arns)).Msg("found running tasks")
	}
	return arns
}

func (l *Launcher) runTaskInput(req api.LaunchRequest) *awsecs.RunTaskInput {
	tags := []ecstypes.Tag{{Key: aws.String("mephisto-managed"), Value: aws.String("true")}}
	if l.appName != "" {
		tags = append(tags, ecstypes.Tag{Key: aws.String("mephisto-app"), Value: aws.String(l.appName)})
	}
	return &awsecs.RunTaskInput{
		Cluster:         aws.String(req.Cluster),
		TaskDefinition:  aws.String(req.TaskDefinition),
		LaunchType:      ecstypes.LaunchTypeFargate,
		Count:           aws.Int32(1),
		PlatformVersion: aws.String("LATEST"),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        req.Subnets,
				SecurityGroups: []string{req.SecurityGroup},
				AssignPublicIp: ecstypes.AssignPublicIpEnabled,
			},
		},
		EnableExecuteCommand: true,
		StartedBy:            aws.String(StartedBy),
		ClientToken:          aws.String(uuid.NewString()),
		Tags:                 tags,
	}
}

func validateRequest(req api.LaunchRequest) error {
	switch {
	case req.Cluster == "":
		return &api.ConfigError{Field: "CLUSTER_NAME"}
	case req.TaskDefinition == "":
		return &api.ConfigError{Field: "TASK_DEFINITION"}
	case len(req.Subnets) == 0:
		return &api.ConfigError{Field: "SUBNETS"}
	case req.SecurityGroup == "":
		return &api.ConfigError{Field: "SECURITY_GROUP"}
	}
	return nil
}
