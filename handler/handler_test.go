package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-lab/serverless-mephisto/api"
	"github.com/d-lab/serverless-mephisto/datasync"
	"github.com/d-lab/serverless-mephisto/dnsbind"
	"github.com/d-lab/serverless-mephisto/launcher"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

type stubECS struct {
	runErr error
}

func (s *stubECS) ListTasks(context.Context, *awsecs.ListTasksInput, ...func(*awsecs.Options)) (*awsecs.ListTasksOutput, error) {
	return &awsecs.ListTasksOutput{}, nil
}

func (s *stubECS) StopTask(context.Context, *awsecs.StopTaskInput, ...func(*awsecs.Options)) (*awsecs.StopTaskOutput, error) {
	return &awsecs.StopTaskOutput{}, nil
}

func (s *stubECS) RunTask(context.Context, *awsecs.RunTaskInput, ...func(*awsecs.Options)) (*awsecs.RunTaskOutput, error) {
	if s.runErr != nil {
		return nil, s.runErr
	}
	return &awsecs.RunTaskOutput{Tasks: []ecstypes.Task{{TaskArn: aws.String("task-1")}}}, nil
}

type stubEC2 struct{}

func (stubEC2) DescribeNetworkInterfaces(context.Context, *ec2.DescribeNetworkInterfacesInput, ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error) {
	return &ec2.DescribeNetworkInterfacesOutput{NetworkInterfaces: []ec2types.NetworkInterface{{
		Association: &ec2types.NetworkInterfaceAssociation{PublicIp: aws.String("203.0.113.5")},
	}}}, nil
}

type stubRoute53 struct{ calls int }

func (s *stubRoute53) ChangeResourceRecordSets(context.Context, *route53.ChangeResourceRecordSetsInput, ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	s.calls++
	return &route53.ChangeResourceRecordSetsOutput{}, nil
}

type stubS3 struct {
	err   error
	calls int
}

func (s *stubS3) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.calls++
	return &s3.PutObjectOutput{}, s.err
}

func decodeBody(t *testing.T, resp events.APIGatewayProxyResponse) api.Response {
	t.Helper()
	var body api.Response
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	return body
}

func cloudWatchEvent(t *testing.T, detail api.TaskStateChange) events.CloudWatchEvent {
	t.Helper()
	raw, err := json.Marshal(detail)
	require.NoError(t, err)
	return events.CloudWatchEvent{ID: "ev-1", DetailType: api.DetailTypeTaskStateChange, Detail: raw}
}

func runningEvent() api.TaskStateChange {
	return api.TaskStateChange{
		ClusterArn:    "arn:aws:ecs:ap-southeast-2:1:cluster/svc-cluster",
		TaskArn:       "task-1",
		LastStatus:    api.StatusRunning,
		DesiredStatus: api.StatusRunning,
		Attachments: []api.Attachment{{Type: "eni", Details: []api.AttachmentDetail{
			{Name: "networkInterfaceId", Value: "eni-1"},
		}}},
	}
}

func TestLaunchHandler(t *testing.T) {
	h := &Launch{
		Launcher: launcher.New(&stubECS{}, "svc", zerolog.Nop(), nil),
		Request:  api.LaunchRequest{Cluster: "c", TaskDefinition: "td", Subnets: []string{"s"}, SecurityGroup: "sg"},
		Logger:   zerolog.Nop(),
	}
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "Success!", body.Message)
	assert.Equal(t, "launched", body.Outcome)
}

func TestLaunchHandlerFailure(t *testing.T) {
	h := &Launch{
		Launcher: launcher.New(&stubECS{runErr: errors.New("capacity")}, "svc", zerolog.Nop(), nil),
		Request:  api.LaunchRequest{Cluster: "c", TaskDefinition: "td", Subnets: []string{"s"}, SecurityGroup: "sg"},
		Logger:   zerolog.Nop(),
		Metrics:  telemetry.NewMetrics(),
	}
	_, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
}

func TestDNSHandler(t *testing.T) {
	r53 := &stubRoute53{}
	h := &DNS{
		Binder: dnsbind.New(dnsbind.Config{Cluster: "svc-cluster", HostedZoneID: "Z1", RecordName: "svc.example.com"},
			stubEC2{}, r53, zerolog.Nop(), nil),
		Logger: zerolog.Nop(),
	}
	resp, err := h.Handle(context.Background(), cloudWatchEvent(t, runningEvent()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(dnsbind.OutcomeBound), decodeBody(t, resp).Outcome)
	assert.Equal(t, 1, r53.calls)

	resp, err = h.Handle(context.Background(), events.CloudWatchEvent{Detail: json.RawMessage(`"nope"`)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncHandlerSwallowsFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/mnt/efs/a.txt", []byte("a"), 0o644))
	h := &Sync{
		Synchronizer: datasync.New(datasync.Config{Cluster: "svc-cluster", Root: "/mnt/efs", Bucket: "b", Prefix: "p", MaxAttempts: 1},
			fs, &stubS3{err: errors.New("AccessDenied")}, zerolog.Nop(), nil),
		Logger: zerolog.Nop(),
	}
	ev := runningEvent()
	ev.LastStatus, ev.DesiredStatus = api.StatusStopped, api.StatusStopped

	resp, err := h.Handle(context.Background(), cloudWatchEvent(t, ev))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "failed", body.Outcome)
	assert.Equal(t, "Sync failed, see logs", body.Message)

	ev.ClusterArn = "arn:aws:ecs:ap-southeast-2:1:cluster/other"
	resp, err = h.Handle(context.Background(), cloudWatchEvent(t, ev))
	require.NoError(t, err)
	assert.Equal(t, "ignored", decodeBody(t, resp).Outcome)
}

func TestFailing(t *testing.T) {
	cfgErr := &api.ConfigError{Field: "CLUSTER_NAME"}
	_, err := Failing(cfgErr, zerolog.Nop())(context.Background(), nil)
	require.ErrorIs(t, err, cfgErr)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("x")))
}

func TestHandlersSkipOtherDetailTypes(t *testing.T) {
	r53 := &stubRoute53{}
	store := &stubS3{}
	dns := &DNS{
		Binder: dnsbind.New(dnsbind.Config{Cluster: "svc-cluster", HostedZoneID: "Z1", RecordName: "svc.example.com"},
			stubEC2{}, r53, zerolog.Nop(), nil),
		Logger: zerolog.Nop(),
	}
	sync := &Sync{
		Synchronizer: datasync.New(datasync.Config{Cluster: "svc-cluster", Root: "/mnt/efs", Bucket: "b", MaxAttempts: 1},
			afero.NewMemMapFs(), store, zerolog.Nop(), nil),
		Logger: zerolog.Nop(),
	}
	ev := cloudWatchEvent(t, runningEvent())
	ev.DetailType = "ECS Container Instance State Change"

	resp, err := dns.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "ignored", decodeBody(t, resp).Outcome)
	assert.Zero(t, r53.calls)

	resp, err = sync.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "ignored", decodeBody(t, resp).Outcome)
	assert.Zero(t, store.calls)

	ev.DetailType = ""
	resp, err = dns.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, string(dnsbind.OutcomeBound), decodeBody(t, resp).Outcome)
}
