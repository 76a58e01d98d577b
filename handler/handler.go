// Package handler adapts the launcher, DNS binder and data synchronizer to
// AWS Lambda invocations.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/d-lab/serverless-mephisto/api"
	"github.com/d-lab/serverless-mephisto/datasync"
	"github.com/d-lab/serverless-mephisto/dnsbind"
	"github.com/d-lab/serverless-mephisto/launcher"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

const tracerName = "github.com/d-lab/serverless-mephisto/handler"

// Handler names used in logs and metrics.
const (
	NameLaunch = "launch"
	NameDNS    = "dns"
	NameSync   = "sync"
)

const (
	successMessage    = "Success!"
	syncFailedMessage = "Sync failed, see logs"
)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

// Launch runs the launcher with its configured request on every invocation.
type Launch struct {
	Launcher *launcher.Launcher
	Request  api.LaunchRequest
	Logger   zerolog.Logger
	Metrics  *telemetry.Metrics
}

// Handle is the Lambda entry point. A failed launch is returned as an error so
// the invocation, and the deployment that triggered it, fail.
func (h *Launch) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ctx, span := startSpan(ctx, "launch", attribute.String("cluster", h.Request.Cluster))
	defer span.End()
	h.Logger.Debug().Str("request_id", req.RequestContext.RequestID).Msg("launch invoked")

	res, err := h.Launcher.Launch(ctx, h.Request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.Metrics.Invocation(NameLaunch, "failed")
		h.Logger.Error().Err(err).Msg("launch failed")
		return events.APIGatewayProxyResponse{}, err
	}
	h.Metrics.Invocation(NameLaunch, "launched")
	return Respond(http.StatusOK, api.Response{Message: successMessage, Outcome: "launched", Detail: res}), nil
}

// DNS applies each task state-change notification to the DNS record.
type DNS struct {
	Binder  *dnsbind.Binder
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

// Handle is the Lambda entry point. It always succeeds.
func (h *DNS) Handle(ctx context.Context, ev events.CloudWatchEvent) (events.APIGatewayProxyResponse, error) {
	if ev.DetailType != "" && ev.DetailType != api.DetailTypeTaskStateChange {
		h.Logger.Debug().Str("event_id", ev.ID).Str("detail_type", ev.DetailType).Msg("not a task state change, skipping")
		h.Metrics.Invocation(NameDNS, "ignored")
		return Respond(http.StatusOK, api.Response{Message: successMessage, Outcome: "ignored"}), nil
	}
	var detail api.TaskStateChange
	if err := json.Unmarshal(ev.Detail, &detail); err != nil {
		h.Logger.Warn().Err(err).Str("event_id", ev.ID).Msg("undecodable task state change")
		h.Metrics.Invocation(NameDNS, "invalid")
		return Respond(http.StatusBadRequest, api.Response{Message: "invalid event detail"}), nil
	}
	return h.Apply(ctx, detail), nil
}

// Apply runs the binder for one decoded notification.
func (h *DNS) Apply(ctx context.Context, detail api.TaskStateChange) events.APIGatewayProxyResponse {
	ctx, span := startSpan(ctx, "dns",
		attribute.String("cluster", detail.ClusterName()),
		attribute.String("task", detail.TaskArn),
	)
	defer span.End()

	outcome := h.Binder.HandleEvent(ctx, detail)
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if outcome == dnsbind.OutcomeFailed {
		span.SetStatus(codes.Error, "record change failed")
	}
	h.Metrics.Invocation(NameDNS, string(outcome))
	return Respond(http.StatusOK, api.Response{Message: successMessage, Outcome: string(outcome)})
}

// Sync copies the shared folder to S3 on teardown notifications.
type Sync struct {
	Synchronizer *datasync.Synchronizer
	Logger       zerolog.Logger
	Metrics      *telemetry.Metrics
}

// Handle is the Lambda entry point. Sync failures are logged, not returned.
func (h *Sync) Handle(ctx context.Context, ev events.CloudWatchEvent) (events.APIGatewayProxyResponse, error) {
	if ev.DetailType != "" && ev.DetailType != api.DetailTypeTaskStateChange {
		h.Logger.Debug().Str("event_id", ev.ID).Str("detail_type", ev.DetailType).Msg("not a task state change, skipping")
		h.Metrics.Invocation(NameSync, "ignored")
		return Respond(http.StatusOK, api.Response{Message: successMessage, Outcome: "ignored"}), nil
	}
	var detail api.TaskStateChange
	if err := json.Unmarshal(ev.Detail, &detail); err != nil {
		h.Logger.Warn().Err(err).Str("event_id", ev.ID).Msg("undecodable task state change")
		h.Metrics.Invocation(NameSync, "invalid")
		return Respond(http.StatusBadRequest, api.Response{Message: "invalid event detail"}), nil
	}
	return h.Apply(ctx, detail), nil
}

// Apply runs the synchronizer for one decoded notification.
func (h *Sync) Apply(ctx context.Context, detail api.TaskStateChange) events.APIGatewayProxyResponse {
	ctx, span := startSpan(ctx, "sync", attribute.String("cluster", detail.ClusterName()))
	defer span.End()

	report, err := h.Synchronizer.HandleEvent(ctx, detail)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.Metrics.Invocation(NameSync, "failed")
		h.Logger.Error().Err(err).Msg("sync S3 failed")
		return Respond(http.StatusOK, api.Response{Message: syncFailedMessage, Outcome: "failed", Detail: report})
	case report.Ignored:
		h.Metrics.Invocation(NameSync, "ignored")
		return Respond(http.StatusOK, api.Response{Message: successMessage, Outcome: "ignored"})
	default:
		h.Metrics.Invocation(NameSync, "synced")
		return Respond(http.StatusOK, api.Response{Message: successMessage, Outcome: "synced", Detail: report})
	}
}

// Failing returns a Lambda handler that reports err on every invocation
// without calling AWS. It is used when configuration could not be loaded.
func Failing(err error, logger zerolog.Logger) func(context.Context, json.RawMessage) (events.APIGatewayProxyResponse, error) {
	return func(context.Context, json.RawMessage) (events.APIGatewayProxyResponse, error) {
		logger.Error().Err(err).Msg("handler is not configured")
		return events.APIGatewayProxyResponse{}, err
	}
}

// Respond builds an HTTP-shaped Lambda response with a JSON body.
func Respond(status int, body api.Response) events.APIGatewayProxyResponse {
	data, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(api.ErrorResponse{Message: err.Error()})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}
}

// StatusCode maps an error to the HTTP status used in responses.
func StatusCode(err error) int {
	var sc api.StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}
