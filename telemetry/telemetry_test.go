package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewLoggerLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "dns-binder", "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Str("task", "t1").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dns-binder", line["component"])
	assert.Equal(t, "t1", line["task"])
	assert.Equal(t, "shown", line["message"])
}

func TestNewLoggerBadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "c", "nonsense")
	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	logger.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestInitTracerNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracer("test", "0.0.0")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestServiceAttributesInLambda(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "dev-app-updateTaskDns")
	t.Setenv("AWS_LAMBDA_FUNCTION_VERSION", "$LATEST")
	t.Setenv("AWS_REGION", "ap-southeast-2")

	attrs := map[attribute.Key]string{}
	for _, kv := range serviceAttributes("serverless-mephisto-dns", "1.2.3") {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "serverless-mephisto-dns", attrs[semconv.ServiceNameKey])
	assert.Equal(t, "1.2.3", attrs[semconv.ServiceVersionKey])
	assert.Equal(t, "aws_lambda", attrs[semconv.CloudPlatformKey])
	assert.Equal(t, "dev-app-updateTaskDns", attrs[semconv.FaaSNameKey])
	assert.Equal(t, "$LATEST", attrs[semconv.FaaSVersionKey])
	assert.Equal(t, "ap-southeast-2", attrs[semconv.CloudRegionKey])
}

func TestServiceAttributesOutsideLambda(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	t.Setenv("AWS_REGION", "")

	for _, kv := range serviceAttributes("serverless-mephisto-server", "1.2.3") {
		assert.NotEqual(t, semconv.FaaSNameKey, kv.Key)
		assert.NotEqual(t, semconv.CloudRegionKey, kv.Key)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.Invocation("dns", "bound")
	m.Invocation("dns", "bound")
	m.StopAttempt(false)
	m.DNSChange("UPSERT", true)
	m.Uploaded(42)
	m.UploadError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.invocations.WithLabelValues("dns", "bound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stopAttempts.WithLabelValues("error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.uploadedBytes))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mephisto_dns_changes_total")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Invocation("x", "y")
	m.StopAttempt(true)
	m.DNSChange("DELETE", false)
	m.Uploaded(1)
	m.UploadError()
}
