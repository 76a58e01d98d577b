// Package server exposes the handlers over plain HTTP for running the
// controller outside Lambda, e.g. against a simulator or behind a webhook.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/d-lab/serverless-mephisto/api"
	"github.com/d-lab/serverless-mephisto/handler"
	"github.com/d-lab/serverless-mephisto/telemetry"
)

// Server routes HTTP requests to the configured handlers. Any handler may be
// nil, in which case its route answers 503.
type Server struct {
	Launch  *handler.Launch
	DNS     *handler.DNS
	Sync    *handler.Sync
	Metrics *telemetry.Metrics
	Logger  zerolog.Logger

	mux *http.ServeMux
}

// New creates a Server and registers its routes.
func New(launch *handler.Launch, dns *handler.DNS, sync *handler.Sync, metrics *telemetry.Metrics, logger zerolog.Logger) *Server {
	s := &Server{Launch: launch, DNS: dns, Sync: sync, Metrics: metrics, Logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /v1/launch", s.handleLaunch)
	s.mux.HandleFunc("POST /v1/events/task-state", s.handleTaskState)
	s.mux.HandleFunc("POST /v1/events/teardown", s.handleTeardown)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics.Handler())
	}
	return s
}

// ServeHTTP logs and dispatches a request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.Logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
}

// Handler returns the server wrapped with HTTP tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s, "mephisto")
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Logger.Info().Str("addr", addr).Msg("listening")
	return srv.ListenAndServe()
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if s.Launch == nil {
		WriteError(w, errNotConfigured)
		return
	}
	resp, err := s.Launch.Handle(r.Context(), events.APIGatewayProxyRequest{})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeProxy(w, resp)
}

func (s *Server) handleTaskState(w http.ResponseWriter, r *http.Request) {
	if s.DNS == nil {
		WriteError(w, errNotConfigured)
		return
	}
	ev, err := readEvent(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeProxy(w, s.DNS.Apply(r.Context(), ev))
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	if s.Sync == nil {
		WriteError(w, errNotConfigured)
		return
	}
	ev, err := readEvent(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeProxy(w, s.Sync.Apply(r.Context(), ev))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"launch": s.Launch != nil,
		"dns":    s.DNS != nil,
		"sync":   s.Sync != nil,
	})
}

func writeProxy(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	io.WriteString(w, resp.Body)
}

var errNotConfigured = &notConfiguredError{}

type notConfiguredError struct{}

func (e *notConfiguredError) Error() string   { return "handler is not configured" }
func (e *notConfiguredError) StatusCode() int { return http.StatusServiceUnavailable }

func readEvent(r *http.Request) (api.TaskStateChange, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return api.TaskStateChange{}, &api.InvalidParameterError{Message: err.Error()}
	}
	if len(body) == 0 {
		return api.TaskStateChange{}, &api.InvalidParameterError{Message: "empty event body"}
	}
	return api.DecodeTaskStateChange(body)
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes an error response with the appropriate HTTP status code.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, handler.StatusCode(err), api.ErrorResponse{Message: err.Error()})
}
