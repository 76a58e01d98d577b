package api

import (
	"fmt"
	"net/http"
)

// StatusCoder is implemented by errors that have an associated HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// ErrorResponse is the JSON error body returned by the handlers.
type ErrorResponse struct {
	Message string `json:"message"`
}

// ConfigError indicates a missing or malformed required setting.
// It is always reported before any AWS call is attempted.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s is not defined", e.Field)
}

func (e *ConfigError) StatusCode() int {
	return http.StatusBadRequest
}

// LaunchError indicates that ECS did not accept the new task.
type LaunchError struct {
	Cluster string
	Reasons []string
	Err     error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run task in cluster %s: %v", e.Cluster, e.Err)
	}
	return fmt.Sprintf("run task in cluster %s: %v", e.Cluster, e.Reasons)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func (e *LaunchError) StatusCode() int {
	return http.StatusBadGateway
}

// InvalidParameterError indicates an unparseable request or event body.
type InvalidParameterError struct {
	Message string
}

func (e *InvalidParameterError) Error() string {
	return e.Message
}

func (e *InvalidParameterError) StatusCode() int {
	return http.StatusBadRequest
}
