package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	FieldBackend   = "backend"
	FieldModel     = "model"
	FieldBackendID = "backend_id"
	FieldRunID     = "run_id"
)

// nonEmpty appends key=value to fields unless value is blank.
func nonEmpty(fields []zap.Field, key, value string) []zap.Field {
	if value = strings.TrimSpace(value); value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}

// BackendFields describes an embedding backend. Blank values are omitted.
func BackendFields(backend, model string) []zap.Field {
	fields := nonEmpty(nil, FieldBackend, backend)
	return nonEmpty(fields, FieldModel, model)
}

// RunFields describes a matching run.
func RunFields(runID, backendID string) []zap.Field {
	fields := nonEmpty(nil, FieldRunID, runID)
	return nonEmpty(fields, FieldBackendID, backendID)
}

// WithBackendFields attaches the backend fields to logger. A nil logger becomes a no-op one.
func WithBackendFields(logger *zap.Logger, backend, model string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(BackendFields(backend, model)...)
}
