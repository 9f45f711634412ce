package embedding

import (
	"context"
	"errors"
)

var (
	// ErrInvalidInput is returned for texts that are empty after normalization
	// and other caller mistakes scoped to a single item.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBackendConfig marks fatal setup problems: bad credentials, unknown model,
	// missing model file, inconsistent dimensions.
	ErrBackendConfig = errors.New("backend configuration error")
	// ErrUnknownBackend is returned by the registry for names that were never registered.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrBackendUnavailable is the only retryable failure: network errors,
	// overloaded backends, short rate limits.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendMismatch is returned when vectors of different backends meet in one ranking.
	ErrBackendMismatch = errors.New("backend mismatch")
	// ErrRegistrySealed is returned when registering after startup.
	ErrRegistrySealed = errors.New("registry is sealed")
)

// Kind is a stable name of an error class used in failure reports.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindBackendConfig      Kind = "backend_config"
	KindUnknownBackend     Kind = "unknown_backend"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindBackendMismatch    Kind = "backend_mismatch"
	KindCanceled           Kind = "canceled"
	KindUnknown            Kind = "unknown"
)

// KindOf classifies err into one of the known kinds.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrBackendConfig):
		return KindBackendConfig
	case errors.Is(err, ErrUnknownBackend):
		return KindUnknownBackend
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, ErrBackendMismatch):
		return KindBackendMismatch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
