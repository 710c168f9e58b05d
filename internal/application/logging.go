package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/gateway"
	"github.com/example/coaching-marketplace/internal/logging"
	"github.com/example/coaching-marketplace/internal/persistence"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and typed errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	var transitionErr *booking.TransitionError
	if errors.As(err, &transitionErr) {
		return "invalid_transition"
	}

	var guardErr *booking.GuardError
	if errors.As(err, &guardErr) {
		return "guard_violation"
	}

	var integrityErr *booking.IntegrityError
	if errors.As(err, &integrityErr) || errors.Is(err, persistence.ErrConstraintViolation) {
		return "data_integrity"
	}

	var gatewayErr *gateway.Error
	if errors.As(err, &gatewayErr) {
		return "gateway"
	}

	return "unexpected"
}
