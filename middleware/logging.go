package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/scope"
)

// Logging returns middleware that logs each delivery attempt and its
// outcome. The tenant token is never logged; use the fingerprint.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_id", j.ID),
			slog.String("tenant", scope.Tenant(ctx)),
			slog.String("endpoint", scope.Endpoint(ctx)),
			slog.Int("attempt", j.Attempt),
		}
		logger.Debug("delivery started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			attrs = append(attrs,
				slog.String("outcome", delivery.OutcomeOf(err).String()),
				slog.String("error", err.Error()),
			)
			logger.Warn("delivery failed", attrs...)
		} else {
			logger.Info("delivery succeeded", attrs...)
		}

		return err
	}
}
