package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/job"
)

// Timeout returns middleware that bounds each delivery by d. The bound must
// be shorter than the lease TTL: a delivery still running when its lease
// expires may be duplicated by another worker. A non-positive d disables
// the bound.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("delivery timeout set",
			slog.String("job_id", j.ID),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
