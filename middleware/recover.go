package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/courier/job"
)

// Recover returns middleware that recovers from panics in the delivery
// chain. Panics are converted to errors, which the executor treats as
// retryable, and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("delivery panicked",
					slog.String("job_id", j.ID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic delivering job %s: %v", j.ID, r)
			}
		}()
		return next(ctx)
	}
}
