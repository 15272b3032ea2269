package middleware

import (
	"context"

	"github.com/xraph/courier/job"
	"github.com/xraph/courier/scope"
)

// Scope returns middleware that decodes the job's queue descriptor into
// the context, so later middleware can label logs, spans and metrics by
// tenant fingerprint and endpoint.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return next(scope.Restore(ctx, j.Queue))
	}
}
