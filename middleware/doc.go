// Package middleware provides composable middleware for job delivery.
//
// A [Middleware] is a function that wraps the delivery call. Middleware
// are composed into a chain using [Chain] and applied around every
// attempt. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// recover → scope → logging → handler
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Scope(), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Recover]: catches panics and converts them to errors
//   - [Scope]: decodes the queue descriptor into the context
//   - [Tracing]: wraps the attempt in an OpenTelemetry span
//   - [Metrics]: records per-attempt duration and outcome counters
//   - [Logging]: logs each attempt and its outcome
//   - [Timeout]: bounds the attempt by the delivery timeout
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
