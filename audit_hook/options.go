package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithActions limits the audit trail to the listed actions, for example
// only ActionJobFailed and ActionJobDLQ. Every action is recorded when the
// option is absent.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.only = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.only[a] = true
		}
	}
}

// WithLogger sets where recorder failures are reported.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
