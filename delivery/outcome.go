package delivery

import (
	"errors"
	"fmt"
)

// Outcome classifies the result of one delivery attempt.
type Outcome int

const (
	// Success means the receiver acknowledged the job.
	Success Outcome = iota
	// RetryableFailure covers network errors, timeouts and anything the
	// receiver did not explicitly reject.
	RetryableFailure
	// NonRetryableFailure means the receiver rejected the job; retrying
	// cannot help.
	NonRetryableFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case NonRetryableFailure:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classify maps an HTTP status to an Outcome: 2xx succeeds, 4xx is a
// rejection, everything else may be retried.
func Classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status >= 400 && status < 500:
		return NonRetryableFailure
	default:
		return RetryableFailure
	}
}

// Error is a failed delivery attempt.
type Error struct {
	Outcome Outcome
	// StatusCode is the receiver's response status, zero when no response
	// arrived.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery %s: status %d: %v", e.Outcome, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery %s: %v", e.Outcome, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable wraps err as a retryable delivery failure.
func Retryable(err error) error {
	return &Error{Outcome: RetryableFailure, Err: err}
}

// Rejected wraps err as a non-retryable delivery failure.
func Rejected(err error) error {
	return &Error{Outcome: NonRetryableFailure, Err: err}
}

// OutcomeOf classifies the error returned by a delivery. A nil error is a
// success; an error that is not an *Error (a panic recovered by
// middleware, a cancelled context) is treated as retryable.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Success
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Outcome
	}
	return RetryableFailure
}
