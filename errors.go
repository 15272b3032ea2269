package courier

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("courier: no store configured")
	ErrStoreClosed = errors.New("courier: store closed")

	// Validation errors.
	ErrMalformedDescriptor = errors.New("courier: malformed queue descriptor")
	ErrMalformedSchedule   = errors.New("courier: malformed schedule")
	ErrMalformedRetry      = errors.New("courier: malformed retry policy")
	ErrMalformedJobID      = errors.New("courier: malformed job id")
	ErrInvalidConfig       = errors.New("courier: invalid config")

	// Not found errors.
	ErrJobNotFound    = errors.New("courier: job not found")
	ErrDLQNotFound    = errors.New("courier: dlq entry not found")
	ErrWorkerNotFound = errors.New("courier: worker not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("courier: job already exists")

	// Lease errors. ErrClaimConflict never leaves a store; a lost claim
	// race simply yields no job.
	ErrClaimConflict = errors.New("courier: claim conflict")
	ErrLeaseLost     = errors.New("courier: lease lost")

	// Delivery errors.
	ErrDeliveryTimeout      = errors.New("courier: delivery timed out")
	ErrDeliveryNetwork      = errors.New("courier: delivery network error")
	ErrDeliveryRejected     = errors.New("courier: delivery rejected by receiver")
	ErrRetryBudgetExhausted = errors.New("courier: retry budget exhausted")
)
