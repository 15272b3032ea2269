// Package backoff provides retry delay strategies.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// DefaultCeiling bounds exponential growth when no ceiling is configured.
const DefaultCeiling = time.Hour

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait after the failure of attempt n.
	// Attempts are zero-indexed: attempt 0 is the first delivery.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed always returns the same delay regardless of attempt number.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed backoff strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential grows the delay geometrically.
// Delay = min(Base * Factor^attempt, Ceiling).
type Exponential struct {
	Base    time.Duration
	Factor  float64
	Ceiling time.Duration
}

// NewExponential creates an exponential backoff strategy. A ceiling of zero
// means DefaultCeiling.
func NewExponential(base time.Duration, factor float64, ceiling time.Duration) *Exponential {
	return &Exponential{Base: base, Factor: factor, Ceiling: ceiling}
}

// Delay returns Base * Factor^attempt, capped at Ceiling.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(float64(e.Base)*math.Pow(e.factor(), float64(max(attempt, 0))), e.ceiling())
}

func (e *Exponential) factor() float64 {
	if e.Factor < 1 {
		return 1
	}
	return e.Factor
}

func (e *Exponential) ceiling() time.Duration {
	if e.Ceiling <= 0 {
		return DefaultCeiling
	}
	return e.Ceiling
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Base * Factor^attempt, Ceiling)].
// The enqueue client uses it so that many tenants retrying against a
// recovering API do not all return at once.
type ExponentialWithJitter struct {
	Exponential
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base time.Duration, factor float64, ceiling time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Exponential{Base: base, Factor: factor, Ceiling: ceiling}}
}

// Delay returns a random duration in [0, min(Base * Factor^attempt, Ceiling)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	upper := e.Exponential.Delay(attempt)
	return time.Duration(rand.Float64() * float64(upper)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func capped(d float64, ceiling time.Duration) time.Duration {
	if math.IsNaN(d) || math.IsInf(d, 0) || d >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Spec
// ──────────────────────────────────────────────────

// Kind names a backoff strategy in stored and wire form.
type Kind string

const (
	KindFixed       Kind = "fixed"
	KindExponential Kind = "exponential"
)

// Spec is the serialisable description of a strategy, as carried on a job's
// retry policy.
type Spec struct {
	Kind    Kind          `json:"kind"`
	Delay   time.Duration `json:"delay,omitempty"`
	Base    time.Duration `json:"base,omitempty"`
	Factor  float64       `json:"factor,omitempty"`
	Ceiling time.Duration `json:"ceiling,omitempty"`
}

// FixedSpec returns a Spec for a fixed delay.
func FixedSpec(delay time.Duration) Spec {
	return Spec{Kind: KindFixed, Delay: delay}
}

// ExponentialSpec returns a Spec for exponential growth.
func ExponentialSpec(base time.Duration, factor float64, ceiling time.Duration) Spec {
	return Spec{Kind: KindExponential, Base: base, Factor: factor, Ceiling: ceiling}
}

// Validate reports whether s describes a usable strategy.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindFixed:
		if s.Delay < 0 {
			return fmt.Errorf("backoff: fixed delay must not be negative")
		}
	case KindExponential:
		if s.Base <= 0 {
			return fmt.Errorf("backoff: exponential base must be positive")
		}
		if s.Factor < 1 {
			return fmt.Errorf("backoff: exponential factor must be at least 1")
		}
	default:
		return fmt.Errorf("backoff: unknown kind %q", s.Kind)
	}
	return nil
}

// Strategy builds the strategy described by s. An invalid or empty Spec
// falls back to DefaultStrategy.
func (s Spec) Strategy() Strategy {
	if s.Validate() != nil {
		return DefaultStrategy()
	}
	if s.Kind == KindFixed {
		return NewFixed(s.Delay)
	}
	return NewExponential(s.Base, s.Factor, s.Ceiling)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns Exponential with a 1s base, factor 2 and
// DefaultCeiling.
func DefaultStrategy() Strategy {
	return NewExponential(1*time.Second, 2, DefaultCeiling)
}
