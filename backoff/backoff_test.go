package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/courier/backoff"
)

func TestFixed_ReturnsFixedDelay(t *testing.T) {
	f := backoff.NewFixed(5 * time.Second)
	for attempt := 0; attempt <= 10; attempt++ {
		if got := f.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_GrowsByFactor(t *testing.T) {
	e := backoff.NewExponential(time.Second, 2, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second}, // 1 * 2^0
		{1, 2 * time.Second}, // 1 * 2^1
		{2, 4 * time.Second}, // 1 * 2^2
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_NonIntegerFactor(t *testing.T) {
	e := backoff.NewExponential(2*time.Second, 1.5, time.Hour)
	if got := e.Delay(2); got != 4500*time.Millisecond {
		t.Errorf("Delay(2) = %v, want 4.5s", got)
	}
}

func TestExponential_CapsAtCeiling(t *testing.T) {
	e := backoff.NewExponential(time.Second, 2, 10*time.Second)

	for _, attempt := range []int{4, 20, 5000} {
		if got := e.Delay(attempt); got != 10*time.Second {
			t.Errorf("Delay(%d) = %v, want %v (capped)", attempt, got, 10*time.Second)
		}
	}
}

func TestExponential_ZeroCeilingUsesDefault(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10, 0)
	if got := e.Delay(100); got != backoff.DefaultCeiling {
		t.Errorf("Delay(100) = %v, want %v", got, backoff.DefaultCeiling)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 2, 10*time.Second)

	for attempt := 0; attempt <= 5; attempt++ {
		upper := backoff.NewExponential(time.Second, 2, 10*time.Second).Delay(attempt)
		for range 100 {
			got := e.Delay(attempt)
			if got < 0 || got > upper {
				t.Errorf("Delay(%d) = %v, want within [0, %v]", attempt, got, upper)
			}
		}
	}
}

func TestExponentialWithJitter_ProducesVariance(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 2, time.Minute)

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[e.Delay(3)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got only %d distinct values", len(seen))
	}
}

func TestSpec_Strategy(t *testing.T) {
	tests := []struct {
		name    string
		spec    backoff.Spec
		attempt int
		want    time.Duration
	}{
		{"fixed", backoff.FixedSpec(3 * time.Second), 7, 3 * time.Second},
		{"exponential", backoff.ExponentialSpec(time.Second, 3, time.Minute), 2, 9 * time.Second},
		{"empty falls back to default", backoff.Spec{}, 2, 4 * time.Second},
		{"invalid factor falls back to default", backoff.Spec{Kind: backoff.KindExponential, Base: time.Second, Factor: 0.5}, 1, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.Strategy().Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestSpec_Validate(t *testing.T) {
	bad := []backoff.Spec{
		{},
		{Kind: "linear"},
		{Kind: backoff.KindFixed, Delay: -time.Second},
		{Kind: backoff.KindExponential, Factor: 2},
	}
	for _, s := range bad {
		if s.Validate() == nil {
			t.Errorf("Validate(%+v) = nil, want error", s)
		}
	}
}
