package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/courier/descriptor"
)

// Config limits deliveries to one queue, i.e. one tenant endpoint.
type Config struct {
	// Name is the encoded queue descriptor (must match job.Queue).
	Name string

	// MaxConcurrency caps simultaneous deliveries to this endpoint from
	// the local pool. Zero means no queue-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained deliveries per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// limitState tracks runtime state for a queue or tenant.
type limitState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newLimitState(ratePerSec float64, burst, maxConcurrency int) *limitState {
	ls := &limitState{maxConcurrency: maxConcurrency}
	if ratePerSec > 0 {
		if burst <= 0 {
			burst = 1
		}
		ls.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return ls
}

func (ls *limitState) full() bool {
	return ls.maxConcurrency > 0 && ls.active >= ls.maxConcurrency
}

// Manager enforces per-queue and per-tenant delivery limits. A tenant is
// identified by the token inside the queue descriptor, so one tenant's
// endpoints share its tenant limit. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*limitState
	tenants map[string]*limitState

	// tenantDefault, when set, is instantiated for every tenant without
	// an explicit TenantConfig.
	tenantDefault *TenantConfig
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no queue-level limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:  make(map[string]*limitState, len(configs)),
		tenants: make(map[string]*limitState),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newLimitState(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	}
	return m
}

// Acquire checks rate limits and concurrency for the given queue and its
// tenant. If the delivery may proceed it increments the active counters
// and returns true. The caller MUST call Release when the delivery ends.
//
// A token is only consumed from a limiter when every check passes, so a
// rejected Acquire does not eat into another level's budget.
func (m *Manager) Acquire(queue string) bool {
	tenant := tenantOf(queue)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	ts := m.tenantState(tenant)

	if qs != nil && qs.full() {
		return false
	}
	if ts != nil && ts.full() {
		return false
	}

	var qr, tr *rate.Reservation
	if qs != nil && qs.limiter != nil {
		qr = qs.limiter.ReserveN(now, 1)
		if !qr.OK() || qr.DelayFrom(now) > 0 {
			qr.CancelAt(now)
			return false
		}
	}
	if ts != nil && ts.limiter != nil {
		tr = ts.limiter.ReserveN(now, 1)
		if !tr.OK() || tr.DelayFrom(now) > 0 {
			tr.CancelAt(now)
			if qr != nil {
				qr.CancelAt(now)
			}
			return false
		}
	}

	if qs != nil {
		qs.active++
	}
	if ts != nil {
		ts.active++
	}
	return true
}

// Release decrements the active counts for the queue and its tenant.
func (m *Manager) Release(queue string) {
	tenant := tenantOf(queue)

	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
	if tenant != "" {
		if ts := m.tenants[tenant]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// SetQueueConfig dynamically updates (or creates) a queue configuration.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := newLimitState(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)

	// Preserve current active count if reconfiguring.
	if existing := m.queues[cfg.Name]; existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the current number of active deliveries for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// tenantOf returns the tenant token of an encoded queue, or "" when the
// queue does not decode.
func tenantOf(queue string) string {
	d, err := descriptor.Decode(queue)
	if err != nil {
		return ""
	}
	return d.TenantToken
}
