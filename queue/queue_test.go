package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier/descriptor"
)

var (
	hookA = descriptor.Encode("tokA", "https://a.example.com/hook")
	hookB = descriptor.Encode("tokA", "https://a.example.com/other")
	hookC = descriptor.Encode("tokC", "https://c.example.com/hook")
)

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	// No configs; Acquire/Release should always succeed.
	if !m.Acquire(hookA) {
		t.Fatal("expected Acquire to succeed for unconfigured queue")
	}
	m.Release(hookA)
}

func TestNewManager_WithConfig(t *testing.T) {
	m := NewManager(Config{Name: hookA, MaxConcurrency: 2})
	if m.ActiveCount(hookA) != 0 {
		t.Fatal("expected 0 active deliveries initially")
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{Name: hookA, MaxConcurrency: 2})

	if !m.Acquire(hookA) {
		t.Fatal("first Acquire should succeed")
	}
	if !m.Acquire(hookA) {
		t.Fatal("second Acquire should succeed")
	}
	if m.Acquire(hookA) {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	m.Release(hookA)
	if !m.Acquire(hookA) {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_AcquireRelease_ActiveCount(t *testing.T) {
	m := NewManager(Config{Name: hookA, MaxConcurrency: 5})

	for i := range 3 {
		if !m.Acquire(hookA) {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	if m.ActiveCount(hookA) != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveCount(hookA))
	}

	m.Release(hookA)
	m.Release(hookA)
	if m.ActiveCount(hookA) != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount(hookA))
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(Config{Name: hookA, RateLimit: 1.0, RateBurst: 1})

	if !m.Acquire(hookA) {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	m.Release(hookA)

	// Immediately after, token bucket is empty.
	if m.Acquire(hookA) {
		t.Fatal("second Acquire should fail (rate limited)")
	}

	time.Sleep(1100 * time.Millisecond)
	if !m.Acquire(hookA) {
		t.Fatal("Acquire should succeed after token refill")
	}
	m.Release(hookA)
}

func TestManager_RateLimit_BurstAllows(t *testing.T) {
	m := NewManager(Config{Name: hookA, RateLimit: 10.0, RateBurst: 3})

	for i := range 3 {
		if !m.Acquire(hookA) {
			t.Fatalf("Acquire %d should succeed (within burst)", i)
		}
		m.Release(hookA)
	}
}

func TestManager_RejectedAcquireKeepsQueueToken(t *testing.T) {
	m := NewManager(Config{Name: hookA, RateLimit: 0.001, RateBurst: 1})
	m.SetTenantConfig(TenantConfig{TenantToken: "tokA", MaxConcurrency: 1})

	// Occupy the tenant slot through a different endpoint.
	if !m.Acquire(hookB) {
		t.Fatal("hookB Acquire should succeed")
	}
	if m.Acquire(hookA) {
		t.Fatal("hookA Acquire should fail on tenant concurrency")
	}
	m.Release(hookB)

	// The queue's single burst token must still be available.
	if !m.Acquire(hookA) {
		t.Fatal("hookA Acquire should succeed once the tenant slot frees")
	}
	m.Release(hookA)
}

// ---------------------------------------------------------------------------
// Per-tenant isolation
// ---------------------------------------------------------------------------

func TestManager_TenantSpansEndpoints(t *testing.T) {
	m := NewManager()
	m.SetTenantConfig(TenantConfig{TenantToken: "tokA", MaxConcurrency: 1})

	if !m.Acquire(hookA) {
		t.Fatal("tokA first Acquire should succeed")
	}
	// Same tenant, different endpoint: blocked.
	if m.Acquire(hookB) {
		t.Fatal("tokA second Acquire should fail (tenant max 1)")
	}
	// Other tenant (no config): still succeeds.
	if !m.Acquire(hookC) {
		t.Fatal("tokC Acquire should succeed (no tenant limit)")
	}

	m.Release(hookA)
	m.Release(hookC)
}

func TestManager_TenantDefault(t *testing.T) {
	m := NewManager()
	m.SetTenantDefault(TenantConfig{MaxConcurrency: 1})
	m.SetTenantConfig(TenantConfig{TenantToken: "tokC", MaxConcurrency: 3})

	if !m.Acquire(hookA) {
		t.Fatal("tokA first Acquire should succeed")
	}
	if m.Acquire(hookB) {
		t.Fatal("tokA should be capped by the default")
	}
	for i := range 3 {
		if !m.Acquire(hookC) {
			t.Fatalf("tokC Acquire %d should succeed under explicit config", i)
		}
	}
	if got := m.TenantActiveCount("tokC"); got != 3 {
		t.Fatalf("expected tokC active 3, got %d", got)
	}
}

func TestManager_TenantActiveCount(t *testing.T) {
	m := NewManager(Config{Name: hookA, MaxConcurrency: 10})
	m.SetTenantConfig(TenantConfig{TenantToken: "tokA", MaxConcurrency: 5})

	m.Acquire(hookA)
	m.Acquire(hookB)

	if got := m.TenantActiveCount("tokA"); got != 2 {
		t.Fatalf("expected tenant active 2, got %d", got)
	}

	m.Release(hookA)
	if got := m.TenantActiveCount("tokA"); got != 1 {
		t.Fatalf("expected tenant active 1, got %d", got)
	}
}

func TestManager_MalformedQueueHasNoTenant(t *testing.T) {
	m := NewManager()
	m.SetTenantDefault(TenantConfig{MaxConcurrency: 1})

	for range 3 {
		if !m.Acquire("not-a-descriptor") {
			t.Fatal("undecodable queue should only see queue-level limits")
		}
	}
}

// ---------------------------------------------------------------------------
// Dynamic reconfiguration
// ---------------------------------------------------------------------------

func TestManager_SetQueueConfig(t *testing.T) {
	m := NewManager(Config{Name: hookA, MaxConcurrency: 1})

	m.Acquire(hookA)
	if m.Acquire(hookA) {
		t.Fatal("should be blocked at concurrency 1")
	}

	m.SetQueueConfig(Config{Name: hookA, MaxConcurrency: 3})

	if !m.Acquire(hookA) {
		t.Fatal("should succeed after raising concurrency")
	}
	if got := m.ActiveCount(hookA); got != 2 {
		t.Fatalf("active count should survive reconfiguration, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(Config{Name: hookA, MaxConcurrency: 50})
	m.SetTenantConfig(TenantConfig{TenantToken: "tokA", MaxConcurrency: 50})

	var acquired atomic.Int64
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire(hookA) {
				acquired.Add(1)
				time.Sleep(time.Millisecond)
				m.Release(hookA)
			}
		}()
	}

	wg.Wait()

	if acquired.Load() == 0 {
		t.Fatal("expected some Acquires to succeed")
	}
	if m.ActiveCount(hookA) != 0 {
		t.Fatalf("expected 0 active after all goroutines, got %d", m.ActiveCount(hookA))
	}
	if m.TenantActiveCount("tokA") != 0 {
		t.Fatalf("expected 0 tenant active, got %d", m.TenantActiveCount("tokA"))
	}
}

func TestManager_ReleaseUnderflow(t *testing.T) {
	m := NewManager(Config{Name: hookA, MaxConcurrency: 5})
	m.SetTenantConfig(TenantConfig{TenantToken: "tokA", MaxConcurrency: 5})

	m.Release(hookA)
	if m.ActiveCount(hookA) != 0 {
		t.Fatal("active count should not go below 0")
	}
	if m.TenantActiveCount("tokA") != 0 {
		t.Fatal("tenant active count should not go below 0")
	}
}
