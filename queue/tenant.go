package queue

// TenantConfig limits deliveries across every endpoint of one tenant.
type TenantConfig struct {
	// TenantToken identifies the tenant. It is matched against the token
	// decoded from each job's queue.
	TenantToken string

	// RateLimit is the sustained deliveries per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous deliveries for this tenant.
	// Zero means no tenant-specific concurrency limit.
	MaxConcurrency int
}

// SetTenantConfig configures limits for one tenant. Calling this multiple
// times for the same tenant replaces the previous configuration.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := newLimitState(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)

	// Preserve current active count if reconfiguring.
	if existing := m.tenants[cfg.TenantToken]; existing != nil {
		ts.active = existing.active
	}
	m.tenants[cfg.TenantToken] = ts
}

// SetTenantDefault applies cfg to every tenant that has no explicit
// configuration. The TenantToken field is ignored. Tenants already seen
// keep the limits they were created with.
func (m *Manager) SetTenantDefault(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenantDefault = &cfg
}

// TenantActiveCount returns the current number of active deliveries for a
// tenant.
func (m *Manager) TenantActiveCount(tenantToken string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantToken]; ts != nil {
		return ts.active
	}
	return 0
}

// tenantState returns the limit state for a tenant, lazily creating it from
// the default. Callers must hold m.mu.
func (m *Manager) tenantState(tenant string) *limitState {
	if tenant == "" {
		return nil
	}
	if ts := m.tenants[tenant]; ts != nil {
		return ts
	}
	if m.tenantDefault == nil {
		return nil
	}
	d := m.tenantDefault
	ts := newLimitState(d.RateLimit, d.RateBurst, d.MaxConcurrency)
	m.tenants[tenant] = ts
	return ts
}
