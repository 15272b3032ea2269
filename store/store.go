// Package store defines the aggregate persistence interface. Each subsystem
// (job, dlq, cluster) defines its own store interface. The composite Store
// composes them all. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/job"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem store.
type Store interface {
	job.Store
	dlq.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close() error
}
