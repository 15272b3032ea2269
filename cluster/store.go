package cluster

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// Store defines the persistence contract for the worker registry.
type Store interface {
	// RegisterWorker adds a worker to the registry, or replaces the record
	// of an already registered one.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker from the registry.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker sets a worker's last-seen timestamp to at. Callers
	// pass their own clock so heartbeats and reaping agree on time.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID, at time.Time) error

	// ListWorkers returns all registered workers.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers removes and returns workers last seen before cutoff.
	ReapDeadWorkers(ctx context.Context, cutoff time.Time) ([]*Worker, error)
}
