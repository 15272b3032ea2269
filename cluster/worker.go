package cluster

import (
	"time"

	"github.com/xraph/courier/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is polling and delivering.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker stopped claiming and is finishing
	// in-flight deliveries (graceful shutdown).
	WorkerDraining WorkerState = "draining"
)

// Worker represents one running Courier pool.
type Worker struct {
	ID          id.WorkerID `json:"id"`
	Hostname    string      `json:"hostname"`
	Queues      []string    `json:"queues"`
	Concurrency int         `json:"concurrency"`
	State       WorkerState `json:"state"`
	LastSeen    time.Time   `json:"last_seen"`
	CreatedAt   time.Time   `json:"created_at"`
}
