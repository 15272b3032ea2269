package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/job"
)

// Source is the read side of the store the Collector scrapes.
type Source interface {
	CountJobs(ctx context.Context, opts job.CountOpts) (int64, error)
	CountDLQ(ctx context.Context) (int64, error)
	ListWorkers(ctx context.Context) ([]*cluster.Worker, error)
}

var _ prometheus.Collector = (*Collector)(nil)

// Collector reports store totals as Prometheus gauges. Values are read on
// every scrape, so all instances behind a shared store report the same
// numbers.
type Collector struct {
	source  Source
	timeout time.Duration
	logger  *slog.Logger

	jobs    *prometheus.Desc
	dead    *prometheus.Desc
	workers *prometheus.Desc
	up      *prometheus.Desc
}

// NewCollector returns a Collector over source. Each scrape is bounded by
// timeout.
func NewCollector(source Source, timeout time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		source:  source,
		timeout: timeout,
		logger:  logger,
		jobs: prometheus.NewDesc("courier_jobs",
			"Number of stored jobs by state.", []string{"state"}, nil),
		dead: prometheus.NewDesc("courier_dlq_entries",
			"Number of entries in the dead letter queue.", nil, nil),
		workers: prometheus.NewDesc("courier_workers",
			"Number of registered worker pools by state.", []string{"state"}, nil),
		up: prometheus.NewDesc("courier_store_up",
			"Whether the last scrape could read the store.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
	ch <- c.dead
	ch <- c.workers
	ch <- c.up
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	up := 1.0
	for _, state := range []job.State{job.StatePending, job.StateLeased, job.StateFailed} {
		n, err := c.source.CountJobs(ctx, job.CountOpts{State: state})
		if err != nil {
			c.scrapeFailed("count jobs", err)
			up = 0
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(n), string(state))
	}

	if n, err := c.source.CountDLQ(ctx); err != nil {
		c.scrapeFailed("count dlq", err)
		up = 0
	} else {
		ch <- prometheus.MustNewConstMetric(c.dead, prometheus.GaugeValue, float64(n))
	}

	if ws, err := c.source.ListWorkers(ctx); err != nil {
		c.scrapeFailed("list workers", err)
		up = 0
	} else {
		byState := map[cluster.WorkerState]int{cluster.WorkerActive: 0, cluster.WorkerDraining: 0}
		for _, w := range ws {
			byState[w.State]++
		}
		for state, n := range byState {
			ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(n), string(state))
		}
	}

	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up)
}

func (c *Collector) scrapeFailed(op string, err error) {
	c.logger.Warn("metrics scrape failed", slog.String("op", op), slog.String("error", err.Error()))
}
