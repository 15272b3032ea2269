package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/store/memory"
)

func gather(t *testing.T, c prometheus.Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

// gaugeValue returns the gauge in mf whose labels include the given pair,
// or the only gauge when label is empty.
func gaugeValue(t *testing.T, mf *dto.MetricFamily, label, value string) float64 {
	t.Helper()
	if mf == nil {
		t.Fatal("metric family missing")
	}
	for _, m := range mf.GetMetric() {
		if label == "" {
			return m.GetGauge().GetValue()
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("%s{%s=%q} not found", mf.GetName(), label, value)
	return 0
}

func TestCollector_ReportsStoreTotals(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()
	q := newTestJob().Queue

	for _, j := range []*job.Job{
		{ID: "a", Queue: q, State: job.StatePending, NotBefore: now},
		{ID: "b", Queue: q, State: job.StatePending, NotBefore: now.Add(time.Hour)},
		{ID: "c", Queue: q, State: job.StateFailed, NotBefore: now},
	} {
		if err := s.InsertJob(ctx, j, false); err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
	}
	if err := s.PushDLQ(ctx, &dlq.Entry{ID: id.NewDLQID(), JobID: "c", Queue: q, FailedAt: now}); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}
	if err := s.RegisterWorker(ctx, &cluster.Worker{ID: id.NewWorkerID(), State: cluster.WorkerActive, LastSeen: now}); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}

	mfs := gather(t, observability.NewCollector(s, time.Second, nil))

	if got := gaugeValue(t, mfs["courier_jobs"], "state", "pending"); got != 2 {
		t.Errorf("pending = %v, want 2", got)
	}
	if got := gaugeValue(t, mfs["courier_jobs"], "state", "failed"); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := gaugeValue(t, mfs["courier_jobs"], "state", "leased"); got != 0 {
		t.Errorf("leased = %v, want 0", got)
	}
	if got := gaugeValue(t, mfs["courier_dlq_entries"], "", ""); got != 1 {
		t.Errorf("dlq = %v, want 1", got)
	}
	if got := gaugeValue(t, mfs["courier_workers"], "state", "active"); got != 1 {
		t.Errorf("active workers = %v, want 1", got)
	}
	if got := gaugeValue(t, mfs["courier_store_up"], "", ""); got != 1 {
		t.Errorf("up = %v, want 1", got)
	}
}

type brokenSource struct{}

func (brokenSource) CountJobs(context.Context, job.CountOpts) (int64, error) {
	return 0, errors.New("connection refused")
}

func (brokenSource) CountDLQ(context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func (brokenSource) ListWorkers(context.Context) ([]*cluster.Worker, error) {
	return nil, errors.New("connection refused")
}

func TestCollector_StoreDown(t *testing.T) {
	mfs := gather(t, observability.NewCollector(brokenSource{}, time.Second, nil))

	if got := gaugeValue(t, mfs["courier_store_up"], "", ""); got != 0 {
		t.Errorf("up = %v, want 0", got)
	}
	if _, ok := mfs["courier_jobs"]; ok {
		t.Error("expected no job gauges when the store is unreachable")
	}
}
