package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/gorm"
)

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	have := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		have[pair.GetName()] = pair.GetValue()
	}
	for k, v := range labels {
		if have[k] != v {
			return false
		}
	}
	return true
}

func TestSchedulerMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newSchedulerMetrics(reg, Config{ServiceName: "paycore", Environment: "test"})

	m.IncJobRun("payout_worker")
	m.IncJobRun("payout_worker")
	m.ObserveJobDuration("payout_worker", 120*time.Millisecond)
	m.IncJobTimeout("reconcile")
	m.IncJobError("reconcile", context.DeadlineExceeded)
	m.AddBatchProcessed("payout_worker", "payout_jobs", 7)
	m.AddBatchProcessed("payout_worker", "payout_jobs", 0)
	m.ObserveRunLoopLag(-time.Second)

	if got := gatherCounter(t, reg, "paycore_scheduler_job_runs_total", map[string]string{"job": "payout_worker"}); got != 2 {
		t.Fatalf("expected 2 job runs, got %v", got)
	}
	if got := gatherCounter(t, reg, "paycore_scheduler_job_timeouts_total", map[string]string{"job": "reconcile"}); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}
	if got := gatherCounter(t, reg, "paycore_scheduler_job_errors_total", map[string]string{
		"job":    "reconcile",
		"reason": SchedulerJobReasonDeadlineExceeded,
	}); got != 1 {
		t.Fatalf("expected 1 classified error, got %v", got)
	}
	if got := gatherCounter(t, reg, "paycore_scheduler_batch_processed_total", map[string]string{
		"job":      "payout_worker",
		"resource": "payout_jobs",
	}); got != 7 {
		t.Fatalf("expected 7 processed, got %v", got)
	}
}

func TestSchedulerMetricsNilReceiver(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun("payout_worker")
	m.ObserveJobDuration("payout_worker", time.Second)
	m.IncJobTimeout("payout_worker")
	m.IncJobError("payout_worker", errors.New("boom"))
	m.AddBatchProcessed("payout_worker", "payout_jobs", 1)
	m.ObserveRunLoopLag(time.Second)
}

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, SchedulerJobReasonUnknown},
		{context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded},
		{context.Canceled, SchedulerJobReasonDeadlineExceeded},
		{gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation},
		{fmt.Errorf("insert failed (SQLSTATE 23505)"), SchedulerJobReasonUniqueViolation},
		{fmt.Errorf("lock timeout (SQLSTATE 55P03)"), SchedulerJobReasonDBLockTimeout},
		{gorm.ErrInvalidTransaction, SchedulerJobReasonDB},
		{errors.New("provider api down"), SchedulerJobReasonUnknown},
	}
	for _, tc := range cases {
		if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
			t.Fatalf("ClassifySchedulerJobReason(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded must be retryable")
	}
	if !IsSchedulerErrorRetryable(gorm.ErrInvalidTransaction) {
		t.Fatalf("db errors must be retryable")
	}
	if IsSchedulerErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatalf("record not found is not retryable")
	}
	if IsSchedulerErrorRetryable(nil) {
		t.Fatalf("nil error is not retryable")
	}
}
