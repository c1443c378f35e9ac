package perf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/ispdesk/portal/internal/auth"
	jobmetrics "github.com/ispdesk/portal/internal/jobs"
	"github.com/ispdesk/portal/jobs"
)

// slowRepo answers after a fixed delay and fails every failEvery-th open.
type slowRepo struct {
	mu        sync.Mutex
	delay     time.Duration
	failEvery int
	opens     int
}

func (r *slowRepo) OpenSession(context.Context, auth.SessionRecord) error {
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	if r.failEvery > 0 && r.opens%r.failEvery == 0 {
		return errors.New("connection reset")
	}
	return nil
}

func (r *slowRepo) CloseSession(context.Context, string, time.Time) error {
	time.Sleep(r.delay)
	return nil
}

func (r *slowRepo) PruneSessions(context.Context, time.Time, time.Time) (int64, error) {
	time.Sleep(4 * r.delay)
	return 25, nil
}

func (r *slowRepo) RecentSessions(context.Context, int64, int) ([]auth.SessionRecord, error) {
	return nil, nil
}

func TestSessionAuditThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	repo := &slowRepo{delay: 2 * time.Millisecond, failEvery: 25}
	job := jobs.NewSessionAuditJob(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics, 90*24*time.Hour, 30*24*time.Hour)
	ctx := context.Background()

	for i := 0; i < 75; i++ {
		task, err := jobs.NewSessionOpenTask(auth.SessionRecord{ID: fmt.Sprintf("s-%d", i), UserID: int64(i), OpenedAt: time.Now()})
		if err != nil {
			t.Fatalf("build open task: %v", err)
		}
		_ = job.HandleOpen(ctx, task)

		closeTask, err := jobs.NewSessionCloseTask(fmt.Sprintf("s-%d", i), time.Now())
		if err != nil {
			t.Fatalf("build close task: %v", err)
		}
		if err := job.HandleClose(ctx, closeTask); err != nil {
			t.Fatalf("close session: %v", err)
		}
	}
	if err := job.HandlePrune(ctx, jobs.NewSessionPruneTask()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "portal_jobs_total", map[string]string{"job": jobs.TaskSessionOpen, "status": "success"})
	failure := metricValue(t, families, "portal_jobs_total", map[string]string{"job": jobs.TaskSessionOpen, "status": "failure"})
	if failure != 3 {
		t.Fatalf("expected 3 failed opens, got %f", failure)
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("open success ratio too low: %f", ratio)
	}
	if pruned := metricValue(t, families, "portal_sessions_pruned_total", nil); pruned != 25 {
		t.Fatalf("expected 25 pruned rows, got %f", pruned)
	}

	if mean := histogramMean(t, families, "portal_job_duration_seconds", map[string]string{"job": jobs.TaskSessionOpen}); mean > 0.5 {
		t.Fatalf("open duration above budget: %f", mean)
	}
	if mean := histogramMean(t, families, "portal_job_duration_seconds", map[string]string{"job": jobs.TaskSessionPrune}); mean > 2.0 {
		t.Fatalf("prune duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; !ok || lp.GetValue() != val {
			return false
		}
	}
	return true
}
