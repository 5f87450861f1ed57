package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/metric"

	"github.com/supplychain/backend/internal/domain/integration"
)

// MeterName scopes the sync instruments
const MeterName = "github.com/supplychain/backend/sync"

// SyncMetrics records sync runs, per-record outcomes and connected integrations.
type SyncMetrics struct {
	runs      *Counter
	records   *Counter
	failures  *Counter
	duration  *Histogram
	connected *UpDownCounter
}

// NewSyncMetrics creates the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	runs, err := NewCounter(meter, "sync_runs_total", "Completed sync runs by integration type and status", "{run}")
	if err != nil {
		return nil, err
	}
	records, err := NewCounter(meter, "sync_records_total", "Synced records by integration type, kind and outcome", "{record}")
	if err != nil {
		return nil, err
	}
	failures, err := NewCounter(meter, "sync_failures_total", "Records that failed to sync by integration type and kind", "{record}")
	if err != nil {
		return nil, err
	}
	duration, err := NewHistogram(meter, HistogramOpts{
		Name:        "sync_run_duration_seconds",
		Description: "Sync run latency",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	connected, err := NewUpDownCounter(meter, "integrations_connected", "Integrations currently connected", "{integration}")
	if err != nil {
		return nil, err
	}
	return &SyncMetrics{
		runs:      runs,
		records:   records,
		failures:  failures,
		duration:  duration,
		connected: connected,
	}, nil
}

// RecordRun counts a finished run and the outcomes of each of its kinds
func (m *SyncMetrics) RecordRun(ctx context.Context, run *integration.SyncRun) {
	if run == nil {
		return
	}
	typ := AttrIntegrationType.String(string(run.IntegrationType))
	m.runs.Inc(ctx, typ, AttrStatus.String(string(run.Status)), AttrTrigger.String(string(run.Trigger)))
	m.duration.RecordDuration(ctx, run.Duration(), typ)

	for _, res := range run.Results {
		kind := AttrRecordKind.String(string(res.Kind))
		for outcome, n := range outcomeCounts(res) {
			m.records.Add(ctx, int64(n), typ, kind, AttrOutcome.String(outcome))
		}
		m.failures.Add(ctx, int64(res.Failed), typ, kind)
	}
}

// ConnectionChanged moves the connected gauge for an integration type by delta
func (m *SyncMetrics) ConnectionChanged(ctx context.Context, t integration.IntegrationType, delta int64) {
	if delta == 0 {
		return
	}
	m.connected.Add(ctx, delta, AttrIntegrationType.String(string(t)))
}

func outcomeCounts(res *integration.SyncResult) map[string]int {
	return map[string]int{
		strings.ToLower(string(integration.UpsertCreated)):   res.Created,
		strings.ToLower(string(integration.UpsertUpdated)):   res.Updated,
		strings.ToLower(string(integration.UpsertUnchanged)): res.Unchanged,
		strings.ToLower(string(integration.UpsertStale)):     res.Skipped,
		"pushed": res.Pushed,
		"failed": res.Failed,
	}
}
