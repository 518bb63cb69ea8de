package observability

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"clicksync/internal/logging"
	"clicksync/internal/reconcile"
	"clicksync/internal/store"
)

// History persists a finished run; *store.Store satisfies it.
type History interface {
	RecordRun(ctx context.Context, run store.SyncRun) error
}

// RunObserver turns reconcile reports into log lines, Prometheus series and,
// when configured, a run history row and a pushgateway push.
type RunObserver struct {
	registry *prometheus.Registry

	writes         *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	queryErrors    *prometheus.CounterVec
	aborted        *prometheus.CounterVec
	duration       *prometheus.GaugeVec
	lastSuccess    *prometheus.GaugeVec
	insertedKeys   prometheus.Counter
	credentialErrs prometheus.Counter

	PushURL string
	History History

	mu       sync.Mutex
	failures map[string]int
}

func NewRunObserver(pushURL string, history History) *RunObserver {
	o := &RunObserver{
		registry: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clicksync_cell_writes_total",
			Help: "Cell writes by job and outcome",
		}, []string{"job", "outcome"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clicksync_keys_skipped_total",
			Help: "Keys with no matching row",
		}, []string{"job"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clicksync_query_errors_total",
			Help: "Analytics queries that failed and were counted as zero",
		}, []string{"job"}),
		aborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clicksync_runs_aborted_total",
			Help: "Runs stopped before writing because no date column matched",
		}, []string{"job"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clicksync_run_duration_seconds",
			Help: "Duration of the last run",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clicksync_last_success_timestamp_seconds",
			Help: "Unix time of the last run without write failures",
		}, []string{"job"}),
		insertedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clicksync_keys_inserted_total",
			Help: "Keys appended by discovery",
		}),
		credentialErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clicksync_credential_failures_total",
			Help: "Runs that could not obtain a credential",
		}),
		PushURL:  pushURL,
		History:  history,
		failures: make(map[string]int),
	}
	o.registry.MustRegister(o.writes, o.skipped, o.queryErrors, o.aborted, o.duration, o.lastSuccess, o.insertedKeys, o.credentialErrs)
	return o
}

func (o *RunObserver) Registry() *prometheus.Registry {
	return o.registry
}

func (o *RunObserver) RecordRun(ctx context.Context, report reconcile.Report) {
	if o == nil {
		return
	}
	job := report.Job
	o.writes.WithLabelValues(job, "success").Add(float64(report.Succeeded()))
	o.writes.WithLabelValues(job, "failure").Add(float64(report.Failed()))
	o.skipped.WithLabelValues(job).Add(float64(len(report.Skipped)))
	o.queryErrors.WithLabelValues(job).Add(float64(report.QueryErrors))
	if report.AbortReason != "" {
		o.aborted.WithLabelValues(job).Inc()
	}
	if !report.FinishedAt.IsZero() {
		o.duration.WithLabelValues(job).Set(report.FinishedAt.Sub(report.StartedAt).Seconds())
	}
	if report.OK() && report.AbortReason == "" {
		o.lastSuccess.WithLabelValues(job).Set(float64(report.FinishedAt.Unix()))
	}

	o.mu.Lock()
	if report.OK() {
		o.failures[job] = 0
	} else {
		o.failures[job]++
	}
	streak := o.failures[job]
	o.mu.Unlock()

	if streak >= 3 {
		logging.Error().Str("job", job).Int("consecutive_failed_runs", streak).Msg("sync alert")
	}

	if o.History != nil {
		run := store.SyncRun{
			ID:          report.RunID,
			Job:         job,
			TargetDate:  report.TargetDate,
			Column:      report.Column,
			Succeeded:   report.Succeeded(),
			Failed:      report.Failed(),
			Skipped:     len(report.Skipped),
			AbortReason: report.AbortReason,
			StartedAt:   report.StartedAt,
			FinishedAt:  report.FinishedAt,
		}
		if err := o.History.RecordRun(ctx, run); err != nil {
			logging.Warn().Err(err).Str("run_id", report.RunID).Msg("record run history")
		}
	}
}

func (o *RunObserver) RecordInserted(n int) {
	if o == nil {
		return
	}
	o.insertedKeys.Add(float64(n))
}

func (o *RunObserver) RecordCredentialFailure(err error) {
	if o == nil {
		return
	}
	o.credentialErrs.Inc()
	logging.Error().Err(err).Msg("credential unavailable")
}

// Push sends every series to the pushgateway. Without a URL it does nothing.
func (o *RunObserver) Push(ctx context.Context) error {
	if o == nil || o.PushURL == "" {
		return nil
	}
	if err := push.New(o.PushURL, "clicksync").Gatherer(o.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
