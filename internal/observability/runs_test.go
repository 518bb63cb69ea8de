package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"clicksync/internal/reconcile"
	"clicksync/internal/store"
)

type memoryHistory struct {
	runs []store.SyncRun
	err  error
}

func (m *memoryHistory) RecordRun(ctx context.Context, run store.SyncRun) error {
	m.runs = append(m.runs, run)
	return m.err
}

func sampleReport() reconcile.Report {
	started := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	return reconcile.Report{
		RunID:      "run-1",
		Job:        "search-terms",
		TargetDate: started,
		Column:     "C",
		Outcomes: []reconcile.WriteOutcome{
			{Key: "alpha", Value: 5, Cell: "C2", Success: true},
			{Key: "beta", Value: 0, Cell: "C3", Success: true},
			{Key: "gamma", Value: 1, Cell: "C4", Err: errors.New("quota")},
		},
		Skipped:    []string{"delta"},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}
}

func TestRecordRunUpdatesSeries(t *testing.T) {
	history := &memoryHistory{}
	o := NewRunObserver("", history)
	o.RecordRun(context.Background(), sampleReport())

	if got := testutil.ToFloat64(o.writes.WithLabelValues("search-terms", "success")); got != 2 {
		t.Fatalf("expected 2 successful writes, got %v", got)
	}
	if got := testutil.ToFloat64(o.writes.WithLabelValues("search-terms", "failure")); got != 1 {
		t.Fatalf("expected 1 failed write, got %v", got)
	}
	if got := testutil.ToFloat64(o.skipped.WithLabelValues("search-terms")); got != 1 {
		t.Fatalf("expected 1 skipped key, got %v", got)
	}
	if got := testutil.ToFloat64(o.duration.WithLabelValues("search-terms")); got != 3 {
		t.Fatalf("expected duration 3s, got %v", got)
	}
	if got := testutil.ToFloat64(o.lastSuccess.WithLabelValues("search-terms")); got != 0 {
		t.Fatalf("a run with failures must not move last success, got %v", got)
	}
	if len(history.runs) != 1 || history.runs[0].Failed != 1 || history.runs[0].Skipped != 1 {
		t.Fatalf("unexpected history: %+v", history.runs)
	}
}

func TestRecordRunAborted(t *testing.T) {
	o := NewRunObserver("", nil)
	o.RecordRun(context.Background(), reconcile.Report{Job: "campaigns", AbortReason: "date column not found"})

	if got := testutil.ToFloat64(o.aborted.WithLabelValues("campaigns")); got != 1 {
		t.Fatalf("expected 1 aborted run, got %v", got)
	}
}

func TestHistoryFailureIsNotFatal(t *testing.T) {
	o := NewRunObserver("", &memoryHistory{err: errors.New("db down")})
	o.RecordRun(context.Background(), sampleReport())
}

func TestNilObserver(t *testing.T) {
	var o *RunObserver
	o.RecordRun(context.Background(), sampleReport())
	o.RecordInserted(3)
	o.RecordCredentialFailure(errors.New("x"))
	if err := o.Push(context.Background()); err != nil {
		t.Fatalf("push on nil observer: %v", err)
	}
}

func TestPush(t *testing.T) {
	var (
		mu     sync.Mutex
		path   string
		body   string
		method string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, method, body = r.URL.Path, r.Method, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := NewRunObserver(srv.URL, nil)
	o.RecordInserted(2)
	if err := o.Push(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/metrics/job/clicksync" {
		t.Fatalf("unexpected push request %s %s", method, path)
	}
	if !strings.Contains(body, "clicksync_keys_inserted_total") {
		t.Fatalf("pushed body lacks inserted counter")
	}
}
