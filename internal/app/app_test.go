package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"

	"clicksync/internal/config"
	"clicksync/internal/credential"
	"clicksync/internal/discover"
)

// fakeGoogle serves the handful of Sheets and GA4 Data API calls a sync makes.
type fakeGoogle struct {
	mu     sync.Mutex
	header []any
	keys   []string
	counts map[string]string
	writes map[string]any
	auth   []string
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")

	const valuesPrefix = "/v4/spreadsheets/sheet-1/values/"
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v4/spreadsheets/sheet-1":
		_ = json.NewEncoder(w).Encode(map[string]any{"properties": map[string]string{"title": "Clicks"}})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, valuesPrefix):
		var values [][]any
		switch strings.TrimPrefix(r.URL.Path, valuesPrefix) {
		case "1:1":
			values = [][]any{f.header}
		case "B:B":
			for _, k := range f.keys {
				values = append(values, []any{k})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": values})
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, valuesPrefix):
		var body struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.writes[strings.TrimPrefix(r.URL.Path, valuesPrefix)] = body.Values[0][0]
		_ = json.NewEncoder(w).Encode(map[string]any{"updatedCells": 1})
	case r.Method == http.MethodPost && r.URL.Path == "/v1beta/properties/123:runReport":
		var req analyticsdata.RunReportRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		value := ""
		for _, expr := range req.DimensionFilter.AndGroup.Expressions {
			if expr.Filter.FieldName != "eventName" {
				value = expr.Filter.StringFilter.Value
			}
		}
		resp := map[string]any{}
		if n, ok := f.counts[value]; ok {
			resp["rows"] = []map[string]any{{
				"dimensionValues": []map[string]string{{"value": value}, {"value": "click"}},
				"metricValues":    []map[string]string{{"value": n}},
			}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	case r.Method == http.MethodGet && r.URL.Path == "/v1beta/properties/123/metadata":
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "properties/123/metadata"})
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Auth.ClientSecretPath = filepath.Join(dir, "missing_client_secret.json")
	cfg.Auth.TokenPath = filepath.Join(dir, "ga_token.json")
	cfg.Auth.NonInteractive = true
	cfg.Sheets.SpreadsheetID = "sheet-1"
	cfg.Analytics.PropertyID = "123"
	cfg.Analytics.Timezone = "UTC"
	job := config.DefaultJob()
	job.Overrides = map[string]int64{"alpha": 1}
	cfg.Jobs = []config.Job{job}
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config, google *fakeGoogle) *App {
	t.Helper()
	srv := httptest.NewServer(google)
	t.Cleanup(srv.Close)

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	a.ClientOptions = []option.ClientOption{option.WithEndpoint(srv.URL + "/")}
	a.Now = func() time.Time { return time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC) }
	return a
}

func seedToken(t *testing.T, a *App) {
	t.Helper()
	data, err := a.Credentials.Codec.Encode(credential.Credential{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}
	if err := a.Credentials.Slot.Save(context.Background(), data); err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

func TestSyncEndToEnd(t *testing.T) {
	google := &fakeGoogle{
		header: []any{"Search Term", "2025-06-01", "2025-06-02"},
		keys:   []string{"Search Term", "alpha", "beta"},
		counts: map[string]string{"alpha": "4"},
		writes: map[string]any{},
	}
	a := newTestApp(t, testConfig(t), google)
	seedToken(t, a)

	ctx := context.Background()
	clients, err := a.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	reports, err := a.Sync(ctx, clients, nil, a.Today())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(reports) != 1 || !reports[0].OK() || reports[0].Succeeded() != 2 {
		t.Fatalf("unexpected reports: %+v", reports)
	}

	google.mu.Lock()
	defer google.mu.Unlock()
	if got := google.writes["C2"]; got != float64(5) {
		t.Fatalf("expected C2=5, got %#v", got)
	}
	if got := google.writes["C3"]; got != float64(0) {
		t.Fatalf("expected C3=0, got %#v", got)
	}
	for _, h := range google.auth {
		if h != "Bearer stored-access" {
			t.Fatalf("unexpected authorization header %q", h)
		}
	}
}

func TestSyncUnknownJob(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeGoogle{writes: map[string]any{}})
	if _, err := a.Sync(context.Background(), &Clients{}, []string{"nope"}, a.Today()); err == nil {
		t.Fatalf("expected unknown job error")
	}
}

func TestConnectWithoutCredentialInCI(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeGoogle{writes: map[string]any{}})

	_, err := a.Connect(context.Background())
	var authErr *credential.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Reason != credential.ReasonInteractiveUnavailable {
		t.Fatalf("unexpected reason %q", authErr.Reason)
	}
}

type staticSource []discover.Candidate

func (s staticSource) Candidates(context.Context) ([]discover.Candidate, error) {
	return s, nil
}

func TestDiscoverAppendsNewKeys(t *testing.T) {
	google := &fakeGoogle{
		keys:   []string{"Keyword", "alpha"},
		writes: map[string]any{},
	}
	cfg := testConfig(t)
	a := newTestApp(t, cfg, google)
	seedToken(t, a)

	ctx := context.Background()
	clients, err := a.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	res, err := a.Discover(ctx, clients, staticSource{{Identifier: "alpha"}, {Identifier: "gamma", AttrA: "Site", AttrC: "Blog"}})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(res.Inserted) != 1 || len(res.Existing) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	google.mu.Lock()
	defer google.mu.Unlock()
	if got := google.writes["A3:C3"]; got != "Site" {
		t.Fatalf("expected A3:C3 written starting with Site, got %#v", got)
	}
}

func TestDoctor(t *testing.T) {
	google := &fakeGoogle{
		header: []any{"Search Term", "2025-06-02"},
		writes: map[string]any{},
	}
	a := newTestApp(t, testConfig(t), google)
	seedToken(t, a)

	checks := a.Doctor(context.Background())
	if !Healthy(checks) {
		t.Fatalf("expected healthy checks, got %+v", checks)
	}
	names := make([]string, len(checks))
	for i, c := range checks {
		names[i] = c.Name
	}
	if got := strings.Join(names, ","); got != "config,credential,spreadsheet,date column search-terms,analytics" {
		t.Fatalf("unexpected checks %s", got)
	}
}

func TestDoctorStopsWithoutCredential(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeGoogle{writes: map[string]any{}})
	checks := a.Doctor(context.Background())
	if Healthy(checks) {
		t.Fatalf("expected a failing credential check")
	}
	last := checks[len(checks)-1]
	if last.Name != "credential" || last.OK {
		t.Fatalf("expected doctor to stop at credential, got %+v", last)
	}
}

func TestUnknownSlot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Slot = "floppy"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown slot")
	}
}

func TestTodayUsesTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analytics.Timezone = "Asia/Seoul"
	a := newTestApp(t, cfg, &fakeGoogle{writes: map[string]any{}})
	a.Now = func() time.Time { return time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC) }
	if got := a.Today().Format("2006-01-02"); got != "2025-06-02" {
		t.Fatalf("expected Seoul date 2025-06-02, got %s", got)
	}
}
