package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"
)

func newTestGA4(t *testing.T, handler http.HandlerFunc) *GA4 {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc, err := analyticsdata.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("analytics service: %v", err)
	}
	return NewGA4(svc, "464149233", 0)
}

func TestQueryBuildsExactAndFilterAndSumsRows(t *testing.T) {
	var (
		path string
		req  analyticsdata.RunReportRequest
	)
	ga := newTestGA4(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rows":[
			{"dimensionValues":[{"value":"alpha"},{"value":"click"}],"metricValues":[{"value":"3"}]},
			{"dimensionValues":[{"value":"alpha"},{"value":"click"}],"metricValues":[{"value":"1"}]},
			{"dimensionValues":[{"value":"alpha"},{"value":"click"}],"metricValues":[{"value":"n/a"}]}
		]}`))
	})

	rows, err := ga.Query(context.Background(), Query{
		Dimension: "sessionSource",
		Value:     "alpha",
		EventName: "click",
		StartDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if path != "/v1beta/properties/464149233:runReport" {
		t.Fatalf("unexpected path %q", path)
	}
	if got := Sum(rows); got != 4 {
		t.Fatalf("expected sum 4, got %d", got)
	}
	if req.Limit != 1000 {
		t.Fatalf("expected default limit 1000, got %d", req.Limit)
	}
	if len(req.DateRanges) != 1 || req.DateRanges[0].StartDate != "2025-02-01" || req.DateRanges[0].EndDate != "2025-06-02" {
		t.Fatalf("unexpected date ranges %+v", req.DateRanges)
	}
	if len(req.Dimensions) != 2 || req.Dimensions[0].Name != "sessionSource" || req.Dimensions[1].Name != "eventName" {
		t.Fatalf("unexpected dimensions %+v", req.Dimensions)
	}
	exprs := req.DimensionFilter.AndGroup.Expressions
	if len(exprs) != 2 {
		t.Fatalf("expected two AND expressions, got %d", len(exprs))
	}
	if exprs[0].Filter.FieldName != "eventName" || exprs[0].Filter.StringFilter.Value != "click" {
		t.Fatalf("unexpected event filter %+v", exprs[0].Filter)
	}
	if exprs[1].Filter.FieldName != "sessionSource" || exprs[1].Filter.StringFilter.Value != "alpha" || exprs[1].Filter.StringFilter.MatchType != "EXACT" {
		t.Fatalf("unexpected key filter %+v", exprs[1].Filter)
	}
}

func TestQueryEmptyReport(t *testing.T) {
	ga := newTestGA4(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rowCount":0}`))
	})
	rows, err := ga.Query(context.Background(), Query{Dimension: "sessionSource", Value: "beta", EventName: "click"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 0 || Sum(rows) != 0 {
		t.Fatalf("expected no rows, got %+v", rows)
	}
}

func TestQueryError(t *testing.T) {
	ga := newTestGA4(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
	})
	if _, err := ga.Query(context.Background(), Query{Dimension: "sessionSource", Value: "beta", EventName: "click"}); err == nil {
		t.Fatalf("expected error")
	}
}
