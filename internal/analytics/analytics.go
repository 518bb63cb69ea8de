// Package analytics queries event counts from the GA4 Data API.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	analyticsdata "google.golang.org/api/analyticsdata/v1beta"

	"clicksync/internal/logging"
)

const dateLayout = "2006-01-02"

// Query asks for the event count of one dimension value over a date range.
type Query struct {
	// Dimension is the GA4 dimension the key is matched against, e.g.
	// sessionSource, sessionSourceMedium or sessionCampaignName.
	Dimension string
	Value     string
	EventName string
	StartDate time.Time
	EndDate   time.Time
}

// Row is one breakdown row of a report.
type Row struct {
	DimensionValues []string
	EventCount      int64
}

// Querier is the metrics service the reconciliation engine depends on.
type Querier interface {
	Query(ctx context.Context, q Query) ([]Row, error)
}

// Sum adds the event counts of every row.
func Sum(rows []Row) int64 {
	var total int64
	for _, row := range rows {
		total += row.EventCount
	}
	return total
}

type GA4 struct {
	svc        *analyticsdata.Service
	propertyID string
	rowLimit   int64
}

func NewGA4(svc *analyticsdata.Service, propertyID string, rowLimit int64) *GA4 {
	if rowLimit <= 0 {
		rowLimit = 1000
	}
	return &GA4{svc: svc, propertyID: propertyID, rowLimit: rowLimit}
}

// Query runs a report with metric eventCount broken down by the query's
// dimension and eventName, filtered by both values with exact matching.
func (g *GA4) Query(ctx context.Context, q Query) ([]Row, error) {
	req := &analyticsdata.RunReportRequest{
		DateRanges: []*analyticsdata.DateRange{{
			StartDate: q.StartDate.Format(dateLayout),
			EndDate:   q.EndDate.Format(dateLayout),
		}},
		Metrics: []*analyticsdata.Metric{{Name: "eventCount"}},
		Dimensions: []*analyticsdata.Dimension{
			{Name: q.Dimension},
			{Name: "eventName"},
		},
		DimensionFilter: &analyticsdata.FilterExpression{
			AndGroup: &analyticsdata.FilterExpressionList{
				Expressions: []*analyticsdata.FilterExpression{
					exactFilter("eventName", q.EventName),
					exactFilter(q.Dimension, q.Value),
				},
			},
		},
		Limit: g.rowLimit,
	}

	resp, err := g.svc.Properties.RunReport("properties/"+g.propertyID, req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("run report for %q: %w", q.Value, err)
	}

	rows := make([]Row, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		if len(r.MetricValues) == 0 {
			continue
		}
		count, err := strconv.ParseInt(r.MetricValues[0].Value, 10, 64)
		if err != nil {
			logging.Warn().Str("value", r.MetricValues[0].Value).Err(err).Msg("skipping unparsable eventCount")
			continue
		}
		row := Row{EventCount: count}
		for _, dv := range r.DimensionValues {
			row.DimensionValues = append(row.DimensionValues, dv.Value)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Ping runs an empty-range metadata lookup to confirm the property is reachable.
func (g *GA4) Ping(ctx context.Context) error {
	_, err := g.svc.Properties.GetMetadata("properties/" + g.propertyID + "/metadata").Context(ctx).Do()
	return err
}

func exactFilter(field, value string) *analyticsdata.FilterExpression {
	return &analyticsdata.FilterExpression{
		Filter: &analyticsdata.Filter{
			FieldName: field,
			StringFilter: &analyticsdata.StringFilter{
				MatchType: "EXACT",
				Value:     value,
			},
		},
	}
}
