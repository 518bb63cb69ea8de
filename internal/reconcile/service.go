// Package reconcile writes one day's click totals into the date column of a
// key sheet.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clicksync/internal/analytics"
	"clicksync/internal/catalog"
	"clicksync/internal/config"
	"clicksync/internal/credential"
	"clicksync/internal/datecol"
	"clicksync/internal/logging"
	"clicksync/internal/table"
)

type Settings struct {
	// StartDate is the fixed lower bound of every query window.
	StartDate time.Time
	EventName string
}

type Service struct {
	Table     table.Store
	Analytics analytics.Querier
	Settings  Settings
	Now       func() time.Time
}

// WriteOutcome records what happened to one key in one run.
type WriteOutcome struct {
	Key     string
	Value   int64
	Cell    string
	Success bool
	Err     error
}

type Report struct {
	RunID      string
	Job        string
	TargetDate time.Time
	Column     string
	Outcomes   []WriteOutcome
	// Skipped lists keys whose row could not be found; they are not failures.
	Skipped     []string
	QueryErrors int
	// AbortReason is set when the run stopped before any write.
	AbortReason string
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

func (r Report) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// OK is false when any write failed. An aborted run is still OK.
func (r Report) OK() bool {
	return r.Failed() == 0
}

func NewService(st table.Store, q analytics.Querier, settings Settings) *Service {
	return &Service{
		Table:     st,
		Analytics: q,
		Settings:  settings,
		Now:       time.Now,
	}
}

// RunJob resolves the target date column, loads the job's key catalog and
// reconciles every key. A missing date column ends the run with an abort
// reason and no writes. Read failures and credential failures are returned
// as errors; a credential failure stops the run at the key that hit it.
func (s *Service) RunJob(ctx context.Context, job config.Job, target time.Time) (Report, error) {
	report := s.newReport(job.Name, target)
	log := logging.With().Str("run_id", report.RunID).Str("job", job.Name).Logger()

	col, err := datecol.ResolveInSheet(ctx, s.Table, job.Sheet, target)
	if errors.Is(err, datecol.ErrColumnNotFound) {
		report.AbortReason = err.Error()
		report.FinishedAt = s.now()
		log.Warn().Err(err).Str("date", target.Format(config.DateLayout)).Msg("no column for target date, nothing written")
		return report, nil
	}
	if err != nil {
		return report, err
	}

	cat, err := catalog.Load(ctx, s.Table, job.Sheet, job.KeyColumn, job.FilterColumn)
	if err != nil {
		return report, err
	}

	keys := job.Keys
	if len(keys) == 0 {
		keys = cat.Identifiers()
	}
	log.Info().Str("column", col.Letter).Str("header", col.Header).Int("keys", len(keys)).Msg("reconciling")

	err = s.run(ctx, &report, job, keys, col, cat)
	return report, err
}

func (s *Service) run(ctx context.Context, report *Report, job config.Job, keys []string, col datecol.Column, cat *catalog.Catalog) error {
	report.Column = col.Letter
	log := logging.With().Str("run_id", report.RunID).Str("job", job.Name).Logger()
	defer func() {
		report.FinishedAt = s.now()
		log.Info().
			Int("succeeded", report.Succeeded()).
			Int("failed", report.Failed()).
			Int("skipped", len(report.Skipped)).
			Int("query_errors", report.QueryErrors).
			Msg("run complete")
	}()

	for _, key := range keys {
		value, err := s.total(ctx, job.Dimension, key, report.TargetDate)
		if err != nil {
			if credentialFailure(err) {
				log.Error().Err(err).Str("key", key).Msg("credential lost, stopping run")
				return err
			}
			report.QueryErrors++
			log.Warn().Err(err).Str("key", key).Msg("analytics query failed, counting as zero")
		}
		value += job.Overrides[key]

		row, ok := cat.PositionOf(key)
		if !ok {
			report.Skipped = append(report.Skipped, key)
			log.Warn().Str("key", key).Int64("value", value).Msg("key not found in sheet, skipped")
			continue
		}

		ref := table.Cell(job.Sheet, col.Letter, row)
		outcome := WriteOutcome{Key: key, Value: value, Cell: ref.String()}
		err = s.Table.WriteRange(ctx, ref, [][]any{{value}}, table.UserEntered)
		if err != nil {
			outcome.Err = err
			log.Error().Err(err).Str("key", key).Str("cell", outcome.Cell).Int64("value", value).Str("outcome", "failed").Msg("write failed")
		} else {
			outcome.Success = true
			log.Info().Str("key", key).Str("cell", outcome.Cell).Int64("value", value).Str("outcome", "written").Msg("cell updated")
		}
		report.Outcomes = append(report.Outcomes, outcome)
		if err != nil && credentialFailure(err) {
			log.Error().Err(err).Str("key", key).Msg("credential lost, stopping run")
			return err
		}
	}
	return nil
}

func credentialFailure(err error) bool {
	var authErr *credential.AuthError
	return errors.As(err, &authErr)
}

func (s *Service) total(ctx context.Context, dimension, key string, target time.Time) (int64, error) {
	if s.Analytics == nil {
		return 0, errors.New("no analytics service configured")
	}
	rows, err := s.Analytics.Query(ctx, analytics.Query{
		Dimension: dimension,
		Value:     key,
		EventName: s.Settings.EventName,
		StartDate: s.Settings.StartDate,
		EndDate:   target,
	})
	if err != nil {
		return 0, fmt.Errorf("query %s=%s: %w", dimension, key, err)
	}
	return analytics.Sum(rows), nil
}

func (s *Service) newReport(job string, target time.Time) Report {
	return Report{
		RunID:      uuid.NewString(),
		Job:        job,
		TargetDate: target,
		StartedAt:  s.now(),
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
