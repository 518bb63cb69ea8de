package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("missing database dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) LoadCredential(ctx context.Context, slot string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM oauth_credentials WHERE slot = $1`, slot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credential %s: %w", slot, err)
	}
	return payload, nil
}

func (s *Store) SaveCredential(ctx context.Context, slot string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_credentials (slot, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (slot) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, slot, payload)
	if err != nil {
		return fmt.Errorf("save credential %s: %w", slot, err)
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, slot string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_credentials WHERE slot = $1`, slot); err != nil {
		return fmt.Errorf("delete credential %s: %w", slot, err)
	}
	return nil
}

type SyncRun struct {
	ID          string
	Job         string
	TargetDate  time.Time
	Column      string
	Succeeded   int
	Failed      int
	Skipped     int
	AbortReason string
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (s *Store) RecordRun(ctx context.Context, run SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, job, target_date, column_label, succeeded, failed, skipped, abort_reason, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.ID, run.Job, run.TargetDate.Format("2006-01-02"), run.Column, run.Succeeded, run.Failed, run.Skipped, run.AbortReason, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) RecentRuns(ctx context.Context, job string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job, target_date, column_label, succeeded, failed, skipped, abort_reason, started_at, finished_at
		FROM sync_runs
		WHERE job = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, job, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var run SyncRun
		if err := rows.Scan(&run.ID, &run.Job, &run.TargetDate, &run.Column, &run.Succeeded, &run.Failed, &run.Skipped, &run.AbortReason, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
