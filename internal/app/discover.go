package app

import (
	"context"
	"fmt"

	"clicksync/internal/discover"
	"clicksync/internal/logging"
	"clicksync/internal/wiki"
)

// CandidateSource yields keys discovered outside the sheet.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]discover.Candidate, error)
}

func (a *App) WikiSource() *wiki.Source {
	w := a.Config.Discover.Wiki
	return &wiki.Source{
		BaseURL:        w.URL,
		PageID:         w.PageID,
		Username:       w.Username,
		Password:       w.Password,
		CampaignMarker: w.CampaignMarker,
		SourceParam:    w.SourceParam,
	}
}

// Discover appends every candidate from src that the key sheet lacks.
func (a *App) Discover(ctx context.Context, c *Clients, src CandidateSource) (discover.Result, error) {
	candidates, err := src.Candidates(ctx)
	if err != nil {
		return discover.Result{}, fmt.Errorf("collect candidates: %w", err)
	}
	logging.Info().Int("candidates", len(candidates)).Msg("discovered keys")

	d := a.Config.Discover
	ins := discover.NewInserter(c.Table, d.Sheet, d.KeyColumn, d.MinInterval)
	res, err := ins.Insert(ctx, candidates)
	a.Observer.RecordInserted(len(res.Inserted))
	if len(res.Inserted) > 0 {
		a.notifyText(ctx, fmt.Sprintf("[clicksync] discover: %d new keys added, %d already present", len(res.Inserted), len(res.Existing)))
	}
	if perr := a.Observer.Push(ctx); perr != nil {
		logging.Warn().Err(perr).Msg("metrics push failed")
	}
	if err != nil {
		return res, err
	}
	logging.Info().Int("inserted", len(res.Inserted)).Int("existing", len(res.Existing)).Int("invalid", res.Invalid).Msg("discover complete")
	return res, nil
}
