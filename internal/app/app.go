package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"clicksync/internal/analytics"
	"clicksync/internal/config"
	"clicksync/internal/credential"
	"clicksync/internal/logging"
	"clicksync/internal/notify"
	"clicksync/internal/observability"
	"clicksync/internal/reconcile"
	"clicksync/internal/store"
	"clicksync/internal/table"
)

type App struct {
	Config      config.Config
	Store       *store.Store
	Credentials *credential.Store
	Observer    *observability.RunObserver
	Notifier    notify.Notifier

	// ClientOptions are appended when building the Google API services.
	ClientOptions []option.ClientOption
	Now           func() time.Time

	closers []func() error
}

// Clients are the remote services, built from one acquired credential.
type Clients struct {
	Sheets    *table.Sheets
	Table     table.Store
	Analytics *analytics.GA4
}

// New wires everything that does not need a credential. Nothing remote is
// contacted except the database or redis backing the credential slot.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg, Now: time.Now}

	if cfg.Database.DSN != "" {
		st, err := store.Open(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		if err := store.Migrate(ctx, st.DB()); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.Store = st
	}

	slot, err := a.openSlot()
	if err != nil {
		a.Close()
		return nil, err
	}

	sealKey, err := credential.ParseSealKey(cfg.Auth.SealKey)
	if err != nil {
		a.Close()
		return nil, err
	}
	codec, err := credential.NewCodec(sealKey)
	if err != nil {
		a.Close()
		return nil, err
	}

	creds := &credential.Store{
		Slot:           slot,
		Codec:          codec,
		Interactive:    cfg.Interactive(),
		RefreshRetries: cfg.Auth.RefreshRetries,
	}
	oauthConf, err := credential.LoadClientConfig(cfg.Auth.ClientSecretPath, cfg.Auth.Scopes)
	if err != nil {
		// A stored, still valid token is usable without the client secret.
		logging.Warn().Err(err).Msg("client secret unavailable, refresh and reauthorization disabled")
	} else {
		creds.Refresher = credential.OAuthRefresher{Config: oauthConf}
		creds.Authorizer = &credential.LoopbackAuthorizer{Config: oauthConf, Addr: cfg.Auth.CallbackAddr}
	}
	a.Credentials = creds

	var history observability.History
	if a.Store != nil {
		history = a.Store
	}
	a.Observer = observability.NewRunObserver(cfg.Metrics.PushgatewayURL, history)

	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			logging.Warn().Err(err).Msg("telegram notifications disabled")
		} else {
			a.Notifier = tg
		}
	}
	return a, nil
}

func (a *App) openSlot() (credential.Slot, error) {
	cfg := a.Config
	switch cfg.Auth.Slot {
	case "", config.SlotFile:
		return credential.FileSlot{Path: cfg.Auth.TokenPath}, nil
	case config.SlotPostgres:
		if a.Store == nil {
			return nil, errors.New("postgres credential slot needs database.dsn")
		}
		return credential.PostgresSlot{Store: a.Store, Key: cfg.Auth.SlotKey}, nil
	case config.SlotRedis:
		slot, err := credential.NewRedisSlot(cfg.Redis.URL, cfg.Auth.SlotKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, slot.Close)
		return slot, nil
	default:
		return nil, fmt.Errorf("unknown credential slot %q", cfg.Auth.Slot)
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Connect acquires a credential and builds the Sheets and Analytics clients
// on top of it.
func (a *App) Connect(ctx context.Context) (*Clients, error) {
	cred, err := a.Credentials.Acquire(ctx)
	if err != nil {
		a.Observer.RecordCredentialFailure(err)
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithTokenSource(a.Credentials.TokenSource(ctx, cred))}, a.ClientOptions...)

	sheetsSvc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	gaSvc, err := analyticsdata.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("analytics client: %w", err)
	}

	c := &Clients{
		Sheets:    table.NewSheets(sheetsSvc, a.Config.Sheets.SpreadsheetID),
		Analytics: analytics.NewGA4(gaSvc, a.Config.Analytics.PropertyID, a.Config.Analytics.RowLimit),
	}
	c.Table = c.Sheets
	if b := a.Config.Sheets.Breaker; b.Enabled {
		c.Table = table.NewBreaker(c.Sheets, b.MaxFailures, b.OpenTimeout)
	}
	return c, nil
}

// Today is the current calendar date in the configured timezone.
func (a *App) Today() time.Time {
	now := a.now()
	if loc, err := a.Config.Location(); err == nil {
		now = now.In(loc)
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func (a *App) Reconciler(c *Clients) (*reconcile.Service, error) {
	start, err := time.Parse(config.DateLayout, a.Config.Analytics.StartDate)
	if err != nil {
		return nil, fmt.Errorf("analytics start date: %w", err)
	}
	svc := reconcile.NewService(c.Table, c.Analytics, reconcile.Settings{
		StartDate: start,
		EventName: a.Config.Analytics.EventName,
	})
	svc.Now = a.now
	return svc, nil
}

// Sync runs the named jobs, or every configured job when names is empty, for
// target. Every job runs even if an earlier one fails; the returned error
// joins the jobs that could not run at all.
func (a *App) Sync(ctx context.Context, c *Clients, names []string, target time.Time) ([]reconcile.Report, error) {
	jobs, err := a.selectJobs(names)
	if err != nil {
		return nil, err
	}
	svc, err := a.Reconciler(c)
	if err != nil {
		return nil, err
	}

	var (
		reports []reconcile.Report
		errs    []error
	)
	for _, job := range jobs {
		report, err := svc.RunJob(ctx, job, target)
		var authErr *credential.AuthError
		if errors.As(err, &authErr) {
			logging.Error().Err(err).Str("job", job.Name).Msg("credential lost, remaining jobs skipped")
			a.Observer.RecordCredentialFailure(err)
			a.Observer.RecordRun(ctx, report)
			a.notifyRun(ctx, report)
			reports = append(reports, report)
			errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
			break
		}
		if err != nil {
			logging.Error().Err(err).Str("job", job.Name).Msg("job failed")
			errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
			a.notifyText(ctx, fmt.Sprintf("[clicksync] %s %s ERROR\n%v", job.Name, target.Format(config.DateLayout), err))
			continue
		}
		a.Observer.RecordRun(ctx, report)
		a.notifyRun(ctx, report)
		reports = append(reports, report)
	}
	if err := a.Observer.Push(ctx); err != nil {
		logging.Warn().Err(err).Msg("metrics push failed")
	}
	return reports, errors.Join(errs...)
}

func (a *App) selectJobs(names []string) ([]config.Job, error) {
	if len(names) == 0 {
		return a.Config.Jobs, nil
	}
	jobs := make([]config.Job, 0, len(names))
	for _, name := range names {
		job, ok := a.Config.Job(name)
		if !ok {
			return nil, fmt.Errorf("unknown job %q", name)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (a *App) notifyRun(ctx context.Context, report reconcile.Report) {
	if a.Notifier == nil {
		return
	}
	if err := a.Notifier.NotifyRun(ctx, report); err != nil {
		logging.Warn().Err(err).Msg("notify run")
	}
}

func (a *App) notifyText(ctx context.Context, text string) {
	if a.Notifier == nil {
		return
	}
	if err := a.Notifier.NotifyText(ctx, text); err != nil {
		logging.Warn().Err(err).Msg("notify")
	}
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
