package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron"

	"clicksync/internal/app"
	"clicksync/internal/config"
	"clicksync/internal/credential"
	"clicksync/internal/logging"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitAuth    = 2
	exitConfig  = 3
	defaultPath = "clicksync.yaml"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitConfig
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "sync":
		return syncCmd(ctx, rest)
	case "discover":
		return discoverCmd(ctx, rest)
	case "auth":
		return authCmd(ctx, rest)
	case "doctor":
		return doctorCmd(ctx, rest)
	case "schedule":
		return scheduleCmd(ctx, rest)
	default:
		usage()
		return exitConfig
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: clicksync <sync|discover|auth|doctor|schedule> [-config path]")
}

func newFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := os.Getenv("CS_CONFIG")
	if path == "" {
		path = defaultPath
	}
	configPath := fs.String("config", path, "path to the YAML config file")
	return fs, configPath
}

func setup(ctx context.Context, configPath string) (*app.App, int) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Error().Err(err).Msg("config error")
		return nil, exitConfig
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("setup error")
		return nil, exitConfig
	}
	return a, exitOK
}

func connect(ctx context.Context, a *app.App) (*app.Clients, int) {
	clients, err := a.Connect(ctx)
	if err != nil {
		var authErr *credential.AuthError
		if errors.As(err, &authErr) {
			logging.Error().Err(err).Msg("authentication failed")
			return nil, exitAuth
		}
		logging.Error().Err(err).Msg("client setup failed")
		return nil, exitConfig
	}
	return clients, exitOK
}

func syncCmd(ctx context.Context, args []string) int {
	fs, configPath := newFlags("sync")
	jobs := fs.String("job", "", "comma-separated job names (default: all jobs)")
	date := fs.String("date", "", "target date YYYY-MM-DD (default: today)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	a, code := setup(ctx, *configPath)
	if code != exitOK {
		return code
	}
	defer a.Close()
	if err := a.Config.Validate(); err != nil {
		logging.Error().Err(err).Msg("missing required settings")
		return exitConfig
	}

	target := a.Today()
	if *date != "" {
		loc, _ := a.Config.Location()
		parsed, err := time.ParseInLocation(config.DateLayout, *date, loc)
		if err != nil {
			logging.Error().Err(err).Str("date", *date).Msg("invalid -date")
			return exitConfig
		}
		target = parsed
	}

	clients, code := connect(ctx, a)
	if code != exitOK {
		return code
	}
	return syncOnce(ctx, a, clients, splitNames(*jobs), target)
}

func syncOnce(ctx context.Context, a *app.App, clients *app.Clients, names []string, target time.Time) int {
	reports, err := a.Sync(ctx, clients, names, target)
	code := exitOK
	if err != nil {
		logging.Error().Err(err).Msg("sync incomplete")
		code = exitFailed
	}
	for _, r := range reports {
		if !r.OK() {
			code = exitFailed
		}
		event := logging.Info()
		if r.AbortReason != "" {
			event = logging.Warn().Str("abort_reason", r.AbortReason)
		}
		event.Str("job", r.Job).
			Str("run_id", r.RunID).
			Int("succeeded", r.Succeeded()).
			Int("failed", r.Failed()).
			Int("skipped", len(r.Skipped)).
			Msg("summary")
	}
	var authErr *credential.AuthError
	if errors.As(err, &authErr) {
		return exitAuth
	}
	return code
}

func discoverCmd(ctx context.Context, args []string) int {
	fs, configPath := newFlags("discover")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	a, code := setup(ctx, *configPath)
	if code != exitOK {
		return code
	}
	defer a.Close()
	if a.Config.Sheets.SpreadsheetID == "" {
		logging.Error().Msg("missing sheets.spreadsheet_id (CS_SPREADSHEET_ID)")
		return exitConfig
	}
	if a.Config.Discover.Wiki.URL == "" || a.Config.Discover.Wiki.PageID == "" {
		logging.Error().Msg("missing discover.wiki.url or discover.wiki.page_id (CS_WIKI_URL, CS_WIKI_PAGE_ID)")
		return exitConfig
	}

	clients, code := connect(ctx, a)
	if code != exitOK {
		return code
	}
	res, err := a.Discover(ctx, clients, a.WikiSource())
	if err != nil {
		logging.Error().Err(err).Int("inserted", len(res.Inserted)).Msg("discover failed")
		return exitFailed
	}
	fmt.Printf("inserted %d, already present %d\n", len(res.Inserted), len(res.Existing))
	return exitOK
}

func authCmd(ctx context.Context, args []string) int {
	fs, configPath := newFlags("auth")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	a, code := setup(ctx, *configPath)
	if code != exitOK {
		return code
	}
	defer a.Close()

	cred, err := a.Credentials.Reauthorize(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("authorization failed")
		return exitAuth
	}
	fmt.Printf("authorized; token stored in %s (expires %s)\n", a.Credentials.Slot.Name(), cred.Expiry.Format(time.RFC3339))
	return exitOK
}

func doctorCmd(ctx context.Context, args []string) int {
	fs, configPath := newFlags("doctor")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	a, code := setup(ctx, *configPath)
	if code != exitOK {
		return code
	}
	defer a.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	checks := a.Doctor(checkCtx)
	for _, c := range checks {
		if c.OK {
			fmt.Printf("%s: OK (%s)\n", c.Name, c.Detail)
			continue
		}
		fmt.Printf("%s: FAIL (%s)\n", c.Name, c.Detail)
	}
	if !app.Healthy(checks) {
		return exitFailed
	}
	return exitOK
}

func scheduleCmd(ctx context.Context, args []string) int {
	fs, configPath := newFlags("schedule")
	withDiscover := fs.Bool("discover", false, "also run discover after each sync")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	a, code := setup(ctx, *configPath)
	if code != exitOK {
		return code
	}
	defer a.Close()
	if err := a.Config.Validate(); err != nil {
		logging.Error().Err(err).Msg("missing required settings")
		return exitConfig
	}

	loc, _ := a.Config.Location()
	c := cron.NewWithLocation(loc)
	job := &singleRun{fn: func() {
		clients, code := connect(ctx, a)
		if code != exitOK {
			return
		}
		if code := syncOnce(ctx, a, clients, nil, a.Today()); code != exitOK {
			logging.Warn().Int("code", code).Msg("scheduled sync had failures")
		}
		if *withDiscover && a.Config.Discover.Wiki.URL != "" {
			if _, err := a.Discover(ctx, clients, a.WikiSource()); err != nil {
				logging.Error().Err(err).Msg("scheduled discover failed")
			}
		}
	}}
	if err := c.AddJob(a.Config.Schedule.Cron, job); err != nil {
		logging.Error().Err(err).Str("cron", a.Config.Schedule.Cron).Msg("invalid schedule")
		return exitConfig
	}

	c.Start()
	logging.Info().Str("cron", a.Config.Schedule.Cron).Msg("scheduler started")
	<-ctx.Done()
	c.Stop()
	job.Wait()
	logging.Info().Msg("scheduler stopped")
	return exitOK
}

// singleRun drops a tick while the previous one is still writing, so at most
// one sync touches the sheet at a time.
type singleRun struct {
	mu sync.Mutex
	fn func()
}

func (s *singleRun) Run() {
	if !s.mu.TryLock() {
		logging.Warn().Msg("previous scheduled run still in progress, tick skipped")
		return
	}
	defer s.mu.Unlock()
	s.fn()
}

// Wait blocks until an in-flight run finishes.
func (s *singleRun) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
}

func splitNames(input string) []string {
	var out []string
	for _, part := range strings.Split(input, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
