package app

import (
	"context"
	"errors"
	"fmt"

	"clicksync/internal/credential"
	"clicksync/internal/datecol"
)

type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Doctor probes every dependency a sync needs and reports each one. It stops
// early only when no credential can be obtained.
func (a *App) Doctor(ctx context.Context) []Check {
	var checks []Check
	add := func(name string, err error, detail string) {
		c := Check{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			c.Detail = err.Error()
		}
		checks = append(checks, c)
	}

	add("config", a.Config.Validate(), "valid")

	if a.Store != nil {
		add("database", a.Store.Ping(ctx), "reachable")
	}
	if slot, ok := a.Credentials.Slot.(*credential.RedisSlot); ok {
		add("redis", slot.Client.Ping(ctx).Err(), "reachable")
	}

	c, err := a.Connect(ctx)
	add("credential", err, "acquired from "+a.Credentials.Slot.Name())
	if err != nil {
		return checks
	}

	title, err := c.Sheets.Title(ctx)
	add("spreadsheet", err, fmt.Sprintf("%q", title))

	today := a.Today()
	for _, job := range a.Config.Jobs {
		col, err := datecol.ResolveInSheet(ctx, c.Table, job.Sheet, today)
		switch {
		case errors.Is(err, datecol.ErrColumnNotFound):
			// Not fatal for a sync, but worth surfacing.
			checks = append(checks, Check{Name: "date column " + job.Name, OK: true, Detail: "no column for " + today.Format("2006-01-02") + " yet"})
		default:
			add("date column "+job.Name, err, col.Letter+" ("+col.Header+")")
		}
	}

	add("analytics", c.Analytics.Ping(ctx), "property "+a.Config.Analytics.PropertyID)
	return checks
}

// Healthy is true when every check passed.
func Healthy(checks []Check) bool {
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}
