// Package datecol locates the header column that holds a given day's values.
package datecol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clicksync/internal/table"
)

var ErrColumnNotFound = errors.New("date column not found")

// Column is the header cell chosen for the target date.
type Column struct {
	Letter      string
	Index       int
	Header      string
	MatchedDate time.Time
}

// Renderings are the accepted textual forms of a date in a header cell, in the
// order they are tried.
var Renderings = []func(time.Time) string{
	func(d time.Time) string { return d.Format("2006-01-02") },
	func(d time.Time) string { return d.Format("01/02") },
	func(d time.Time) string { return d.Format("2006.01.02") },
}

// Candidates returns every rendering of d.
func Candidates(d time.Time) []string {
	out := make([]string, len(Renderings))
	for i, render := range Renderings {
		out[i] = render(d)
	}
	return out
}

// Resolve returns the leftmost non-empty header cell containing any rendering
// of target. Matching is substring containment on the trimmed cell text.
func Resolve(header []string, target time.Time) (Column, bool) {
	candidates := Candidates(target)
	for i, cell := range header {
		text := strings.TrimSpace(cell)
		if text == "" {
			continue
		}
		for _, candidate := range candidates {
			if strings.Contains(text, candidate) {
				return Column{
					Letter:      table.ColumnLabel(i + 1),
					Index:       i + 1,
					Header:      text,
					MatchedDate: target,
				}, true
			}
		}
	}
	return Column{}, false
}

// ResolveInSheet reads row 1 of sheet and resolves target against it. A missing
// header row or an unmatched date yields ErrColumnNotFound.
func ResolveInSheet(ctx context.Context, st table.Store, sheet string, target time.Time) (Column, error) {
	rows, err := st.ReadRange(ctx, table.Row(sheet, 1))
	if err != nil {
		return Column{}, fmt.Errorf("read header row: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Column{}, fmt.Errorf("%w: header row is empty", ErrColumnNotFound)
	}
	col, ok := Resolve(rows[0], target)
	if !ok {
		return Column{}, fmt.Errorf("%w: no header cell matches %s", ErrColumnNotFound, target.Format("2006-01-02"))
	}
	return col, nil
}
