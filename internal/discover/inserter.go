// Package discover appends newly found keys to the key sheet without ever
// duplicating an existing one.
package discover

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"clicksync/internal/catalog"
	"clicksync/internal/logging"
	"clicksync/internal/table"
)

// Candidate is a key found outside the sheet together with the two labels
// that go into the columns either side of it.
type Candidate struct {
	Identifier string
	AttrA      string
	AttrC      string
}

type Inserter struct {
	Table     table.Store
	Sheet     string
	KeyColumn string
	// Limiter spaces out consecutive inserts; nil means no pacing.
	Limiter *rate.Limiter
}

func NewInserter(st table.Store, sheet, keyColumn string, minInterval time.Duration) *Inserter {
	if keyColumn == "" {
		keyColumn = "B"
	}
	ins := &Inserter{Table: st, Sheet: sheet, KeyColumn: keyColumn}
	if minInterval > 0 {
		ins.Limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return ins
}

type Result struct {
	Inserted []Candidate
	Existing []string
	Invalid  int
}

// Insert walks candidates in order. Each candidate re-reads the key column so
// rows added by earlier candidates, or by someone editing the sheet, are seen.
// The triple is written to columns A..C of the first blank key row.
func (i *Inserter) Insert(ctx context.Context, candidates []Candidate) (Result, error) {
	var res Result
	for _, cand := range candidates {
		id := strings.TrimSpace(cand.Identifier)
		if id == "" {
			res.Invalid++
			continue
		}

		cat, err := catalog.Load(ctx, i.Table, i.Sheet, i.KeyColumn, "")
		if err != nil {
			return res, fmt.Errorf("read keys before inserting %q: %w", id, err)
		}
		if _, ok := cat.PositionOf(id); ok {
			res.Existing = append(res.Existing, id)
			logging.Debug().Str("key", id).Msg("key already present")
			continue
		}

		if i.Limiter != nil {
			if err := i.Limiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		row := cat.FirstBlankRow()
		ref := table.RowSpan(i.Sheet, "A", "C", row)
		values := [][]any{{cand.AttrA, id, cand.AttrC}}
		if err := i.Table.WriteRange(ctx, ref, values, table.UserEntered); err != nil {
			return res, fmt.Errorf("insert %q at %s: %w", id, ref, err)
		}
		res.Inserted = append(res.Inserted, cand)
		logging.Info().Str("key", id).Str("range", ref.String()).Str("attr_a", cand.AttrA).Str("attr_c", cand.AttrC).Msg("key inserted")
	}
	return res, nil
}
