// Package catalog reads the ordered list of reconciliation keys from a key
// column and answers where each key lives.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"clicksync/internal/table"
)

// Key is one reconciliation key. Row is 1-based and only valid for the run
// that loaded it.
type Key struct {
	Identifier string
	Row        int
	// Attribute is the trimmed filter-column value when the catalog was loaded
	// with a filter column.
	Attribute string
}

// Catalog is a snapshot of one key column. Row 1 is always the header.
type Catalog struct {
	cells []string
	keys  []Key
}

// Load reads the key column of sheet. When filterColumn is set only rows with a
// non-blank cell in that column become keys; PositionOf still sees every row.
func Load(ctx context.Context, st table.Store, sheet, keyColumn, filterColumn string) (*Catalog, error) {
	keyIdx := table.ColumnIndex(keyColumn)
	if keyIdx == 0 {
		return nil, fmt.Errorf("%w: key column %q", table.ErrInvalidRange, keyColumn)
	}
	filterIdx := 0
	if filterColumn != "" {
		filterIdx = table.ColumnIndex(filterColumn)
		if filterIdx == 0 {
			return nil, fmt.Errorf("%w: filter column %q", table.ErrInvalidRange, filterColumn)
		}
	}

	first, last := keyIdx, keyIdx
	if filterIdx != 0 {
		first, last = min(keyIdx, filterIdx), max(keyIdx, filterIdx)
	}
	rows, err := st.ReadRange(ctx, table.Columns(sheet, table.ColumnLabel(first), table.ColumnLabel(last)))
	if err != nil {
		return nil, fmt.Errorf("read key column %s: %w", keyColumn, err)
	}

	c := &Catalog{cells: make([]string, len(rows))}
	for i, row := range rows {
		c.cells[i] = cellAt(row, keyIdx-first)
		if i == 0 {
			continue
		}
		id := strings.TrimSpace(c.cells[i])
		if id == "" {
			continue
		}
		key := Key{Identifier: id, Row: i + 1}
		if filterIdx != 0 {
			key.Attribute = strings.TrimSpace(cellAt(row, filterIdx-first))
			if key.Attribute == "" {
				continue
			}
		}
		c.keys = append(c.keys, key)
	}
	return c, nil
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// Keys returns the keys in row order, header and blanks excluded.
func (c *Catalog) Keys() []Key {
	return append([]Key(nil), c.keys...)
}

// Identifiers returns the key identifiers in row order.
func (c *Catalog) Identifiers() []string {
	out := make([]string, len(c.keys))
	for i, key := range c.keys {
		out[i] = key.Identifier
	}
	return out
}

// PositionOf returns the first data row whose trimmed cell equals the trimmed
// identifier. Matching is case-sensitive.
func (c *Catalog) PositionOf(identifier string) (int, bool) {
	want := strings.TrimSpace(identifier)
	if want == "" {
		return 0, false
	}
	for i := 1; i < len(c.cells); i++ {
		if strings.TrimSpace(c.cells[i]) == want {
			return i + 1, true
		}
	}
	return 0, false
}

// FirstBlankRow returns the first row at or below 2 whose cell is blank, or the
// row after the last one read.
func (c *Catalog) FirstBlankRow() int {
	for i := 1; i < len(c.cells); i++ {
		if table.IsBlank(c.cells[i]) {
			return i + 1
		}
	}
	return max(len(c.cells), 1) + 1
}
