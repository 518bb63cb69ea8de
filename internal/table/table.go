// Package table is the tabular store the sync jobs read keys from and write
// daily totals to.
package table

import (
	"context"
	"fmt"
	"strings"
)

// InputMode selects how written values are interpreted.
type InputMode string

const (
	// UserEntered parses values as if typed into the UI: "12" becomes a number.
	UserEntered InputMode = "USER_ENTERED"
)

// Store reads and writes rectangular ranges. Rows returned by ReadRange are
// ragged: trailing empty cells and trailing empty rows may be omitted.
type Store interface {
	ReadRange(ctx context.Context, ref Range) ([][]string, error)
	WriteRange(ctx context.Context, ref Range, rows [][]any, mode InputMode) error
}

// CellText renders a cell value the way it appears in the sheet.
func CellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// IsBlank reports whether a cell holds nothing but whitespace.
func IsBlank(cell string) bool {
	return strings.TrimSpace(cell) == ""
}
