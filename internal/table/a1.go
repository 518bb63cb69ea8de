package table

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidRange = errors.New("invalid range")

// ColumnLabel converts a 1-based column index to its bijective base-26 label:
// 1 is A, 26 is Z, 27 is AA, 702 is ZZ, 703 is AAA.
func ColumnLabel(index int) string {
	if index < 1 {
		return ""
	}
	var buf []byte
	for index > 0 {
		index--
		buf = append(buf, byte('A'+index%26))
		index /= 26
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// ColumnIndex is the inverse of ColumnLabel. It returns 0 for anything that is
// not a run of ASCII letters.
func ColumnIndex(label string) int {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return 0
	}
	index := 0
	for _, r := range label {
		if r < 'A' || r > 'Z' {
			return 0
		}
		index = index*26 + int(r-'A'+1)
	}
	return index
}

// Range is a rectangular A1 reference. Zero bounds are open: a range with no
// rows set covers whole columns and one with no columns set covers whole rows.
type Range struct {
	Sheet    string
	StartCol int
	EndCol   int
	StartRow int
	EndRow   int
}

// Columns addresses whole columns, e.g. B:B or B:E.
func Columns(sheet, from, to string) Range {
	return Range{Sheet: sheet, StartCol: ColumnIndex(from), EndCol: ColumnIndex(to)}
}

// Row addresses a whole row, e.g. 1:1.
func Row(sheet string, row int) Range {
	return Range{Sheet: sheet, StartRow: row, EndRow: row}
}

func Cell(sheet, column string, row int) Range {
	col := ColumnIndex(column)
	return Range{Sheet: sheet, StartCol: col, EndCol: col, StartRow: row, EndRow: row}
}

// RowSpan addresses columns from..to within one row, e.g. A5:C5.
func RowSpan(sheet, from, to string, row int) Range {
	return Range{Sheet: sheet, StartCol: ColumnIndex(from), EndCol: ColumnIndex(to), StartRow: row, EndRow: row}
}

func (r Range) String() string {
	start := corner(r.StartCol, r.StartRow)
	end := corner(r.EndCol, r.EndRow)
	ref := start
	if end != start || r.StartCol == 0 || r.StartRow == 0 {
		ref = start + ":" + end
	}
	if r.Sheet == "" {
		return ref
	}
	return quoteSheet(r.Sheet) + "!" + ref
}

func corner(col, row int) string {
	var b strings.Builder
	b.WriteString(ColumnLabel(col))
	if row > 0 {
		b.WriteString(strconv.Itoa(row))
	}
	return b.String()
}

func quoteSheet(name string) string {
	if strings.ContainsAny(name, " '!:") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}

// ParseRange reads an A1 reference such as "Sheet1!B:B", "'My Tab'!A5:C5",
// "1:1" or "C2".
func ParseRange(ref string) (Range, error) {
	var r Range
	body := ref
	if idx := strings.LastIndex(ref, "!"); idx >= 0 {
		r.Sheet = strings.TrimSpace(ref[:idx])
		if strings.HasPrefix(r.Sheet, "'") && strings.HasSuffix(r.Sheet, "'") && len(r.Sheet) >= 2 {
			r.Sheet = strings.ReplaceAll(r.Sheet[1:len(r.Sheet)-1], "''", "'")
		}
		body = ref[idx+1:]
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return r, fmt.Errorf("%w: %q", ErrInvalidRange, ref)
	}
	startText, endText, hasEnd := strings.Cut(body, ":")
	if !hasEnd {
		endText = startText
	}
	var err error
	if r.StartCol, r.StartRow, err = parseCorner(startText); err != nil {
		return r, fmt.Errorf("%w: %q", ErrInvalidRange, ref)
	}
	if r.EndCol, r.EndRow, err = parseCorner(endText); err != nil {
		return r, fmt.Errorf("%w: %q", ErrInvalidRange, ref)
	}
	return r, nil
}

func parseCorner(text string) (int, int, error) {
	text = strings.ToUpper(strings.TrimSpace(text))
	split := 0
	for split < len(text) && text[split] >= 'A' && text[split] <= 'Z' {
		split++
	}
	col := ColumnIndex(text[:split])
	row := 0
	if split < len(text) {
		n, err := strconv.Atoi(text[split:])
		if err != nil || n < 1 {
			return 0, 0, ErrInvalidRange
		}
		row = n
	}
	if col == 0 && row == 0 {
		return 0, 0, ErrInvalidRange
	}
	return col, row, nil
}
