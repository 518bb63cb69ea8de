package table

import (
	"errors"
	"testing"
)

func TestColumnLabelBijective(t *testing.T) {
	cases := map[int]string{
		1:   "A",
		2:   "B",
		26:  "Z",
		27:  "AA",
		52:  "AZ",
		53:  "BA",
		702: "ZZ",
		703: "AAA",
	}
	for index, want := range cases {
		if got := ColumnLabel(index); got != want {
			t.Fatalf("ColumnLabel(%d) = %q, want %q", index, got, want)
		}
		if got := ColumnIndex(want); got != index {
			t.Fatalf("ColumnIndex(%q) = %d, want %d", want, got, index)
		}
	}
	for i := 1; i <= 2000; i++ {
		if got := ColumnIndex(ColumnLabel(i)); got != i {
			t.Fatalf("round trip %d gave %d", i, got)
		}
	}
	if ColumnLabel(0) != "" || ColumnIndex("A1") != 0 {
		t.Fatalf("expected invalid inputs to map to zero values")
	}
}

func TestRangeString(t *testing.T) {
	cases := []struct {
		ref  Range
		want string
	}{
		{Columns("", "B", "B"), "B:B"},
		{Columns("Keywords", "B", "E"), "Keywords!B:E"},
		{Row("", 1), "1:1"},
		{Cell("", "C", 2), "C2"},
		{RowSpan("My Tab", "A", "C", 5), "'My Tab'!A5:C5"},
	}
	for _, tc := range cases {
		if got := tc.ref.String(); got != tc.want {
			t.Fatalf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestParseRange(t *testing.T) {
	for _, ref := range []string{"B:B", "Keywords!B:E", "1:1", "C2", "'My Tab'!A5:C5", "'It''s'!AA10"} {
		parsed, err := ParseRange(ref)
		if err != nil {
			t.Fatalf("ParseRange(%q): %v", ref, err)
		}
		if got := parsed.String(); got != ref {
			t.Fatalf("round trip %q gave %q", ref, got)
		}
	}
	for _, ref := range []string{"", "Sheet1!", "B0", "!:"} {
		if _, err := ParseRange(ref); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("ParseRange(%q) expected ErrInvalidRange, got %v", ref, err)
		}
	}
}

func TestColumnFlattensRaggedRows(t *testing.T) {
	got := Column([][]string{{"Search Term"}, {}, {"beta", "extra"}})
	if len(got) != 3 || got[0] != "Search Term" || got[1] != "" || got[2] != "beta" {
		t.Fatalf("unexpected column: %q", got)
	}
}
