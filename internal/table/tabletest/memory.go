// Package tabletest provides an in-memory table.Store for tests.
package tabletest

import (
	"context"
	"fmt"
	"sync"

	"clicksync/internal/table"
)

// Write records one WriteRange call.
type Write struct {
	Ref  string
	Rows [][]any
	Mode table.InputMode
}

// Memory is a single-tab grid addressed by 1-based row and column. The sheet
// name in a range is ignored.
type Memory struct {
	mu     sync.Mutex
	grid   [][]string
	writes []Write
	reads  int
	// FailWrite, when set, is consulted before every write.
	FailWrite func(ref table.Range) error
	// FailRead, when set, is consulted before every read.
	FailRead func(ref table.Range) error
}

// New builds a grid from rows, row 1 first.
func New(rows ...[]string) *Memory {
	m := &Memory{}
	for _, row := range rows {
		m.grid = append(m.grid, append([]string(nil), row...))
	}
	return m
}

func (m *Memory) ReadRange(_ context.Context, ref table.Range) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.FailRead != nil {
		if err := m.FailRead(ref); err != nil {
			return nil, err
		}
	}
	startRow, endRow := bounds(ref.StartRow, ref.EndRow, len(m.grid))
	width := 0
	for _, row := range m.grid {
		if len(row) > width {
			width = len(row)
		}
	}
	startCol, endCol := bounds(ref.StartCol, ref.EndCol, width)

	var out [][]string
	for r := startRow; r <= endRow; r++ {
		var cells []string
		for c := startCol; c <= endCol; c++ {
			cells = append(cells, m.cell(r, c))
		}
		out = append(out, trimRight(cells))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (m *Memory) WriteRange(_ context.Context, ref table.Range, rows [][]any, mode table.InputMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrite != nil {
		if err := m.FailWrite(ref); err != nil {
			return err
		}
	}
	if ref.StartRow == 0 || ref.StartCol == 0 {
		return fmt.Errorf("%w: write needs an anchored range, got %s", table.ErrInvalidRange, ref)
	}
	m.writes = append(m.writes, Write{Ref: ref.String(), Rows: rows, Mode: mode})
	for i, row := range rows {
		for j, v := range row {
			m.set(ref.StartRow+i, ref.StartCol+j, table.CellText(v))
		}
	}
	return nil
}

// Cell returns the text at an A1 address such as "C2".
func (m *Memory) Cell(a1 string) string {
	ref, err := table.ParseRange(a1)
	if err != nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cell(ref.StartRow, ref.StartCol)
}

func (m *Memory) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Write(nil), m.writes...)
}

func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Rows returns a copy of the whole grid.
func (m *Memory) Rows() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.grid))
	for i, row := range m.grid {
		out[i] = append([]string(nil), row...)
	}
	return out
}

func (m *Memory) cell(row, col int) string {
	if row < 1 || row > len(m.grid) {
		return ""
	}
	cells := m.grid[row-1]
	if col < 1 || col > len(cells) {
		return ""
	}
	return cells[col-1]
}

func (m *Memory) set(row, col int, value string) {
	for len(m.grid) < row {
		m.grid = append(m.grid, nil)
	}
	for len(m.grid[row-1]) < col {
		m.grid[row-1] = append(m.grid[row-1], "")
	}
	m.grid[row-1][col-1] = value
}

func bounds(start, end, size int) (int, int) {
	if start == 0 {
		start = 1
	}
	if end == 0 {
		end = size
	}
	return start, end
}

func trimRight(cells []string) []string {
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	return cells
}
