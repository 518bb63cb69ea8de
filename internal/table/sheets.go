package table

import (
	"context"
	"fmt"

	"google.golang.org/api/sheets/v4"
)

// Sheets is a Store backed by one Google spreadsheet.
type Sheets struct {
	svc           *sheets.Service
	spreadsheetID string
}

func NewSheets(svc *sheets.Service, spreadsheetID string) *Sheets {
	return &Sheets{svc: svc, spreadsheetID: spreadsheetID}
}

func (s *Sheets) ReadRange(ctx context.Context, ref Range) ([][]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, ref.String()).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = CellText(v)
		}
		rows[i] = cells
	}
	return rows, nil
}

func (s *Sheets) WriteRange(ctx context.Context, ref Range, rows [][]any, mode InputMode) error {
	if mode == "" {
		mode = UserEntered
	}
	body := &sheets.ValueRange{Values: rows}
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, ref.String(), body).
		ValueInputOption(string(mode)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write %s: %w", ref, err)
	}
	return nil
}

// Title fetches the spreadsheet title; used as a reachability probe.
func (s *Sheets) Title(ctx context.Context) (string, error) {
	resp, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("properties.title").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if resp.Properties == nil {
		return "", nil
	}
	return resp.Properties.Title, nil
}
