package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Source produces the work catalog from wherever the operator keeps it.
type Source interface {
	Load(ctx context.Context) (*Workbook, error)
}

// XLSXSource reads groups from an Excel workbook, one sheet per group.
// The subscriber number sits in a free-text header cell; identifiers run
// down a single column from FirstDataRow to the end of the sheet.
type XLSXSource struct {
	Path           string
	Sheets         []string
	SubscriberCell string
	IDColumn       string
	FirstDataRow   int
	Logger         *zap.Logger
}

func (s *XLSXSource) Load(ctx context.Context) (*Workbook, error) {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return nil, &IngestionError{Path: s.Path, Err: err}
	}
	defer f.Close()

	col, err := excelize.ColumnNameToNumber(s.IDColumn)
	if err != nil {
		return nil, &IngestionError{Path: s.Path, Err: fmt.Errorf("identifier column %q: %w", s.IDColumn, err)}
	}

	present := make(map[string]bool)
	for _, name := range f.GetSheetList() {
		present[name] = true
	}

	wb := &Workbook{}
	for _, sheet := range s.Sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !present[sheet] {
			wb.Diagnostics = append(wb.Diagnostics, Diagnostic{Sheet: sheet, Reason: "sheet not found"})
			log.Warn("sheet not found, skipping", zap.String("sheet", sheet))
			continue
		}

		header, err := f.GetCellValue(sheet, s.SubscriberCell)
		if err != nil {
			return nil, &IngestionError{Path: s.Path, Err: fmt.Errorf("sheet %s: %w", sheet, err)}
		}
		group := Group{Name: sheet, Subscriber: ExtractSubscriber(header)}
		if group.Subscriber == "" {
			wb.Diagnostics = append(wb.Diagnostics, Diagnostic{
				Sheet: sheet, Cell: s.SubscriberCell, Value: header,
				Reason: "no subscriber number in header",
			})
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, &IngestionError{Path: s.Path, Err: fmt.Errorf("sheet %s: %w", sheet, err)}
		}
		for r := s.FirstDataRow - 1; r < len(rows); r++ {
			row := rows[r]
			if col > len(row) {
				continue
			}
			raw := strings.TrimSpace(row[col-1])
			if raw == "" {
				continue
			}
			siren, err := NormalizeSiren(raw)
			if err != nil {
				cell, _ := excelize.CoordinatesToCellName(col, r+1)
				wb.Diagnostics = append(wb.Diagnostics, Diagnostic{
					Sheet: sheet, Cell: cell, Value: raw, Reason: err.Error(),
				})
				continue
			}
			group.Sirens = append(group.Sirens, siren)
		}

		log.Info("sheet loaded",
			zap.String("sheet", sheet),
			zap.String("subscriber", group.Subscriber),
			zap.Int("sirens", len(group.Sirens)))
		wb.Groups = append(wb.Groups, group)
	}
	return wb, nil
}
