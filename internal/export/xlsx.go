package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/attribution-cli/internal/attribution"
)

// SheetName is the worksheet credit rows are written to.
const SheetName = "credits"

// WriteXLSX writes rows to a single-sheet workbook at path.
func WriteXLSX(path string, rows []attribution.CreditRow) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range Headers {
		header.AddCell().SetString(h)
	}

	for _, r := range rows {
		row := sheet.AddRow()
		rec := NewRecord(r)
		for i, v := range rec.values() {
			cell := row.AddCell()
			if Headers[i] == "revenue_proportion" {
				cell.SetFloatWithFormat(r.RevenueProportion.InexactFloat64(), "0.00000")
				continue
			}
			cell.SetString(v)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

// ReadXLSX returns the rows of the credits sheet as strings, header first.
func ReadXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, ok := f.Sheet[SheetName]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", SheetName)
	}

	out := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.Value
		}
		out = append(out, cells)
	}
	return out, nil
}
