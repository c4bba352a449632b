// Package export writes credit rows to CSV or XLSX files.
package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/attribution-cli/internal/attribution"
)

// Record is the flat file form of a credit row.
type Record struct {
	Date              string `csv:"ga_date"`
	Website           string `csv:"website"`
	TransactionID     string `csv:"transaction_id"`
	Source            string `csv:"source"`
	Medium            string `csv:"medium"`
	Campaign          string `csv:"campaign"`
	RevenueProportion string `csv:"revenue_proportion"`
}

// Headers lists the column names in file order.
var Headers = []string{"ga_date", "website", "transaction_id", "source", "medium", "campaign", "revenue_proportion"}

// NewRecord converts a credit row.
func NewRecord(r attribution.CreditRow) Record {
	return Record{
		Date:              r.Date.Format(attribution.DateLayout),
		Website:           r.Website,
		TransactionID:     r.TransactionID,
		Source:            r.Source,
		Medium:            r.Medium,
		Campaign:          r.Campaign,
		RevenueProportion: r.RevenueProportion.String(),
	}
}

func (r Record) values() []string {
	return []string{r.Date, r.Website, r.TransactionID, r.Source, r.Medium, r.Campaign, r.RevenueProportion}
}

// WriteFile writes rows to path, choosing the format from its extension
// (.csv or .xlsx).
func WriteFile(path string, rows []attribution.CreditRow) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".xlsx" {
		return eris.Errorf("export: unsupported file type %q (want .csv or .xlsx)", ext)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "export: create directory %s", dir)
		}
	}

	var err error
	switch ext {
	case ".csv":
		err = writeCSVFile(path, rows)
	case ".xlsx":
		err = WriteXLSX(path, rows)
	}
	if err != nil {
		return err
	}

	zap.L().Info("credits exported",
		zap.String("component", "export"),
		zap.String("path", path),
		zap.Int("rows", len(rows)),
	)
	return nil
}

func writeCSVFile(path string, rows []attribution.CreditRow) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrapf(cerr, "export: close %s", path)
		}
	}()
	return WriteCSV(f, rows)
}
