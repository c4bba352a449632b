package export

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/attribution-cli/internal/attribution"
)

// WriteCSV writes a header line followed by one line per row.
func WriteCSV(w io.Writer, rows []attribution.CreditRow) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if len(rows) == 0 {
		if err := enc.EncodeHeader(Record{}); err != nil {
			return eris.Wrap(err, "export: csv header")
		}
	}
	for _, r := range rows {
		if err := enc.Encode(NewRecord(r)); err != nil {
			return eris.Wrapf(err, "export: csv row for %s", r.TransactionID)
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// ReadCSV parses a file written by WriteCSV.
func ReadCSV(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "export: read csv")
	}
	var out []Record
	if err := csvutil.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "export: decode csv")
	}
	return out, nil
}
