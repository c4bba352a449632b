package mcf

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/attribution-cli/internal/attribution"
)

// Column names requested from the reporting API.
const (
	ColSourcePath      = "mcf:sourcePath"
	ColMediumPath      = "mcf:mediumPath"
	ColCampaignPath    = "mcf:campaignPath"
	ColTransactionID   = "mcf:transactionId"
	ColConversionValue = "mcf:totalConversionValue"
)

// Response is one page of an MCF data query.
type Response struct {
	ItemsPerPage  int            `json:"itemsPerPage"`
	TotalResults  int            `json:"totalResults"`
	NextLink      string         `json:"nextLink,omitempty"`
	ColumnHeaders []ColumnHeader `json:"columnHeaders"`
	Rows          [][]Cell       `json:"rows,omitempty"`
}

// ColumnHeader describes one column of Rows.
type ColumnHeader struct {
	Name       string `json:"name"`
	ColumnType string `json:"columnType"`
	DataType   string `json:"dataType"`
}

// Cell holds either a conversion path or a primitive value.
type Cell struct {
	ConversionPathValue []PathNode `json:"conversionPathValue,omitempty"`
	PrimitiveValue      string     `json:"primitiveValue,omitempty"`
}

// PathNode is one interaction in a conversion path.
type PathNode struct {
	InteractionType string `json:"interactionType,omitempty"`
	NodeValue       string `json:"nodeValue"`
}

// nextStartIndex extracts start-index from a nextLink. ok is false when
// there are no more pages.
func nextStartIndex(nextLink string) (idx int, ok bool, err error) {
	if nextLink == "" {
		return 0, false, nil
	}
	u, err := url.Parse(nextLink)
	if err != nil {
		return 0, false, eris.Wrapf(err, "mcf: parse nextLink %q", nextLink)
	}
	raw := u.Query().Get("start-index")
	if raw == "" {
		return 0, false, nil
	}
	idx, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, eris.Wrapf(err, "mcf: start-index %q", raw)
	}
	return idx, true, nil
}

type columnIndex struct {
	source, medium, campaign, txn, value int
}

func indexColumns(headers []ColumnHeader) (columnIndex, error) {
	idx := columnIndex{source: -1, medium: -1, campaign: -1, txn: -1, value: -1}
	for i, h := range headers {
		switch h.Name {
		case ColSourcePath:
			idx.source = i
		case ColMediumPath:
			idx.medium = i
		case ColCampaignPath:
			idx.campaign = i
		case ColTransactionID:
			idx.txn = i
		case ColConversionValue:
			idx.value = i
		}
	}
	if idx.source < 0 || idx.medium < 0 || idx.campaign < 0 || idx.txn < 0 {
		return idx, eris.Errorf("mcf: response is missing path or transaction columns (headers=%d)", len(headers))
	}
	return idx, nil
}

// Flatten converts report pages into raw attribution rows, preserving the
// order the API returned them in.
func Flatten(pages []*Response) ([]attribution.RawPath, error) {
	var out []attribution.RawPath
	for pageNum, page := range pages {
		if len(page.Rows) == 0 {
			continue
		}
		idx, err := indexColumns(page.ColumnHeaders)
		if err != nil {
			return nil, eris.Wrapf(err, "page %d", pageNum+1)
		}
		for rowNum, row := range page.Rows {
			if len(row) != len(page.ColumnHeaders) {
				return nil, eris.Errorf("mcf: page %d row %d has %d cells, want %d",
					pageNum+1, rowNum+1, len(row), len(page.ColumnHeaders))
			}
			rp := attribution.RawPath{
				SourcePath:    joinNodes(row[idx.source]),
				MediumPath:    joinNodes(row[idx.medium]),
				CampaignPath:  joinNodes(row[idx.campaign]),
				TransactionID: row[idx.txn].PrimitiveValue,
			}
			if idx.value >= 0 {
				rp.ConversionValue = row[idx.value].PrimitiveValue
			}
			out = append(out, rp)
		}
	}
	return out, nil
}

func joinNodes(c Cell) string {
	values := make([]string, len(c.ConversionPathValue))
	for i, n := range c.ConversionPathValue {
		values[i] = n.NodeValue
	}
	return strings.Join(values, attribution.PathSeparator)
}
