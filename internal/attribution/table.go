package attribution

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DateLayout is the layout of GA report dates.
const DateLayout = "2006-01-02"

// CreditRow is one persisted (transaction, touchpoint) credit share.
type CreditRow struct {
	Date              time.Time       `json:"date"`
	Website           string          `json:"website"`
	TransactionID     string          `json:"transaction_id"`
	Source            string          `json:"source"`
	Medium            string          `json:"medium"`
	Campaign          string          `json:"campaign"`
	RevenueProportion decimal.Decimal `json:"revenue_proportion"`
}

// Rejection records a transaction dropped from a batch and why.
type Rejection struct {
	TransactionID string
	Err           error
}

// Table holds the credit maps of one batch keyed by transaction ID. The first
// row seen for a transaction wins; later duplicates are discarded.
type Table struct {
	order  []string
	byTxn  map[string]CreditMap
	claims map[string]bool

	// Duplicates counts rows discarded because their transaction was
	// already claimed.
	Duplicates int
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		byTxn:  make(map[string]CreditMap),
		claims: make(map[string]bool),
	}
}

// claimed reports whether txnID was already seen, counting the duplicate
// if so.
func (t *Table) claimed(txnID string) bool {
	if t.claims[txnID] {
		t.Duplicates++
		return true
	}
	return false
}

// Add stores m for txnID unless txnID was already claimed. It reports
// whether m was stored.
func (t *Table) Add(txnID string, m CreditMap) bool {
	if t.claimed(txnID) {
		return false
	}
	t.claims[txnID] = true
	t.order = append(t.order, txnID)
	t.byTxn[txnID] = m
	return true
}

// reject claims txnID without storing credit for it.
func (t *Table) reject(txnID string) {
	t.claims[txnID] = true
}

// Get returns the credit map for txnID.
func (t *Table) Get(txnID string) (CreditMap, bool) {
	m, ok := t.byTxn[txnID]
	return m, ok
}

// Len returns the number of attributed transactions.
func (t *Table) Len() int {
	return len(t.order)
}

// TransactionIDs returns attributed transactions in first-seen order.
func (t *Table) TransactionIDs() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Rows flattens the table into credit rows for one site and date. Zero
// shares are omitted.
func (t *Table) Rows(date time.Time, website string) []CreditRow {
	var rows []CreditRow
	for _, txnID := range t.order {
		m := t.byTxn[txnID]
		for _, tp := range m.order {
			v := m.credit[tp]
			if v.IsZero() {
				continue
			}
			rows = append(rows, CreditRow{
				Date:              date,
				Website:           website,
				TransactionID:     txnID,
				Source:            tp.Source,
				Medium:            tp.Medium,
				Campaign:          tp.Campaign,
				RevenueProportion: v,
			})
		}
	}
	return rows
}

// BuildTable runs every raw row through path building and allocation, in the
// order given. The first row for a transaction claims it even when that row
// is invalid; an invalid row is returned as a Rejection and its transaction
// is left out of the table.
func BuildTable(raws []RawPath, alloc *Allocator) (*Table, []Rejection) {
	log := zap.L().With(zap.String("component", "attribution.table"))
	t := NewTable()
	var rejected []Rejection

	for _, raw := range raws {
		if t.claimed(raw.TransactionID) {
			continue
		}

		path, err := BuildPath(raw)
		if err == nil {
			var m CreditMap
			if m, err = alloc.Allocate(path); err == nil {
				t.Add(raw.TransactionID, m)
				continue
			}
		}

		t.reject(raw.TransactionID)
		log.Warn("dropping transaction", zap.String("transaction_id", raw.TransactionID), zap.Error(err))
		rejected = append(rejected, Rejection{TransactionID: raw.TransactionID, Err: err})
	}

	return t, rejected
}
