package attribution

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// CreditMap maps each distinct touchpoint of one path to its share of the
// transaction's revenue. Iteration follows first appearance in the path.
type CreditMap struct {
	order  []Touchpoint
	credit map[Touchpoint]decimal.Decimal
}

func newCreditMap(capacity int) CreditMap {
	return CreditMap{
		order:  make([]Touchpoint, 0, capacity),
		credit: make(map[Touchpoint]decimal.Decimal, capacity),
	}
}

func (m *CreditMap) add(tp Touchpoint, v decimal.Decimal) {
	cur, ok := m.credit[tp]
	if !ok {
		m.order = append(m.order, tp)
	}
	m.credit[tp] = cur.Add(v)
}

// Get returns the credit for tp and whether tp is present.
func (m CreditMap) Get(tp Touchpoint) (decimal.Decimal, bool) {
	v, ok := m.credit[tp]
	return v, ok
}

// Len returns the number of distinct touchpoints.
func (m CreditMap) Len() int {
	return len(m.order)
}

// Touchpoints returns the distinct touchpoints in first-appearance order.
func (m CreditMap) Touchpoints() []Touchpoint {
	out := make([]Touchpoint, len(m.order))
	copy(out, m.order)
	return out
}

// Sum returns the total credit.
func (m CreditMap) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, tp := range m.order {
		total = total.Add(m.credit[tp])
	}
	return total
}

// Allocator assigns position-based credit to conversion paths. It holds no
// mutable state and is safe for concurrent use.
type Allocator struct {
	weights   Weights
	precision int32
}

// NewAllocator validates the weights and returns an Allocator rounding to
// precision decimal places.
func NewAllocator(w Weights, precision int32) (*Allocator, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if precision < 0 {
		return nil, eris.Wrapf(ErrConfiguration, "precision %d is negative", precision)
	}
	return &Allocator{weights: w, precision: precision}, nil
}

// Weights returns the allocator's weights.
func (a *Allocator) Weights() Weights {
	return a.weights
}

// Allocate computes the CreditMap for a path.
//
//	1 touchpoint:  all credit.
//	2 touchpoints: middle weight split between first and last in proportion
//	               to their own weights.
//	3+:            first and last weights to the ends, middle weight shared
//	               equally by every interior position.
//
// Repeated touchpoints accumulate. Each entry is rounded half-to-even on its
// own, so the total can drift from 1 in the last decimal place.
func (a *Allocator) Allocate(p ConversionPath) (CreditMap, error) {
	tps := p.touchpoints
	n := len(tps)
	if n == 0 {
		return CreditMap{}, eris.Wrapf(ErrInvalidPath, "transaction %q has no touchpoints", p.TransactionID)
	}

	w := a.weights
	m := newCreditMap(n)

	switch n {
	case 1:
		m.add(tps[0], decimal.NewFromInt(1))

	case 2:
		ends := w.First.Add(w.Last)
		m.add(tps[0], w.First.Add(w.First.Div(ends).Mul(w.Middle)))
		m.add(tps[1], w.Last.Add(w.Last.Div(ends).Mul(w.Middle)))

	default:
		share := w.Middle.Div(decimal.NewFromInt(int64(n - 2)))
		m.add(tps[0], w.First)
		for _, tp := range tps[1 : n-1] {
			m.add(tp, share)
		}
		m.add(tps[n-1], w.Last)
	}

	for tp, v := range m.credit {
		m.credit[tp] = v.RoundBank(a.precision)
	}
	return m, nil
}
