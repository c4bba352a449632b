package attribution

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of decimal places credit is rounded to.
const DefaultPrecision int32 = 5

// Weights holds the share of credit given to the first, middle and last
// positions of a path. Construct with NewWeights so the sum is validated.
type Weights struct {
	First  decimal.Decimal
	Middle decimal.Decimal
	Last   decimal.Decimal
}

// DefaultWeights returns the 30/30/40 split.
func DefaultWeights() Weights {
	return Weights{
		First:  decimal.RequireFromString("0.30"),
		Middle: decimal.RequireFromString("0.30"),
		Last:   decimal.RequireFromString("0.40"),
	}
}

// NewWeights validates and builds a Weights value from configuration floats.
func NewWeights(first, middle, last float64) (Weights, error) {
	w := Weights{
		First:  decimal.NewFromFloat(first),
		Middle: decimal.NewFromFloat(middle),
		Last:   decimal.NewFromFloat(last),
	}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// Validate checks that no weight is negative and that the three sum to one.
func (w Weights) Validate() error {
	for name, v := range map[string]decimal.Decimal{"first": w.First, "middle": w.Middle, "last": w.Last} {
		if v.IsNegative() {
			return eris.Wrapf(ErrConfiguration, "%s weight %s is negative", name, v)
		}
	}
	if w.First.Add(w.Last).IsZero() {
		return eris.Wrap(ErrConfiguration, "first and last weights are both zero")
	}
	sum := w.First.Add(w.Middle).Add(w.Last)
	if !sum.Equal(decimal.NewFromInt(1)) {
		return eris.Wrapf(ErrConfiguration, "weights sum to %s, want 1", sum)
	}
	return nil
}
