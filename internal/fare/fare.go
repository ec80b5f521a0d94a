// Package fare prices trip requests. Pricing is a stand-in: a bounded
// random amount rounded to cents.
package fare

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

const (
	DefaultMin = 20.0
	DefaultMax = 40.0
)

// Quoter returns a fare for a new trip.
type Quoter interface {
	Quote(pickup, destination string) float64
}

// Random draws uniformly from [Min, Max).
type Random struct {
	Min, Max float64
	// Float returns a value in [0, 1); defaults to math/rand.
	Float func() float64
}

func NewRandom() *Random { return &Random{Min: DefaultMin, Max: DefaultMax} }

func (r *Random) Quote(pickup, destination string) float64 {
	f := rand.Float64
	if r.Float != nil {
		f = r.Float
	}
	lo, hi := r.Min, r.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	v := decimal.NewFromFloat(lo + f()*(hi-lo)).Round(2)
	if v.GreaterThanOrEqual(decimal.NewFromFloat(hi)) && hi > lo {
		v = decimal.NewFromFloat(hi).Sub(decimal.New(1, -2))
	}
	out, _ := v.Float64()
	return out
}

// Fixed always quotes the same amount.
type Fixed float64

func (f Fixed) Quote(string, string) float64 { return float64(f) }

// Format renders an amount as US dollars, e.g. "$25.00".
func Format(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(2)
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// FormatRating renders a rating with one decimal, e.g. "4.8".
func FormatRating(r float64) string {
	return decimal.NewFromFloat(r).StringFixed(1)
}
