package domain

import "time"

// Default commission configuration, written to the config row on first read.
const (
	DefaultRateGen1       = 15.0
	DefaultRateGen2       = 3.0
	DefaultRateGen3       = 2.0
	DefaultCoFounderRatio = 29
)

// CommissionRates is the process-wide commission configuration: flat
// per-generation percentages plus the co-founder to regular share
// equivalence ratio. The engine reads it once per invocation; records carry
// the rate they were computed with, so updates only affect future
// commissions.
type CommissionRates struct {
	Generation1    float64   `json:"generation1"`
	Generation2    float64   `json:"generation2"`
	Generation3    float64   `json:"generation3"`
	CoFounderRatio int       `json:"co_founder_ratio"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultRates returns the lazily-initialized configuration defaults.
func DefaultRates() CommissionRates {
	return CommissionRates{
		Generation1:    DefaultRateGen1,
		Generation2:    DefaultRateGen2,
		Generation3:    DefaultRateGen3,
		CoFounderRatio: DefaultCoFounderRatio,
	}
}

// ForGeneration returns the percentage for generation 1..3, and 0 otherwise.
func (r CommissionRates) ForGeneration(gen int) float64 {
	switch gen {
	case 1:
		return r.Generation1
	case 2:
		return r.Generation2
	case 3:
		return r.Generation3
	}
	return 0
}
