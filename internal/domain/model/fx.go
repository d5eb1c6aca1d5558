package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FxRateSourceDefault marks a rate that was never fetched from an external source.
const FxRateSourceDefault = "default"

// FxRate KRW per USD 汇率
type FxRate struct {
	Value     decimal.Decimal
	FetchedAt time.Time
	Source    string
}

// Valid reports whether the rate can be used for conversion.
func (r FxRate) Valid() bool {
	return r.Value.IsPositive()
}

// Age returns how old the rate is at now. A rate that was never fetched is
// infinitely old.
func (r FxRate) Age(now time.Time) time.Duration {
	if r.FetchedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(r.FetchedAt)
}
