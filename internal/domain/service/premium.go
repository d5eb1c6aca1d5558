package service

import (
	"time"

	"github.com/shopspring/decimal"

	"kimp/internal/domain/model"
)

var hundred = decimal.NewFromInt(100)

// ConvertForeign converts a foreign (USD) price into domestic currency.
func ConvertForeign(foreignPrice, rate decimal.Decimal) decimal.Decimal {
	return foreignPrice.Mul(rate)
}

// SpreadPercent = (domestic / converted - 1) * 100，保留两位小数
// converted 为 0 时返回 0（占位值，不是实际测量）
func SpreadPercent(domestic, converted decimal.Decimal) decimal.Decimal {
	if converted.IsZero() {
		return decimal.Zero
	}
	return domestic.Div(converted).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(2)
}

// ComputePremium builds the premium for one asset from a complete quote pair.
func ComputePremium(pair model.QuotePair, rate decimal.Decimal, now time.Time) model.Premium {
	converted := ConvertForeign(pair.Foreign.Price, rate)
	return model.Premium{
		Symbol:                pair.Symbol,
		DomesticPrice:         pair.Domestic.Price,
		ForeignPrice:          pair.Foreign.Price,
		FxRate:                rate,
		ForeignPriceConverted: converted,
		SpreadPercent:         SpreadPercent(pair.Domestic.Price, converted),
		ComputedAt:            now,
	}
}

// PremiumBand classifies a premium against a threshold: +1 above, -1 below the
// negative threshold, 0 otherwise.
func PremiumBand(spread, threshold decimal.Decimal) int {
	if threshold.Sign() <= 0 {
		return 0
	}
	if spread.GreaterThanOrEqual(threshold) {
		return +1
	}
	if spread.LessThanOrEqual(threshold.Neg()) {
		return -1
	}
	return 0
}
