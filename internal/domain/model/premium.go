package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Premium 单个币种的溢价（泡菜溢价）计算结果
type Premium struct {
	Symbol                Symbol
	DomesticPrice         decimal.Decimal // KRW
	ForeignPrice          decimal.Decimal // USD(T)
	FxRate                decimal.Decimal
	ForeignPriceConverted decimal.Decimal // ForeignPrice * FxRate
	SpreadPercent         decimal.Decimal // 两位小数
	ComputedAt            time.Time
}

// SpreadSnapshot 一次广播 tick 的结果，按跟踪列表顺序排列；不落库
type SpreadSnapshot struct {
	Rate       FxRate
	Items      []Premium
	ComputedAt time.Time
}

// PremiumItem is the wire shape of one asset in an outbound snapshot.
type PremiumItem struct {
	Coin                  string  `json:"coin"`
	DomesticPrice         float64 `json:"domestic_price"`
	ForeignPrice          float64 `json:"foreign_price"`
	FxRate                float64 `json:"fx_rate"`
	ForeignPriceConverted float64 `json:"foreign_price_converted"`
	PremiumPercent        float64 `json:"premium_percent"`
}

// SnapshotMessage is the wire shape of a whole tick as pushed to subscribers.
type SnapshotMessage struct {
	ExchangeRate float64       `json:"exchange_rate"`
	FxSource     string        `json:"fx_source"`
	Ts           int64         `json:"ts"`
	CoinData     []PremiumItem `json:"coin_data"`
}

// Item converts a premium into its wire shape.
func (p Premium) Item() PremiumItem {
	return PremiumItem{
		Coin:                  p.Symbol.String(),
		DomesticPrice:         p.DomesticPrice.InexactFloat64(),
		ForeignPrice:          p.ForeignPrice.InexactFloat64(),
		FxRate:                p.FxRate.InexactFloat64(),
		ForeignPriceConverted: p.ForeignPriceConverted.Round(2).InexactFloat64(),
		PremiumPercent:        p.SpreadPercent.Round(2).InexactFloat64(),
	}
}

// Message converts the snapshot into the message pushed to subscribers.
func (s *SpreadSnapshot) Message() SnapshotMessage {
	items := make([]PremiumItem, 0, len(s.Items))
	for _, p := range s.Items {
		items = append(items, p.Item())
	}
	return SnapshotMessage{
		ExchangeRate: s.Rate.Value.InexactFloat64(),
		FxSource:     s.Rate.Source,
		Ts:           s.ComputedAt.UnixMilli(),
		CoinData:     items,
	}
}
