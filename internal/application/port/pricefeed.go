package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"kimp/internal/domain/model"
)

// QuoteWriter 行情写入端（feed client -> price cache）
type QuoteWriter interface {
	// PutPrice 覆盖写入，返回 false 表示该币种不在跟踪列表中被丢弃
	PutPrice(source model.Source, symbol model.Symbol, price decimal.Decimal, ts time.Time) bool
}

// QuoteReader 行情读取端（price cache -> broadcaster）
type QuoteReader interface {
	Symbols() []model.Symbol
	SnapshotFor(symbol model.Symbol) model.QuotePair
}

// PriceFeed 一个交易所的流式行情源，Run 阻塞直到 ctx 结束
type PriceFeed interface {
	Name() string
	Source() model.Source
	Run(ctx context.Context, w QuoteWriter) error
}
