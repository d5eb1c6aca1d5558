package premium

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
)

// PriceCache 每个币种、每个来源的最新报价
// 两级 map: symbol -> source -> Quote。Quote 按值整体替换，读者不会看到半写状态。
type PriceCache struct {
	mu sync.RWMutex

	order  []model.Symbol
	quotes map[model.Symbol]map[model.Source]model.Quote
}

func NewPriceCache(coins []string) *PriceCache {
	order := make([]model.Symbol, 0, len(coins))
	quotes := make(map[model.Symbol]map[model.Source]model.Quote, len(coins))
	for _, coin := range coins {
		sym := model.NormalizeSymbol(coin)
		if sym == "" {
			continue
		}
		if _, ok := quotes[sym]; ok {
			continue
		}
		order = append(order, sym)
		quotes[sym] = make(map[model.Source]model.Quote, 2)
	}
	return &PriceCache{order: order, quotes: quotes}
}

// Symbols returns the tracked symbols in configured order.
func (c *PriceCache) Symbols() []model.Symbol {
	out := make([]model.Symbol, len(c.order))
	copy(out, c.order)
	return out
}

// Tracks reports whether symbol is in the tracked list.
func (c *PriceCache) Tracks(symbol model.Symbol) bool {
	_, ok := c.quotes[symbol]
	return ok
}

// Put 覆盖写入一条报价；未跟踪的币种返回 false
func (c *PriceCache) Put(q model.Quote) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	bySource, ok := c.quotes[q.Symbol]
	if !ok {
		return false
	}
	bySource[q.Source] = q
	return true
}

func (c *PriceCache) PutPrice(source model.Source, symbol model.Symbol, price decimal.Decimal, ts time.Time) bool {
	return c.Put(model.Quote{
		Source:     source,
		Symbol:     symbol,
		Price:      price,
		ObservedAt: ts,
	})
}

// Get returns the latest quote of one source.
func (c *PriceCache) Get(source model.Source, symbol model.Symbol) (model.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[symbol][source]
	return q, ok
}

// SnapshotFor 返回两侧最新报价的副本，缺失的一侧为 nil
func (c *PriceCache) SnapshotFor(symbol model.Symbol) model.QuotePair {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pair := model.QuotePair{Symbol: symbol}
	bySource := c.quotes[symbol]
	if q, ok := bySource[model.SourceDomestic]; ok {
		pair.Domestic = &q
	}
	if q, ok := bySource[model.SourceForeign]; ok {
		pair.Foreign = &q
	}
	return pair
}

var (
	_ port.QuoteWriter = (*PriceCache)(nil)
	_ port.QuoteReader = (*PriceCache)(nil)
)
