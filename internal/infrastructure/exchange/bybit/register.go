package bybit

import (
	"kimp/internal/application/port"
	"kimp/internal/infrastructure/exchange"
	"kimp/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register(Name, func(o pricefeed.Options) (port.PriceFeed, error) {
		return NewFeed(o)
	})
}

// NewFeed Bybit USDT 行情客户端
func NewFeed(o pricefeed.Options) (*exchange.Client, error) {
	url := o.URL
	if url == "" {
		url = DefaultWSURL
	}
	return exchange.NewClient(New(o.Heartbeat), exchange.ClientConfig{
		URL:         url,
		Symbols:     o.Symbols,
		Retry:       exchange.RetryPolicy{Delay: o.Retry},
		ReadTimeout: o.ReadTimeout,
		Metrics:     o.Metrics,
	})
}
