package pricefeed

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"kimp/internal/application/port"
	"kimp/internal/infrastructure/metrics"
)

// Options 创建 price feed 所需参数，来自 [exchange.<name>] 配置段
type Options struct {
	URL         string
	Symbols     []string
	Retry       time.Duration
	ReadTimeout time.Duration
	Heartbeat   time.Duration
	Metrics     *metrics.Metrics
}

// factory函数类型
type Factory func(opts Options) (port.PriceFeed, error)

// registry maps exchange names to their respective price feed factories
var registry = make(map[string]Factory)

// Register 注册一个price feed factory
// 这是由各个交易所包的init()函数调用来自注册的
func Register(exchangeName string, factory Factory) {
	if factory == nil {
		log.Warn().Str("exchange", exchangeName).Msg("invalid price feed factory")
		return
	}
	if _, exists := registry[exchangeName]; exists {
		log.Warn().Str("exchange", exchangeName).Msg("price feed factory already registered, overwriting")
	}
	registry[exchangeName] = factory
	log.Debug().Str("exchange", exchangeName).Msg("price feed factory registered")
}

// Get 获取已注册的price feed factory
func Get(exchangeName string) (Factory, bool) {
	factory, ok := registry[exchangeName]
	return factory, ok
}

// Names 已注册的交易所，按名称排序
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
