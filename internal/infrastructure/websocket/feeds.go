package websocket

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
	"kimp/internal/infrastructure/config"
	"kimp/internal/infrastructure/metrics"
	"kimp/internal/infrastructure/pricefeed"

	// 交易所通过 init() 注册到 pricefeed
	_ "kimp/internal/infrastructure/exchange/bybit"
	_ "kimp/internal/infrastructure/exchange/upbit"
)

// ErrMissingSource 国内或海外一侧没有可用的价格源，溢价永远无法计算
var ErrMissingSource = errors.New("price feeds must cover both domestic and foreign sources")

// BuildFeeds 根据配置的 enabled 交易所列表创建价格源
// 单个交易所失败时继续初始化其他交易所，但国内和海外两侧都必须至少保留一个
func BuildFeeds(cfg *config.Config, m *metrics.Metrics) ([]port.PriceFeed, error) {
	enabled := cfg.EnabledExchanges()
	feeds := make([]port.PriceFeed, 0, len(enabled))
	var failed []string

	for _, name := range enabled {
		feed, err := buildFeed(name, cfg.Exchange[name], cfg.Symbols.List, m)
		if err != nil {
			log.Error().Err(err).Str("exchange", name).Msg("failed to initialize price feed")
			failed = append(failed, name)
			continue
		}
		feeds = append(feeds, feed)
		log.Info().Str("exchange", name).Str("source", feed.Source().String()).Msg("✓ " + name + " price feed initialized")
	}

	// 如果所有交易所都失败，返回错误
	if len(feeds) == 0 {
		return nil, fmt.Errorf("failed to initialize price feed for all exchanges: %v", failed)
	}
	if missing := missingSources(feeds); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %v (failed: %v)", ErrMissingSource, missing, failed)
	}
	if len(failed) > 0 {
		log.Warn().Strs("failed_exchanges", failed).Msg("some exchanges failed to initialize, but others succeeded")
	}
	return feeds, nil
}

func buildFeed(name string, ex config.ExchangeConfig, symbols []string, m *metrics.Metrics) (port.PriceFeed, error) {
	factory, ok := pricefeed.Get(name)
	if !ok {
		return nil, fmt.Errorf("price feed factory not registered for exchange: %s (known: %v)", name, pricefeed.Names())
	}
	return factory(pricefeed.Options{
		URL:         ex.WsURL,
		Symbols:     symbols,
		Retry:       ex.Retry(),
		ReadTimeout: ex.ReadTimeout(),
		Heartbeat:   ex.Heartbeat(),
		Metrics:     m,
	})
}

func missingSources(feeds []port.PriceFeed) []string {
	var domestic, foreign bool
	for _, f := range feeds {
		switch f.Source() {
		case model.SourceDomestic:
			domestic = true
		case model.SourceForeign:
			foreign = true
		}
	}
	var missing []string
	if !domestic {
		missing = append(missing, model.SourceDomestic.String())
	}
	if !foreign {
		missing = append(missing, model.SourceForeign.String())
	}
	return missing
}
