package exchange

import (
	"strings"

	"kimp/internal/domain/model"
)

// SymbolConverter 符号转换接口
// 各交易所通过前缀/后缀把交易对和统一币种互相转换
type SymbolConverter interface {
	// Symbol2Coin 将交易对转换为币种，例: KRW-BTC -> BTC, BTCUSDT -> BTC
	// 不带预期前缀/后缀的交易对返回 false
	Symbol2Coin(market string) (model.Symbol, bool)

	// Coin2Symbol 将币种转换为交易对，例: BTC -> KRW-BTC
	Coin2Symbol(coin model.Symbol) string
}

// AffixConverter 通用的前缀/后缀转换器
type AffixConverter struct {
	prefix string
	suffix string
}

// NewPrefixConverter e.g. "KRW-" for Upbit.
func NewPrefixConverter(prefix string) *AffixConverter {
	return &AffixConverter{prefix: strings.ToUpper(strings.TrimSpace(prefix))}
}

// NewSuffixConverter e.g. "USDT" for Bybit.
func NewSuffixConverter(suffix string) *AffixConverter {
	return &AffixConverter{suffix: strings.ToUpper(strings.TrimSpace(suffix))}
}

func (c *AffixConverter) Symbol2Coin(market string) (model.Symbol, bool) {
	m := strings.ToUpper(strings.TrimSpace(market))
	if !strings.HasPrefix(m, c.prefix) || !strings.HasSuffix(m, c.suffix) {
		return "", false
	}
	coin := strings.TrimSuffix(strings.TrimPrefix(m, c.prefix), c.suffix)
	if coin == "" {
		return "", false
	}
	return model.Symbol(coin), true
}

func (c *AffixConverter) Coin2Symbol(coin model.Symbol) string {
	u := model.NormalizeSymbol(string(coin))
	if u == "" {
		return ""
	}
	return c.prefix + string(u) + c.suffix
}
