package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source 行情来源：国内（KRW 现货）或海外（USD 计价）
type Source int

const (
	SourceDomestic Source = iota + 1
	SourceForeign
)

func (s Source) String() string {
	switch s {
	case SourceDomestic:
		return "domestic"
	case SourceForeign:
		return "foreign"
	default:
		return "unknown"
	}
}

// Symbol 统一的币种代码（大写），作为两边行情的 join key，例如 "BTC"
type Symbol string

// NormalizeSymbol trims and upper-cases a raw coin name.
func NormalizeSymbol(s string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(s)))
}

func (s Symbol) String() string { return string(s) }

// Quote 某个来源对某个币种的最新报价，构造后不可变
type Quote struct {
	Source     Source
	Symbol     Symbol
	Price      decimal.Decimal
	ObservedAt time.Time
}

// QuotePair 一个币种在两个来源上的最新报价，缺失的一侧为 nil
type QuotePair struct {
	Symbol   Symbol
	Domestic *Quote
	Foreign  *Quote
}

// Complete reports whether both sides are present.
func (p QuotePair) Complete() bool {
	return p.Domestic != nil && p.Foreign != nil
}
