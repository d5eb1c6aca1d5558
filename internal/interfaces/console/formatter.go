package console

import (
	"strings"

	"github.com/shopspring/decimal"

	"kimp/internal/domain/model"
	dsvc "kimp/internal/domain/service"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

type Formatter struct {
	Threshold decimal.Decimal
}

func NewFormatter(threshold float64) *Formatter {
	return &Formatter{Threshold: decimal.NewFromFloat(threshold)}
}

type RenderMode int

const (
	RenderLive RenderMode = iota
	RenderSnapshot
)

// Render 一行展示所有币种的溢价，超过阈值绿色，低于负阈值红色
func (f *Formatter) Render(snap *model.SpreadSnapshot, mode RenderMode) string {
	var sb strings.Builder
	if mode == RenderLive {
		sb.WriteString("\r")
	}

	sb.WriteString(colorize("[KIMP] ", ansiDim))
	sb.WriteString(colorize("USD/KRW="+snap.Rate.Value.StringFixed(2)+"("+snap.Rate.Source+")", ansiDim))

	for _, p := range snap.Items {
		sb.WriteString(colorize("  ||  ", ansiDim))

		col := ansiYellow
		switch dsvc.PremiumBand(p.SpreadPercent, f.Threshold) {
		case +1:
			col = ansiGreen
		case -1:
			col = ansiRed
		}

		pct := p.SpreadPercent.StringFixed(2)
		if p.SpreadPercent.Sign() >= 0 {
			pct = "+" + pct
		}
		sb.WriteString(p.Symbol.String())
		sb.WriteString(" ")
		sb.WriteString(colorize(pct+"%", col))
	}

	if mode == RenderLive {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}
