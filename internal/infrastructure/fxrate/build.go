package fxrate

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"kimp/internal/application/port"
)

// Options 对应 [fx] 配置段
type Options struct {
	Timeout         time.Duration
	KeximURL        string
	KeximAPIKey     string
	KeximDailyLimit int
	ErAPIURL        string
	DunamuURL       string
}

// Build 按配置顺序创建汇率来源，每个来源都带熔断。
// 没有 API key 的 KEXIM 直接跳过。
func Build(names []string, o Options) ([]port.RateSource, error) {
	out := make([]port.RateSource, 0, len(names))
	for _, name := range names {
		var src port.RateSource
		switch strings.ToLower(strings.TrimSpace(name)) {
		case SourceKexim:
			if strings.TrimSpace(o.KeximAPIKey) == "" {
				log.Warn().Str("source", SourceKexim).Msg("kexim_api_key empty, source skipped")
				continue
			}
			src = NewKexim(o.KeximURL, o.KeximAPIKey, o.Timeout, o.KeximDailyLimit)
		case SourceErAPI:
			src = NewErAPI(o.ErAPIURL, o.Timeout)
		case SourceDunamu:
			src = NewDunamu(o.DunamuURL, o.Timeout)
		default:
			return nil, fmt.Errorf("unknown fx source %q", name)
		}
		out = append(out, WithBreaker(src))
	}
	return out, nil
}
