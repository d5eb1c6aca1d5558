package premium

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
	dsvc "kimp/internal/domain/service"
	"kimp/internal/infrastructure/metrics"
)

const DefaultInterval = time.Second

type BroadcasterDeps struct {
	Quotes   port.QuoteReader
	Rates    port.RateProvider
	Sinks    []port.SnapshotSink // 按顺序投递，会话管理器放在第一个
	Interval time.Duration
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Broadcaster 固定周期读取价格缓存和汇率，计算每个币种的溢价并投递给所有 sink
type Broadcaster struct {
	deps BroadcasterDeps
}

func NewBroadcaster(deps BroadcasterDeps) *Broadcaster {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Broadcaster{deps: deps}
}

func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.deps.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", b.deps.Interval).Int("sinks", len(b.deps.Sinks)).Msg("broadcaster started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Tick 计算一次快照并投递；没有任何完整币种时不投递，返回 nil
func (b *Broadcaster) Tick(ctx context.Context) *model.SpreadSnapshot {
	snap := b.Compute(ctx)
	b.deps.Metrics.BroadcastTick(len(snap.Items))
	if len(snap.Items) == 0 {
		return nil
	}

	for _, sink := range b.deps.Sinks {
		if err := sink.Publish(ctx, snap); err != nil {
			b.deps.Metrics.SinkError(sink.Name())
			log.Warn().Str("sink", sink.Name()).Err(err).Msg("publish snapshot failed")
		}
	}
	return snap
}

// Compute 按跟踪列表顺序计算溢价，只含两边报价都存在的币种
func (b *Broadcaster) Compute(ctx context.Context) *model.SpreadSnapshot {
	now := b.deps.Now()
	rate := b.deps.Rates.Rate(ctx)

	symbols := b.deps.Quotes.Symbols()
	snap := &model.SpreadSnapshot{
		Rate:       rate,
		Items:      make([]model.Premium, 0, len(symbols)),
		ComputedAt: now,
	}
	for _, sym := range symbols {
		p, ok, err := b.computeOne(sym, rate, now)
		if err != nil {
			b.deps.Metrics.AssetFault(sym.String())
			log.Error().Str("coin", sym.String()).Err(err).Msg("compute premium failed, skip")
			continue
		}
		if ok {
			snap.Items = append(snap.Items, p)
		}
	}
	return snap
}

// computeOne 单个币种的故障（包括 panic）只影响该币种本次 tick
func (b *Broadcaster) computeOne(sym model.Symbol, rate model.FxRate, now time.Time) (p model.Premium, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, ok, err = model.Premium{}, false, fmt.Errorf("panic: %v", r)
		}
	}()

	pair := b.deps.Quotes.SnapshotFor(sym)
	if !pair.Complete() {
		return model.Premium{}, false, nil
	}
	return dsvc.ComputePremium(pair, rate.Value, now), true, nil
}
