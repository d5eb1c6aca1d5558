package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
	"kimp/internal/infrastructure/metrics"
)

// ErrNoRateSources 没有配置任何汇率来源
var ErrNoRateSources = errors.New("no fx rate sources configured")

// FxRateProviderDeps FxRateProvider 的依赖
type FxRateProviderDeps struct {
	Sources       []port.RateSource // 按优先级排列：主来源在前，后面依次为备用来源
	Store         port.RateStore    // optional checkpoint
	DefaultRate   decimal.Decimal
	TTL           time.Duration
	RetryInterval time.Duration
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// FxRateProvider 带 TTL 的汇率缓存。
// 过期后按顺序尝试各来源，全部失败时保留旧值；并发刷新通过 singleflight 合并为一次外部调用。
type FxRateProvider struct {
	deps  FxRateProviderDeps
	group singleflight.Group

	mu          sync.RWMutex
	current     model.FxRate
	lastFailure time.Time
}

func NewFxRateProvider(deps FxRateProviderDeps) (*FxRateProvider, error) {
	if len(deps.Sources) == 0 {
		return nil, ErrNoRateSources
	}
	if !deps.DefaultRate.IsPositive() {
		return nil, errors.New("fx default rate must be > 0")
	}
	if deps.TTL <= 0 {
		deps.TTL = 60 * time.Second
	}
	if deps.RetryInterval < 0 {
		deps.RetryInterval = 0
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &FxRateProvider{
		deps: deps,
		current: model.FxRate{
			Value:  deps.DefaultRate,
			Source: model.FxRateSourceDefault,
		},
	}, nil
}

// Restore 从 checkpoint 恢复上一次成功获取的汇率（如果有）
func (p *FxRateProvider) Restore(ctx context.Context) error {
	if p.deps.Store == nil {
		return nil
	}
	rate, ok, err := p.deps.Store.LoadRate(ctx)
	if err != nil {
		return err
	}
	if !ok || !rate.Valid() {
		return nil
	}

	p.mu.Lock()
	p.current = rate
	p.mu.Unlock()

	p.deps.Metrics.FxRate(rate.Value.InexactFloat64())
	log.Info().
		Str("rate", rate.Value.String()).
		Str("source", rate.Source).
		Time("fetched_at", rate.FetchedAt).
		Msg("fx rate restored from checkpoint")
	return nil
}

// Current returns the cached rate without triggering a refresh.
func (p *FxRateProvider) Current() model.FxRate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Rate 返回可用汇率，从不失败，也不会返回非正值
func (p *FxRateProvider) Rate(ctx context.Context) model.FxRate {
	now := p.deps.Now()

	p.mu.RLock()
	cur := p.current
	lastFailure := p.lastFailure
	p.mu.RUnlock()

	if cur.Age(now) < p.deps.TTL {
		return cur
	}
	if !lastFailure.IsZero() && now.Sub(lastFailure) < p.deps.RetryInterval {
		return cur
	}

	v, _, _ := p.group.Do("refresh", func() (interface{}, error) {
		return p.refresh(ctx), nil
	})
	return v.(model.FxRate)
}

func (p *FxRateProvider) refresh(ctx context.Context) model.FxRate {
	now := p.deps.Now()

	// 等待期间可能已有别的刷新完成
	p.mu.RLock()
	cur := p.current
	p.mu.RUnlock()
	if cur.Age(now) < p.deps.TTL {
		return cur
	}

	for _, src := range p.deps.Sources {
		rate, err := src.FetchRate(ctx)
		if err == nil && !rate.Valid() {
			err = errors.New("non-positive rate")
		}
		if err != nil {
			p.deps.Metrics.FxRefresh(src.Name(), false)
			log.Warn().Str("source", src.Name()).Err(err).Msg("fx rate fetch failed")
			continue
		}
		p.deps.Metrics.FxRefresh(src.Name(), true)

		if rate.FetchedAt.IsZero() {
			rate.FetchedAt = p.deps.Now()
		}
		if rate.Source == "" {
			rate.Source = src.Name()
		}

		p.mu.Lock()
		p.current = rate
		p.lastFailure = time.Time{}
		p.mu.Unlock()

		p.deps.Metrics.FxRate(rate.Value.InexactFloat64())
		log.Info().Str("source", rate.Source).Str("rate", rate.Value.String()).Msg("fx rate updated")

		if p.deps.Store != nil {
			if err := p.deps.Store.SaveRate(ctx, rate); err != nil {
				log.Warn().Err(err).Msg("fx rate checkpoint failed")
			}
		}
		return rate
	}

	p.mu.Lock()
	p.lastFailure = now
	cur = p.current
	p.mu.Unlock()

	log.Warn().
		Str("rate", cur.Value.String()).
		Str("source", cur.Source).
		Msg("all fx sources failed, keeping cached rate")
	return cur
}

var _ port.RateProvider = (*FxRateProvider)(nil)
