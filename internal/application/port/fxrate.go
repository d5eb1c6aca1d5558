package port

import (
	"context"

	"kimp/internal/domain/model"
)

// RateSource 一个外部汇率来源（KRW per USD）
type RateSource interface {
	Name() string
	FetchRate(ctx context.Context) (model.FxRate, error)
}

// RateProvider returns a usable rate and never fails.
type RateProvider interface {
	Rate(ctx context.Context) model.FxRate
}

// RateStore 保存最近一次成功获取的汇率，用于重启后恢复
type RateStore interface {
	LoadRate(ctx context.Context) (model.FxRate, bool, error)
	SaveRate(ctx context.Context, rate model.FxRate) error
	Close() error
}
