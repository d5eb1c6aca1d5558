// Package storage holds what the checkpoint stores share.
// 只保存最近一次成功的汇率（单行），不保存历史。
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kimp/internal/domain/model"
)

// CheckpointTable 各数据库使用同一个表名
const CheckpointTable = "fx_rate_checkpoint"

var ErrCorruptCheckpoint = errors.New("corrupt fx checkpoint")

// DecodeRate 把一行记录还原为 FxRate
func DecodeRate(value, source string, fetchedAtMs int64) (model.FxRate, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return model.FxRate{}, fmt.Errorf("%w: value %q: %v", ErrCorruptCheckpoint, value, err)
	}
	if !v.IsPositive() {
		return model.FxRate{}, fmt.Errorf("%w: non-positive value %s", ErrCorruptCheckpoint, value)
	}
	return model.FxRate{Value: v, FetchedAt: time.UnixMilli(fetchedAtMs), Source: source}, nil
}

// EncodeRate 拒绝保存无效的汇率
func EncodeRate(rate model.FxRate) (value string, fetchedAtMs int64, err error) {
	if !rate.Valid() {
		return "", 0, fmt.Errorf("refuse to save invalid rate %s", rate.Value)
	}
	return rate.Value.String(), rate.FetchedAt.UnixMilli(), nil
}
