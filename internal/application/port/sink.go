package port

import (
	"context"

	"kimp/internal/domain/model"
)

// SnapshotSink 接收每个 tick 的溢价快照（订阅会话、redis、控制台等）
type SnapshotSink interface {
	Name() string
	Publish(ctx context.Context, snap *model.SpreadSnapshot) error
}
