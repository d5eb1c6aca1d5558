package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
)

// Publisher 把每个 tick 的快照扇出到 redis：
// PUBLISH <prefix>:premium:pub <payload>，并在 HASH <prefix>:premium 中保存每个币种的最新一条
type Publisher struct {
	rdb       *redis.Client
	ttl       time.Duration
	keyLatest string // prefix + ":premium"
	channel   string // prefix + ":premium:pub"
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Publisher {
	return &Publisher{
		rdb:       rdb,
		ttl:       ttl,
		keyLatest: LatestKey(prefix),
		channel:   Channel(prefix),
	}
}

func LatestKey(prefix string) string { return prefix + ":premium" }

func Channel(prefix string) string { return prefix + ":premium:pub" }

func (p *Publisher) Name() string { return "redis" }

func (p *Publisher) Publish(ctx context.Context, snap *model.SpreadSnapshot) error {
	msg := snap.Message()
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	fields, err := latestFields(msg)
	if err != nil {
		return err
	}

	pipe := p.rdb.Pipeline()
	// Hash: field = "BTC" -> item json
	if len(fields) > 0 {
		pipe.HSet(ctx, p.keyLatest, fields)
		if p.ttl > 0 {
			pipe.Expire(ctx, p.keyLatest, p.ttl)
		}
	}
	pipe.Publish(ctx, p.channel, payload)
	_, err = pipe.Exec(ctx)
	return err
}

func latestFields(msg model.SnapshotMessage) (map[string]any, error) {
	fields := make(map[string]any, len(msg.CoinData))
	for _, item := range msg.CoinData {
		b, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		fields[item.Coin] = string(b)
	}
	return fields, nil
}

var _ port.SnapshotSink = (*Publisher)(nil)
