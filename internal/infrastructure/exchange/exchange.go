package exchange

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"kimp/internal/domain/model"
)

// Conn 是 feed client 需要的最小 websocket 连接能力，*websocket.Conn 直接满足
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a streaming connection to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer gorilla/websocket 实现
type WSDialer struct {
	Dialer *websocket.Dialer
}

func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Clock 供重连退避和心跳使用，测试中可替换
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// RetryPolicy 连接失败或断开后的固定退避
type RetryPolicy struct {
	Delay time.Duration
}

// DefaultRetryPolicy 默认 5s 后重连，无限重试
var DefaultRetryPolicy = RetryPolicy{Delay: 5 * time.Second}

// Tick 交易所原始行情，尚未归一化
type Tick struct {
	Market string // 交易所格式，例如 "KRW-BTC" / "BTCUSDT"
	Price  string
	TsMs   int64 // 交易所时间戳，0 表示没有
}

// Protocol 封装某个交易所的订阅格式、心跳和消息解析
type Protocol interface {
	Name() string
	Source() model.Source
	Converter() SymbolConverter
	// SubscribeFrames 连接建立后依次发送的订阅帧
	SubscribeFrames(markets []string) ([][]byte, error)
	// Heartbeat 返回心跳间隔和心跳帧，interval <= 0 表示协议不需要心跳
	Heartbeat() (interval time.Duration, frame []byte)
	// Parse 把一帧消息转换为 0..n 个 Tick；控制帧（ack/pong）返回 nil, nil
	Parse(frame []byte) ([]Tick, error)
}
