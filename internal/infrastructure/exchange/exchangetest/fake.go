// Package exchangetest provides scripted connections for feed client tests.
package exchangetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kimp/internal/infrastructure/exchange"
)

var (
	ErrClosed       = errors.New("fake conn closed")
	ErrRemoteClosed = errors.New("fake conn: remote hung up")
	ErrNoConn       = errors.New("fake dialer: no connection scripted")
	ErrWriteFailed  = errors.New("fake conn: write failed")
)

// Conn 脚本化的连接：Push 入站消息，Hangup 模拟服务端断开
type Conn struct {
	// FailWritesAfter > 0 时，成功写出这么多帧之后的写入都返回 ErrWriteFailed
	FailWritesAfter int

	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
	hangup  sync.Once

	mu       sync.Mutex
	written  [][]byte
	attempts int
}

func NewConn() *Conn {
	return &Conn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *Conn) Push(frame string) { c.inbound <- []byte(frame) }

// Hangup 已推送的消息读完后 ReadMessage 返回 ErrRemoteClosed
func (c *Conn) Hangup() { c.hangup.Do(func() { close(c.inbound) }) }

func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, ErrClosed
	case f, ok := <-c.inbound:
		if !ok {
			return 0, nil, ErrRemoteClosed
		}
		return websocket.TextMessage, f, nil
	}
}

func (c *Conn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.IsClosed() {
		return ErrClosed
	}
	if c.FailWritesAfter > 0 && len(c.written) >= c.FailWritesAfter {
		return ErrWriteFailed
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *Conn) SetReadDeadline(time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Written 所有写出的帧（订阅帧 + 心跳帧）
func (c *Conn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

// Attempts 包括失败的写入
func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Dialer 按顺序返回预先准备的连接，用完后返回 ErrNoConn
type Dialer struct {
	mu    sync.Mutex
	conns []*Conn
	dials int
}

func NewDialer(conns ...*Conn) *Dialer { return &Dialer{conns: conns} }

func (d *Dialer) Dial(ctx context.Context, _ string) (exchange.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, ErrNoConn
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Clock 记录所有等待时长，实际只等待 Step（默认 1ms）
type Clock struct {
	Step time.Duration

	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func NewClock(now time.Time) *Clock { return &Clock{now: now, Step: time.Millisecond} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	return time.After(c.Step)
}

// Waited 返回等待过 d 的次数
func (c *Clock) Waited(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, x := range c.delays {
		if x == d {
			n++
		}
	}
	return n
}

var (
	_ exchange.Conn   = (*Conn)(nil)
	_ exchange.Dialer = (*Dialer)(nil)
	_ exchange.Clock  = (*Clock)(nil)
)
