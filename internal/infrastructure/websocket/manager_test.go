package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kimp/internal/domain/model"
	"kimp/internal/infrastructure/metrics"
)

var errFakeClosed = errors.New("closed")

type fakeConn struct {
	err   error
	block chan struct{} // 非 nil 时写入一直阻塞到连接关闭

	mu     sync.Mutex
	msgs   []string
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
			return errFakeClosed
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, string(data))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func received(c *fakeConn, want ...string) func() bool {
	return func() bool {
		got := c.messages()
		if len(got) != len(want) {
			return false
		}
		for i := range want {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}
}

func newTestManager(buffer int) *Manager {
	return NewManager(ManagerOptions{Buffer: buffer, Metrics: metrics.New()})
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	m := newTestManager(8)
	a, b := newFakeConn(), newFakeConn()
	m.Register(a)
	m.Register(b)
	require.Equal(t, 2, m.Count())

	m.Broadcast([]byte("one"))
	m.Broadcast([]byte("two"))

	require.Eventually(t, received(a, "one", "two"), time.Second, time.Millisecond)
	require.Eventually(t, received(b, "one", "two"), time.Second, time.Millisecond)
}

func TestRegisterReceivesLastPayload(t *testing.T) {
	m := newTestManager(8)
	m.Broadcast([]byte("first"))
	m.Broadcast([]byte("latest"))

	c := newFakeConn()
	m.Register(c)
	require.Eventually(t, received(c, "latest"), time.Second, time.Millisecond)
}

func TestFailingSessionDoesNotBlockOthers(t *testing.T) {
	m := newTestManager(8)
	bad := newFakeConn()
	bad.err = errors.New("broken pipe")
	good := newFakeConn()

	badSession := m.Register(bad)
	m.Register(good)

	m.Broadcast([]byte("a"))
	require.Eventually(t, func() bool { return m.Count() == 1 }, time.Second, time.Millisecond)
	<-badSession.Done()
	require.True(t, bad.isClosed())

	m.Broadcast([]byte("b"))
	require.Eventually(t, received(good, "a", "b"), time.Second, time.Millisecond)
	require.False(t, good.isClosed())
}

func TestSlowSessionIsDropped(t *testing.T) {
	m := newTestManager(4)
	slow := newFakeConn()
	slow.block = make(chan struct{})
	good := newFakeConn()

	slowSession := m.Register(slow)
	m.Register(good)

	// 写 goroutine 卡在第一条，缓冲 4 条，第 6 条时被判定为慢消费者
	var want []string
	for i := range 6 {
		p := fmt.Sprintf("p%d", i)
		want = append(want, p)
		m.Broadcast([]byte(p))
		require.Eventually(t, received(good, want...), time.Second, time.Millisecond)
	}

	select {
	case <-slowSession.Done():
	case <-time.After(time.Second):
		t.Fatal("slow session not dropped")
	}
	require.True(t, slow.isClosed())
	require.Equal(t, 1, m.Count())
}

func TestUnregister(t *testing.T) {
	m := newTestManager(8)
	c := newFakeConn()
	s := m.Register(c)

	m.Unregister(s)
	m.Unregister(s)
	require.Zero(t, m.Count())
	require.True(t, c.isClosed())
	<-s.Done()
}

func TestCloseTearsDownSessions(t *testing.T) {
	m := newTestManager(8)
	a, b := newFakeConn(), newFakeConn()
	m.Register(a)
	m.Register(b)

	require.NoError(t, m.Close())
	require.Zero(t, m.Count())
	require.True(t, a.isClosed())
	require.True(t, b.isClosed())

	late := newFakeConn()
	s := m.Register(late)
	<-s.Done()
	require.True(t, late.isClosed())
	require.Zero(t, m.Count())
}

func TestPublishMarshalsSnapshot(t *testing.T) {
	m := newTestManager(8)
	c := newFakeConn()
	m.Register(c)

	now := time.UnixMilli(1700000000000)
	snap := &model.SpreadSnapshot{
		Rate: model.FxRate{Value: decimal.NewFromInt(1400), FetchedAt: now, Source: "kexim"},
		Items: []model.Premium{{
			Symbol:                "BTC",
			DomesticPrice:         decimal.NewFromInt(100000000),
			ForeignPrice:          decimal.NewFromInt(70000),
			FxRate:                decimal.NewFromInt(1400),
			ForeignPriceConverted: decimal.NewFromInt(98000000),
			SpreadPercent:         decimal.RequireFromString("2.04"),
			ComputedAt:            now,
		}},
		ComputedAt: now,
	}
	require.NoError(t, m.Publish(context.Background(), snap))
	require.Eventually(t, func() bool { return len(c.messages()) == 1 }, time.Second, time.Millisecond)

	var msg model.SnapshotMessage
	require.NoError(t, json.Unmarshal([]byte(c.messages()[0]), &msg))
	require.Equal(t, 1400.0, msg.ExchangeRate)
	require.Equal(t, "kexim", msg.FxSource)
	require.Equal(t, int64(1700000000000), msg.Ts)
	require.Len(t, msg.CoinData, 1)
	require.Equal(t, "BTC", msg.CoinData[0].Coin)
	require.Equal(t, 98000000.0, msg.CoinData[0].ForeignPriceConverted)
	require.Equal(t, 2.04, msg.CoinData[0].PremiumPercent)
}

func TestRegisterKeepsPayloadOrderDuringBroadcast(t *testing.T) {
	const rounds = 200
	m := NewManager(ManagerOptions{Buffer: rounds + 1})
	defer m.Close()

	var conns []*fakeConn
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= rounds; i++ {
			m.Broadcast([]byte(fmt.Sprint(i)))
		}
	}()
	for range 20 {
		c := newFakeConn()
		conns = append(conns, c)
		m.Register(c)
	}
	wg.Wait()

	last := fmt.Sprint(rounds)
	for _, c := range conns {
		require.Eventually(t, func() bool {
			msgs := c.messages()
			return len(msgs) > 0 && msgs[len(msgs)-1] == last
		}, time.Second, time.Millisecond)

		prev := 0
		for _, msg := range c.messages() {
			var n int
			_, err := fmt.Sscan(msg, &n)
			require.NoError(t, err)
			require.GreaterOrEqual(t, n, prev, "payloads out of order: %v", c.messages())
			prev = n
		}
	}
}
