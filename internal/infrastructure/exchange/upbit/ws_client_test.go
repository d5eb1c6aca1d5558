package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kimp/internal/application/usecase/premium"
	"kimp/internal/domain/model"
	"kimp/internal/infrastructure/exchange"
	"kimp/internal/infrastructure/exchange/exchangetest"
)

func tickerFrame(code, price string) string {
	return fmt.Sprintf(`{"type":"ticker","code":%q,"trade_price":%s,"timestamp":1700000000000,"stream_type":"REALTIME"}`, code, price)
}

func TestParseTicker(t *testing.T) {
	p := New(0)

	ticks, err := p.Parse([]byte(tickerFrame("KRW-BTC", "95000000.0")))
	require.NoError(t, err)
	require.Equal(t, []exchange.Tick{{Market: "KRW-BTC", Price: "95000000.0", TsMs: 1700000000000}}, ticks)

	ticks, err = p.Parse([]byte(`{"status":"UP"}`))
	require.NoError(t, err)
	require.Empty(t, ticks)

	_, err = p.Parse([]byte(`{"error":{"name":"INVALID_PARAM","message":"bad codes"}}`))
	require.ErrorContains(t, err, "INVALID_PARAM")

	_, err = p.Parse([]byte(`{"type":"ticker","code":"KRW-BTC"}`))
	require.Error(t, err)

	_, err = p.Parse([]byte(`not json`))
	require.Error(t, err)
}

func TestSubscribeFrames(t *testing.T) {
	p := New(0)
	frames, err := p.SubscribeFrames([]string{"KRW-BTC", "KRW-ETH"})
	require.NoError(t, err)
	require.Len(t, frames, 1)

	var req []map[string]any
	require.NoError(t, json.Unmarshal(frames[0], &req))
	require.Len(t, req, 3)
	require.NotEmpty(t, req[0]["ticket"])
	require.Equal(t, "ticker", req[1]["type"])
	require.Equal(t, []any{"KRW-BTC", "KRW-ETH"}, req[1]["codes"])

	again, err := p.SubscribeFrames([]string{"KRW-BTC", "KRW-ETH"})
	require.NoError(t, err)
	require.Equal(t, frames, again)

	_, err = p.SubscribeFrames(nil)
	require.Error(t, err)
}

func TestHeartbeatDisabledByDefault(t *testing.T) {
	interval, _ := New(0).Heartbeat()
	require.Zero(t, interval)

	interval, frame := New(time.Minute).Heartbeat()
	require.Equal(t, time.Minute, interval)
	require.Equal(t, "PING", string(frame))
}

func newTestClient(t *testing.T, dialer exchange.Dialer, clock exchange.Clock) *exchange.Client {
	t.Helper()
	c, err := exchange.NewClient(New(0), exchange.ClientConfig{
		URL:     "wss://upbit.test/websocket/v1",
		Symbols: []string{"btc", "ETH", "BTC"},
		Retry:   exchange.RetryPolicy{Delay: 5 * time.Second},
		Dialer:  dialer,
		Clock:   clock,
	})
	require.NoError(t, err)
	return c
}

func runClient(t *testing.T, c *exchange.Client, cache *premium.PriceCache) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, cache) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClientMarkets(t *testing.T) {
	c := newTestClient(t, exchangetest.NewDialer(), exchangetest.NewClock(time.Now()))
	require.Equal(t, "upbit", c.Name())
	require.Equal(t, model.SourceDomestic, c.Source())
	require.Equal(t, []string{"KRW-BTC", "KRW-ETH"}, c.Markets())
}

func TestClientReconnectsWithSameSubscription(t *testing.T) {
	first := exchangetest.NewConn()
	first.Push(tickerFrame("KRW-BTC", "95000000"))
	first.Hangup()
	second := exchangetest.NewConn()
	second.Push(tickerFrame("KRW-ETH", "4000000"))

	dialer := exchangetest.NewDialer(first, second)
	clock := exchangetest.NewClock(time.Unix(0, 0))
	cache := premium.NewPriceCache([]string{"BTC", "ETH"})

	cancel, done := runClient(t, newTestClient(t, dialer, clock), cache)

	require.Eventually(t, func() bool {
		_, ok := cache.Get(model.SourceDomestic, "ETH")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	btc, ok := cache.Get(model.SourceDomestic, "BTC")
	require.True(t, ok)
	require.True(t, btc.Price.Equal(decimal.RequireFromString("95000000")))
	require.Equal(t, time.UnixMilli(1700000000000), btc.ObservedAt)

	require.Equal(t, 2, dialer.Dials())
	require.Equal(t, 1, clock.Waited(5*time.Second))
	require.True(t, first.IsClosed())
	require.Len(t, first.Written(), 1)
	require.Equal(t, first.Written(), second.Written())

	cancel()
	waitStopped(t, done)
	require.True(t, second.IsClosed())
}

func TestClientDropsBadMessages(t *testing.T) {
	conn := exchangetest.NewConn()
	conn.Push(`not json`)
	conn.Push(`{"status":"UP"}`)
	conn.Push(`{"error":{"name":"X","message":"y"}}`)
	conn.Push(tickerFrame("KRW-DOGE", "150")) // 未跟踪
	conn.Push(tickerFrame("BTC-ETH", "0.05")) // 非 KRW 市场
	conn.Push(tickerFrame("KRW-BTC", "0"))    // 非法价格
	conn.Push(tickerFrame("KRW-ETH", "4000000"))

	cache := premium.NewPriceCache([]string{"BTC", "ETH"})
	cancel, done := runClient(t, newTestClient(t, exchangetest.NewDialer(conn), exchangetest.NewClock(time.Now())), cache)

	require.Eventually(t, func() bool {
		_, ok := cache.Get(model.SourceDomestic, "ETH")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := cache.Get(model.SourceDomestic, "BTC")
	require.False(t, ok)
	require.False(t, cache.Tracks("DOGE"))

	cancel()
	waitStopped(t, done)
}

func TestClientRetriesDialFailures(t *testing.T) {
	dialer := exchangetest.NewDialer()
	clock := exchangetest.NewClock(time.Now())
	cancel, done := runClient(t, newTestClient(t, dialer, clock), premium.NewPriceCache([]string{"BTC"}))

	require.Eventually(t, func() bool { return dialer.Dials() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, clock.Waited(5*time.Second), 2)

	cancel()
	waitStopped(t, done)
}
