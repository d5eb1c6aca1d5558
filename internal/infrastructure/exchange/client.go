package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
	"kimp/internal/infrastructure/metrics"
)

// ClientConfig feed client 配置
type ClientConfig struct {
	URL          string
	Symbols      []string
	Retry        RetryPolicy
	DialTimeout  time.Duration
	ReadTimeout  time.Duration // 0 表示不设置读超时
	WriteTimeout time.Duration
	Dialer       Dialer
	Clock        Clock
	Metrics      *metrics.Metrics
}

// Client 一个交易所的长连接行情客户端。
// Run 是一个受监督的循环：连接 -> 订阅 -> (心跳 ‖ 接收) -> 断开后固定退避 -> 重连，直到 ctx 结束。
type Client struct {
	proto   Protocol
	cfg     ClientConfig
	markets []string
}

func NewClient(proto Protocol, cfg ClientConfig) (*Client, error) {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, fmt.Errorf("%s ws_url empty", proto.Name())
	}
	if cfg.Retry.Delay <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WSDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}

	// 将币种转换为交易所格式的交易对 (e.g., BTC -> KRW-BTC)
	conv := proto.Converter()
	markets := make([]string, 0, len(cfg.Symbols))
	seen := make(map[string]struct{}, len(cfg.Symbols))
	for _, coin := range cfg.Symbols {
		m := conv.Coin2Symbol(model.NormalizeSymbol(coin))
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		markets = append(markets, m)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("no valid symbols for %s", proto.Name())
	}

	return &Client{proto: proto, cfg: cfg, markets: markets}, nil
}

func (c *Client) Name() string { return c.proto.Name() }

func (c *Client) Source() model.Source { return c.proto.Source() }

// Markets returns the exchange-specific identifiers the client subscribes to.
func (c *Client) Markets() []string {
	out := make([]string, len(c.markets))
	copy(out, c.markets)
	return out
}

// Run 阻塞直到 ctx 结束；连接失败和断开都只会触发重连，不会让 Run 返回
func (c *Client) Run(ctx context.Context, w port.QuoteWriter) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			c.cfg.Metrics.FeedReconnect(c.Name())
		}

		err := c.session(ctx, w)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn().
			Str("feed", c.Name()).
			Err(err).
			Dur("retry_in", c.cfg.Retry.Delay).
			Msg("ws disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.cfg.Clock.After(c.cfg.Retry.Delay):
		}
	}
}

// session 处理一条连接的完整生命周期，返回断开原因
func (c *Client) session(ctx context.Context, w port.QuoteWriter) error {
	log.Info().Str("feed", c.Name()).Str("url", c.cfg.URL).Msg("ws connecting")

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.cfg.Dialer.Dial(dctx, c.cfg.URL)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	frames, err := c.proto.SubscribeFrames(c.markets)
	if err != nil {
		return fmt.Errorf("build subscription: %w", err)
	}
	for _, f := range frames {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	log.Info().Str("feed", c.Name()).Int("markets", len(c.markets)).Msg("ws connected & subscribed")
	c.cfg.Metrics.FeedConnected(c.Name(), true)
	defer c.cfg.Metrics.FeedConnected(c.Name(), false)

	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	// 连接上下文结束时关闭连接，解除 ReadMessage 的阻塞
	unwatch := context.AfterFunc(connCtx, func() { _ = conn.Close() })
	defer unwatch()

	var wg sync.WaitGroup
	if interval, frame := c.proto.Heartbeat(); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.heartbeat(connCtx, conn, interval, frame, stop)
		}()
	}

	err = c.readLoop(conn, w)
	stop()
	wg.Wait()
	return err
}

func (c *Client) heartbeat(ctx context.Context, conn Conn, interval time.Duration, frame []byte, fail func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.cfg.Clock.After(interval):
		}
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Warn().Str("feed", c.Name()).Err(err).Msg("heartbeat failed")
			fail()
			return
		}
		log.Debug().Str("feed", c.Name()).Msg("ping")
	}
}

func (c *Client) readLoop(conn Conn, w port.QuoteWriter) error {
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handle(frame, w)
	}
}

// handle 解析失败、无法映射、非法价格的消息直接丢弃，只计数
func (c *Client) handle(frame []byte, w port.QuoteWriter) {
	ticks, err := c.proto.Parse(frame)
	if err != nil {
		c.cfg.Metrics.FeedDropped(c.Name(), metrics.ReasonParse)
		log.Debug().Str("feed", c.Name()).Err(err).Msg("drop message")
		return
	}

	conv := c.proto.Converter()
	for _, t := range ticks {
		coin, ok := conv.Symbol2Coin(t.Market)
		if !ok {
			c.cfg.Metrics.FeedDropped(c.Name(), metrics.ReasonUnmapped)
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(t.Price))
		if err != nil || !price.IsPositive() {
			c.cfg.Metrics.FeedDropped(c.Name(), metrics.ReasonPrice)
			continue
		}
		ts := c.cfg.Clock.Now()
		if t.TsMs > 0 {
			ts = time.UnixMilli(t.TsMs)
		}
		if !w.PutPrice(c.proto.Source(), coin, price, ts) {
			c.cfg.Metrics.FeedDropped(c.Name(), metrics.ReasonUnmapped)
			continue
		}
		c.cfg.Metrics.FeedMessage(c.Name())
	}
}

var _ port.PriceFeed = (*Client)(nil)
