package bybit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"kimp/internal/domain/model"
	"kimp/internal/infrastructure/exchange"
)

const (
	Name             = "bybit"
	DefaultWSURL     = "wss://stream.bybit.com/v5/public/spot"
	DefaultHeartbeat = 15 * time.Second

	quoteSuffix = "USDT"
	topicPrefix = "tickers."
	// spot 公共频道每个订阅请求最多 10 个 args
	maxArgsPerFrame = 10
)

var pingFrame = []byte(`{"op":"ping"}`)

// Protocol Bybit USDT 现货 ticker 协议
type Protocol struct {
	heartbeat time.Duration
	conv      *exchange.AffixConverter
}

func New(heartbeat time.Duration) *Protocol {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Protocol{
		heartbeat: heartbeat,
		conv:      exchange.NewSuffixConverter(quoteSuffix),
	}
}

func (p *Protocol) Name() string                        { return Name }
func (p *Protocol) Source() model.Source                { return model.SourceForeign }
func (p *Protocol) Converter() exchange.SymbolConverter { return p.conv }

func (p *Protocol) Heartbeat() (time.Duration, []byte) { return p.heartbeat, pingFrame }

type bybitSubReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (p *Protocol) SubscribeFrames(markets []string) ([][]byte, error) {
	if len(markets) == 0 {
		return nil, errors.New("bybit: no markets")
	}
	topics := make([]string, 0, len(markets))
	for _, m := range markets {
		topics = append(topics, topicPrefix+strings.ToUpper(m))
	}

	frames := make([][]byte, 0, (len(topics)+maxArgsPerFrame-1)/maxArgsPerFrame)
	for i := 0; i < len(topics); i += maxArgsPerFrame {
		end := min(i+maxArgsPerFrame, len(topics))
		b, err := json.Marshal(bybitSubReq{Op: "subscribe", Args: topics[i:end]})
		if err != nil {
			return nil, err
		}
		frames = append(frames, b)
	}
	return frames, nil
}

type bybitTickerItem struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

// data can be object OR array
type BybitDataList []bybitTickerItem

func (d *BybitDataList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var arr []bybitTickerItem
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*d = arr
		return nil
	case '{':
		var one bybitTickerItem
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = BybitDataList{one}
		return nil
	default:
		return fmt.Errorf("unexpected data json: %s", string(b))
	}
}

type bybitTickerMsg struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"`
	Ts    int64         `json:"ts"`
	Data  BybitDataList `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

func (p *Protocol) Parse(frame []byte) ([]exchange.Tick, error) {
	var msg bybitTickerMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("bybit decode: %w", err)
	}

	// 订阅 ack / pong
	if msg.Success != nil {
		if !*msg.Success {
			return nil, fmt.Errorf("bybit %s rejected: %s", msg.Op, msg.RetMsg)
		}
		return nil, nil
	}
	if msg.Op == "pong" || !strings.HasPrefix(msg.Topic, topicPrefix) {
		return nil, nil
	}

	ticks := make([]exchange.Tick, 0, len(msg.Data))
	for _, it := range msg.Data {
		sym := it.Symbol
		if sym == "" {
			sym = strings.TrimPrefix(msg.Topic, topicPrefix)
		}
		if it.LastPrice == "" {
			continue
		}
		ticks = append(ticks, exchange.Tick{Market: sym, Price: it.LastPrice, TsMs: msg.Ts})
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("bybit ticker without lastPrice: %s", msg.Topic)
	}
	return ticks, nil
}

var _ exchange.Protocol = (*Protocol)(nil)
