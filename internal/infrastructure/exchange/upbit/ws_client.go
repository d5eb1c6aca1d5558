package upbit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kimp/internal/domain/model"
	"kimp/internal/infrastructure/exchange"
)

const (
	Name          = "upbit"
	DefaultWSURL  = "wss://api.upbit.com/websocket/v1"
	marketPrefix  = "KRW-"
	heartbeatText = "PING"
)

// Protocol Upbit KRW 现货 ticker 协议
type Protocol struct {
	ticket    string
	heartbeat time.Duration
	conv      *exchange.AffixConverter
}

// New heartbeat <= 0 表示不发送心跳（Upbit 行情足够频繁）
func New(heartbeat time.Duration) *Protocol {
	return &Protocol{
		ticket:    uuid.NewString(),
		heartbeat: heartbeat,
		conv:      exchange.NewPrefixConverter(marketPrefix),
	}
}

func (p *Protocol) Name() string                        { return Name }
func (p *Protocol) Source() model.Source                { return model.SourceDomestic }
func (p *Protocol) Converter() exchange.SymbolConverter { return p.conv }

type ticketField struct {
	Ticket string `json:"ticket"`
}

type typeField struct {
	Type  string   `json:"type"`
	Codes []string `json:"codes"`
}

type formatField struct {
	Format string `json:"format"`
}

// SubscribeFrames 单帧订阅全部 market；重连时 ticket 不变，订阅内容一致
func (p *Protocol) SubscribeFrames(markets []string) ([][]byte, error) {
	if len(markets) == 0 {
		return nil, errors.New("upbit: no markets")
	}
	b, err := json.Marshal([]any{
		ticketField{Ticket: p.ticket},
		typeField{Type: "ticker", Codes: markets},
		formatField{Format: "DEFAULT"},
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

func (p *Protocol) Heartbeat() (time.Duration, []byte) {
	if p.heartbeat <= 0 {
		return 0, nil
	}
	return p.heartbeat, []byte(heartbeatText)
}

type upbitError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type upbitTicker struct {
	Type       string      `json:"type"`
	Code       string      `json:"code"`
	TradePrice json.Number `json:"trade_price"`
	Timestamp  int64       `json:"timestamp"`
	Status     string      `json:"status"`
	Error      *upbitError `json:"error"`
}

func (p *Protocol) Parse(frame []byte) ([]exchange.Tick, error) {
	var msg upbitTicker
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("upbit decode: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("upbit error %s: %s", msg.Error.Name, msg.Error.Message)
	}
	// {"status":"UP"} 是 PING 的回应
	if msg.Type != "ticker" {
		return nil, nil
	}
	if msg.Code == "" || msg.TradePrice == "" {
		return nil, errors.New("upbit ticker missing code or trade_price")
	}
	return []exchange.Tick{{
		Market: msg.Code,
		Price:  msg.TradePrice.String(),
		TsMs:   msg.Timestamp,
	}}, nil
}

var _ exchange.Protocol = (*Protocol)(nil)
