package fxrate

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kimp/internal/domain/model"
)

const (
	SourceDunamu = "dunamu"

	DefaultDunamuURL = "https://quotation-api-cdn.dunamu.com/v1/forex/recent?codes=FRX.KRWUSD"
)

type dunamuItem struct {
	Code      string          `json:"code"`
	BasePrice decimal.Decimal `json:"basePrice"`
}

// Dunamu Upbit 的汇率 CDN（以韩亚银行公告为准）
type Dunamu struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewDunamu(url string, timeout time.Duration) *Dunamu {
	if strings.TrimSpace(url) == "" {
		url = DefaultDunamuURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dunamu{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (d *Dunamu) Name() string { return SourceDunamu }

func (d *Dunamu) FetchRate(ctx context.Context) (model.FxRate, error) {
	var items []dunamuItem
	if err := getJSON(ctx, d.client, d.url, &items); err != nil {
		return model.FxRate{}, err
	}
	if len(items) == 0 || !items[0].BasePrice.IsPositive() {
		return model.FxRate{}, ErrNoRate
	}
	return model.FxRate{Value: items[0].BasePrice, FetchedAt: d.now(), Source: SourceDunamu}, nil
}
