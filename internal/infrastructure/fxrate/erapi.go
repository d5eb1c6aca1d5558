package fxrate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kimp/internal/domain/model"
)

const (
	SourceErAPI = "erapi"

	DefaultErAPIURL = "https://open.er-api.com/v6/latest/USD"
)

type erAPIResponse struct {
	Result     string                     `json:"result"`
	ErrorType  string                     `json:"error-type"`
	Rates      map[string]decimal.Decimal `json:"rates"`
	UpdateUnix int64                      `json:"time_last_update_unix"`
}

// ErAPI open.er-api.com 免费接口，USD 为基准
type ErAPI struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewErAPI(url string, timeout time.Duration) *ErAPI {
	if strings.TrimSpace(url) == "" {
		url = DefaultErAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ErAPI{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (e *ErAPI) Name() string { return SourceErAPI }

func (e *ErAPI) FetchRate(ctx context.Context) (model.FxRate, error) {
	var resp erAPIResponse
	if err := getJSON(ctx, e.client, e.url, &resp); err != nil {
		return model.FxRate{}, err
	}
	if resp.Result != "success" {
		if resp.ErrorType == "invalid-key" {
			return model.FxRate{}, fmt.Errorf("erapi %s: %w", resp.ErrorType, ErrAuth)
		}
		return model.FxRate{}, fmt.Errorf("erapi result %q: %s", resp.Result, resp.ErrorType)
	}
	krw, ok := resp.Rates["KRW"]
	if !ok || !krw.IsPositive() {
		return model.FxRate{}, ErrNoRate
	}
	return model.FxRate{Value: krw, FetchedAt: e.now(), Source: SourceErAPI}, nil
}
