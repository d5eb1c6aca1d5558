package fxrate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"kimp/internal/domain/model"
)

const (
	SourceKexim = "kexim"

	DefaultKeximURL = "https://oapi.koreaexim.go.kr/site/program/financial/exchangeJSON"
)

// KEXIM result codes: 1 成功, 2 DATA 代码错误, 3 认证码错误, 4 当日调用次数已用完
const (
	keximResultOK         = 1
	keximResultDataCode   = 2
	keximResultAuth       = 3
	keximResultDailyLimit = 4
)

var seoul = time.FixedZone("KST", 9*60*60)

type keximItem struct {
	Result   int    `json:"result"`
	CurUnit  string `json:"cur_unit"`
	DealBasR string `json:"deal_bas_r"`
}

// Kexim 韩国进出口银行 (Korea Eximbank) 的买卖基准汇率
// 配额用完时返回上一次成功的汇率（每日公布一次，仍然有效），不让调用方切换到其他来源
type Kexim struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time

	mu   sync.Mutex
	last model.FxRate
}

// NewKexim dailyLimit <= 0 表示不做本地配额限制
func NewKexim(baseURL, apiKey string, timeout time.Duration, dailyLimit int) *Kexim {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultKeximURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	k := &Kexim{
		baseURL: strings.TrimSpace(baseURL),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
	if dailyLimit > 0 {
		k.limiter = rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(dailyLimit)), 1)
	}
	return k
}

func (k *Kexim) Name() string { return SourceKexim }

func (k *Kexim) FetchRate(ctx context.Context) (model.FxRate, error) {
	if k.apiKey == "" {
		return model.FxRate{}, fmt.Errorf("kexim api key empty: %w", ErrAuth)
	}
	if k.limiter != nil && !k.limiter.Allow() {
		return k.cached(ErrQuota)
	}

	q := url.Values{}
	q.Set("authkey", k.apiKey)
	q.Set("searchdate", k.now().In(seoul).Format("20060102"))
	q.Set("data", "AP01")

	var items []keximItem
	if err := getJSON(ctx, k.client, k.baseURL+"?"+q.Encode(), &items); err != nil {
		return model.FxRate{}, err
	}
	value, err := parseKexim(items)
	if errors.Is(err, ErrQuota) {
		return k.cached(err)
	}
	if err != nil {
		return model.FxRate{}, err
	}
	fx := model.FxRate{Value: value, FetchedAt: k.now(), Source: SourceKexim}

	k.mu.Lock()
	k.last = fx
	k.mu.Unlock()
	return fx, nil
}

// cached 配额受限时沿用上一次的值，FetchedAt 刷新为当前时间；从未成功过则返回 err
func (k *Kexim) cached(err error) (model.FxRate, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.last.Valid() {
		return model.FxRate{}, err
	}
	fx := k.last
	fx.FetchedAt = k.now()
	return fx, nil
}

// parseKexim 工作日 11 点之前或周末返回空数组
func parseKexim(items []keximItem) (decimal.Decimal, error) {
	if len(items) == 0 {
		return decimal.Zero, ErrNoRate
	}
	switch items[0].Result {
	case keximResultOK:
	case keximResultAuth:
		return decimal.Zero, fmt.Errorf("kexim result %d: %w", items[0].Result, ErrAuth)
	case keximResultDailyLimit:
		return decimal.Zero, fmt.Errorf("kexim result %d: %w", items[0].Result, ErrQuota)
	case keximResultDataCode:
		return decimal.Zero, fmt.Errorf("kexim result %d: invalid data code", items[0].Result)
	default:
		return decimal.Zero, fmt.Errorf("kexim result %d", items[0].Result)
	}

	for _, it := range items {
		if strings.ToUpper(strings.TrimSpace(it.CurUnit)) != "USD" {
			continue
		}
		raw := strings.ReplaceAll(strings.TrimSpace(it.DealBasR), ",", "")
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("kexim deal_bas_r %q: %w", it.DealBasR, err)
		}
		if !v.IsPositive() {
			return decimal.Zero, ErrNoRate
		}
		return v, nil
	}
	return decimal.Zero, ErrNoRate
}
