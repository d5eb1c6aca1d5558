package fxrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrAuth 来源拒绝了凭证（HTTP 401/403 或 KEXIM result=3）
	ErrAuth = errors.New("fx source authorization failed")
	// ErrNoRate 响应中没有可用的 USD/KRW 汇率
	ErrNoRate = errors.New("fx source returned no usd/krw rate")
	// ErrQuota 本地配额限制，未发起请求
	ErrQuota = errors.New("fx source quota exhausted")
)

const maxBodyBytes = 1 << 20

// getJSON GET url 并把 2xx 响应体解码到 out
func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("http %d: %w", resp.StatusCode, ErrAuth)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
