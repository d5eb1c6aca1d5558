package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// 默认跟踪的币种
var DefaultSymbols = []string{"BTC", "ETH", "XRP", "LTC", "BCH", "1INCH", "A", "AAVE", "ADA"}

// 已知交易所的默认连接参数
var knownExchanges = map[string]ExchangeConfig{
	"upbit": {
		Enabled: true,
		WsURL:   "wss://api.upbit.com/websocket/v1",
	},
	"bybit": {
		Enabled:          true,
		WsURL:            "wss://stream.bybit.com/v5/public/spot",
		HeartbeatSeconds: 15,
	},
}

var knownRateSources = map[string]struct{}{"kexim": {}, "erapi": {}, "dunamu": {}}

type ExchangeConfig struct {
	Enabled            bool   `toml:"enabled"`
	WsURL              string `toml:"ws_url"`
	ReadTimeoutSeconds int    `toml:"read_timeout_seconds"`
	RetrySeconds       int    `toml:"retry_seconds"`
	HeartbeatSeconds   int    `toml:"heartbeat_seconds"`
}

func (e ExchangeConfig) ReadTimeout() time.Duration {
	return time.Duration(e.ReadTimeoutSeconds) * time.Second
}

func (e ExchangeConfig) Retry() time.Duration { return time.Duration(e.RetrySeconds) * time.Second }

func (e ExchangeConfig) Heartbeat() time.Duration {
	return time.Duration(e.HeartbeatSeconds) * time.Second
}

type Config struct {
	App struct {
		LogLevel            string  `toml:"log_level"`
		ListenAddr          string  `toml:"listen_addr"`
		BroadcastIntervalMs int     `toml:"broadcast_interval_ms"`
		Console             bool    `toml:"console"`
		PremiumThreshold    float64 `toml:"premium_threshold"`
	} `toml:"app"`

	Symbols struct {
		List []string `toml:"list"`
	} `toml:"symbols"`

	Exchange map[string]ExchangeConfig `toml:"exchange"`

	Fx struct {
		DefaultRate     float64  `toml:"default_rate"`
		TTLSeconds      int      `toml:"ttl_seconds"`
		RetrySeconds    int      `toml:"retry_seconds"`
		TimeoutSeconds  int      `toml:"timeout_seconds"`
		Sources         []string `toml:"sources"`
		KeximAPIKey     string   `toml:"kexim_api_key"`
		KeximDailyLimit int      `toml:"kexim_daily_limit"`
		KeximURL        string   `toml:"kexim_url"`
		ErapiURL        string   `toml:"erapi_url"`
		DunamuURL       string   `toml:"dunamu_url"`
	} `toml:"fx"`

	Storage struct {
		Redis struct {
			Enabled    bool   `toml:"enabled"`
			Addr       string `toml:"addr"`
			Password   string `toml:"password"`
			DB         int    `toml:"db"`
			Prefix     string `toml:"prefix"`
			TTLSeconds int    `toml:"ttl_seconds"`
		} `toml:"redis"`

		SQLite struct {
			Enabled bool   `toml:"enabled"`
			Path    string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`
	} `toml:"storage"`

	Session struct {
		Buffer              int `toml:"buffer"`
		WriteTimeoutSeconds int `toml:"write_timeout_seconds"`
	} `toml:"session"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

// Parse 从 toml 文本加载，主要用于测试
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 密钥类配置可以用环境变量覆盖
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("KEXIM_API_KEY")); v != "" {
		cfg.Fx.KeximAPIKey = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("POSTGRES_DSN")); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.ListenAddr == "" {
		cfg.App.ListenAddr = ":8080"
	}
	if cfg.App.BroadcastIntervalMs <= 0 {
		cfg.App.BroadcastIntervalMs = 1000
	}
	if cfg.App.PremiumThreshold <= 0 {
		cfg.App.PremiumThreshold = 3.0
	}
	if len(cfg.Symbols.List) == 0 {
		cfg.Symbols.List = append([]string(nil), DefaultSymbols...)
	}

	// 未配置 [exchange] 时两个交易所都启用
	if len(cfg.Exchange) == 0 {
		cfg.Exchange = make(map[string]ExchangeConfig, len(knownExchanges))
		for name, def := range knownExchanges {
			cfg.Exchange[name] = def
		}
	}
	for name, ex := range cfg.Exchange {
		def := knownExchanges[name]
		if strings.TrimSpace(ex.WsURL) == "" {
			ex.WsURL = def.WsURL
		}
		if ex.ReadTimeoutSeconds <= 0 {
			ex.ReadTimeoutSeconds = 60
		}
		if ex.RetrySeconds <= 0 {
			ex.RetrySeconds = 5
		}
		if ex.HeartbeatSeconds <= 0 {
			ex.HeartbeatSeconds = def.HeartbeatSeconds
		}
		cfg.Exchange[name] = ex
	}

	if cfg.Fx.DefaultRate <= 0 {
		cfg.Fx.DefaultRate = 1350
	}
	if cfg.Fx.TTLSeconds <= 0 {
		cfg.Fx.TTLSeconds = 60
	}
	if cfg.Fx.RetrySeconds <= 0 {
		cfg.Fx.RetrySeconds = 10
	}
	if cfg.Fx.TimeoutSeconds <= 0 {
		cfg.Fx.TimeoutSeconds = 5
	}
	if len(cfg.Fx.Sources) == 0 {
		cfg.Fx.Sources = []string{"kexim", "erapi", "dunamu"}
	}
	if cfg.Fx.KeximDailyLimit <= 0 {
		cfg.Fx.KeximDailyLimit = 1000
	}

	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "kimp"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/kimp.db"
	}

	if cfg.Session.Buffer <= 0 {
		cfg.Session.Buffer = 16
	}
	if cfg.Session.WriteTimeoutSeconds <= 0 {
		cfg.Session.WriteTimeoutSeconds = 5
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}

	if len(cfg.EnabledExchanges()) == 0 {
		return errors.New("no exchange enabled")
	}
	for name, ex := range cfg.Exchange {
		if ex.Enabled && strings.TrimSpace(ex.WsURL) == "" {
			return fmt.Errorf("exchange.%s.ws_url empty but enabled", name)
		}
	}

	cfg.Fx.Sources = normalizeSources(cfg.Fx.Sources)
	if len(cfg.Fx.Sources) == 0 {
		return errors.New("fx.sources is empty")
	}
	for _, s := range cfg.Fx.Sources {
		if _, ok := knownRateSources[s]; !ok {
			return fmt.Errorf("fx.sources: unknown source %q", s)
		}
	}

	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	return nil
}

// EnabledExchanges 已启用的交易所，按名称排序
func (c *Config) EnabledExchanges() []string {
	out := make([]string, 0, len(c.Exchange))
	for name, ex := range c.Exchange {
		if ex.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Config) BroadcastInterval() time.Duration {
	return time.Duration(c.App.BroadcastIntervalMs) * time.Millisecond
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func normalizeSources(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToLower(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
