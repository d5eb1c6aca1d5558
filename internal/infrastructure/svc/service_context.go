package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"kimp/internal/application/port"
	"kimp/internal/application/service"
	"kimp/internal/application/usecase/premium"
	"kimp/internal/infrastructure/config"
	"kimp/internal/infrastructure/fxrate"
	"kimp/internal/infrastructure/metrics"
	"kimp/internal/infrastructure/storage/composite"
	pgrepo "kimp/internal/infrastructure/storage/postgres"
	redisrepo "kimp/internal/infrastructure/storage/redis"
	sqliterepo "kimp/internal/infrastructure/storage/sqlite"
	"kimp/internal/infrastructure/websocket"
	"kimp/internal/interfaces/console"
	"kimp/internal/interfaces/httpserver"
)

// 控制台每隔多久额外打印一行带时间的快照
const consoleSnapshotEvery = 5 * time.Minute

type ServiceContext struct {
	Ctx     context.Context
	Config  *config.Config
	Metrics *metrics.Metrics

	// 基础设施层（第一层初始化）
	redisClient *redisclient.Client
	rateStore   *composite.Repo

	// 输出端口
	sessions *websocket.Manager
	console  *console.Sink
	sinks    []port.SnapshotSink

	// 应用业务组件（依赖基础设施）
	cache       *premium.PriceCache
	feeds       []port.PriceFeed
	rates       *service.FxRateProvider
	broadcaster *premium.Broadcaster
	server      *httpserver.Server

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Metrics:     metrics.New(),
		closerChain: make([]func() error, 0),
	}

	// 初始化所有组件，按依赖顺序
	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按照依赖关系有序初始化
func (sc *ServiceContext) initializeComponents() error {
	// 0. 存储层
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}

	// 1. 汇率
	if err := sc.initFxRate(); err != nil {
		return fmt.Errorf("fx rate provider initialization failed: %w", err)
	}

	// 2. 价格缓存 + 行情
	sc.cache = premium.NewPriceCache(sc.Config.Symbols.List)
	feeds, err := websocket.BuildFeeds(sc.Config, sc.Metrics)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoFeedsEnabled, err)
	}
	sc.feeds = feeds

	// 3. 输出：订阅会话在最前面
	sc.sessions = websocket.NewManager(websocket.ManagerOptions{
		Buffer:       sc.Config.Session.Buffer,
		WriteTimeout: time.Duration(sc.Config.Session.WriteTimeoutSeconds) * time.Second,
		Metrics:      sc.Metrics,
	})
	sc.sinks = append(sc.sinks, sc.sessions)
	if sc.redisClient != nil {
		ttl := time.Duration(sc.Config.Storage.Redis.TTLSeconds) * time.Second
		sc.sinks = append(sc.sinks, redisrepo.New(sc.redisClient, sc.Config.Storage.Redis.Prefix, ttl))
	}
	if sc.Config.App.Console {
		sc.console = console.NewSink(sc.Config.App.PremiumThreshold, consoleSnapshotEvery)
		sc.sinks = append(sc.sinks, sc.console)
	}

	// 4. 广播 + HTTP
	sc.broadcaster = premium.NewBroadcaster(premium.BroadcasterDeps{
		Quotes:   sc.cache,
		Rates:    sc.rates,
		Sinks:    sc.sinks,
		Interval: sc.Config.BroadcastInterval(),
		Metrics:  sc.Metrics,
	})
	sc.server = httpserver.New(httpserver.Options{
		Addr:     sc.Config.App.ListenAddr,
		Sessions: sc.sessions,
		Metrics:  sc.Metrics,
	})

	log.Info().
		Int("feeds", len(sc.feeds)).
		Int("sinks", len(sc.sinks)).
		Int("symbols", len(sc.Config.Symbols.List)).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化存储层 (Redis / SQLite / Postgres)
func (sc *ServiceContext) initializeStorage() error {
	if sc.Config.Storage.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}

	var stores []port.RateStore
	if sc.Config.Storage.SQLite.Enabled {
		repo, err := sc.initSQLite()
		if err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
		stores = append(stores, repo)
	}
	if sc.Config.Storage.Postgres.Enabled {
		repo, err := sc.initPostgres()
		if err != nil {
			_ = composite.New(stores...).Close()
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		stores = append(stores, repo)
	}
	if len(stores) == 0 {
		return nil
	}

	// 汇率存储统一由 composite 关闭
	store := composite.New(stores...)
	sc.rateStore = store
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Int("stores", store.Len()).Msg("closing fx rate stores")
		return store.Close()
	})
	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() error {
	rcfg := sc.Config.Storage.Redis
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     rcfg.Addr,
		Password: rcfg.Password,
		DB:       rcfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}
	sc.redisClient = rdb

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", rcfg.Addr).
		Int("db", rcfg.DB).
		Msg("✓ Redis initialized")
	return nil
}

// initSQLite 初始化 SQLite 数据库
func (sc *ServiceContext) initSQLite() (*sqliterepo.Repo, error) {
	repo, err := sqliterepo.New(sc.Config.Storage.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite repo creation failed: %w", err)
	}

	log.Info().
		Str("path", sc.Config.Storage.SQLite.Path).
		Msg("✓ SQLite initialized")
	return repo, nil
}

func (sc *ServiceContext) initPostgres() (*pgrepo.Repo, error) {
	ctx, cancel := context.WithTimeout(sc.Ctx, 10*time.Second)
	defer cancel()

	repo, err := pgrepo.New(ctx, sc.Config.Storage.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres repo creation failed: %w", err)
	}

	log.Info().Msg("✓ Postgres initialized")
	return repo, nil
}

func (sc *ServiceContext) initFxRate() error {
	fx := sc.Config.Fx
	sources, err := fxrate.Build(fx.Sources, fxrate.Options{
		Timeout:         time.Duration(fx.TimeoutSeconds) * time.Second,
		KeximURL:        fx.KeximURL,
		KeximAPIKey:     fx.KeximAPIKey,
		KeximDailyLimit: fx.KeximDailyLimit,
		ErAPIURL:        fx.ErapiURL,
		DunamuURL:       fx.DunamuURL,
	})
	if err != nil {
		return err
	}

	deps := service.FxRateProviderDeps{
		Sources:       sources,
		DefaultRate:   decimal.NewFromFloat(fx.DefaultRate),
		TTL:           time.Duration(fx.TTLSeconds) * time.Second,
		RetryInterval: time.Duration(fx.RetrySeconds) * time.Second,
		Metrics:       sc.Metrics,
	}
	// 避免 typed nil 接口
	if sc.rateStore != nil {
		deps.Store = sc.rateStore
	}
	rates, err := service.NewFxRateProvider(deps)
	if err != nil {
		return err
	}

	// checkpoint 读取失败不影响启动，继续使用默认汇率
	if err := rates.Restore(sc.Ctx); err != nil {
		log.Warn().Err(err).Msg("restore fx checkpoint failed, using default rate")
	}
	sc.rates = rates

	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
	}
	log.Info().
		Strs("sources", names).
		Str("default", deps.DefaultRate.String()).
		Dur("ttl", deps.TTL).
		Msg("✓ FX rate provider initialized")
	return nil
}

// PremiumService 行情 + 广播
func (sc *ServiceContext) PremiumService() *premium.Service {
	return premium.NewService(premium.ServiceDeps{
		Feeds:       sc.feeds,
		Cache:       sc.cache,
		Broadcaster: sc.broadcaster,
	})
}

func (sc *ServiceContext) HTTPServer() *httpserver.Server { return sc.server }

func (sc *ServiceContext) Sessions() *websocket.Manager { return sc.sessions }

func (sc *ServiceContext) RateProvider() *service.FxRateProvider { return sc.rates }

func (sc *ServiceContext) PriceFeeds() []port.PriceFeed { return sc.feeds }

// SinkNames 按投递顺序
func (sc *ServiceContext) SinkNames() []string {
	out := make([]string, 0, len(sc.sinks))
	for _, s := range sc.sinks {
		out = append(out, s.Name())
	}
	return out
}

// Close 关闭 ServiceContext 中的所有资源
// 应该在应用退出时调用
func (sc *ServiceContext) Close() error {
	if sc.console != nil {
		_ = sc.console.NewLine()
	}
	if sc.sessions != nil {
		_ = sc.sessions.Close()
	}

	// 按照相反的顺序关闭所有资源
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}
