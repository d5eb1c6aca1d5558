package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"kimp/internal/infrastructure/config"
	"kimp/internal/infrastructure/logger"
	"kimp/internal/infrastructure/svc"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	logger.Setup("info", false)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	// 控制台实时行占用 stdout 时日志改写到 stderr
	logger.Setup(cfg.App.LogLevel, cfg.App.Console)

	if err := run(cfg, *configPath); err != nil {
		log.Fatal().Err(err).Msg("kimp exited")
	}
	log.Info().Msg("kimp stopped")
}

func run(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	log.Info().
		Str("config", configPath).
		Strs("symbols", cfg.Symbols.List).
		Strs("exchanges", cfg.EnabledExchanges()).
		Str("listen", cfg.App.ListenAddr).
		Int("broadcast_interval_ms", cfg.App.BroadcastIntervalMs).
		Msg("kimp started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sc.PremiumService().Run(gctx) })
	g.Go(func() error { return sc.HTTPServer().Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
