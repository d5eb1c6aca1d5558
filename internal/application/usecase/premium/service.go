package premium

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"kimp/internal/application/port"
)

var ErrNoFeeds = errors.New("no feeds")

type ServiceDeps struct {
	Feeds       []port.PriceFeed
	Cache       *PriceCache
	Broadcaster *Broadcaster
}

// Service 启动所有行情 feed（写缓存）和广播器（读缓存），任一返回都会结束整组
type Service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) *Service {
	return &Service{deps: deps}
}

func (s *Service) Run(ctx context.Context) error {
	if len(s.deps.Feeds) == 0 {
		return ErrNoFeeds
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, feed := range s.deps.Feeds {
		g.Go(func() error {
			log.Info().Str("feed", feed.Name()).Str("source", feed.Source().String()).Msg("feed started")
			err := feed.Run(gctx, s.deps.Cache)
			log.Info().Str("feed", feed.Name()).Err(err).Msg("feed stopped")
			return err
		})
	}
	g.Go(func() error {
		return s.deps.Broadcaster.Run(gctx)
	})
	return g.Wait()
}
