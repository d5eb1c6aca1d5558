package composite

import (
	"context"

	"github.com/rs/zerolog/log"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
)

// Repo 把多个检查点存储合成一个：读取取第一个有数据的，写入写到所有
type Repo struct {
	repos []port.RateStore
}

func New(repos ...port.RateStore) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.RateStore, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

// Len 有效存储个数
func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) LoadRate(ctx context.Context) (model.FxRate, bool, error) {
	var firstErr error
	for _, repo := range r.repos {
		rate, ok, err := repo.LoadRate(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("load fx checkpoint failed, trying next store")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return rate, true, nil
		}
	}
	return model.FxRate{}, false, firstErr
}

func (r *Repo) SaveRate(ctx context.Context, rate model.FxRate) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SaveRate(ctx, rate); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) Close() error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.RateStore = (*Repo)(nil)
