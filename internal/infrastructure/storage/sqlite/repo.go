package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
	"kimp/internal/infrastructure/storage"
)

// Repo 本地 sqlite 汇率检查点
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+storage.CheckpointTable+` (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  value TEXT NOT NULL,
  source TEXT NOT NULL,
  fetched_at_ms INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
`)
	return err
}

func (r *Repo) SaveRate(ctx context.Context, rate model.FxRate) error {
	value, fetchedAt, err := storage.EncodeRate(rate)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO `+storage.CheckpointTable+`(id, value, source, fetched_at_ms, updated_at)
VALUES(1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  value=excluded.value,
  source=excluded.source,
  fetched_at_ms=excluded.fetched_at_ms,
  updated_at=excluded.updated_at
`, value, rate.Source, fetchedAt, time.Now().UnixMilli())
	return err
}

func (r *Repo) LoadRate(ctx context.Context) (model.FxRate, bool, error) {
	var (
		value, source string
		fetchedAt     int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT value, source, fetched_at_ms FROM `+storage.CheckpointTable+` WHERE id = 1`,
	).Scan(&value, &source, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FxRate{}, false, nil
	}
	if err != nil {
		return model.FxRate{}, false, err
	}

	rate, err := storage.DecodeRate(value, source, fetchedAt)
	if err != nil {
		return model.FxRate{}, false, err
	}
	return rate, true, nil
}

var _ port.RateStore = (*Repo)(nil)
