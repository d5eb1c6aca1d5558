package svc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kimp/internal/domain/model"
	"kimp/internal/infrastructure/config"
	sqliterepo "kimp/internal/infrastructure/storage/sqlite"
	"kimp/internal/infrastructure/websocket"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	t.Setenv("KEXIM_API_KEY", "")
	cfg, err := config.Parse(`
[fx]
sources = ["kexim", "erapi"]
` + extra)
	require.NoError(t, err)
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	cfg := testConfig(t, "")

	sc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer sc.Close()

	require.Len(t, sc.PriceFeeds(), 2)
	require.Equal(t, []string{"sessions"}, sc.SinkNames())
	require.NotNil(t, sc.HTTPServer())
	require.Zero(t, sc.Sessions().Count())

	rate := sc.RateProvider().Current()
	require.Equal(t, model.FxRateSourceDefault, rate.Source)
	require.Equal(t, "1350", rate.Value.String())
}

func TestNewWithConsoleSink(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.App.Console = true

	sc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer sc.Close()
	require.Equal(t, []string{"sessions", "console"}, sc.SinkNames())
}

func TestNewRestoresCheckpoint(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "kimp.db")
	repo, err := sqliterepo.New(dbPath)
	require.NoError(t, err)
	saved := model.FxRate{Value: decimal.RequireFromString("1391.3"), FetchedAt: time.Now().Add(-time.Hour), Source: "kexim"}
	require.NoError(t, repo.SaveRate(context.Background(), saved))
	require.NoError(t, repo.Close())

	cfg := testConfig(t, "")
	cfg.Storage.SQLite.Enabled = true
	cfg.Storage.SQLite.Path = dbPath

	sc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer sc.Close()

	rate := sc.RateProvider().Current()
	require.Equal(t, "kexim", rate.Source)
	require.True(t, rate.Value.Equal(saved.Value))
}

func TestNewFailsWithoutUsableRateSource(t *testing.T) {
	t.Setenv("KEXIM_API_KEY", "")
	cfg, err := config.Parse(`
[fx]
sources = ["kexim"]
`)
	require.NoError(t, err)

	_, err = New(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewFailsWithOneSidedFeeds(t *testing.T) {
	cfg := testConfig(t, `
[exchange.upbit]
enabled = true
`)

	_, err := New(context.Background(), cfg)
	require.ErrorIs(t, err, ErrNoFeedsEnabled)
	require.ErrorIs(t, err, websocket.ErrMissingSource)
}

func TestCloseReleasesRateStore(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Storage.SQLite.Enabled = true
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "kimp.db")

	sc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, sc.rateStore)

	_, _, err = sc.rateStore.LoadRate(context.Background())
	require.NoError(t, err)

	require.NoError(t, sc.Close())
	_, _, err = sc.rateStore.LoadRate(context.Background())
	require.Error(t, err)
}
