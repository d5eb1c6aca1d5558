package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kimp/internal/domain/model"
)

func snapshotAt(ts time.Time, spreads map[model.Symbol]string, order ...model.Symbol) *model.SpreadSnapshot {
	snap := &model.SpreadSnapshot{
		Rate:       model.FxRate{Value: decimal.RequireFromString("1380.5"), Source: "kexim"},
		ComputedAt: ts,
	}
	for _, sym := range order {
		snap.Items = append(snap.Items, model.Premium{Symbol: sym, SpreadPercent: decimal.RequireFromString(spreads[sym])})
	}
	return snap
}

func TestRenderColorsByThreshold(t *testing.T) {
	f := NewFormatter(3)
	snap := snapshotAt(time.Now(), map[model.Symbol]string{"BTC": "3.5", "ETH": "-4", "XRP": "0.2"}, "BTC", "ETH", "XRP")

	line := f.Render(snap, RenderSnapshot)
	require.Contains(t, line, "USD/KRW=1380.50(kexim)")
	require.Contains(t, line, "BTC "+colorize("+3.50%", ansiGreen))
	require.Contains(t, line, "ETH "+colorize("-4.00%", ansiRed))
	require.Contains(t, line, "XRP "+colorize("+0.20%", ansiYellow))
	require.False(t, strings.HasPrefix(line, "\r"))

	live := f.Render(snap, RenderLive)
	require.True(t, strings.HasPrefix(live, "\r"))
	require.True(t, strings.HasSuffix(live, ansiClearEOL))
}

func TestSinkPrintsPeriodicSnapshot(t *testing.T) {
	var buf bytes.Buffer
	s := NewSinkTo(&buf, 3, time.Minute)
	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	spreads := map[model.Symbol]string{"BTC": "2.04"}

	require.NoError(t, s.Publish(context.Background(), snapshotAt(start, spreads, "BTC")))
	require.Equal(t, 1, strings.Count(buf.String(), "2024-03-04 12:00:00"))

	require.NoError(t, s.Publish(context.Background(), snapshotAt(start.Add(30*time.Second), spreads, "BTC")))
	require.NoError(t, s.Publish(context.Background(), snapshotAt(start.Add(time.Minute), spreads, "BTC")))
	require.Equal(t, 1, strings.Count(buf.String(), "2024-03-04 12:01:00"))
	require.Equal(t, 3, strings.Count(buf.String(), "\r"))

	require.NoError(t, s.NewLine())
	require.True(t, strings.HasSuffix(buf.String(), "\n"))
}
