package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kimp/internal/domain/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeRateSource struct {
	name  string
	calls atomic.Int32

	mu   sync.Mutex
	rate decimal.Decimal
	err  error
	gate chan struct{}
}

func (s *fakeRateSource) Name() string { return s.name }

func (s *fakeRateSource) FetchRate(ctx context.Context) (model.FxRate, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.FxRate{}, s.err
	}
	return model.FxRate{Value: s.rate}, nil
}

func (s *fakeRateSource) set(rate string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate != "" {
		s.rate = decimal.RequireFromString(rate)
	}
	s.err = err
}

type memRateStore struct {
	rate  model.FxRate
	has   bool
	saves int
}

func (s *memRateStore) LoadRate(ctx context.Context) (model.FxRate, bool, error) {
	return s.rate, s.has, nil
}

func (s *memRateStore) SaveRate(ctx context.Context, rate model.FxRate) error {
	s.rate, s.has = rate, true
	s.saves++
	return nil
}

func (s *memRateStore) Close() error { return nil }

func newTestProvider(t *testing.T, clock *fakeClock, store *memRateStore, sources ...*fakeRateSource) *FxRateProvider {
	t.Helper()
	deps := FxRateProviderDeps{
		DefaultRate:   decimal.NewFromInt(1350),
		TTL:           60 * time.Second,
		RetryInterval: 10 * time.Second,
		Now:           clock.Now,
	}
	if store != nil {
		deps.Store = store
	}
	for _, s := range sources {
		deps.Sources = append(deps.Sources, s)
	}
	p, err := NewFxRateProvider(deps)
	require.NoError(t, err)
	return p
}

func TestFxRateProviderRequiresSources(t *testing.T) {
	_, err := NewFxRateProvider(FxRateProviderDeps{DefaultRate: decimal.NewFromInt(1350)})
	require.ErrorIs(t, err, ErrNoRateSources)
}

func TestFxRateProviderCachesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	primary := &fakeRateSource{name: "primary"}
	primary.set("1400", nil)
	p := newTestProvider(t, clock, nil, primary)

	first := p.Rate(context.Background())
	require.Equal(t, "primary", first.Source)
	require.True(t, first.Value.Equal(decimal.NewFromInt(1400)))
	require.Equal(t, int32(1), primary.calls.Load())

	primary.set("1500", nil)
	clock.Advance(59 * time.Second)
	second := p.Rate(context.Background())
	require.Equal(t, first, second)
	require.Equal(t, int32(1), primary.calls.Load())

	clock.Advance(2 * time.Second)
	third := p.Rate(context.Background())
	require.True(t, third.Value.Equal(decimal.NewFromInt(1500)))
	require.Equal(t, int32(2), primary.calls.Load())
}

func TestFxRateProviderFallsBackToSecondary(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	primary := &fakeRateSource{name: "primary"}
	primary.set("", errors.New("http 401"))
	secondary := &fakeRateSource{name: "secondary"}
	secondary.set("1390.5", nil)
	p := newTestProvider(t, clock, nil, primary, secondary)

	got := p.Rate(context.Background())
	require.Equal(t, "secondary", got.Source)
	require.True(t, got.Value.Equal(decimal.RequireFromString("1390.5")))
	require.Equal(t, clock.Now(), got.FetchedAt)
	require.Equal(t, int32(1), primary.calls.Load())
	require.Equal(t, int32(1), secondary.calls.Load())
}

func TestFxRateProviderKeepsStaleValueWhenAllFail(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	primary := &fakeRateSource{name: "primary"}
	primary.set("1400", nil)
	secondary := &fakeRateSource{name: "secondary"}
	secondary.set("", errors.New("down"))
	p := newTestProvider(t, clock, nil, primary, secondary)

	good := p.Rate(context.Background())

	primary.set("", errors.New("down"))
	clock.Advance(61 * time.Second)
	stale := p.Rate(context.Background())
	require.Equal(t, good, stale)
	require.Equal(t, int32(2), primary.calls.Load())
	require.Equal(t, int32(1), secondary.calls.Load())

	// retry interval 内不再访问外部来源
	clock.Advance(5 * time.Second)
	require.Equal(t, good, p.Rate(context.Background()))
	require.Equal(t, int32(2), primary.calls.Load())

	clock.Advance(6 * time.Second)
	require.Equal(t, good, p.Rate(context.Background()))
	require.Equal(t, int32(3), primary.calls.Load())
}

func TestFxRateProviderDefaultBeforeFirstSuccess(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	primary := &fakeRateSource{name: "primary"}
	primary.set("", errors.New("down"))
	p := newTestProvider(t, clock, nil, primary)

	got := p.Rate(context.Background())
	require.Equal(t, model.FxRateSourceDefault, got.Source)
	require.True(t, got.Value.Equal(decimal.NewFromInt(1350)))
	require.True(t, got.Valid())
}

func TestFxRateProviderRejectsNonPositiveRate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	primary := &fakeRateSource{name: "primary"}
	primary.set("0", nil)
	secondary := &fakeRateSource{name: "secondary"}
	secondary.set("1380", nil)
	p := newTestProvider(t, clock, nil, primary, secondary)

	got := p.Rate(context.Background())
	require.Equal(t, "secondary", got.Source)
}

func TestFxRateProviderSharesInFlightRefresh(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	primary := &fakeRateSource{name: "primary", gate: make(chan struct{})}
	primary.set("1400", nil)
	p := newTestProvider(t, clock, nil, primary)

	var wg sync.WaitGroup
	results := make([]model.FxRate, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Rate(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return primary.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(primary.gate)
	wg.Wait()

	require.Equal(t, int32(1), primary.calls.Load())
	for _, r := range results {
		require.True(t, r.Value.Equal(decimal.NewFromInt(1400)))
	}
}

func TestFxRateProviderCheckpoint(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := &memRateStore{
		has: true,
		rate: model.FxRate{
			Value:     decimal.RequireFromString("1377.7"),
			FetchedAt: clock.Now().Add(-10 * time.Second),
			Source:    "kexim",
		},
	}
	primary := &fakeRateSource{name: "primary"}
	primary.set("", errors.New("down"))
	p := newTestProvider(t, clock, store, primary)
	require.NoError(t, p.Restore(context.Background()))

	got := p.Rate(context.Background())
	require.Equal(t, "kexim", got.Source)
	require.Equal(t, int32(0), primary.calls.Load())

	primary.set("1400", nil)
	clock.Advance(time.Minute)
	got = p.Rate(context.Background())
	require.Equal(t, "primary", got.Source)
	require.Equal(t, 1, store.saves)
	require.True(t, store.rate.Value.Equal(decimal.NewFromInt(1400)))
}
