package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-feed/internal/clock"
	"github.com/Rajchodisetti/market-feed/internal/provider"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func TestComputeStatus(t *testing.T) {
	tests := []struct {
		name string
		meta Freshness
		live Freshness
		want Status
	}{
		{
			name: "both within ttl",
			meta: Freshness{Present: true, Age: 2 * time.Hour, TTL: 24 * time.Hour},
			live: Freshness{Present: true, Age: 10 * time.Second, TTL: 30 * time.Second},
			want: StatusFresh,
		},
		{
			name: "live expired",
			meta: Freshness{Present: true, Age: 2 * time.Hour, TTL: 24 * time.Hour},
			live: Freshness{Present: true, Age: 40 * time.Second, TTL: 30 * time.Second},
			want: StatusStale,
		},
		{
			name: "live missing",
			meta: Freshness{Present: true, Age: 2 * time.Hour, TTL: 24 * time.Hour},
			want: StatusStale,
		},
		{
			name: "metadata expired",
			meta: Freshness{Present: true, Age: 30 * time.Hour, TTL: 24 * time.Hour},
			live: Freshness{Present: true, Age: 5 * time.Second, TTL: 30 * time.Second},
			want: StatusFallback,
		},
		{
			name: "metadata missing",
			live: Freshness{Present: true, Age: 5 * time.Second, TTL: 30 * time.Second},
			want: StatusFallback,
		},
		{
			name: "age equal to ttl is still valid",
			meta: Freshness{Present: true, Age: 24 * time.Hour, TTL: 24 * time.Hour},
			live: Freshness{Present: true, Age: 30 * time.Second, TTL: 30 * time.Second},
			want: StatusFresh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeStatus(tt.meta, tt.live))
		})
	}
}

func TestLiveEvictsLeastRecentlyAccessed(t *testing.T) {
	clk := clock.NewFake(t0)
	s := New(Config{MaxLiveEntries: 2}, clk, nil)

	s.SetLive(LiveEntry{Symbol: "AAPL", Category: Stocks, Price: decimal.NewFromInt(200)})
	clk.Advance(time.Second)
	s.SetLive(LiveEntry{Symbol: "MSFT", Category: Stocks, Price: decimal.NewFromInt(400)})
	clk.Advance(time.Second)

	_, ok := s.GetLive("aapl", Stocks)
	require.True(t, ok)

	s.SetLive(LiveEntry{Symbol: "NVDA", Category: Stocks, Price: decimal.NewFromInt(900)})

	_, ok = s.GetLive("MSFT", Stocks)
	assert.False(t, ok, "MSFT was least recently accessed")
	_, ok = s.GetLive("AAPL", Stocks)
	assert.True(t, ok)
	_, ok = s.GetLive("NVDA", Stocks)
	assert.True(t, ok)

	st := s.Stats()
	assert.Equal(t, 2, st.Live.Size)
	assert.Equal(t, int64(1), st.Live.Evictions)
	assert.Equal(t, int64(3), st.Live.Hits)
	assert.Equal(t, int64(1), st.Live.Misses)
}

func TestTablesAreIndependent(t *testing.T) {
	s := New(Config{MaxMetadataEntries: 1, MaxLiveEntries: 1}, clock.NewFake(t0), nil)

	s.SetMetadata(MetadataEntry{Symbol: "BTC", Category: Crypto, Name: "Bitcoin"})
	s.SetLive(LiveEntry{Symbol: "ETH", Category: Crypto, Price: decimal.NewFromInt(3000)})

	_, ok := s.GetMetadata("BTC", Crypto)
	assert.True(t, ok)
	_, ok = s.GetLive("ETH", Crypto)
	assert.True(t, ok)
	_, ok = s.GetLive("BTC", Crypto)
	assert.False(t, ok)
	_, ok = s.GetMetadata("BTC", Stocks)
	assert.False(t, ok, "keys include the category")
}

func TestGetRespectsTTL(t *testing.T) {
	clk := clock.NewFake(t0)
	s := New(Config{}, clk, nil)
	s.SetLive(LiveEntry{Symbol: "BTC", Category: Crypto, Price: decimal.NewFromInt(60000)})

	clk.Advance(30 * time.Second)
	_, ok := s.GetLive("BTC", Crypto)
	assert.True(t, ok, "age equal to ttl")

	clk.Advance(time.Second)
	_, ok = s.GetLive("BTC", Crypto)
	assert.False(t, ok)
}

func TestHybridStatusOverTime(t *testing.T) {
	clk := clock.NewFake(t0)
	s := New(Config{}, clk, nil)

	_, ok := s.Hybrid("ETH", Crypto)
	assert.False(t, ok)

	s.SetMetadata(MetadataEntry{Symbol: "eth", Category: Crypto, Name: "Ethereum"})
	s.SetLive(LiveEntry{Symbol: "ETH", Category: Crypto, Price: decimal.NewFromInt(3000)})

	rec, ok := s.Hybrid("ETH", Crypto)
	require.True(t, ok)
	assert.Equal(t, StatusFresh, rec.Status)
	require.NotNil(t, rec.Metadata)
	assert.Equal(t, "Ethereum", rec.Metadata.Name)

	clk.Advance(40 * time.Second)
	rec, _ = s.Hybrid("ETH", Crypto)
	assert.Equal(t, StatusStale, rec.Status)
	require.NotNil(t, rec.Live, "expired live data is still returned")

	clk.Advance(13 * time.Hour)
	rec, _ = s.Hybrid("ETH", Crypto)
	assert.Equal(t, StatusFallback, rec.Status)
}

func TestSweepRemovesExpired(t *testing.T) {
	clk := clock.NewFake(t0)
	s := New(Config{TTLs: map[Category]TTLs{Stocks: {Live: 10 * time.Second}}}, clk, nil)

	s.SetMetadata(MetadataEntry{Symbol: "AAPL", Category: Stocks})
	s.SetLive(LiveEntry{Symbol: "AAPL", Category: Stocks, Price: decimal.NewFromInt(200)})
	s.SetLive(LiveEntry{Symbol: "BTC", Category: Crypto, Price: decimal.NewFromInt(60000)})

	clk.Advance(20 * time.Second)
	meta, live := s.Sweep()
	assert.Equal(t, 0, meta)
	assert.Equal(t, 1, live)

	assert.Equal(t, 24*time.Hour, s.TTLs(Stocks).Metadata, "unset ttl keeps its default")
	st := s.Stats()
	assert.Equal(t, 1, st.Metadata.Size)
	assert.Equal(t, 1, st.Live.Size)
	assert.Equal(t, int64(1), st.Live.Expired)
}

func TestSweepLoopFollowsClock(t *testing.T) {
	clk := clock.NewFake(t0)
	s := New(Config{SweepInterval: time.Minute}, clk, nil)
	s.SetLive(LiveEntry{Symbol: "ETH", Category: Crypto, Price: decimal.NewFromInt(3000)})

	s.Start(context.Background())
	defer s.Stop()

	clk.Advance(45 * time.Second)
	assert.Equal(t, 1, s.Stats().Live.Size, "crypto live ttl is 30s but no sweep has run yet")

	clk.Advance(15 * time.Second)
	assert.Eventually(t, func() bool { return s.Stats().Live.Size == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestLiveFromQuote(t *testing.T) {
	q := provider.Quote{
		Symbol: "AAPL",
		Price:  decimal.RequireFromString("206.80"),
		Change: decimal.RequireFromString("-1.20"),
		Source: "polygon",
	}
	e := LiveFromQuote(q, Stocks)
	assert.Equal(t, Stocks, e.Category)
	assert.True(t, e.Price.Equal(q.Price))
	assert.Equal(t, "polygon", e.Source)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Crypto ")
	require.NoError(t, err)
	assert.Equal(t, Crypto, c)

	_, err = ParseCategory("bonds")
	assert.Error(t, err)
}
