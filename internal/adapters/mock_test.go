package adapters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-feed/internal/provider"
)

func TestMockQuotes(t *testing.T) {
	m := NewMock("primary")
	ctx := context.Background()

	q, err := m.FetchQuote(ctx, "aapl", "stocks")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "primary", q.Source)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("206.80")))
	require.NoError(t, q.Validate())

	_, err = m.FetchQuote(ctx, "NOPE", "stocks")
	assert.True(t, errors.Is(err, provider.ErrBadSymbol))

	m.SetQuote(provider.Quote{Symbol: "nope", Price: decimal.NewFromInt(3)})
	q, err = m.FetchQuote(ctx, "NOPE", "stocks")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(3)))

	m.RemoveQuote("NOPE")
	_, err = m.FetchQuote(ctx, "NOPE", "stocks")
	assert.Error(t, err)
	assert.Equal(t, 3, m.Calls("nope"))
}

func TestMockFailNext(t *testing.T) {
	m := NewMock("")
	ctx := context.Background()
	m.FailNext("BTC",
		provider.NewQuotaExceeded("mock", "BTC", "limit", 429),
		provider.NewNetworkTransient("mock", "BTC", "reset", 0, nil))

	_, err := m.FetchQuote(ctx, "BTC", "crypto")
	assert.True(t, errors.Is(err, provider.ErrQuotaExceeded))
	_, err = m.FetchQuote(ctx, "BTC", "crypto")
	assert.True(t, errors.Is(err, provider.ErrNetworkTransient))
	_, err = m.FetchQuote(ctx, "BTC", "crypto")
	assert.NoError(t, err)
}

func TestMockLatencyHonorsContext(t *testing.T) {
	m := NewMock("slow")
	m.SetLatency(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.FetchQuote(ctx, "AAPL", "stocks")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockConcurrentAccess(t *testing.T) {
	m := NewMock("mock")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.FetchQuote(context.Background(), "MSFT", "stocks")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, m.Calls("MSFT"))
}

func TestSimRandomWalk(t *testing.T) {
	s := NewSim("sim", 42)
	ctx := context.Background()

	first, err := s.FetchQuote(ctx, "AAPL", "stocks")
	require.NoError(t, err)
	require.NoError(t, first.Validate())
	assert.True(t, first.Open.Equal(decimal.RequireFromString("206.80")))

	for i := 0; i < 50; i++ {
		q, err := s.FetchQuote(ctx, "AAPL", "stocks")
		require.NoError(t, err)
		assert.True(t, q.High.GreaterThanOrEqual(q.Low))
		assert.True(t, q.Price.IsPositive())
	}

	unknown, err := s.FetchQuote(ctx, "ZZTOP", "stocks")
	require.NoError(t, err)
	again := NewSim("sim", 7)
	other, err := again.FetchQuote(ctx, "ZZTOP", "stocks")
	require.NoError(t, err)
	assert.True(t, unknown.Open.Equal(other.Open), "base price depends only on the symbol")

	_, err = s.FetchQuote(ctx, " ", "stocks")
	assert.True(t, errors.Is(err, provider.ErrBadSymbol))
}

func TestSimSeedIsDeterministic(t *testing.T) {
	a, b := NewSim("a", 99), NewSim("b", 99)
	for i := 0; i < 5; i++ {
		qa, err := a.FetchQuote(context.Background(), "ETH", "crypto")
		require.NoError(t, err)
		qb, err := b.FetchQuote(context.Background(), "ETH", "crypto")
		require.NoError(t, err)
		assert.True(t, qa.Price.Equal(qb.Price))
	}
}
