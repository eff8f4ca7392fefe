package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAfterAdvances(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	c := NewFake(start)

	fired := <-c.After(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), fired)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}

func TestFakeSetNeverMovesBackwards(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	c := NewFake(start)

	c.Set(start.Add(-time.Hour))
	assert.Equal(t, start, c.Now())

	c.Set(start.Add(time.Minute))
	assert.Equal(t, start.Add(time.Minute), c.Now())
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, Real{}, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleepOnFake(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	c := NewFake(start)

	require.NoError(t, Sleep(context.Background(), c, 5*time.Second))
	assert.Equal(t, start.Add(5*time.Second), c.Now())
}

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	c := NewFake(start)
	tk := c.NewTicker(time.Minute)

	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticked before the interval elapsed")
	default:
	}

	c.Advance(30 * time.Second)
	assert.Equal(t, start.Add(time.Minute), <-tk.C())

	// several periods at once collapse into one tick
	c.Advance(5 * time.Minute)
	assert.Equal(t, start.Add(6*time.Minute), <-tk.C())
	select {
	case <-tk.C():
		t.Fatal("missed ticks must not queue up")
	default:
	}

	tk.Stop()
	c.Advance(time.Hour)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
