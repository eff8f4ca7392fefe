package adapters

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/market-feed/internal/provider"
)

// Sim produces random-walk quotes. Known symbols start from realistic
// prices; any other symbol gets a stable pseudo-random base.
type Sim struct {
	id string

	mu     sync.Mutex
	random *rand.Rand
	state  map[string]*simState
}

type simState struct {
	open       float64
	last       float64
	high       float64
	low        float64
	volatility float64 // per-tick, as a fraction
	volume     float64
}

var simBases = map[string]struct{ price, vol, volume float64 }{
	"AAPL":   {206.80, 0.0025, 15000000},
	"NVDA":   {450.00, 0.0035, 10000000},
	"MSFT":   {415.75, 0.0022, 12000000},
	"GOOGL":  {172.50, 0.0028, 8000000},
	"SPY":    {512.40, 0.0010, 60000000},
	"BTC":    {64250.0, 0.0050, 28e9},
	"ETH":    {3120.0, 0.0060, 14e9},
	"EURUSD": {1.0842, 0.0005, 0},
	"XAUUSD": {2335.60, 0.0015, 0},
}

// NewSim creates a sim adapter seeded with seed, or with the current time
// when seed is 0.
func NewSim(id string, seed int64) *Sim {
	if id == "" {
		id = "sim"
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sim{id: id, random: rand.New(rand.NewSource(seed)), state: make(map[string]*simState)}
}

func (s *Sim) ID() string { return s.id }

func (s *Sim) FetchQuote(ctx context.Context, symbol, _ string) (provider.Quote, error) {
	if err := ctx.Err(); err != nil {
		return provider.Quote{}, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return provider.Quote{}, provider.NewBadSymbol(s.id, symbol, "empty symbol", 0)
	}

	s.mu.Lock()
	st, ok := s.state[symbol]
	if !ok {
		st = newSimState(symbol)
		s.state[symbol] = st
	}
	step := s.random.NormFloat64() * st.volatility
	st.last = math.Max(st.last*(1+step), 0.0001)
	st.high = math.Max(st.high, st.last)
	st.low = math.Min(st.low, st.last)
	volume := st.volume * (0.7 + s.random.Float64()*0.6)
	snap := *st
	s.mu.Unlock()

	places := int32(2)
	if snap.open < 10 {
		places = 4
	}
	last := decimal.NewFromFloat(snap.last).Round(places)
	open := decimal.NewFromFloat(snap.open).Round(places)
	change := last.Sub(open)
	return provider.Quote{
		Symbol:        symbol,
		Price:         last,
		Open:          open,
		High:          decimal.NewFromFloat(snap.high).Round(places),
		Low:           decimal.NewFromFloat(snap.low).Round(places),
		PreviousClose: open,
		Change:        change,
		ChangePercent: change.Div(open).Mul(decimal.NewFromInt(100)).Round(4),
		Volume:        decimal.NewFromFloat(volume).Round(0),
		Currency:      "USD",
		Source:        s.id,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func newSimState(symbol string) *simState {
	base, ok := simBases[symbol]
	if !ok {
		h := fnv.New32a()
		h.Write([]byte(symbol))
		v := h.Sum32()
		base.price = 5 + float64(v%50000)/100
		base.vol = 0.003
		base.volume = float64(100000 + v%5000000)
	}
	return &simState{
		open:       base.price,
		last:       base.price,
		high:       base.price,
		low:        base.price,
		volatility: base.vol,
		volume:     base.volume,
	}
}
