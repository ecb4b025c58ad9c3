// Package chart owns the bounded candle series and the active viewport.
package chart

import (
	"context"
	"fmt"
	"sync"

	market "chart-core/pkg/market/binance"
)

const (
	// MaxCandles caps the rolling series; live upserts evict from the
	// front once the cap is hit.
	MaxCandles = 500

	// MinVisible is the smallest window the viewport may show, unless
	// the whole series is shorter.
	MinVisible = 20

	MinPriceScale = 0.1
	MaxPriceScale = 10.0
)

// Candle is one aggregated bucket. Time is the bucket start in ms,
// strictly increasing and unique within the series.
type Candle struct {
	Time   int64
	Price  float64 // bucket close
	High   float64
	Low    float64
	Volume float64
}

// Range is a closed index interval into the candle series.
type Range struct {
	Start int
	End   int
}

// Size returns the number of index steps the range spans.
func (r Range) Size() int { return r.End - r.Start }

// Viewport describes which window of data is rendered and at what
// price compression.
type Viewport struct {
	Visible    Range
	Scale      float64 // horizontal zoom factor
	PriceScale float64 // vertical zoom, bound [MinPriceScale, MaxPriceScale]
}

// HistoricalSource fetches OHLCV rows for the wholesale-replace path.
type HistoricalSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int, startTime int64) ([]market.Kline, error)
}

// Store is the single owner of the candle series, mutated only through
// its setters.
type Store struct {
	mu       sync.RWMutex
	candles  []Candle
	viewport Viewport
	loading  bool
	lastErr  string
	source   HistoricalSource
}

// NewStore creates an empty store backed by the given historical source
// (which may be nil when only live data is used).
func NewStore(source HistoricalSource) *Store {
	return &Store{
		source: source,
		viewport: Viewport{
			Scale:      1,
			PriceScale: 1,
		},
	}
}

// AddCandle upserts by exact bucket time: an existing bucket is updated
// in place, a new one is appended. Appends past the cap evict the oldest
// candle and shift the viewport to match.
func (s *Store) AddCandle(c Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Live updates nearly always touch the newest bucket.
	for i := len(s.candles) - 1; i >= 0; i-- {
		if s.candles[i].Time == c.Time {
			s.candles[i] = c
			return
		}
		if s.candles[i].Time < c.Time {
			break
		}
	}

	atTail := len(s.candles) > 0 && s.viewport.Visible.End == len(s.candles)-1
	s.candles = append(s.candles, c)

	if atTail {
		size := s.viewport.Visible.Size()
		s.viewport.Visible.End = len(s.candles) - 1
		s.viewport.Visible.Start = s.viewport.Visible.End - size
	}

	if len(s.candles) > MaxCandles {
		evict := len(s.candles) - MaxCandles
		s.candles = s.candles[evict:]
		s.viewport.Visible.Start -= evict
		s.viewport.Visible.End -= evict
	}
	s.clampViewportLocked()
}

// FetchHistorical replaces the series wholesale. On failure the prior
// series stays untouched and the error is recorded (stale-but-available).
func (s *Store) FetchHistorical(ctx context.Context, symbol, interval string) error {
	if s.source == nil {
		return fmt.Errorf("no historical source configured")
	}

	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	klines, err := s.source.GetKlines(ctx, symbol, interval, MaxCandles, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		s.lastErr = fmt.Sprintf("historical fetch: %v", err)
		return err
	}

	series := make([]Candle, 0, len(klines))
	for _, k := range klines {
		series = append(series, Candle{
			Time:   k.OpenTime,
			Price:  k.Close,
			High:   k.High,
			Low:    k.Low,
			Volume: k.Volume,
		})
	}
	if len(series) > MaxCandles {
		series = series[len(series)-MaxCandles:]
	}

	s.candles = series
	s.lastErr = ""
	if len(series) > 0 {
		s.viewport.Visible = Range{Start: 0, End: len(series) - 1}
	} else {
		s.viewport.Visible = Range{}
	}
	return nil
}

// RefreshLatest re-fetches the newest buckets and upserts them, healing
// gaps left by dropped live frames. It returns how many buckets were
// applied.
func (s *Store) RefreshLatest(ctx context.Context, symbol, interval string) (int, error) {
	if s.source == nil {
		return 0, fmt.Errorf("no historical source configured")
	}
	klines, err := s.source.GetKlines(ctx, symbol, interval, 2, 0)
	if err != nil {
		return 0, err
	}
	for _, k := range klines {
		s.AddCandle(Candle{
			Time:   k.OpenTime,
			Price:  k.Close,
			High:   k.High,
			Low:    k.Low,
			Volume: k.Volume,
		})
	}
	return len(klines), nil
}

// SetScale sets the horizontal zoom factor.
func (s *Store) SetScale(scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("scale must be positive, got %v", scale)
	}
	s.mu.Lock()
	s.viewport.Scale = scale
	s.mu.Unlock()
	return nil
}

// SetPriceScale sets the vertical zoom, clamped to its bounds.
func (s *Store) SetPriceScale(scale float64) {
	s.mu.Lock()
	s.viewport.PriceScale = clampFloat(scale, MinPriceScale, MaxPriceScale)
	s.mu.Unlock()
}

// SetVisibleRange updates the visible window. Inverted ranges are
// rejected; out-of-bounds or undersized ranges are clamped into
// validity.
func (s *Store) SetVisibleRange(r Range) error {
	if r.Start >= r.End {
		return fmt.Errorf("invalid range [%d, %d]", r.Start, r.End)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport.Visible = r
	s.clampViewportLocked()
	return nil
}

func (s *Store) clampViewportLocked() {
	n := len(s.candles)
	if n < 2 {
		s.viewport.Visible = Range{}
		return
	}
	v := &s.viewport.Visible

	minSize := MinVisible
	if n-1 < minSize {
		minSize = n - 1
	}
	if v.Size() < minSize {
		v.End = v.Start + minSize
	}
	if v.Size() > n-1 {
		v.Start = 0
		v.End = n - 1
	}
	if v.End > n-1 {
		shift := v.End - (n - 1)
		v.Start -= shift
		v.End -= shift
	}
	if v.Start < 0 {
		v.End -= v.Start
		v.Start = 0
		if v.End > n-1 {
			v.End = n - 1
		}
	}
}

// SetLoading toggles the loading flag (used by the connection layer
// while the first live data is pending).
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}

// SetError records a non-fatal error string for display.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

// Loading reports whether a fetch or first paint is pending.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the recorded error string, empty when healthy.
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Candles returns a copy of the series.
func (s *Store) Candles() []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Len returns the series length.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// Viewport returns the current viewport.
func (s *Store) Viewport() Viewport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
