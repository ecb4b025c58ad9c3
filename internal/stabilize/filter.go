// Package stabilize smooths the raw price signal coming off the stream.
// Feeds are bursty right after a (re)connect and can carry single-sample
// outliers at any time; the filter trades a little latency for a stable
// displayed price.
package stabilize

import (
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// SettleWindow is the period after a (re)connect during which
	// smoothing is favored over responsiveness.
	SettleWindow = 5 * time.Second

	settleBufferCap = 20
	steadyBufferCap = 10

	// minStatSamples is how many buffered prices are needed before the
	// median/MAD statistics are trusted.
	minStatSamples = 3

	madMultiplier = 3.0

	// maxPlausiblePrice is the hard ceiling; anything above it is noise.
	maxPlausiblePrice = 1e8

	// acceptInterval bounds the redraw rate in steady state. Samples
	// arriving faster are dropped, not queued.
	acceptInterval = 500 * time.Millisecond
)

// Filter holds the per-symbol stabilization state. It is torn down and
// rebuilt whenever the active symbol changes.
type Filter struct {
	mu sync.Mutex

	connectedAt time.Time
	settleBuf   []float64
	steadyBuf   []float64 // last accepted prices, newest last

	displayed    float64
	hasDisplayed bool

	initialized  bool
	initialPrice float64

	exchangePct    float64
	hasExchangePct bool

	limiter    *rate.Limiter
	lastUpdate time.Time
}

// New creates a filter whose settle window starts at now.
func New(now time.Time) *Filter {
	f := &Filter{}
	f.reset(now)
	return f
}

// Reset clears all buffers and restarts the settle window; called on
// every (re)connect.
func (f *Filter) Reset(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset(now)
}

func (f *Filter) reset(now time.Time) {
	f.connectedAt = now
	f.settleBuf = f.settleBuf[:0]
	f.steadyBuf = f.steadyBuf[:0]
	f.displayed = 0
	f.hasDisplayed = false
	f.initialized = false
	f.initialPrice = 0
	f.exchangePct = 0
	f.hasExchangePct = false
	f.limiter = rate.NewLimiter(rate.Every(acceptInterval), 1)
	f.lastUpdate = time.Time{}
}

// Seed paints a starting price (typically the persisted last-known
// value) before the first real message arrives. It does not touch the
// buffers or the baseline.
func (f *Filter) Seed(price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasDisplayed && validSample(price) {
		f.displayed = price
		f.hasDisplayed = true
	}
}

// Offer feeds one raw sample. It returns the displayed price and whether
// this sample changed it. Rejected and rate-limited samples leave the
// previous value in place.
func (f *Filter) Offer(sample float64, now time.Time) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !validSample(sample) {
		return f.displayed, false
	}

	if now.Sub(f.connectedAt) < SettleWindow {
		return f.offerSettling(sample, now), true
	}
	return f.offerSteady(sample, now)
}

// offerSettling accumulates into the settle buffer and displays its
// median, bypassing the rate limiter so the buffer fills quickly.
func (f *Filter) offerSettling(sample float64, now time.Time) float64 {
	if len(f.settleBuf) >= settleBufferCap {
		f.settleBuf = f.settleBuf[1:]
	}
	f.settleBuf = append(f.settleBuf, sample)

	med := median(f.settleBuf)
	f.displayed = med
	f.hasDisplayed = true
	f.lastUpdate = now

	if !f.initialized && len(f.settleBuf) >= minStatSamples {
		f.initialPrice = med
		f.initialized = true
	}

	f.pushSteady(sample)
	return f.displayed
}

func (f *Filter) offerSteady(sample float64, now time.Time) (float64, bool) {
	// The settle window ended before the median baseline existed; fall
	// back to the earliest raw sample we saw.
	if !f.initialized {
		if len(f.settleBuf) > 0 {
			f.initialPrice = f.settleBuf[0]
		} else {
			f.initialPrice = sample
		}
		f.initialized = true
	}

	if len(f.steadyBuf) >= minStatSamples {
		med := median(f.steadyBuf)
		mad := meanAbsDev(f.steadyBuf, med)
		if math.Abs(sample-med) > madMultiplier*mad {
			return f.displayed, false
		}
	}

	if !f.limiter.AllowN(now, 1) {
		return f.displayed, false
	}

	f.pushSteady(sample)
	f.displayed = sample
	f.hasDisplayed = true
	f.lastUpdate = now
	return f.displayed, true
}

func (f *Filter) pushSteady(sample float64) {
	if len(f.steadyBuf) >= steadyBufferCap {
		f.steadyBuf = f.steadyBuf[1:]
	}
	f.steadyBuf = append(f.steadyBuf, sample)
}

// SetExchangeChange records the exchange-provided 24h percent figure,
// which takes precedence over the locally computed baseline.
func (f *Filter) SetExchangeChange(pct float64) {
	f.mu.Lock()
	f.exchangePct = pct
	f.hasExchangePct = true
	f.mu.Unlock()
}

// ExchangeChange returns the exchange-provided 24h percent figure when
// one has arrived this session.
func (f *Filter) ExchangeChange() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangePct, f.hasExchangePct
}

// Price returns the stabilized display price.
func (f *Filter) Price() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.displayed, f.hasDisplayed
}

// PriceChange returns the percent change to display: the exchange 24h
// field when present, otherwise the change against the local baseline.
func (f *Filter) PriceChange() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasExchangePct {
		return f.exchangePct
	}
	if !f.initialized || f.initialPrice == 0 || !f.hasDisplayed {
		return 0
	}
	return (f.displayed - f.initialPrice) / f.initialPrice * 100
}

// Baseline exposes the local percent-change baseline.
func (f *Filter) Baseline() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialPrice, f.initialized
}

// LastUpdate reports when the displayed price last changed.
func (f *Filter) LastUpdate() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUpdate
}

func validSample(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0 && p <= maxPlausiblePrice
}

func median(xs []float64) float64 {
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func meanAbsDev(xs []float64, center float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Abs(x - center)
	}
	return sum / float64(len(xs))
}
