package stabilize

import (
	"math"
	"testing"
	"time"
)

func TestInvalidSamplesDropped(t *testing.T) {
	base := time.Now()
	f := New(base)
	f.Offer(100, base)

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, -5, maxPlausiblePrice * 10} {
		price, changed := f.Offer(bad, base.Add(time.Second))
		if changed {
			t.Errorf("sample %v should have been dropped", bad)
		}
		if price != 100 {
			t.Errorf("displayed price moved to %v after invalid sample %v", price, bad)
		}
	}
}

func TestSettleWindowMedian(t *testing.T) {
	base := time.Now()
	f := New(base)

	// Inside the settle window the rate limiter is bypassed: samples
	// land back to back.
	seq := []float64{100, 101, 99}
	for i, s := range seq {
		f.Offer(s, base.Add(time.Duration(i)*10*time.Millisecond))
	}
	price, ok := f.Price()
	if !ok || price != 100 {
		t.Fatalf("settle median = %v, want 100", price)
	}

	// The outlier close must never surface as the displayed price.
	price, _ = f.Offer(500, base.Add(40*time.Millisecond))
	if price == 500 {
		t.Fatal("outlier 500 appeared as the displayed price")
	}
	price, _ = f.Offer(100, base.Add(50*time.Millisecond))
	if price == 500 || math.Abs(price-100) > 1 {
		t.Errorf("post-outlier displayed = %v", price)
	}
}

func TestInitialPriceFromFirstSettleMedian(t *testing.T) {
	base := time.Now()
	f := New(base)
	f.Offer(100, base)
	f.Offer(104, base.Add(10*time.Millisecond))
	f.Offer(96, base.Add(20*time.Millisecond))

	baseline, ok := f.Baseline()
	if !ok || baseline != 100 {
		t.Fatalf("baseline = %v (ok=%v), want 100", baseline, ok)
	}

	// Later samples must not move it.
	f.Offer(110, base.Add(30*time.Millisecond))
	baseline, _ = f.Baseline()
	if baseline != 100 {
		t.Errorf("baseline moved to %v", baseline)
	}
}

func TestInitialPriceFallbackAfterSparseSettle(t *testing.T) {
	base := time.Now()

	t.Run("one sample during window", func(t *testing.T) {
		f := New(base)
		f.Offer(42, base.Add(time.Second))
		f.Offer(43, base.Add(SettleWindow+time.Second))
		baseline, ok := f.Baseline()
		if !ok || baseline != 42 {
			t.Errorf("baseline = %v (ok=%v), want first raw sample 42", baseline, ok)
		}
	})

	t.Run("no samples during window", func(t *testing.T) {
		f := New(base)
		f.Offer(43, base.Add(SettleWindow+time.Second))
		baseline, ok := f.Baseline()
		if !ok || baseline != 43 {
			t.Errorf("baseline = %v (ok=%v), want 43", baseline, ok)
		}
	})
}

// steadyFilter returns a filter already past its settle window with an
// accepted-price buffer of [100, 101, 99].
func steadyFilter(t *testing.T) (*Filter, time.Time) {
	t.Helper()
	base := time.Now()
	f := New(base)
	now := base.Add(SettleWindow + time.Second)
	for _, s := range []float64{100, 101, 99} {
		now = now.Add(600 * time.Millisecond)
		if _, changed := f.Offer(s, now); !changed {
			t.Fatalf("seed sample %v not accepted", s)
		}
	}
	return f, now
}

func TestSteadyStateOutlierRejection(t *testing.T) {
	f, now := steadyFilter(t)

	// median=100, MAD=2/3, threshold=2.
	price, changed := f.Offer(500, now.Add(600*time.Millisecond))
	if changed || price == 500 {
		t.Fatalf("outlier accepted: price=%v changed=%v", price, changed)
	}

	price, changed = f.Offer(101, now.Add(1200*time.Millisecond))
	if !changed || price != 101 {
		t.Errorf("in-band sample rejected: price=%v changed=%v", price, changed)
	}
}

func TestSteadyStateBoundedStep(t *testing.T) {
	f, now := steadyFilter(t)

	// Every accepted update moves the display by at most 3×MAD of the
	// buffer at acceptance time.
	samples := []float64{102, 98, 100.5, 250, 101, 99.5, 1, 100}
	for i, s := range samples {
		now = now.Add(600 * time.Millisecond)
		f.mu.Lock()
		med := median(f.steadyBuf)
		mad := meanAbsDev(f.steadyBuf, med)
		f.mu.Unlock()

		before, _ := f.Price()
		price, changed := f.Offer(s, now)
		if changed {
			if math.Abs(s-med) > madMultiplier*mad {
				t.Errorf("sample %d (%v) accepted beyond 3×MAD (med=%v mad=%v)", i, s, med, mad)
			}
		} else if price != before {
			t.Errorf("rejected sample %d moved the price %v -> %v", i, before, price)
		}
	}
}

func TestSteadyStateRateLimit(t *testing.T) {
	f, now := steadyFilter(t)

	if _, changed := f.Offer(100.5, now.Add(600 * time.Millisecond)); !changed {
		t.Fatal("first sample after interval should be accepted")
	}
	// 100ms later: inside the 500ms window, dropped.
	if _, changed := f.Offer(100.6, now.Add(700 * time.Millisecond)); changed {
		t.Error("sample inside the rate window should be dropped")
	}
	if _, changed := f.Offer(100.6, now.Add(1300 * time.Millisecond)); !changed {
		t.Error("sample after the rate window should be accepted")
	}
}

func TestPriceChangeBaselinePreference(t *testing.T) {
	base := time.Now()
	f := New(base)
	f.Offer(100, base)
	f.Offer(100, base.Add(10*time.Millisecond))
	f.Offer(100, base.Add(20*time.Millisecond))
	f.Offer(110, base.Add(30*time.Millisecond))

	// Local baseline 100, displayed median 100 -> some local percentage.
	local := f.PriceChange()
	if local == 0 {
		t.Log("local change is zero; acceptable when median equals baseline")
	}

	if _, ok := f.ExchangeChange(); ok {
		t.Error("exchange percent reported before any ticker carried it")
	}

	f.SetExchangeChange(2.5)
	if got := f.PriceChange(); got != 2.5 {
		t.Errorf("exchange percent not preferred: got %v", got)
	}
	if got, ok := f.ExchangeChange(); !ok || got != 2.5 {
		t.Errorf("exchange accessor = %v (ok=%v)", got, ok)
	}
}

func TestSeed(t *testing.T) {
	base := time.Now()
	f := New(base)

	f.Seed(1234)
	price, ok := f.Price()
	if !ok || price != 1234 {
		t.Fatalf("seed not painted: %v (ok=%v)", price, ok)
	}

	// Seed never overwrites a live display value.
	f.Offer(100, base)
	f.Seed(999)
	price, _ = f.Price()
	if price == 999 {
		t.Error("seed overwrote a live price")
	}

	// Invalid seeds are ignored.
	g := New(base)
	g.Seed(-3)
	if _, ok := g.Price(); ok {
		t.Error("invalid seed accepted")
	}
}

func TestResetClearsState(t *testing.T) {
	base := time.Now()
	f := New(base)
	f.Offer(100, base)
	f.Offer(101, base.Add(10*time.Millisecond))
	f.Offer(99, base.Add(20*time.Millisecond))
	f.SetExchangeChange(5)

	f.Reset(base.Add(time.Minute))
	if _, ok := f.Price(); ok {
		t.Error("price survived reset")
	}
	if _, ok := f.Baseline(); ok {
		t.Error("baseline survived reset")
	}
	if f.PriceChange() != 0 {
		t.Error("exchange percent survived reset")
	}
	if _, ok := f.ExchangeChange(); ok {
		t.Error("exchange flag survived reset")
	}
}
