package book

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	market "chart-core/pkg/market/binance"
)

func delta(bids, asks [][2]string) market.DepthUpdate {
	d := market.DepthUpdate{Symbol: "BTCUSDT"}
	for _, b := range bids {
		d.Bids = append(d.Bids, market.PriceLevel{Price: b[0], Qty: b[1]})
	}
	for _, a := range asks {
		d.Asks = append(d.Asks, market.PriceLevel{Price: a[0], Qty: a[1]})
	}
	return d
}

func checkInvariants(t *testing.T, a *Aggregator) {
	t.Helper()
	bids, asks := a.Snapshot()
	if len(bids) > MaxDepth || len(asks) > MaxDepth {
		t.Fatalf("side over cap: bids=%d asks=%d", len(bids), len(asks))
	}
	for i := 1; i < len(bids); i++ {
		p0, _ := strconv.ParseFloat(bids[i-1].Price, 64)
		p1, _ := strconv.ParseFloat(bids[i].Price, 64)
		if p0 <= p1 {
			t.Fatalf("bids not strictly descending at %d: %v <= %v", i, p0, p1)
		}
	}
	for i := 1; i < len(asks); i++ {
		p0, _ := strconv.ParseFloat(asks[i-1].Price, 64)
		p1, _ := strconv.ParseFloat(asks[i].Price, 64)
		if p0 >= p1 {
			t.Fatalf("asks not strictly ascending at %d: %v >= %v", i, p0, p1)
		}
	}
}

func TestApplyUpsertAndSort(t *testing.T) {
	a := NewAggregator()
	now := time.Now()

	a.Apply(delta(
		[][2]string{{"100.00", "5"}, {"101.00", "2"}, {"99.00", "1"}},
		[][2]string{{"102.00", "3"}, {"101.50", "4"}},
	), now)

	bids, asks := a.Snapshot()
	if len(bids) != 3 || len(asks) != 2 {
		t.Fatalf("sizes: bids=%d asks=%d", len(bids), len(asks))
	}
	if bids[0].Price != "101.00" {
		t.Errorf("best bid = %s", bids[0].Price)
	}
	if asks[0].Price != "101.50" {
		t.Errorf("best ask = %s", asks[0].Price)
	}
	checkInvariants(t, a)

	// Replace an existing level's quantity.
	a.Apply(delta([][2]string{{"100.00", "9"}}, nil), now.Add(time.Second))
	bids, _ = a.Snapshot()
	for _, b := range bids {
		if b.Price == "100.00" && b.Qty != "9" {
			t.Errorf("level 100.00 qty = %s, want 9", b.Qty)
		}
	}
	if len(bids) != 3 {
		t.Errorf("upsert grew the side to %d", len(bids))
	}
}

func TestZeroQuantityRemovesLevel(t *testing.T) {
	a := NewAggregator()
	now := time.Now()

	a.Apply(delta([][2]string{{"100.00", "5"}}, nil), now)
	a.Apply(delta([][2]string{{"100.00", "0"}}, nil), now.Add(time.Second))

	bids, _ := a.Snapshot()
	for _, b := range bids {
		if b.Price == "100.00" {
			t.Fatal("level 100.00 survived a zero-quantity delta")
		}
	}
	if len(bids) != 0 {
		t.Errorf("bids = %d, want 0", len(bids))
	}

	// Removing a level we never held is a no-op.
	a.Apply(delta([][2]string{{"50.00", "0"}}, nil), now.Add(2*time.Second))
	checkInvariants(t, a)
}

func TestDepthCap(t *testing.T) {
	a := NewAggregator()
	now := time.Now()

	var bids, asks [][2]string
	for i := 0; i < 30; i++ {
		bids = append(bids, [2]string{fmt.Sprintf("%d.00", 100-i), "1"})
		asks = append(asks, [2]string{fmt.Sprintf("%d.00", 101+i), "1"})
	}
	a.Apply(delta(bids, asks), now)

	b, s := a.Snapshot()
	if len(b) != MaxDepth || len(s) != MaxDepth {
		t.Fatalf("cap not enforced: bids=%d asks=%d", len(b), len(s))
	}
	// Truncation keeps the best levels.
	if b[0].Price != "100.00" || s[0].Price != "101.00" {
		t.Errorf("best levels lost: bid=%s ask=%s", b[0].Price, s[0].Price)
	}
	checkInvariants(t, a)
}

func TestThrottleCoalescesInsteadOfDropping(t *testing.T) {
	a := NewAggregator()
	now := time.Now()

	// First apply flushes immediately.
	if changed := a.Apply(delta([][2]string{{"100.00", "5"}}, nil), now); !changed {
		t.Fatal("first apply should flush")
	}

	// Bursts inside the window are held, not visible yet...
	if changed := a.Apply(delta([][2]string{{"100.00", "7"}}, nil), now.Add(50*time.Millisecond)); changed {
		t.Error("apply inside window should not rebuild the book")
	}
	if changed := a.Apply(delta([][2]string{{"100.00", "0"}}, nil), now.Add(100*time.Millisecond)); changed {
		t.Error("apply inside window should not rebuild the book")
	}
	bids, _ := a.Snapshot()
	if len(bids) != 1 || bids[0].Qty != "5" {
		t.Fatalf("book changed mid-window: %+v", bids)
	}

	// ...but the final state per level lands at the next window edge:
	// the removal wins over the intermediate 7.
	if changed := a.Apply(delta(nil, [][2]string{{"101.00", "2"}}), now.Add(300*time.Millisecond)); !changed {
		t.Fatal("apply after window should flush")
	}
	bids, asks := a.Snapshot()
	if len(bids) != 0 {
		t.Errorf("coalesced removal lost: %+v", bids)
	}
	if len(asks) != 1 {
		t.Errorf("asks = %+v", asks)
	}
	checkInvariants(t, a)
}

func TestPendingDeltasDrainAfterQuietPeriod(t *testing.T) {
	a := NewAggregator()
	var flushed atomic.Int32
	a.SetOnFlush(func() { flushed.Add(1) })
	now := time.Now()

	a.Apply(delta([][2]string{{"100.00", "5"}}, nil), now)
	// The removal is held by the throttle and the feed then goes
	// quiet: no later Apply will ever land it.
	a.Apply(delta([][2]string{{"100.00", "0"}}, nil), now.Add(10*time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bids, _ := a.Snapshot(); len(bids) == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	bids, _ := a.Snapshot()
	if len(bids) != 0 {
		t.Fatalf("held removal stranded in the visible book: %+v", bids)
	}
	if flushed.Load() == 0 {
		t.Error("drain callback never invoked")
	}
	checkInvariants(t, a)
}

func TestFlushAppliesPending(t *testing.T) {
	a := NewAggregator()
	now := time.Now()

	a.Apply(delta([][2]string{{"100.00", "5"}}, nil), now)
	a.Apply(delta([][2]string{{"99.00", "1"}}, nil), now.Add(10*time.Millisecond))

	if changed := a.Flush(); !changed {
		t.Fatal("flush with pending levels should report a change")
	}
	bids, _ := a.Snapshot()
	if len(bids) != 2 {
		t.Errorf("bids = %d, want 2", len(bids))
	}
	if changed := a.Flush(); changed {
		t.Error("flush with nothing pending should be a no-op")
	}
}

func TestMalformedLevelsSkipped(t *testing.T) {
	a := NewAggregator()
	a.Apply(delta([][2]string{{"abc", "5"}, {"100.00", "xyz"}, {"100.00", "3"}}, nil), time.Now())
	bids, _ := a.Snapshot()
	if len(bids) != 1 || bids[0].Qty != "3" {
		t.Errorf("bids = %+v", bids)
	}
}

func TestResetClearsBook(t *testing.T) {
	a := NewAggregator()
	a.Apply(delta([][2]string{{"100.00", "5"}}, [][2]string{{"101.00", "2"}}), time.Now())
	a.Reset()
	bids, asks := a.Snapshot()
	if len(bids) != 0 || len(asks) != 0 {
		t.Errorf("reset left levels: bids=%d asks=%d", len(bids), len(asks))
	}
}
