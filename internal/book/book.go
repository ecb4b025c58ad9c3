// Package book maintains the bounded two-sided order book built from
// incremental depth deltas.
package book

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	market "chart-core/pkg/market/binance"
)

const (
	// MaxDepth caps each side of the book.
	MaxDepth = 20

	// applyInterval bounds how often the sorted arrays are rebuilt.
	// Deltas arriving inside the window are coalesced per price level
	// (last write wins) and applied at the next window edge, so no
	// level change is ever lost to throttling.
	applyInterval = 200 * time.Millisecond
)

type level struct {
	priceStr string
	qtyStr   string
	price    float64
}

// Aggregator owns the book for the active symbol.
type Aggregator struct {
	mu sync.Mutex

	bids []level // strictly descending by price
	asks []level // strictly ascending by price

	// Levels touched since the last flush, keyed by exact price string.
	pendingBids map[string]string
	pendingAsks map[string]string

	limiter *rate.Limiter

	// flushTimer drains pending levels when the feed goes quiet before
	// the next Apply would have flushed them.
	flushTimer *time.Timer
	onFlush    func()
}

// NewAggregator creates an empty book.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.reset()
	return a
}

// Reset drops all state; called on symbol switch.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.reset()
	a.mu.Unlock()
}

func (a *Aggregator) reset() {
	if a.flushTimer != nil {
		a.flushTimer.Stop()
		a.flushTimer = nil
	}
	a.bids = nil
	a.asks = nil
	a.pendingBids = make(map[string]string)
	a.pendingAsks = make(map[string]string)
	a.limiter = rate.NewLimiter(rate.Every(applyInterval), 1)
}

// Apply merges one delta batch. Every pair is recorded; the sorted book
// itself is rebuilt at most once per interval. It reports whether the
// visible book changed.
func (a *Aggregator) Apply(d market.DepthUpdate, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, lvl := range d.Bids {
		a.pendingBids[lvl.Price] = lvl.Qty
	}
	for _, lvl := range d.Asks {
		a.pendingAsks[lvl.Price] = lvl.Qty
	}

	if len(a.pendingBids) == 0 && len(a.pendingAsks) == 0 {
		return false
	}
	if !a.limiter.AllowN(now, 1) {
		// Held levels must still land even if no further delta ever
		// arrives; the timer drains them at the window edge.
		if a.flushTimer == nil {
			a.flushTimer = time.AfterFunc(applyInterval, a.deferredFlush)
		}
		return false
	}
	a.flushLocked()
	return true
}

// SetOnFlush registers a callback invoked after a deferred flush lands
// levels that were held by the throttle.
func (a *Aggregator) SetOnFlush(fn func()) {
	a.mu.Lock()
	a.onFlush = fn
	a.mu.Unlock()
}

func (a *Aggregator) deferredFlush() {
	a.mu.Lock()
	a.flushTimer = nil
	if len(a.pendingBids) == 0 && len(a.pendingAsks) == 0 {
		a.mu.Unlock()
		return
	}
	a.flushLocked()
	cb := a.onFlush
	a.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Flush applies coalesced levels immediately, regardless of the
// interval.
func (a *Aggregator) Flush() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pendingBids) == 0 && len(a.pendingAsks) == 0 {
		return false
	}
	a.flushLocked()
	return true
}

func (a *Aggregator) flushLocked() {
	if a.flushTimer != nil {
		a.flushTimer.Stop()
		a.flushTimer = nil
	}
	a.bids = applySide(a.bids, a.pendingBids, func(i, j level) bool { return i.price > j.price })
	a.asks = applySide(a.asks, a.pendingAsks, func(i, j level) bool { return i.price < j.price })
	a.pendingBids = make(map[string]string)
	a.pendingAsks = make(map[string]string)
}

func applySide(side []level, pending map[string]string, less func(i, j level) bool) []level {
	for priceStr, qtyStr := range pending {
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		qty, err := strconv.ParseFloat(qtyStr, 64)
		if err != nil {
			continue
		}

		idx := -1
		for i := range side {
			if side[i].priceStr == priceStr {
				idx = i
				break
			}
		}

		switch {
		case qty == 0 && idx >= 0:
			side = append(side[:idx], side[idx+1:]...)
		case qty == 0:
			// removal for a level we never held
		case idx >= 0:
			side[idx].qtyStr = qtyStr
		default:
			side = append(side, level{priceStr: priceStr, qtyStr: qtyStr, price: price})
		}
	}

	sort.SliceStable(side, func(i, j int) bool { return less(side[i], side[j]) })
	if len(side) > MaxDepth {
		side = side[:MaxDepth]
	}
	return side
}

// Snapshot returns copies of both sides, bids descending and asks
// ascending.
func (a *Aggregator) Snapshot() (bids, asks []market.PriceLevel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bids = make([]market.PriceLevel, len(a.bids))
	for i, l := range a.bids {
		bids[i] = market.PriceLevel{Price: l.priceStr, Qty: l.qtyStr}
	}
	asks = make([]market.PriceLevel, len(a.asks))
	for i, l := range a.asks {
		asks[i] = market.PriceLevel{Price: l.priceStr, Qty: l.qtyStr}
	}
	return bids, asks
}
