// Package stream owns the websocket connection lifecycle: dialing,
// the retry state machine, message dispatch and teardown.
package stream

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chart-core/internal/book"
	"chart-core/internal/chart"
	"chart-core/internal/events"
	"chart-core/internal/monitor"
	"chart-core/internal/stabilize"
	"chart-core/pkg/cache"
	"chart-core/pkg/db"
	market "chart-core/pkg/market/binance"
)

// PrefWarmStart is the preference key controlling whether the last
// persisted price is painted before live data arrives.
const PrefWarmStart = "warm_start_prices"

// PriceUpdate is the payload published on events.EventPriceUpdate.
type PriceUpdate struct {
	Symbol string
	Price  float64
	Change float64
	At     time.Time
}

// BookSnapshot is the payload published on events.EventBookUpdate.
type BookSnapshot struct {
	Symbol string
	Bids   []market.PriceLevel
	Asks   []market.PriceLevel
}

// Options configures the connection lifecycle.
type Options struct {
	Host           string
	Interval       string
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	ConnectTimeout time.Duration
	LoadingTimeout time.Duration
}

// Manager drives one live market connection at a time. Connecting to a
// new symbol tears the previous session down completely.
type Manager struct {
	opts    Options
	bus     *events.Bus
	filter  *stabilize.Filter
	book    *book.Aggregator
	store   *chart.Store
	prices  *db.PriceStore
	cache   *cache.PriceCache
	metrics *monitor.Metrics

	// URL builds the stream endpoint for a wire symbol. Overridable so
	// tests can point the manager at a local server.
	URL func(symbol string) string

	mu            sync.RWMutex
	state         State
	symbol        string // wire form, e.g. BTCUSDT
	displaySymbol string // as requested, e.g. BTC/USDT
	conn          *websocket.Conn
	cancel        context.CancelFunc
	session       int
	intentional   bool
	loadingTimer  *time.Timer
	cur           chart.Candle
	hasCur        bool
}

// NewManager wires the connection manager. prices and cache may be nil
// when persistence is disabled.
func NewManager(opts Options, bus *events.Bus, filter *stabilize.Filter, agg *book.Aggregator, store *chart.Store, prices *db.PriceStore, priceCache *cache.PriceCache, metrics *monitor.Metrics) *Manager {
	m := &Manager{
		opts:    opts,
		bus:     bus,
		filter:  filter,
		book:    agg,
		store:   store,
		prices:  prices,
		cache:   priceCache,
		metrics: metrics,
		state:   State{Kind: StateIdle},
	}
	m.URL = func(symbol string) string {
		return market.StreamURL(opts.Host, symbol)
	}
	// Levels the throttle held past the last delta surface once the
	// book drains them on its own.
	agg.SetOnFlush(func() {
		bids, asks := agg.Snapshot()
		m.mu.RLock()
		wire := m.symbol
		m.mu.RUnlock()
		m.bus.Publish(events.EventBookUpdate, BookSnapshot{Symbol: wire, Bids: bids, Asks: asks})
	})
	return m
}

// Connect starts a session for the given display symbol. Any existing
// session is torn down first; the filter, book and loading flag are
// reset so no stale data leaks across symbols.
func (m *Manager) Connect(ctx context.Context, symbol string) {
	wire := market.NormalizeSymbol(symbol)
	now := time.Now()

	m.mu.Lock()
	m.teardownLocked()
	m.intentional = false
	m.symbol = wire
	m.displaySymbol = symbol
	m.session++
	session := m.session
	m.hasCur = false
	m.cur = chart.Candle{}

	// The session must outlive the caller's context (an HTTP request,
	// say); only Disconnect or a later Connect ends it.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.mu.Unlock()

	m.filter.Reset(now)
	m.book.Reset()
	m.store.SetLoading(true)
	m.store.SetError("")

	m.warmStart(sessionCtx, wire)

	go func() {
		if err := m.store.FetchHistorical(sessionCtx, symbol, m.opts.Interval); err != nil {
			log.Printf("[STREAM] historical backfill %s: %v", wire, err)
		} else if len(m.store.Candles()) > 0 {
			m.bus.Publish(events.EventCandle, m.store.Candles())
		}
	}()
	go m.run(sessionCtx, session, wire)
	go m.pollSnapshots(sessionCtx, symbol)
}

// Disconnect tears the active session down. The close is intentional so
// no reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.intentional = true
	m.teardownLocked()
	m.mu.Unlock()

	m.store.SetLoading(false)
	m.setState(State{Kind: StateIdle})
}

// teardownLocked cancels the running session and closes its socket.
// Callers hold m.mu.
func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.loadingTimer != nil {
		m.loadingTimer.Stop()
		m.loadingTimer = nil
	}
}

// warmStart paints the last known price before the first live message,
// when the preference allows it.
func (m *Manager) warmStart(ctx context.Context, wire string) {
	if m.prices != nil {
		if v, err := m.prices.GetPreference(ctx, PrefWarmStart, "true"); err == nil && v != "true" {
			return
		}
	}
	if m.cache != nil {
		if price, ok := m.cache.Get(wire); ok {
			m.filter.Seed(price)
			return
		}
	}
	if m.prices != nil {
		start := time.Now()
		price, err := m.prices.Get(ctx, wire)
		if m.metrics != nil {
			m.metrics.DBLatency.RecordDuration(time.Since(start))
		}
		switch {
		case err == nil:
			m.filter.Seed(price)
			if m.cache != nil {
				m.cache.Set(wire, price)
			}
		case errors.Is(err, db.ErrStalePrice), errors.Is(err, sql.ErrNoRows):
			// Nothing usable persisted; start cold.
		default:
			log.Printf("[STREAM] warm start %s: %v", wire, err)
		}
	}
}

func (m *Manager) run(ctx context.Context, session int, wire string) {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		if attempt > 0 {
			if attempt > m.opts.MaxRetries {
				log.Printf("[STREAM] %s: gave up after %d attempts", wire, m.opts.MaxRetries)
				m.store.SetLoading(false)
				m.store.SetError("connection lost")
				m.setState(State{Kind: StateIdle})
				return
			}
			delay := backoffDelay(attempt, m.opts.BaseDelay, m.opts.MaxDelay)
			m.setState(State{Kind: StateReconnecting, Attempt: attempt, Delay: delay})
			if m.metrics != nil {
				m.metrics.IncrementReconnects()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			// The settle window restarts on every reconnect.
			m.filter.Reset(time.Now())
			m.book.Reset()
		}

		m.setState(State{Kind: StateConnecting})

		dialer := websocket.Dialer{HandshakeTimeout: m.opts.ConnectTimeout}
		conn, _, err := dialer.DialContext(ctx, m.URL(wire), nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[STREAM] dial %s: %v", wire, err)
			continue
		}

		if !m.adoptConn(session, conn) {
			conn.Close()
			return
		}
		m.setState(State{Kind: StateOpen})
		m.armLoadingTimeout(wire)

		streamed, err := m.readLoop(ctx, conn, wire)
		conn.Close()
		m.dropConn(session)

		if ctx.Err() != nil || m.isIntentional() {
			return
		}
		log.Printf("[STREAM] %s: connection lost: %v", wire, err)
		if streamed {
			// MaxRetries bounds consecutive failures, not lifetime
			// drops: a session that reached streaming restores the
			// full retry budget.
			attempt = 0
		}
	}
}

// adoptConn publishes the live socket unless the session was superseded
// while the dial was in flight.
func (m *Manager) adoptConn(session int, conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session != m.session || m.intentional {
		return false
	}
	m.conn = conn
	return true
}

func (m *Manager) dropConn(session int) {
	m.mu.Lock()
	if session == m.session {
		m.conn = nil
	}
	m.mu.Unlock()
}

// armLoadingTimeout clears the loading flag if no data arrives in time,
// so the UI never spins forever.
func (m *Manager) armLoadingTimeout(wire string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadingTimer != nil {
		m.loadingTimer.Stop()
	}
	m.loadingTimer = time.AfterFunc(m.opts.LoadingTimeout, func() {
		if m.store.Loading() {
			log.Printf("[STREAM] %s: no data within %s", wire, m.opts.LoadingTimeout)
			m.store.SetLoading(false)
			m.store.SetError("timed out waiting for market data")
		}
	})
}

// readLoop consumes messages until the socket dies. It reports whether
// the session received any data at all.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, wire string) (bool, error) {
	streamed := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return streamed, err
		}
		if ctx.Err() != nil {
			return streamed, ctx.Err()
		}

		if !streamed {
			streamed = true
			m.mu.Lock()
			if m.loadingTimer != nil {
				m.loadingTimer.Stop()
				m.loadingTimer = nil
			}
			m.mu.Unlock()
			m.store.SetLoading(false)
			m.setState(State{Kind: StateStreaming})
		}

		m.handleMessage(raw, wire, time.Now())
	}
}

func (m *Manager) handleMessage(raw []byte, wire string, now time.Time) {
	if m.metrics != nil {
		m.metrics.IncrementMessages()
	}
	start := time.Now()
	msg, err := market.ParseMessage(raw)
	if m.metrics != nil {
		m.metrics.ParseLatency.RecordDuration(time.Since(start))
	}
	if err != nil {
		log.Printf("[STREAM] drop malformed message: %v", err)
		if m.metrics != nil {
			m.metrics.IncrementErrors()
		}
		return
	}
	// Messages for another symbol can race in around a symbol switch.
	if msg.Symbol != "" && msg.Symbol != wire {
		return
	}

	switch msg.Kind {
	case market.KindTicker:
		if msg.Ticker.HasPercent {
			m.filter.SetExchangeChange(msg.Ticker.PercentChange)
		}
		m.offerPrice(wire, msg.Ticker.Price, 0, msg.Ticker.Time, now)
	case market.KindTrade:
		m.offerPrice(wire, msg.Trade.Price, msg.Trade.Qty, msg.Trade.Time, now)
	case market.KindDepth:
		if m.book.Apply(*msg.Depth, now) {
			bids, asks := m.book.Snapshot()
			m.bus.Publish(events.EventBookUpdate, BookSnapshot{Symbol: wire, Bids: bids, Asks: asks})
		} else if m.metrics != nil {
			m.metrics.IncrementCoalesced()
		}
	case market.KindUnknown:
		// Stream we do not subscribe to; ignore.
	}
}

// offerPrice runs one sample through the stabilization filter and, when
// accepted, fans it out to the candle series, the bus and persistence.
func (m *Manager) offerPrice(wire string, price, volume float64, eventTime int64, now time.Time) {
	displayed, changed := m.filter.Offer(price, now)
	if !changed {
		if m.metrics != nil {
			m.metrics.IncrementDropped()
		}
		return
	}

	m.updateCandle(displayed, volume, eventTime, now)

	m.bus.Publish(events.EventPriceUpdate, PriceUpdate{
		Symbol: wire,
		Price:  displayed,
		Change: m.filter.PriceChange(),
		At:     now,
	})

	if m.cache != nil {
		m.cache.Set(wire, displayed)
	}
	if m.prices != nil {
		start := time.Now()
		err := m.prices.Upsert(context.Background(), wire, displayed)
		if m.metrics != nil {
			m.metrics.DBLatency.RecordDuration(time.Since(start))
		}
		if err != nil {
			log.Printf("[STREAM] persist price %s: %v", wire, err)
		}
	}
}

// updateCandle folds an accepted price into the live bucket and upserts
// it into the series.
func (m *Manager) updateCandle(price, volume float64, eventTime int64, now time.Time) {
	ms := eventTime
	if ms == 0 {
		ms = now.UnixMilli()
	}
	interval := intervalMillis(m.opts.Interval)
	bucket := ms - ms%interval

	m.mu.Lock()
	if !m.hasCur || m.cur.Time != bucket {
		m.cur = chart.Candle{Time: bucket, Price: price, High: price, Low: price, Volume: volume}
		m.hasCur = true
	} else {
		m.cur.Price = price
		if price > m.cur.High {
			m.cur.High = price
		}
		if price < m.cur.Low {
			m.cur.Low = price
		}
		m.cur.Volume += volume
	}
	c := m.cur
	m.mu.Unlock()

	m.store.AddCandle(c)
	m.bus.Publish(events.EventCandle, c)
}

// pollSnapshots refreshes the newest buckets over REST so gaps from
// dropped websocket frames heal themselves.
func (m *Manager) pollSnapshots(ctx context.Context, symbol string) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			klines, err := m.store.RefreshLatest(ctx, symbol, m.opts.Interval)
			if err != nil {
				log.Printf("[STREAM] snapshot refresh %s: %v", symbol, err)
				continue
			}
			if klines > 0 {
				m.bus.Publish(events.EventCandle, m.store.Candles())
			}
		}
	}
}

func (m *Manager) isIntentional() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.intentional
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.bus.Publish(events.EventConnState, s)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Symbol returns the active display symbol, empty when idle.
func (m *Manager) Symbol() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.displaySymbol
}

// backoffDelay computes the delay before retry attempt k (1-based):
// base doubled per attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func intervalMillis(interval string) int64 {
	switch interval {
	case "1s":
		return 1_000
	case "1m", "":
		return 60_000
	case "3m":
		return 3 * 60_000
	case "5m":
		return 5 * 60_000
	case "15m":
		return 15 * 60_000
	case "30m":
		return 30 * 60_000
	case "1h":
		return 60 * 60_000
	case "4h":
		return 4 * 60 * 60_000
	case "1d":
		return 24 * 60 * 60_000
	default:
		return 60_000
	}
}
