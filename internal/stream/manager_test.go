package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chart-core/internal/book"
	"chart-core/internal/chart"
	"chart-core/internal/events"
	"chart-core/internal/monitor"
	"chart-core/internal/stabilize"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newFeedServer runs handler for every websocket client that connects.
func newFeedServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testOptions() Options {
	return Options{
		Host:           "unused",
		Interval:       "1m",
		MaxRetries:     2,
		BaseDelay:      10 * time.Millisecond,
		MaxDelay:       40 * time.Millisecond,
		ConnectTimeout: time.Second,
		LoadingTimeout: 80 * time.Millisecond,
	}
}

func newTestManager(srv *httptest.Server) (*Manager, *events.Bus) {
	bus := events.NewBus()
	m := NewManager(testOptions(), bus, stabilize.New(time.Now()), book.NewAggregator(), chart.NewStore(nil), nil, nil, monitor.NewMetrics())
	m.URL = func(string) string {
		return "ws" + strings.TrimPrefix(srv.URL, "http")
	}
	return m, bus
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func tickerFrame(symbol, price string) []byte {
	sym := strings.ToLower(symbol)
	return []byte(`{"stream":"` + sym + `@ticker","data":{"s":"` + symbol + `","c":"` + price + `","P":"1.50","E":1700000000000}}`)
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 30 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(c.attempt, base, max); got != c.want {
			t.Errorf("attempt %d: got %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestConnectReachesStreaming(t *testing.T) {
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, tickerFrame("BTCUSDT", "50000.00"))
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m, bus := newTestManager(srv)
	updates, unsub := bus.Subscribe(events.EventPriceUpdate, 10)
	defer unsub()

	m.Connect(context.Background(), "BTC/USDT")
	defer m.Disconnect()

	select {
	case msg := <-updates:
		u, ok := msg.(PriceUpdate)
		if !ok {
			t.Fatalf("payload type %T", msg)
		}
		if u.Symbol != "BTCUSDT" || u.Price != 50000 {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no price update published")
	}

	waitFor(t, "streaming state", func() bool { return m.State().Kind == StateStreaming })
	if m.Symbol() != "BTC/USDT" {
		t.Errorf("symbol = %q", m.Symbol())
	}
}

func TestMismatchedAndMalformedMessagesDropped(t *testing.T) {
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		conn.WriteMessage(websocket.TextMessage, tickerFrame("ETHUSDT", "3000.00"))
		conn.WriteMessage(websocket.TextMessage, tickerFrame("BTCUSDT", "50000.00"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m, bus := newTestManager(srv)
	updates, unsub := bus.Subscribe(events.EventPriceUpdate, 10)
	defer unsub()

	m.Connect(context.Background(), "BTC/USDT")
	defer m.Disconnect()

	select {
	case msg := <-updates:
		u := msg.(PriceUpdate)
		if u.Symbol != "BTCUSDT" {
			t.Errorf("leaked update for %q", u.Symbol)
		}
		if u.Price != 50000 {
			t.Errorf("price = %v", u.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid message never surfaced")
	}
}

func TestConnectOutlivesCallerContext(t *testing.T) {
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, tickerFrame("BTCUSDT", "50000.00"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m, _ := newTestManager(srv)
	ctx, cancel := context.WithCancel(context.Background())
	m.Connect(ctx, "BTC/USDT")
	defer m.Disconnect()

	// The caller's context dies as soon as its request completes; only
	// Disconnect or a later Connect may end the session.
	cancel()
	waitFor(t, "streaming state", func() bool { return m.State().Kind == StateStreaming })

	time.Sleep(100 * time.Millisecond)
	if got := m.State().Kind; got != StateStreaming {
		t.Errorf("state after caller context canceled = %v", got)
	}
}

func TestRetryBudgetResetsAfterStreaming(t *testing.T) {
	var sessions atomic.Int32
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		sessions.Add(1)
		// Stream one message, then drop the socket.
		conn.WriteMessage(websocket.TextMessage, tickerFrame("BTCUSDT", "50000.00"))
	})

	m, _ := newTestManager(srv)
	m.Connect(context.Background(), "BTC/USDT")
	defer m.Disconnect()

	// Far more drops than MaxRetries, but every session streams in
	// between, so the budget keeps resetting and the manager never
	// gives up.
	waitFor(t, "five streamed sessions", func() bool { return sessions.Load() >= 5 })
	if m.State().Kind == StateIdle {
		t.Fatal("manager gave up despite successful sessions between drops")
	}
	if m.store.Err() == "connection lost" {
		t.Error("terminal error surfaced while reconnects were succeeding")
	}
}

func TestDisconnectIsIntentional(t *testing.T) {
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, tickerFrame("BTCUSDT", "50000.00"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m, _ := newTestManager(srv)
	m.Connect(context.Background(), "BTC/USDT")
	waitFor(t, "streaming state", func() bool { return m.State().Kind == StateStreaming })

	m.Disconnect()
	waitFor(t, "idle state", func() bool { return m.State().Kind == StateIdle })

	// No reconnect may follow an intentional close.
	time.Sleep(100 * time.Millisecond)
	if got := m.State().Kind; got != StateIdle {
		t.Errorf("state after intentional close = %v", got)
	}
}

func TestRetriesExhaustedEndsIdle(t *testing.T) {
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		// Accept, then drop immediately to force the retry path.
	})

	m, bus := newTestManager(srv)
	states, unsub := bus.Subscribe(events.EventConnState, 50)
	defer unsub()

	m.Connect(context.Background(), "BTC/USDT")

	waitFor(t, "terminal idle state", func() bool {
		return m.State().Kind == StateIdle && m.store.Err() != ""
	})
	if m.store.Err() != "connection lost" {
		t.Errorf("store error = %q", m.store.Err())
	}
	if m.store.Loading() {
		t.Error("loading flag left set after giving up")
	}

	sawReconnecting := false
	for {
		select {
		case msg := <-states:
			if s, ok := msg.(State); ok && s.Kind == StateReconnecting {
				sawReconnecting = true
				if s.Attempt < 1 || s.Delay <= 0 {
					t.Errorf("reconnecting state missing detail: %+v", s)
				}
			}
			continue
		default:
		}
		break
	}
	if !sawReconnecting {
		t.Error("never observed a reconnecting state")
	}
}

func TestLoadingTimeoutClearsFlag(t *testing.T) {
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		// Connected but silent: no market data ever arrives.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m, _ := newTestManager(srv)
	m.Connect(context.Background(), "BTC/USDT")
	defer m.Disconnect()

	waitFor(t, "open state", func() bool { return m.State().Kind == StateOpen })
	waitFor(t, "loading flag cleared", func() bool { return !m.store.Loading() })
	if m.store.Err() == "" {
		t.Error("timeout left no error for display")
	}
}

func TestConnectSwitchesSymbols(t *testing.T) {
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m, _ := newTestManager(srv)
	m.Connect(context.Background(), "BTC/USDT")
	waitFor(t, "open state", func() bool { return m.State().Kind == StateOpen })

	m.filter.Seed(50000)
	m.Connect(context.Background(), "ETH/USDT")
	defer m.Disconnect()

	if m.Symbol() != "ETH/USDT" {
		t.Errorf("symbol = %q", m.Symbol())
	}
	// The stale seed from the previous symbol must not survive the switch.
	if _, ok := m.filter.Price(); ok {
		t.Error("displayed price leaked across a symbol switch")
	}
	if !m.store.Loading() {
		t.Error("loading flag not set for the new session")
	}
}
