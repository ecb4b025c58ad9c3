package market

import (
	"strings"
	"testing"
)

func TestParseMessageTicker(t *testing.T) {
	t.Run("with percent change", func(t *testing.T) {
		raw := []byte(`{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"50123.45","P":"2.31","E":1700000000000}}`)
		msg, err := ParseMessage(raw)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if msg.Kind != KindTicker {
			t.Fatalf("expected ticker, got %s", msg.Kind)
		}
		if msg.Symbol != "BTCUSDT" {
			t.Errorf("symbol = %q", msg.Symbol)
		}
		if msg.Ticker.Price != 50123.45 {
			t.Errorf("price = %v", msg.Ticker.Price)
		}
		if !msg.Ticker.HasPercent || msg.Ticker.PercentChange != 2.31 {
			t.Errorf("percent = %v (has=%v)", msg.Ticker.PercentChange, msg.Ticker.HasPercent)
		}
	})

	t.Run("percent omitted", func(t *testing.T) {
		raw := []byte(`{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"50123.45"}}`)
		msg, err := ParseMessage(raw)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if msg.Ticker.HasPercent {
			t.Error("expected HasPercent=false when P is missing")
		}
	})
}

func TestParseMessageTrade(t *testing.T) {
	raw := []byte(`{"stream":"ethusdt@trade","data":{"s":"ETHUSDT","p":"3021.7","q":"0.25","t":991,"T":1700000000123,"m":true}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Kind != KindTrade {
		t.Fatalf("expected trade, got %s", msg.Kind)
	}
	tr := msg.Trade
	if tr.Price != 3021.7 || tr.Qty != 0.25 || tr.TradeID != 991 || tr.Time != 1700000000123 || !tr.IsBuyerMaker {
		t.Errorf("unexpected trade: %+v", tr)
	}
}

func TestParseMessageDepth(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@depth","data":{"s":"BTCUSDT","E":1700000000456,"b":[["100.00","5"],["99.50","1"]],"a":[["100.50","2"],["bad"]]}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Kind != KindDepth {
		t.Fatalf("expected depth, got %s", msg.Kind)
	}
	if len(msg.Depth.Bids) != 2 {
		t.Errorf("bids = %d", len(msg.Depth.Bids))
	}
	// Short rows are skipped, not errors.
	if len(msg.Depth.Asks) != 1 {
		t.Errorf("asks = %d", len(msg.Depth.Asks))
	}
	if msg.Depth.Bids[0].Price != "100.00" || msg.Depth.Bids[0].Qty != "5" {
		t.Errorf("bid[0] = %+v", msg.Depth.Bids[0])
	}
}

func TestParseMessageDepthSpeedSuffix(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@depth@100ms","data":{"s":"BTCUSDT","b":[],"a":[]}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Kind != KindDepth {
		t.Errorf("expected depth, got %s", msg.Kind)
	}
}

func TestParseMessageUnknown(t *testing.T) {
	for _, raw := range []string{
		`{"stream":"btcusdt@aggTrade","data":{}}`,
		`{"stream":"nodiscriminator","data":{}}`,
	} {
		msg, err := ParseMessage([]byte(raw))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if msg.Kind != KindUnknown {
			t.Errorf("expected unknown for %s, got %s", raw, msg.Kind)
		}
	}
}

func TestParseMessageMalformed(t *testing.T) {
	if _, err := ParseMessage([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed envelope")
	}
	if _, err := ParseMessage([]byte(`{"stream":"x@ticker","data":[1,2]}`)); err == nil {
		t.Error("expected error for ticker payload of wrong shape")
	}
}

func TestStreamURL(t *testing.T) {
	u := StreamURL("stream.example.com:9443", "BTC/USDT")
	if !strings.HasPrefix(u, "wss://stream.example.com:9443/stream?streams=") {
		t.Fatalf("url = %s", u)
	}
	if !strings.Contains(u, "btcusdt@ticker/btcusdt@trade/btcusdt@depth") {
		t.Errorf("streams missing from %s", u)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	if got := NormalizeSymbol("eth/usdt"); got != "ETHUSDT" {
		t.Errorf("NormalizeSymbol = %q", got)
	}
}
