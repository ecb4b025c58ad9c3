package market

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeSymbol maps a display symbol ("BTC/USDT") onto the wire form
// the exchange expects ("BTCUSDT").
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// StreamURL builds the multiplexed endpoint carrying ticker, trade and
// depth streams for one symbol.
func StreamURL(host, symbol string) string {
	sym := strings.ToLower(NormalizeSymbol(symbol))
	streams := fmt.Sprintf("%s@ticker/%s@trade/%s@depth", sym, sym, sym)
	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     "/stream",
		RawQuery: "streams=" + streams,
	}
	return u.String()
}

// envelope is the combined-stream wrapper {stream, data}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// ParseMessage decodes one inbound envelope into the closed Message
// variant. A recognised stream with an undecodable payload is an error
// (the caller logs and drops it); a stream we do not subscribe to maps
// to KindUnknown.
func ParseMessage(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	at := strings.Index(env.Stream, "@")
	if at < 0 {
		return Message{Kind: KindUnknown}, nil
	}
	kind := env.Stream[at+1:]
	// Depth streams may carry an update-speed suffix (depth@100ms).
	if i := strings.Index(kind, "@"); i >= 0 {
		kind = kind[:i]
	}

	switch kind {
	case "ticker":
		t, err := parseTicker(env.Data)
		if err != nil {
			return Message{}, fmt.Errorf("decode ticker: %w", err)
		}
		return Message{Kind: KindTicker, Symbol: t.Symbol, Ticker: &t}, nil
	case "trade":
		t, err := parseTrade(env.Data)
		if err != nil {
			return Message{}, fmt.Errorf("decode trade: %w", err)
		}
		return Message{Kind: KindTrade, Symbol: t.Symbol, Trade: &t}, nil
	case "depth":
		d, err := parseDepth(env.Data)
		if err != nil {
			return Message{}, fmt.Errorf("decode depth: %w", err)
		}
		return Message{Kind: KindDepth, Symbol: d.Symbol, Depth: &d}, nil
	default:
		return Message{Kind: KindUnknown}, nil
	}
}

func parseTicker(data []byte) (Ticker, error) {
	var raw struct {
		Symbol    string      `json:"s"`
		Last      interface{} `json:"c"`
		Percent   *string     `json:"P"`
		EventTime interface{} `json:"E"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Ticker{}, err
	}
	t := Ticker{
		Symbol: raw.Symbol,
		Price:  toFloat(raw.Last),
		Time:   toInt64(raw.EventTime),
	}
	if raw.Percent != nil {
		t.PercentChange = toFloat(*raw.Percent)
		t.HasPercent = true
	}
	return t, nil
}

func parseTrade(data []byte) (Trade, error) {
	var raw struct {
		Symbol    string      `json:"s"`
		Price     interface{} `json:"p"`
		Qty       interface{} `json:"q"`
		TradeID   interface{} `json:"t"`
		TradeTime interface{} `json:"T"`
		BuyerIsMM bool        `json:"m"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Trade{}, err
	}
	return Trade{
		Symbol:       raw.Symbol,
		Price:        toFloat(raw.Price),
		Qty:          toFloat(raw.Qty),
		TradeID:      toInt64(raw.TradeID),
		Time:         toInt64(raw.TradeTime),
		IsBuyerMaker: raw.BuyerIsMM,
	}, nil
}

func parseDepth(data []byte) (DepthUpdate, error) {
	var raw struct {
		Symbol    string      `json:"s"`
		EventTime interface{} `json:"E"`
		Bids      [][]string  `json:"b"`
		Asks      [][]string  `json:"a"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DepthUpdate{}, err
	}
	return DepthUpdate{
		Symbol: raw.Symbol,
		Bids:   toLevels(raw.Bids),
		Asks:   toLevels(raw.Asks),
		Time:   toInt64(raw.EventTime),
	}, nil
}

func toLevels(raw [][]string) []PriceLevel {
	levels := make([]PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		levels = append(levels, PriceLevel{Price: lvl[0], Qty: lvl[1]})
	}
	return levels
}
