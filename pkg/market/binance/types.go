package market

// Kline represents a single candlestick bucket.
type Kline struct {
	Symbol    string
	OpenTime  int64 // bucket start (ms)
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// Ticker carries the 24h rolling window stats we consume from the
// <symbol>@ticker stream.
type Ticker struct {
	Symbol        string
	Price         float64 // last price ("c")
	PercentChange float64 // 24h change ("P")
	HasPercent    bool    // false when the feed omitted "P"
	Time          int64
}

// Trade is a single executed trade from the <symbol>@trade stream.
type Trade struct {
	Symbol       string
	Price        float64
	Qty          float64
	TradeID      int64
	Time         int64
	IsBuyerMaker bool
}

// PriceLevel is one order-book row. Prices and quantities stay as
// decimal strings on the wire; they are parsed at the aggregation layer.
type PriceLevel struct {
	Price string
	Qty   string
}

// DepthUpdate is a batch of incremental bid/ask deltas.
type DepthUpdate struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
	Time   int64
}

// MessageKind discriminates the closed set of stream payloads.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindTicker
	KindTrade
	KindDepth
)

func (k MessageKind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindTrade:
		return "trade"
	case KindDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// Message is the tagged variant every inbound envelope is parsed into
// before any domain state is touched. Exactly one payload field is set,
// matching Kind; unknown or malformed shapes land in KindUnknown.
type Message struct {
	Kind   MessageKind
	Symbol string
	Ticker *Ticker
	Trade  *Trade
	Depth  *DepthUpdate
}
