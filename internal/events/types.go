package events

// Event enumerates high-level topics inside the chart core.
type Event string

const (
	EventPriceUpdate Event = "price_update"
	EventBookUpdate  Event = "book_update"
	EventCandle      Event = "candle"
	EventConnState   Event = "conn_state"
)
