package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chart-core/internal/indicators"
	"chart-core/internal/stream"
	market "chart-core/pkg/market/binance"
)

// marketSnapshot is the observable state surface: everything the host
// application reads from the core in one response.
type marketSnapshot struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"lastPrice"`
	HasPrice  bool    `json:"hasPrice"`
	// PriceChange is the unified display figure (exchange 24h when
	// available, local baseline otherwise); Change24h is the raw
	// exchange field on its own.
	PriceChange  float64             `json:"priceChange"`
	Change24h    float64             `json:"change24h"`
	HasChange24h bool                `json:"hasChange24h"`
	State        string              `json:"connectionState"`
	IsConnected  bool                `json:"isConnected"`
	IsLoading    bool                `json:"isLoading"`
	Error        string              `json:"error"`
	Bids         []market.PriceLevel `json:"bids"`
	Asks         []market.PriceLevel `json:"asks"`
}

func (s *Server) getMarket(c *gin.Context) {
	price, hasPrice := s.Filter.Price()
	change24h, has24h := s.Filter.ExchangeChange()
	bids, asks := s.Book.Snapshot()
	state := s.Manager.State()

	c.JSON(http.StatusOK, marketSnapshot{
		Symbol:       s.Manager.Symbol(),
		LastPrice:    price,
		HasPrice:     hasPrice,
		PriceChange:  s.Filter.PriceChange(),
		Change24h:    change24h,
		HasChange24h: has24h,
		State:        state.String(),
		IsConnected:  state.Kind == stream.StateOpen || state.Kind == stream.StateStreaming,
		IsLoading:    s.Store.Loading(),
		Error:        s.Store.Err(),
		Bids:         bids,
		Asks:         asks,
	})
}

func (s *Server) getCandles(c *gin.Context) {
	candles := s.Store.Candles()
	vp := s.Store.Viewport()
	c.JSON(http.StatusOK, gin.H{
		"candles":  candles,
		"viewport": gin.H{"start": vp.Visible.Start, "end": vp.Visible.End, "priceScale": vp.PriceScale},
		"length":   len(candles),
	})
}

func (s *Server) getIndicators(c *gin.Context) {
	c.JSON(http.StatusOK, indicators.Compute(s.Store.Candles(), 7, 25, 14))
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) connectSymbol(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	s.Manager.Connect(c.Request.Context(), symbol)
	c.JSON(http.StatusAccepted, gin.H{"symbol": symbol, "state": s.Manager.State().String()})
}

func (s *Server) disconnect(c *gin.Context) {
	s.Manager.Disconnect()
	c.JSON(http.StatusOK, gin.H{"state": s.Manager.State().String()})
}
