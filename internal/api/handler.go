// Package api exposes the chart core's observable state over HTTP.
package api

import (
	"net/http"
	"time"

	"chart-core/internal/book"
	"chart-core/internal/chart"
	"chart-core/internal/events"
	"chart-core/internal/monitor"
	"chart-core/internal/stabilize"
	"chart-core/internal/stream"
	"chart-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the shared stores.
type Server struct {
	Router  *gin.Engine
	Bus     *events.Bus
	DB      *db.Database
	Manager *stream.Manager
	Filter  *stabilize.Filter
	Book    *book.Aggregator
	Store   *chart.Store
	Metrics *monitor.Metrics
	Meta    SystemMeta
}

// SystemMeta describes runtime status exposed alongside snapshots.
type SystemMeta struct {
	Symbol   string
	Interval string
	Version  string
}

func NewServer(bus *events.Bus, database *db.Database, manager *stream.Manager, filter *stabilize.Filter, agg *book.Aggregator, store *chart.Store, metrics *monitor.Metrics, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		Bus:     bus,
		DB:      database,
		Manager: manager,
		Filter:  filter,
		Book:    agg,
		Store:   store,
		Metrics: metrics,
		Meta:    meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/market", s.getMarket)
		api.GET("/candles", s.getCandles)
		api.GET("/indicators", s.getIndicators)
		api.GET("/metrics", s.getMetrics)
		api.POST("/connect/:symbol", s.connectSymbol)
		api.POST("/disconnect", s.disconnect)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.Meta.Version})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
