package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"chart-core/internal/api"
	"chart-core/internal/book"
	"chart-core/internal/chart"
	"chart-core/internal/events"
	"chart-core/internal/monitor"
	"chart-core/internal/stabilize"
	"chart-core/internal/stream"
	"chart-core/internal/ui"
	"chart-core/pkg/cache"
	"chart-core/pkg/config"
	"chart-core/pkg/db"
	market "chart-core/pkg/market/binance"
	"chart-core/pkg/theme"
)

const version = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[BOOT] config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence is optional: a broken database degrades to a cold
	// start, never a crash.
	var prices *db.PriceStore
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Printf("[BOOT] database unavailable, continuing without persistence: %v", err)
	} else {
		defer database.Close()
		if err := db.ApplyMigrations(database); err != nil {
			log.Printf("[BOOT] migrations failed, continuing without persistence: %v", err)
		} else {
			prices = database.Prices()
		}
	}

	th := theme.Default()
	if cfg.ThemePath != "" {
		loaded, err := theme.Load(cfg.ThemePath)
		if err != nil {
			log.Printf("[BOOT] theme %s: %v (using defaults)", cfg.ThemePath, err)
		} else {
			th = loaded
		}
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics()
	filter := stabilize.New(time.Now())
	agg := book.NewAggregator()
	priceCache := cache.NewPriceCache()
	store := chart.NewStore(market.NewClient(cfg.RESTBase))

	manager := stream.NewManager(stream.Options{
		Host:           cfg.StreamHost,
		Interval:       cfg.Interval,
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.BaseRetryDelay,
		MaxDelay:       cfg.MaxRetryDelay,
		ConnectTimeout: cfg.ConnectTimeout,
		LoadingTimeout: cfg.LoadingTimeout,
	}, bus, filter, agg, store, prices, priceCache, metrics)

	mon := &monitor.Monitor{Bus: bus, Metrics: metrics}
	mon.Start(ctx)

	// Drop cache entries past the same freshness bound the database uses.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := priceCache.Cleanup(db.PriceTTL); n > 0 {
					log.Printf("[CACHE] evicted %d stale prices", n)
				}
			}
		}
	}()

	server := api.NewServer(bus, database, manager, filter, agg, store, metrics, api.SystemMeta{
		Symbol:   cfg.Symbol,
		Interval: cfg.Interval,
		Version:  version,
	})
	go func() {
		log.Printf("[API] listening on :%s", cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Printf("[API] server stopped: %v", err)
		}
	}()

	manager.Connect(ctx, cfg.Symbol)

	if cfg.EnableTUI {
		model := ui.NewModel(store, ui.NewAnnotations(), manager, bus, th, metrics, cfg.ExportDir, cfg.Symbol)
		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseAllMotion())
		if _, err := program.Run(); err != nil {
			log.Printf("[UI] %v", err)
		}
		manager.Disconnect()
		return
	}

	// Headless: serve the API until a signal arrives.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("[BOOT] shutting down")
	manager.Disconnect()
}
