package monitor

import (
	"context"
	"log"
	"time"

	"chart-core/internal/events"
)

// Monitor watches connection state changes and logs them, plus a
// periodic health line with the headline counters.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventConnState, 50)
	go func() {
		defer unsub()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				log.Printf("[MONITOR] connection state: %v", msg)
			case <-ticker.C:
				snap := m.Metrics.GetSnapshot()
				log.Printf("[MONITOR] messages=%d dropped=%d coalesced=%d reconnects=%d frames=%d errors=%d goroutines=%d",
					snap.MessagesProcessed, snap.SamplesDropped, snap.DeltasCoalesced,
					snap.Reconnects, snap.FramesRendered, snap.ErrorsCount, snap.GoroutineCount)
			}
		}
	}()
}
