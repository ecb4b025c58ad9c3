package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks feed and render health for the /api/metrics surface.
type Metrics struct {
	// Latency histograms
	ParseLatency  *LatencyHistogram
	RenderLatency *LatencyHistogram
	DBLatency     *LatencyHistogram
	APILatency    *LatencyHistogram

	// Counters
	messagesProcessed uint64
	samplesDropped    uint64
	deltasCoalesced   uint64
	reconnects        uint64
	framesRendered    uint64
	apiRequests       uint64
	errorsCount       uint64

	startedAt time.Time
}

// LatencyHistogram tracks latency samples over a sliding window with
// lazily recomputed summary statistics.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewMetrics creates a metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		ParseLatency:  NewLatencyHistogram(1000),
		RenderLatency: NewLatencyHistogram(1000),
		DBLatency:     NewLatencyHistogram(1000),
		APILatency:    NewLatencyHistogram(1000),
		startedAt:     time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when the
// samples changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementMessages counts one processed stream message.
func (m *Metrics) IncrementMessages() {
	atomic.AddUint64(&m.messagesProcessed, 1)
}

// IncrementDropped counts a price sample rejected or rate-limited by the
// stabilization filter.
func (m *Metrics) IncrementDropped() {
	atomic.AddUint64(&m.samplesDropped, 1)
}

// IncrementCoalesced counts a depth delta held back by the book throttle.
func (m *Metrics) IncrementCoalesced() {
	atomic.AddUint64(&m.deltasCoalesced, 1)
}

// IncrementReconnects counts one reconnect attempt.
func (m *Metrics) IncrementReconnects() {
	atomic.AddUint64(&m.reconnects, 1)
}

// IncrementFrames counts one rendered frame.
func (m *Metrics) IncrementFrames() {
	atomic.AddUint64(&m.framesRendered, 1)
}

// IncrementAPI counts one handled HTTP request.
func (m *Metrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementErrors increments the error counter.
func (m *Metrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// Snapshot is a point-in-time metrics view.
type Snapshot struct {
	ParseLatency      LatencyStats `json:"parse_latency"`
	RenderLatency     LatencyStats `json:"render_latency"`
	DBLatency         LatencyStats `json:"db_latency"`
	APILatency        LatencyStats `json:"api_latency"`
	MessagesProcessed uint64       `json:"messages_processed"`
	SamplesDropped    uint64       `json:"samples_dropped"`
	DeltasCoalesced   uint64       `json:"deltas_coalesced"`
	Reconnects        uint64       `json:"reconnects"`
	FramesRendered    uint64       `json:"frames_rendered"`
	APIRequests       uint64       `json:"api_requests"`
	ErrorsCount       uint64       `json:"errors_count"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	UptimeSeconds     float64      `json:"uptime_seconds"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		ParseLatency:      m.ParseLatency.Stats(),
		RenderLatency:     m.RenderLatency.Stats(),
		DBLatency:         m.DBLatency.Stats(),
		APILatency:        m.APILatency.Stats(),
		MessagesProcessed: atomic.LoadUint64(&m.messagesProcessed),
		SamplesDropped:    atomic.LoadUint64(&m.samplesDropped),
		DeltasCoalesced:   atomic.LoadUint64(&m.deltasCoalesced),
		Reconnects:        atomic.LoadUint64(&m.reconnects),
		FramesRendered:    atomic.LoadUint64(&m.framesRendered),
		APIRequests:       atomic.LoadUint64(&m.apiRequests),
		ErrorsCount:       atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		UptimeSeconds:     time.Since(m.startedAt).Seconds(),
		Timestamp:         time.Now(),
	}
}
