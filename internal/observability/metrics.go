package observability

import (
	"sync"
	"time"
)

type MethodSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type ReaperSnapshot struct {
	Sweeps  int64 `json:"sweeps"`
	Scanned int64 `json:"scanned"`
	Expired int64 `json:"expired"`
}

type Snapshot struct {
	UptimeSec         int64                     `json:"uptime_sec"`
	TotalRequests     int64                     `json:"total_requests"`
	TotalErrors       int64                     `json:"total_errors"`
	InFlight          int64                     `json:"in_flight"`
	RateLimitRejects  int64                     `json:"rate_limit_rejects"`
	IdempotentReplays int64                     `json:"idempotent_replays"`
	Reaper            ReaperSnapshot            `json:"reaper"`
	Lifecycle         *LifecycleSnapshot        `json:"lifecycle,omitempty"`
	Methods           map[string]MethodSnapshot `json:"methods"`
}

type methodStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type Metrics struct {
	mu               sync.Mutex
	start            time.Time
	methods          map[string]*methodStats
	rateLimitRejects int64
	replays          int64
	reaper           ReaperSnapshot
	lifecycle        lifecycleStats
}

type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:   time.Now(),
		methods: make(map[string]*methodStats),
	}
}

func (m *Metrics) Start(method string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		method:  method,
		start:   time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.method, dur, err != nil)
}

// AddRateLimitReject records one request turned away by the ingress
// limiter.
func (m *Metrics) AddRateLimitReject() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.rateLimitRejects++
	m.mu.Unlock()
}

// AddIdempotentReplay records a request answered from a stored
// idempotency record instead of re-executing.
func (m *Metrics) AddIdempotentReplay() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.replays++
	m.mu.Unlock()
}

// AddSweep records one reaper pass.
func (m *Metrics) AddSweep(scanned, expired int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.reaper.Sweeps++
	m.reaper.Scanned += int64(scanned)
	m.reaper.Expired += int64(expired)
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:         int64(now.Sub(m.start).Seconds()),
		Methods:           make(map[string]MethodSnapshot),
		RateLimitRejects:  m.rateLimitRejects,
		IdempotentReplays: m.replays,
		Reaper:            m.reaper,
	}

	for method, stats := range m.methods {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Methods[method] = MethodSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureMethod(method string) *methodStats {
	stats, ok := m.methods[method]
	if !ok {
		stats = &methodStats{}
		m.methods[method] = stats
	}
	return stats
}

func (m *Metrics) finish(method string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
