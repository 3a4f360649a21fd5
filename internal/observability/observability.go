// Package observability reports the process's operational health: pool
// utilization, retrieval/provider latency, circuit-breaker state, and a
// consolidated integrity check, exposed over chi as /healthz and the
// Prometheus exposition format as /metrics.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"htm-memory/internal/breaker"
)

// Pool utilization thresholds, expressed as a fraction of max connections.
const (
	PoolWarningThreshold  = 0.75
	PoolCriticalThreshold = 0.90
)

// RequiredExtensions are the Postgres extensions the schema depends on:
// pgvector for the embedding column, pg_trgm for the tag-name trigram
// index.
var RequiredExtensions = []string{"vector", "pg_trgm"}

// PoolHealth buckets connection-pool utilization into the four states
// observability reports.
type PoolHealth string

const (
	PoolHealthy   PoolHealth = "healthy"
	PoolWarning   PoolHealth = "warning"
	PoolCritical  PoolHealth = "critical"
	PoolExhausted PoolHealth = "exhausted"
)

// PoolStatus summarizes one pgxpool.Pool's current connection usage.
type PoolStatus struct {
	Health        PoolHealth
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	MaxConns      int32
	Utilization   float64
}

func poolHealth(acquired, max int32) PoolHealth {
	if max <= 0 {
		return PoolHealthy
	}
	utilization := float64(acquired) / float64(max)
	switch {
	case acquired >= max:
		return PoolExhausted
	case utilization >= PoolCriticalThreshold:
		return PoolCritical
	case utilization >= PoolWarningThreshold:
		return PoolWarning
	default:
		return PoolHealthy
	}
}

func poolStatusFromStat(stat *pgxpool.Stat) PoolStatus {
	max := stat.MaxConns()
	acquired := stat.AcquiredConns()
	utilization := 0.0
	if max > 0 {
		utilization = float64(acquired) / float64(max)
	}

	return PoolStatus{
		Health:        poolHealth(acquired, max),
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: acquired,
		MaxConns:      max,
		Utilization:   utilization,
	}
}

// LatencySummary reports the usual percentile cuts over a recorder's
// current sample window.
type LatencySummary struct {
	Count int
	Avg   time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// LatencyRecorder is a fixed-capacity ring buffer of recent durations.
// Older samples are overwritten once capacity is reached — this reports
// recent behavior, not a lifetime histogram (Prometheus owns that via the
// paired histogram metric).
type LatencyRecorder struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

// NewLatencyRecorder creates a recorder holding up to capacity samples.
func NewLatencyRecorder(capacity int) *LatencyRecorder {
	if capacity <= 0 {
		capacity = 256
	}
	return &LatencyRecorder{samples: make([]time.Duration, capacity)}
}

// Record adds one observed duration.
func (l *LatencyRecorder) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples[l.next] = d
	l.next = (l.next + 1) % len(l.samples)
	if l.next == 0 {
		l.filled = true
	}
}

// Summary computes avg/p50/p95/p99 over the current window.
func (l *LatencyRecorder) Summary() LatencySummary {
	l.mu.Lock()
	var snapshot []time.Duration
	if l.filled {
		snapshot = append(snapshot, l.samples...)
	} else {
		snapshot = append(snapshot, l.samples[:l.next]...)
	}
	l.mu.Unlock()

	if len(snapshot) == 0 {
		return LatencySummary{}
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })

	var sum time.Duration
	for _, d := range snapshot {
		sum += d
	}

	return LatencySummary{
		Count: len(snapshot),
		Avg:   sum / time.Duration(len(snapshot)),
		P50:   percentile(snapshot, 0.50),
		P95:   percentile(snapshot, 0.95),
		P99:   percentile(snapshot, 0.99),
	}
}

// percentile uses the nearest-rank method: the smallest value such that at
// least p of the samples are less than or equal to it.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

var (
	poolUtilizationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "htm_memory_pool_utilization_ratio",
		Help: "Fraction of the database connection pool currently acquired",
	})
	retrieverLatencyHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "htm_memory_retriever_latency_seconds",
		Help:    "Latency of each hybrid-search retriever",
		Buckets: prometheus.DefBuckets,
	}, []string{"retriever"})
	providerLatencyHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "htm_memory_provider_latency_seconds",
		Help:    "Latency of external enrichment providers",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	breakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "htm_memory_circuit_breaker_state",
		Help: "Circuit breaker state per dependency: 0=closed, 1=half_open, 2=open",
	}, []string{"dependency"})
)

func init() {
	prometheus.MustRegister(poolUtilizationGauge)
	prometheus.MustRegister(retrieverLatencyHistogram)
	prometheus.MustRegister(providerLatencyHistogram)
	prometheus.MustRegister(breakerStateGauge)
}

func breakerStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 2
	case breaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Monitor aggregates every observability signal for one process.
type Monitor struct {
	pool     *pgxpool.Pool
	breakers *breaker.Registry
	logger   *zap.Logger

	mu               sync.Mutex
	retrieverLatency map[string]*LatencyRecorder
	embeddingLatency *LatencyRecorder
	tagLatency       *LatencyRecorder
}

// NewMonitor wires a Monitor to a connection pool and breaker registry.
func NewMonitor(pool *pgxpool.Pool, breakers *breaker.Registry, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		pool:             pool,
		breakers:         breakers,
		logger:           logger,
		retrieverLatency: make(map[string]*LatencyRecorder),
		embeddingLatency: NewLatencyRecorder(256),
		tagLatency:       NewLatencyRecorder(256),
	}
}

func (m *Monitor) recorderFor(retriever string) *LatencyRecorder {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.retrieverLatency[retriever]
	if !ok {
		r = NewLatencyRecorder(256)
		m.retrieverLatency[retriever] = r
	}
	return r
}

// RecordRetrieverLatency records one retriever call's duration, for
// vector/fulltext/tags.
func (m *Monitor) RecordRetrieverLatency(retriever string, d time.Duration) {
	m.recorderFor(retriever).Record(d)
	retrieverLatencyHistogram.WithLabelValues(retriever).Observe(d.Seconds())
}

// RecordEmbeddingLatency records one embedding provider call's duration.
func (m *Monitor) RecordEmbeddingLatency(d time.Duration) {
	m.embeddingLatency.Record(d)
	providerLatencyHistogram.WithLabelValues("embedding").Observe(d.Seconds())
}

// RecordTagLatency records one tag provider call's duration.
func (m *Monitor) RecordTagLatency(d time.Duration) {
	m.tagLatency.Record(d)
	providerLatencyHistogram.WithLabelValues("tag").Observe(d.Seconds())
}

// RetrieverLatency returns the latency summary for a named retriever, or
// a zero summary if it's never been recorded.
func (m *Monitor) RetrieverLatency(retriever string) LatencySummary {
	return m.recorderFor(retriever).Summary()
}

// EmbeddingLatency returns the embedding provider's latency summary.
func (m *Monitor) EmbeddingLatency() LatencySummary { return m.embeddingLatency.Summary() }

// TagLatency returns the tag provider's latency summary.
func (m *Monitor) TagLatency() LatencySummary { return m.tagLatency.Summary() }

// PoolStatus reports the connection pool's current utilization.
func (m *Monitor) PoolStatus() PoolStatus {
	if m.pool == nil {
		return PoolStatus{Health: PoolHealthy}
	}
	status := poolStatusFromStat(m.pool.Stat())
	poolUtilizationGauge.Set(status.Utilization)
	return status
}

// BreakerStates reports every registered circuit breaker's current state.
func (m *Monitor) BreakerStates() map[string]breaker.State {
	if m.breakers == nil {
		return map[string]breaker.State{}
	}
	states := m.breakers.Snapshot()
	for name, state := range states {
		breakerStateGauge.WithLabelValues(name).Set(breakerStateValue(state))
	}
	return states
}

// MemoryResidentSize returns the process's current heap-in-use size in
// bytes, via runtime.MemStats.
func (m *Monitor) MemoryResidentSize() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapInuse
}

// checkExtensions queries which of RequiredExtensions are installed. With
// no pool configured (e.g. a standalone process) extension presence isn't
// applicable, so every extension reports present.
func (m *Monitor) checkExtensions(ctx context.Context) (map[string]bool, error) {
	present := make(map[string]bool, len(RequiredExtensions))
	for _, name := range RequiredExtensions {
		present[name] = m.pool == nil
	}
	if m.pool == nil {
		return present, nil
	}

	rows, err := m.pool.Query(ctx, `SELECT extname FROM pg_extension WHERE extname = ANY($1)`, RequiredExtensions)
	if err != nil {
		return present, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return present, err
		}
		present[name] = true
	}
	return present, rows.Err()
}

// IntegrityIssues lists every currently-true integrity problem: missing
// required extensions, a critical/exhausted pool, or an open circuit
// breaker. An empty slice means the process is fully healthy.
func (m *Monitor) IntegrityIssues(ctx context.Context) []string {
	var issues []string

	present, err := m.checkExtensions(ctx)
	if err != nil {
		issues = append(issues, fmt.Sprintf("could not verify database extensions: %v", err))
	} else {
		for name, ok := range present {
			if !ok {
				issues = append(issues, fmt.Sprintf("missing database extension: %s", name))
			}
		}
	}

	pool := m.PoolStatus()
	if pool.Health == PoolCritical || pool.Health == PoolExhausted {
		issues = append(issues, fmt.Sprintf("connection pool %s: %.0f%% utilized", pool.Health, pool.Utilization*100))
	}

	for name, state := range m.BreakerStates() {
		if state == breaker.StateOpen {
			issues = append(issues, fmt.Sprintf("circuit breaker open: %s", name))
		}
	}

	return issues
}

// Healthy reports true iff IntegrityIssues found nothing — warnings (a
// pool in the "warning" band, a half-open breaker) don't count.
func (m *Monitor) Healthy(ctx context.Context) bool {
	return len(m.IntegrityIssues(ctx)) == 0
}

// Report is the full JSON body /healthz returns.
type Report struct {
	Healthy    bool                       `json:"healthy"`
	Pool       PoolStatus                 `json:"pool"`
	Breakers   map[string]breaker.State   `json:"breakers"`
	MemoryRSS  uint64                     `json:"memory_resident_bytes"`
	Issues     []string                   `json:"issues"`
	Retrievers map[string]LatencySummary  `json:"retriever_latency,omitempty"`
	Embedding  LatencySummary             `json:"embedding_latency"`
	Tag        LatencySummary             `json:"tag_latency"`
}

// BuildReport assembles the full health report.
func (m *Monitor) BuildReport(ctx context.Context) Report {
	m.mu.Lock()
	retrievers := make(map[string]LatencySummary, len(m.retrieverLatency))
	for name, r := range m.retrieverLatency {
		retrievers[name] = r.Summary()
	}
	m.mu.Unlock()

	issues := m.IntegrityIssues(ctx)
	return Report{
		Healthy:    len(issues) == 0,
		Pool:       m.PoolStatus(),
		Breakers:   m.BreakerStates(),
		MemoryRSS:  m.MemoryResidentSize(),
		Issues:     issues,
		Retrievers: retrievers,
		Embedding:  m.EmbeddingLatency(),
		Tag:        m.TagLatency(),
	}
}

// RegisterRoutes mounts GET /healthz (a JSON Report) and GET /metrics
// (the Prometheus exposition format) on r.
func (m *Monitor) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", m.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
}

func (m *Monitor) handleHealthz(w http.ResponseWriter, req *http.Request) {
	report := m.BuildReport(req.Context())

	w.Header().Set("Content-Type", "application/json")
	if !report.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		m.logger.Error("failed to encode health report", zap.Error(err))
	}
}
