package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics counts predictions per label and tracks inference latency.
type Metrics struct {
	mu         sync.RWMutex
	byLabel    map[string]int64
	bySource   map[string]int64
	failures   int64
	latencyN   int64
	latencySum time.Duration
	latencyMax time.Duration
	startTime  time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		byLabel:   make(map[string]int64),
		bySource:  make(map[string]int64),
		startTime: time.Now(),
	}
}

func (m *Metrics) RecordPrediction(source, label string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byLabel[label]++
	m.bySource[source]++
	m.observe(latency)
}

func (m *Metrics) RecordFailure(source string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.bySource[source]++
	m.observe(latency)
}

func (m *Metrics) observe(latency time.Duration) {
	m.latencyN++
	m.latencySum += latency
	if latency > m.latencyMax {
		m.latencyMax = latency
	}
}

type LatencySummary struct {
	Count  int64   `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	MaxMs  float64 `json:"max_ms"`
}

type MetricsSnapshot struct {
	Predictions map[string]int64 `json:"predictions"`
	Sources     map[string]int64 `json:"sources"`
	Failures    int64            `json:"failures"`
	Latency     LatencySummary   `json:"latency"`
	Uptime      string           `json:"uptime"`
	Goroutines  int              `json:"goroutines"`
	HeapAllocMB float64          `json:"heap_alloc_mb"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := MetricsSnapshot{
		Predictions: make(map[string]int64, len(m.byLabel)),
		Sources:     make(map[string]int64, len(m.bySource)),
		Failures:    m.failures,
		Latency: LatencySummary{
			Count: m.latencyN,
			MaxMs: float64(m.latencyMax) / float64(time.Millisecond),
		},
		Uptime:      time.Since(m.startTime).Round(time.Second).String(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
	}
	for k, v := range m.byLabel {
		snap.Predictions[k] = v
	}
	for k, v := range m.bySource {
		snap.Sources[k] = v
	}
	if m.latencyN > 0 {
		snap.Latency.MeanMs = float64(m.latencySum) / float64(m.latencyN) / float64(time.Millisecond)
	}
	return snap
}

// ExportPrometheus renders the counters in the text exposition format.
func (m *Metrics) ExportPrometheus() string {
	snap := m.Snapshot()
	var b strings.Builder

	b.WriteString("# HELP neuroscan_predictions_total Classified scans by label\n")
	b.WriteString("# TYPE neuroscan_predictions_total counter\n")
	labels := make([]string, 0, len(snap.Predictions))
	for label := range snap.Predictions {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Fprintf(&b, "neuroscan_predictions_total{label=%q} %d\n", label, snap.Predictions[label])
	}

	b.WriteString("# HELP neuroscan_failures_total Scans that could not be classified\n")
	b.WriteString("# TYPE neuroscan_failures_total counter\n")
	fmt.Fprintf(&b, "neuroscan_failures_total %d\n", snap.Failures)

	b.WriteString("# TYPE neuroscan_latency_ms summary\n")
	fmt.Fprintf(&b, "neuroscan_latency_ms_count %d\n", snap.Latency.Count)
	fmt.Fprintf(&b, "neuroscan_latency_ms_sum %f\n", snap.Latency.MeanMs*float64(snap.Latency.Count))
	return b.String()
}
