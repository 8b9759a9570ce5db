// internal/utils/metrics.go
package utils

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects in-process counters, gauges and histograms.
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values.
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

func (m *MetricsCollector) slot(table map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, ok := table[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = table[name]; !ok {
		v = new(int64)
		table[name] = v
	}
	return v
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// ShowMetrics names the counters the show pipeline reports. A nil *ShowMetrics records nothing.
type ShowMetrics struct {
	metrics *MetricsCollector
}

// NewShowMetrics wraps a collector. A nil collector gets a fresh one.
func NewShowMetrics(m *MetricsCollector) *ShowMetrics {
	if m == nil {
		m = NewMetricsCollector()
	}
	return &ShowMetrics{metrics: m}
}

// Collector returns the underlying collector.
func (sm *ShowMetrics) Collector() *MetricsCollector {
	return sm.metrics
}

// MessageIngested counts one log append by message type.
func (sm *ShowMetrics) MessageIngested(msgType string) {
	if sm == nil {
		return
	}
	sm.metrics.IncrementCounter("messages_total")
	sm.metrics.IncrementCounter("messages_" + msgType)
}

// SummaryGenerated counts a summary by the strategy that produced it.
func (sm *ShowMetrics) SummaryGenerated(strategy string, took time.Duration) {
	if sm == nil {
		return
	}
	sm.metrics.IncrementCounter("summaries_total")
	sm.metrics.IncrementCounter("summaries_" + strategy)
	sm.metrics.RecordHistogram("summary_latency_ms", took.Milliseconds())
}

// SummaryFallback counts a delegated summary that fell back.
func (sm *ShowMetrics) SummaryFallback(reason string) {
	if sm == nil {
		return
	}
	sm.metrics.IncrementCounter("summary_fallbacks_" + reason)
}

// Handoff counts a forwarded handoff.
func (sm *ShowMetrics) Handoff() {
	if sm == nil {
		return
	}
	sm.metrics.IncrementCounter("handoffs_total")
}

// HandoffTruncated counts a handoff refused by the hop limit.
func (sm *ShowMetrics) HandoffTruncated() {
	if sm == nil {
		return
	}
	sm.metrics.IncrementCounter("handoffs_truncated")
}

// ArcTransition counts a phase transition or arc completion.
func (sm *ShowMetrics) ArcTransition() {
	if sm == nil {
		return
	}
	sm.metrics.IncrementCounter("arc_transitions_total")
}

// ScenarioExecuted counts a one-shot scenario run.
func (sm *ShowMetrics) ScenarioExecuted() {
	if sm == nil {
		return
	}
	sm.metrics.IncrementCounter("scenarios_executed")
}

// BusDropped counts an exchange dropped because a subscriber was full.
func (sm *ShowMetrics) BusDropped(topic string) {
	if sm == nil {
		return
	}
	sm.metrics.IncrementCounter("bus_dropped")
}

// LLMRequest records one generation call.
func (sm *ShowMetrics) LLMRequest(provider string, took time.Duration, err error) {
	if sm == nil {
		return
	}
	sm.metrics.IncrementCounter("llm_requests_total")
	sm.metrics.IncrementCounter("llm_requests_" + provider)
	if err != nil {
		sm.metrics.IncrementCounter("llm_errors_total")
	}
	sm.metrics.RecordHistogram("llm_response_time_ms", took.Milliseconds())
}

// SetActiveCharacters publishes the active-set size.
func (sm *ShowMetrics) SetActiveCharacters(n int) {
	if sm == nil {
		return
	}
	sm.metrics.SetGauge("active_characters", int64(n))
}
