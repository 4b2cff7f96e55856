package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MetricType categorizes what is being measured.
type MetricType string

const (
	MetricLatency MetricType = "latency_us"
	MetricSwept   MetricType = "swept"
)

// Counter names maintained by the collector.
const (
	CounterRequests    = "requests_total"
	CounterSweeps      = "sweeps_total"
	CounterSweepErrors = "sweep_errors_total"
	CounterSwept       = "swept_records_total"
)

// Labels are key-value metadata on a metric.
type Labels map[string]string

// MetricPoint is a single recorded data point.
type MetricPoint struct {
	Type      MetricType `json:"type"`
	Value     float64    `json:"value"`
	Labels    Labels     `json:"labels,omitempty"` // e.g., {"route": "GET /data"}
	Timestamp time.Time  `json:"timestamp"`
}

// Summary holds aggregate statistics for a metric type.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

// Report is the JSON document served on /metrics.
type Report struct {
	Counters map[string]int64 `json:"counters"`
	Latency  Summary          `json:"latency_us"`
	Points   int              `json:"points"`
}

// MetricsCollector collects in-memory metrics in a bounded ring.
type MetricsCollector struct {
	mu       sync.RWMutex
	points   []MetricPoint
	maxSize  int // Ring buffer capacity
	counters map[string]int64
	now      func() time.Time
}

// NewMetricsCollector creates a collector keeping at most maxSize points.
func NewMetricsCollector(maxSize int) *MetricsCollector {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &MetricsCollector{
		points:   make([]MetricPoint, 0, maxSize),
		maxSize:  maxSize,
		counters: make(map[string]int64),
		now:      time.Now,
	}
}

// ObserveRequest counts one served request and records its latency.
func (c *MetricsCollector) ObserveRequest(route string, status int, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters[CounterRequests]++
	c.counters[fmt.Sprintf("status_%d", status)]++
	c.record(MetricLatency, float64(elapsed.Microseconds()), Labels{"route": route})
}

// ObserveSweep counts one sweep attempt.
func (c *MetricsCollector) ObserveSweep(removed int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters[CounterSweeps]++
	if err != nil {
		c.counters[CounterSweepErrors]++
		return
	}
	c.counters[CounterSwept] += int64(removed)
	c.record(MetricSwept, float64(removed), nil)
}

// record appends a point, dropping the oldest when full. Callers hold mu.
func (c *MetricsCollector) record(mt MetricType, value float64, labels Labels) {
	point := MetricPoint{
		Type:      mt,
		Value:     value,
		Labels:    labels,
		Timestamp: c.now(),
	}
	if len(c.points) >= c.maxSize {
		copy(c.points, c.points[1:])
		c.points[len(c.points)-1] = point
		return
	}
	c.points = append(c.points, point)
}

// Counter returns the current value of a counter.
func (c *MetricsCollector) Counter(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Query returns points of type mt, optionally limited to those at or after since.
func (c *MetricsCollector) Query(mt MetricType, since time.Time) []MetricPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []MetricPoint
	for _, p := range c.points {
		if p.Type != mt {
			continue
		}
		if !since.IsZero() && p.Timestamp.Before(since) {
			continue
		}
		result = append(result, p)
	}
	return result
}

// Summarize returns aggregate statistics for a metric type.
func (c *MetricsCollector) Summarize(mt MetricType, since time.Time) Summary {
	points := c.Query(mt, since)
	if len(points) == 0 {
		return Summary{}
	}

	values := make([]float64, len(points))
	sum := 0.0
	for i, p := range points {
		values[i] = p.Value
		sum += p.Value
	}
	sort.Float64s(values)

	return Summary{
		Count: len(values),
		Mean:  sum / float64(len(values)),
		Min:   values[0],
		Max:   values[len(values)-1],
		P50:   percentile(values, 0.50),
		P95:   percentile(values, 0.95),
	}
}

// Report snapshots counters and the latency summary.
func (c *MetricsCollector) Report() Report {
	latency := c.Summarize(MetricLatency, time.Time{})

	c.mu.RLock()
	defer c.mu.RUnlock()
	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	return Report{Counters: counters, Latency: latency, Points: len(c.points)}
}

// percentile interpolates the p-th percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
