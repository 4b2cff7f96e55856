package observability

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNewMetricsCollector_ZeroSize(t *testing.T) {
	c := NewMetricsCollector(0)
	if c.maxSize != 4096 {
		t.Errorf("maxSize = %d, want 4096", c.maxSize)
	}
}

func TestMetricsCollector_ObserveRequest(t *testing.T) {
	c := NewMetricsCollector(100)
	c.ObserveRequest("GET /data", 200, 2*time.Millisecond)
	c.ObserveRequest("GET /data", 200, 4*time.Millisecond)
	c.ObserveRequest("POST /api/records/delete", 404, time.Millisecond)

	if c.Counter(CounterRequests) != 3 {
		t.Errorf("requests = %d", c.Counter(CounterRequests))
	}
	if c.Counter("status_200") != 2 || c.Counter("status_404") != 1 {
		t.Errorf("status counters = %d/%d", c.Counter("status_200"), c.Counter("status_404"))
	}
	if c.Counter("missing") != 0 {
		t.Errorf("missing counter = %d", c.Counter("missing"))
	}

	s := c.Summarize(MetricLatency, time.Time{})
	if s.Count != 3 || s.Min != 1000 || s.Max != 4000 {
		t.Errorf("summary = %+v", s)
	}
	if math.Abs(s.Mean-7000.0/3) > 0.001 {
		t.Errorf("mean = %f", s.Mean)
	}
}

func TestMetricsCollector_RingBuffer(t *testing.T) {
	c := NewMetricsCollector(3)
	for i := 0; i < 5; i++ {
		c.ObserveRequest("GET /", 200, time.Duration(i)*time.Microsecond)
	}

	points := c.Query(MetricLatency, time.Time{})
	if len(points) != 3 {
		t.Fatalf("Query = %d, want 3", len(points))
	}
	if points[0].Value != 2 || points[2].Value != 4 {
		t.Errorf("window = %v..%v, want 2..4", points[0].Value, points[2].Value)
	}
	if c.Counter(CounterRequests) != 5 {
		t.Errorf("counters must not be windowed: %d", c.Counter(CounterRequests))
	}
}

func TestMetricsCollector_QuerySince(t *testing.T) {
	c := NewMetricsCollector(10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	c.now = func() time.Time { return now }

	c.ObserveRequest("GET /", 200, time.Millisecond)
	now = base.Add(time.Hour)
	c.ObserveRequest("GET /", 200, time.Millisecond)

	if got := len(c.Query(MetricLatency, base.Add(time.Minute))); got != 1 {
		t.Errorf("points since = %d, want 1", got)
	}
}

func TestMetricsCollector_ObserveSweep(t *testing.T) {
	c := NewMetricsCollector(10)
	c.ObserveSweep(2, nil)
	c.ObserveSweep(0, errors.New("locked"))
	c.ObserveSweep(1, nil)

	if c.Counter(CounterSweeps) != 3 {
		t.Errorf("sweeps = %d", c.Counter(CounterSweeps))
	}
	if c.Counter(CounterSweepErrors) != 1 {
		t.Errorf("sweep errors = %d", c.Counter(CounterSweepErrors))
	}
	if c.Counter(CounterSwept) != 3 {
		t.Errorf("swept = %d", c.Counter(CounterSwept))
	}
}

func TestMetricsCollector_Report(t *testing.T) {
	c := NewMetricsCollector(10)
	c.ObserveRequest("GET /health", 200, 10*time.Microsecond)

	r := c.Report()
	if r.Counters[CounterRequests] != 1 {
		t.Errorf("counters = %v", r.Counters)
	}
	if r.Latency.Count != 1 || r.Points != 1 {
		t.Errorf("report = %+v", r)
	}

	// The report is a copy.
	r.Counters[CounterRequests] = 99
	if c.Counter(CounterRequests) != 1 {
		t.Error("report shares the live counter map")
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if got := percentile(values, 0.5); got != 3 {
		t.Errorf("p50 = %f", got)
	}
	if got := percentile(values, 1); got != 5 {
		t.Errorf("p100 = %f", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Errorf("empty = %f", got)
	}
}
