package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_CounterIsShared(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("x_total", "help", `k="v"`).Inc()
	c.Counter("x_total", "help", `k="v"`).Inc()
	c.Counter("x_total", "help", `k="w"`).Inc()
	if got := c.Counter("x_total", "help", `k="v"`).Value(); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestCollector_KindMismatchPanics(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("x", "help", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic registering a counter name as a gauge")
		}
	}()
	c.Gauge("x", "help", "")
}

func TestCollector_HandlerRendersPrometheusText(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("callerbot_replies_total", "Replies", `outcome="name"`).Inc()
	g := c.Gauge("callerbot_pipelines_in_flight", "In flight", "")
	g.Inc()
	g.Inc()
	g.Dec()
	c.Histogram("callerbot_lookup_latency_seconds", "Latency", "", []float64{5, 1}).Observe(0.5)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"callerbot_uptime_seconds",
		`callerbot_replies_total{outcome="name"} 1`,
		"callerbot_pipelines_in_flight 1",
		`callerbot_lookup_latency_seconds_bucket{le="1"} 1`,
		`callerbot_lookup_latency_seconds_bucket{le="5"} 1`,
		`callerbot_lookup_latency_seconds_bucket{le="+Inf"} 1`,
		"callerbot_lookup_latency_seconds_count 1",
		"callerbot_lookup_latency_seconds_sum 0.5",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
}

func TestCollector_FamiliesAreGroupedAndSorted(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "B", `kind="y"`).Inc()
	c.Counter("a_total", "A", "").Inc()
	c.Counter("b_total", "B", `kind="x"`).Inc()

	var sb strings.Builder
	c.render(&sb)
	body := sb.String()

	if n := strings.Count(body, "# TYPE b_total counter"); n != 1 {
		t.Fatalf("expected one TYPE line for b_total, got %d:\n%s", n, body)
	}
	order := []string{"a_total 1", `b_total{kind="x"} 1`, `b_total{kind="y"} 1`}
	last := -1
	for _, line := range order {
		i := strings.Index(body, line)
		if i <= last {
			t.Fatalf("%q out of order:\n%s", line, body)
		}
		last = i
	}
}

func TestReplies_DistinctOutcomes(t *testing.T) {
	a := Replies("test_a")
	b := Replies("test_b")
	if a == b {
		t.Fatal("different outcomes should have different counters")
	}
	if Replies("test_a") != a {
		t.Fatal("same outcome should return the same counter")
	}
}
