// Package metrics keeps callerbot's counters in process and exposes them in
// the Prometheus text exposition format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry used by the pipeline.
var Collector = NewMetricsCollector()

type metricKind string

const (
	kindCounter   metricKind = "counter"
	kindGauge     metricKind = "gauge"
	kindHistogram metricKind = "histogram"
)

// family groups every label set registered under one metric name.
type family struct {
	help   string
	kind   metricKind
	series map[string]any // labels -> *Counter | *Gauge | *Histogram
}

// MetricsCollector is a registry of metric families.
type MetricsCollector struct {
	mu        sync.Mutex
	families  map[string]*family
	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{families: make(map[string]*family), startTime: time.Now()}
}

func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

type Counter struct{ value atomic.Int64 }

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

type Gauge struct{ value atomic.Int64 }

func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative upper-bound buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// series returns the metric registered under name and labels, creating it
// with create on first use. Registering a name under two kinds panics.
func (c *MetricsCollector) series(name, help string, kind metricKind, labels string, create func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.families[name]
	if !ok {
		f = &family{help: help, kind: kind, series: make(map[string]any)}
		c.families[name] = f
	} else if f.kind != kind {
		panic(fmt.Sprintf("metric %s registered as %s and %s", name, f.kind, kind))
	}
	m, ok := f.series[labels]
	if !ok {
		m = create()
		f.series[labels] = m
	}
	return m
}

func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return c.series(name, help, kindCounter, labels, func() any { return &Counter{} }).(*Counter)
}

func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return c.series(name, help, kindGauge, labels, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram registers a histogram; buckets are only read on first registration.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return c.series(name, help, kindHistogram, labels, func() any {
		bounds := append([]float64(nil), buckets...)
		sort.Float64s(bounds)
		return &Histogram{bounds: bounds, counts: make([]int64, len(bounds))}
	}).(*Histogram)
}

// Handler renders all families sorted by name, each with one HELP/TYPE header
// followed by its series sorted by label set.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		var sb strings.Builder
		c.render(&sb)
		_, _ = io.WriteString(w, sb.String())
	}
}

func (c *MetricsCollector) render(sb *strings.Builder) {
	writeHeader(sb, "callerbot_uptime_seconds", "Time since start in seconds", kindGauge)
	fmt.Fprintf(sb, "callerbot_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.families))
	for name := range c.families {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := c.families[name]
		writeHeader(sb, name, f.help, f.kind)

		labelSets := make([]string, 0, len(f.series))
		for labels := range f.series {
			labelSets = append(labelSets, labels)
		}
		sort.Strings(labelSets)

		for _, labels := range labelSets {
			switch m := f.series[labels].(type) {
			case *Counter:
				fmt.Fprintf(sb, "%s%s %d\n", name, braces(labels), m.Value())
			case *Gauge:
				fmt.Fprintf(sb, "%s%s %d\n", name, braces(labels), m.Value())
			case *Histogram:
				writeHistogram(sb, name, labels, m)
			}
		}
	}
}

func writeHeader(sb *strings.Builder, name, help string, kind metricKind) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeHistogram(sb *strings.Builder, name, labels string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, le := range h.bounds {
		fmt.Fprintf(sb, "%s_bucket{%s%sle=\"%g\"} %d\n", name, labels, sep, le, h.counts[i])
	}
	fmt.Fprintf(sb, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, h.count)
	fmt.Fprintf(sb, "%s_sum%s %g\n", name, braces(labels), h.sum)
	fmt.Fprintf(sb, "%s_count%s %d\n", name, braces(labels), h.count)
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Serve exposes the collector at addr+path until ctx is cancelled.
func (c *MetricsCollector) Serve(ctx context.Context, addr, path string, logger *slog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// --- Pre-defined metrics used across the application ---

// Reply outcomes.
const (
	OutcomeNoMatch = "no_match"
	OutcomeName    = "name"
	OutcomeNoInfo  = "no_info"
	OutcomeError   = "error"
	OutcomeCommand = "command"
)

var (
	MessagesTotal = Collector.Counter("callerbot_messages_total", "Total inbound messages dispatched", "")
	LookupsTotal  = Collector.Counter("callerbot_lookups_total", "Total lookup requests issued", "")
	InFlight      = Collector.Gauge("callerbot_pipelines_in_flight", "Pipelines currently running", "")

	LookupLatency = Collector.Histogram("callerbot_lookup_latency_seconds", "Lookup latency in seconds", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30})
)

// Replies returns the reply counter for an outcome.
func Replies(outcome string) *Counter {
	return Collector.Counter("callerbot_replies_total", "Replies composed by outcome", `outcome="`+outcome+`"`)
}

// DeliveryFailures returns the delivery failure counter for a kind.
func DeliveryFailures(kind string) *Counter {
	return Collector.Counter("callerbot_delivery_failures_total", "Replies that could not be delivered", `kind="`+kind+`"`)
}
