// Package metrics exposes policy decision counters in the Prometheus text
// exposition format without pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewRegistry("opguard")

// Registry holds counters, gauges and histograms keyed by name and labels.
type Registry struct {
	namespace string
	started   time.Time

	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates an empty registry. namespace prefixes the uptime gauge.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace:  namespace,
		started:    time.Now(),
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

type series struct {
	name   string
	help   string
	labels string
}

func (s series) key() string { return s.name + "{" + s.labels + "}" }

// Counter only goes up.
type Counter struct {
	series
	value atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge can go up and down.
type Gauge struct {
	series
	value atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	series
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

// Observe records v.
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

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns the counter for name and labels, creating it on first use.
func (r *Registry) Counter(name, help, labels string) *Counter {
	s := series{name: name, help: help, labels: labels}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[s.key()]; ok {
		return c
	}
	c := &Counter{series: s}
	r.counters[s.key()] = c
	return c
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	s := series{name: name, help: help, labels: labels}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[s.key()]; ok {
		return g
	}
	g := &Gauge{series: s}
	r.gauges[s.key()] = g
	return g
}

// Histogram returns the histogram for name and labels, creating it on first use.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	s := series{name: name, help: help, labels: labels}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[s.key()]; ok {
		return h
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	h := &Histogram{series: s, bounds: bounds, counts: make([]int64, len(bounds))}
	r.histograms[s.key()] = h
	return h
}

// WriteTo renders every series in exposition format, sorted by key.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	uptime := r.namespace + "_uptime_seconds"
	fmt.Fprintf(&sb, "# HELP %s Time since start in seconds\n# TYPE %s gauge\n%s %d\n",
		uptime, uptime, uptime, int64(time.Since(r.started).Seconds()))

	r.mu.RLock()
	counters := sortedValues(r.counters)
	gauges := sortedValues(r.gauges)
	histograms := sortedValues(r.histograms)
	r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, c := range counters {
		writeHeader(&sb, seen, c.series, "counter")
		fmt.Fprintf(&sb, "%s %d\n", c.ident(c.name), c.Value())
	}
	for _, g := range gauges {
		writeHeader(&sb, seen, g.series, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", g.ident(g.name), g.Value())
	}
	for _, h := range histograms {
		writeHeader(&sb, seen, h.series, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s %d\n", h.withLabel(h.name+"_bucket", `le="`+bound+`"`), h.counts[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", h.ident(h.name+"_count"), h.count)
		fmt.Fprintf(&sb, "%s %f\n", h.ident(h.name+"_sum"), h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Handler serves the registry over HTTP.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = r.WriteTo(w)
	}
}

func (s series) ident(name string) string {
	if s.labels == "" {
		return name
	}
	return name + "{" + s.labels + "}"
}

func (s series) withLabel(name, extra string) string {
	if s.labels == "" {
		return name + "{" + extra + "}"
	}
	return name + "{" + s.labels + "," + extra + "}"
}

func writeHeader(sb *strings.Builder, seen map[string]bool, s series, kind string) {
	if seen[s.name] {
		return
	}
	seen[s.name] = true
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", s.name, s.help, s.name, kind)
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Series used across the engine.
var (
	CommandsAllowed  = Collector.Counter("opguard_commands_total", "Command decisions by verdict", `verdict="allow"`)
	CommandsDenied   = Collector.Counter("opguard_commands_total", "Command decisions by verdict", `verdict="deny"`)
	AutomatedDenied  = Collector.Counter("opguard_automated_blocks_total", "Commands cancelled from automated sources", "")
	PrivilegeGrants  = Collector.Counter("opguard_privilege_grants_total", "Privilege grants on join", "")
	AllowListAdds    = Collector.Counter("opguard_allowlist_additions_total", "Actors added to the allow-list", "")
	AdminRejected    = Collector.Counter("opguard_admin_rejected_total", "Allow-list requests rejected as denied or malformed", "")
	AuditDropped     = Collector.Counter("opguard_audit_dropped_total", "Audit records dropped on a full queue", "")
	AuditWriteErrors = Collector.Counter("opguard_audit_write_errors_total", "Audit output write failures", "")
	PersistErrors    = Collector.Counter("opguard_persist_errors_total", "Configuration persistence failures", "")
	AllowListSize    = Collector.Gauge("opguard_allowlist_size", "Current allow-list size", "")

	DecisionLatency = Collector.Histogram("opguard_decision_seconds", "Policy decision latency in seconds", "",
		[]float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, math.Inf(1)})
)

