// Package metrics exposes process counters in the Prometheus text format.
package metrics

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type family interface {
	meta() (name, help, kind string)
	samples(w io.Writer)
}

// Registry holds metric families and renders them in registration order.
type Registry struct {
	mu       sync.Mutex
	families []family
	byName   map[string]family
	started  time.Time
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]family{}, started: time.Now()}
}

// register returns the family already registered under name, or stores f.
// Registering a different kind under an existing name panics.
func register[T family](r *Registry, name string, f T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byName[name]; ok {
		existing, same := old.(T)
		if !same {
			panic("metrics: " + name + " registered with a different type")
		}
		return existing
	}
	r.byName[name] = f
	r.families = append(r.families, f)
	return f
}

func (r *Registry) Counter(name, help string) *Counter {
	return register(r, name, &Counter{name: name, help: help})
}

func (r *Registry) Gauge(name, help string) *Gauge {
	return register(r, name, &Gauge{name: name, help: help})
}

// Histogram registers a histogram with the given upper bounds. The +Inf
// bucket is implicit.
func (r *Registry) Histogram(name, help string, bounds ...float64) *Histogram {
	bounds = slices.Clone(bounds)
	slices.Sort(bounds)
	return register(r, name, &Histogram{name: name, help: help, bounds: bounds, counts: make([]uint64, len(bounds))})
}

// Write renders every family, preceded by the process uptime gauge of the
// given namespace.
func (r *Registry) Write(w io.Writer, namespace string) error {
	r.mu.Lock()
	fams := slices.Clone(r.families)
	r.mu.Unlock()

	bw := bufio.NewWriter(w)
	up := namespace + "_uptime_seconds"
	fmt.Fprintf(bw, "# HELP %s Seconds since the process started\n# TYPE %s gauge\n%s %d\n", up, up, up, int64(time.Since(r.started).Seconds()))
	for _, f := range fams {
		name, help, kind := f.meta()
		fmt.Fprintf(bw, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
		f.samples(bw)
	}
	return bw.Flush()
}

type Counter struct {
	name, help string
	v          atomic.Int64
}

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

func (c *Counter) meta() (string, string, string) { return c.name, c.help, "counter" }
func (c *Counter) samples(w io.Writer)            { fmt.Fprintf(w, "%s %d\n", c.name, c.Value()) }

type Gauge struct {
	name, help string
	v          atomic.Int64
}

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

func (g *Gauge) meta() (string, string, string) { return g.name, g.help, "gauge" }
func (g *Gauge) samples(w io.Writer)            { fmt.Fprintf(w, "%s %d\n", g.name, g.Value()) }

// Histogram counts observations per bucket. counts[i] holds observations
// falling in (bounds[i-1], bounds[i]]; rendering accumulates them.
type Histogram struct {
	name, help string
	bounds     []float64

	mu     sync.Mutex
	counts []uint64
	total  uint64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i, _ := slices.BinarySearch(h.bounds, v); i < len(h.bounds) {
		h.counts[i]++
	}
	h.total++
	h.sum += v
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) { h.Observe(time.Since(start).Seconds()) }

func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func (h *Histogram) meta() (string, string, string) { return h.name, h.help, "histogram" }

func (h *Histogram) samples(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var cum uint64
	for i, b := range h.bounds {
		cum += h.counts[i]
		fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", h.name, strconv.FormatFloat(b, 'g', -1, 64), cum)
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n%s_sum %g\n%s_count %d\n", h.name, h.total, h.name, h.sum, h.name, h.total)
}

// Handler serves the registry in the text exposition format.
func Handler(r *Registry, namespace string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = r.Write(w, namespace)
	})
}
