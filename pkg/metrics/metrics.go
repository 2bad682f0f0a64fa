// Package metrics exposes Prometheus collectors for the buffer pool so
// operators can watch cache effectiveness without instrumenting call sites
// by hand. The B+Tree has no collectors of its own.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// BufferPool holds the counters and gauges the BufferPoolManager updates on
// every fetch, eviction and flush.
type BufferPool struct {
	Hits       prometheus.Counter
	Misses     prometheus.Counter
	Evictions  prometheus.Counter
	Flushes    prometheus.Counter
	PinnedPages prometheus.Gauge
}

// NewBufferPool constructs and registers a BufferPool metrics set against
// reg. Passing a fresh prometheus.NewRegistry() keeps tests isolated from the
// global default registry.
func NewBufferPool(reg prometheus.Registerer) *BufferPool {
	m := &BufferPool{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coredb_buffer_pool_hits_total",
			Help: "Number of FetchPage calls served from a resident frame.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coredb_buffer_pool_misses_total",
			Help: "Number of FetchPage calls that required a disk read.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coredb_buffer_pool_evictions_total",
			Help: "Number of frames reclaimed via the replacer.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coredb_buffer_pool_flushes_total",
			Help: "Number of pages written back to disk.",
		}),
		PinnedPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coredb_buffer_pool_pinned_pages",
			Help: "Current number of frames with a non-zero pin count.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Evictions, m.Flushes, m.PinnedPages)
	}
	return m
}

// Noop returns a BufferPool metrics set that is never registered, for use in
// tests and callers that don't care about observability.
func Noop() *BufferPool {
	return NewBufferPool(nil)
}
