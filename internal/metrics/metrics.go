// Package metrics exposes the executor's operational counters through
// Prometheus. The store keeps the per-run metric records; this package is
// the process-level aggregate view served on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mgx-dev/mgx/internal/broadcast"
	"github.com/mgx-dev/mgx/internal/cache"
)

type Set struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	activeRuns    prometheus.Gauge
	phaseDuration *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Set {
	s := &Set{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mgx", Subsystem: "executor", Name: "runs_started_total",
			Help: "Runs admitted by the executor.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mgx", Subsystem: "executor", Name: "runs_finished_total",
			Help: "Runs reaching a terminal status, by status.",
		}, []string{"status"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mgx", Subsystem: "executor", Name: "active_runs",
			Help: "Runs currently live.",
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mgx", Subsystem: "executor", Name: "phase_duration_seconds",
			Help:    "Wall-clock duration per pipeline phase.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"phase"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mgx", Subsystem: "llm", Name: "tokens_total",
			Help: "Prompt and completion tokens consumed, estimated when unreported.",
		}, []string{"direction"}),
	}
	if reg != nil {
		reg.MustRegister(s.runsStarted, s.runsFinished, s.activeRuns, s.phaseDuration, s.tokens)
	}
	return s
}

func (s *Set) RunStarted() {
	if s == nil {
		return
	}
	s.runsStarted.Inc()
	s.activeRuns.Inc()
}

func (s *Set) RunFinished(status string) {
	if s == nil {
		return
	}
	s.runsFinished.WithLabelValues(status).Inc()
	s.activeRuns.Dec()
}

func (s *Set) ObservePhase(phase string, d time.Duration) {
	if s == nil {
		return
	}
	s.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (s *Set) AddTokens(prompt, completion int) {
	if s == nil {
		return
	}
	s.tokens.WithLabelValues("prompt").Add(float64(prompt))
	s.tokens.WithLabelValues("completion").Add(float64(completion))
}

// broadcastCollector surfaces the broadcaster's aggregate drop counter at
// scrape time, the same way the cache collector works.
type broadcastCollector struct {
	b       *broadcast.Broadcaster
	dropped *prometheus.Desc
}

// NewBroadcastCollector adapts a broadcaster's drop accounting for scraping.
func NewBroadcastCollector(b *broadcast.Broadcaster) prometheus.Collector {
	return &broadcastCollector{
		b: b,
		dropped: prometheus.NewDesc("mgx_broadcast_events_dropped_total",
			"Events dropped by saturated subscriber queues.", nil, nil),
	}
}

func (bc *broadcastCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- bc.dropped
}

func (bc *broadcastCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(bc.dropped, prometheus.CounterValue, float64(bc.b.TotalDropped()))
}

// cacheCollector surfaces cache.Stats as gauges at scrape time.
type cacheCollector struct {
	c    cache.Cache
	size *prometheus.Desc
	hits *prometheus.Desc
	miss *prometheus.Desc
	evic *prometheus.Desc
}

// NewCacheCollector adapts a cache backend's counters for scraping.
func NewCacheCollector(c cache.Cache) prometheus.Collector {
	return &cacheCollector{
		c:    c,
		size: prometheus.NewDesc("mgx_cache_entries", "Live cache entries.", nil, nil),
		hits: prometheus.NewDesc("mgx_cache_hits_total", "Cache lookup hits.", nil, nil),
		miss: prometheus.NewDesc("mgx_cache_misses_total", "Cache lookup misses.", nil, nil),
		evic: prometheus.NewDesc("mgx_cache_evictions_total", "Cache evictions.", nil, nil),
	}
}

func (cc *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cc.size
	ch <- cc.hits
	ch <- cc.miss
	ch <- cc.evic
}

func (cc *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	st := cc.c.Inspect()
	ch <- prometheus.MustNewConstMetric(cc.size, prometheus.GaugeValue, float64(st.Size))
	ch <- prometheus.MustNewConstMetric(cc.hits, prometheus.CounterValue, float64(st.Hits))
	ch <- prometheus.MustNewConstMetric(cc.miss, prometheus.CounterValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(cc.evic, prometheus.CounterValue, float64(st.Evictions))
}
