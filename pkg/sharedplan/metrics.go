package sharedplan

import "github.com/prometheus/client_golang/prometheus"

// metricsSink abstracts the counters/gauges the cache emits behind a
// noop/Prometheus split, so that a Cache built without WithMetrics pays
// nothing for instrumentation.
type metricsSink interface {
	incHit()
	incMiss()
	incBypass()
	incCustomPlan()
	incDiscard()
	incEvict(reason EvictReason)
	incLock()
	incUnlock()
	incDealloc()
	setAllocedSize(v int64)
	setRdependNum(v int64)
}

type noopMetrics struct{}

func (noopMetrics) incHit()                   {}
func (noopMetrics) incMiss()                  {}
func (noopMetrics) incBypass()                {}
func (noopMetrics) incCustomPlan()            {}
func (noopMetrics) incDiscard()               {}
func (noopMetrics) incEvict(EvictReason)       {}
func (noopMetrics) incLock()                  {}
func (noopMetrics) incUnlock()                {}
func (noopMetrics) incDealloc()               {}
func (noopMetrics) setAllocedSize(int64)      {}
func (noopMetrics) setRdependNum(int64)       {}

type promMetrics struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	bypasses    prometheus.Counter
	customPlans prometheus.Counter
	discards    prometheus.Counter
	evictions   *prometheus.CounterVec
	locks       prometheus.Counter
	unlocks     prometheus.Counter
	deallocs    prometheus.Counter
	allocedSize prometheus.Gauge
	rdependNum  prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	const ns = "sharedplan"
	m := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "hits_total", Help: "plan lookups that found a store entry",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "misses_total", Help: "plan lookups that found no store entry",
		}),
		bypasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "bypasses_total", Help: "lookups that returned the cached generic plan",
		}),
		customPlans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "custom_plans_total", Help: "custom-plan costs accumulated via RecordCustomCost",
		}),
		discards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "discards_total", Help: "entries whose plan handle was cleared by invalidation",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "evictions_total", Help: "entries removed, by reason",
		}, []string{"reason"}),
		locks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "locks_total", Help: "LOCK-class invalidations applied",
		}),
		unlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "unlocks_total", Help: "UNLOCK-class invalidations applied",
		}),
		deallocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "dealloc_total", Help: "capacity-eviction sweeps performed",
		}),
		allocedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "alloced_bytes", Help: "bytes currently attributed to arena allocations",
		}),
		rdependNum: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "rdepend_keys", Help: "distinct reverse-dependency keys tracked",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.bypasses, m.customPlans, m.discards,
		m.evictions, m.locks, m.unlocks, m.deallocs, m.allocedSize, m.rdependNum)
	return m
}

func (m *promMetrics) incHit()        { m.hits.Inc() }
func (m *promMetrics) incMiss()       { m.misses.Inc() }
func (m *promMetrics) incBypass()     { m.bypasses.Inc() }
func (m *promMetrics) incCustomPlan() { m.customPlans.Inc() }
func (m *promMetrics) incDiscard()    { m.discards.Inc() }
func (m *promMetrics) incEvict(reason EvictReason) {
	switch reason {
	case ReasonCapacity:
		m.evictions.WithLabelValues("capacity").Inc()
	case ReasonEvict:
		m.evictions.WithLabelValues("invalidate").Inc()
	default:
		m.evictions.WithLabelValues("other").Inc()
	}
}
func (m *promMetrics) incLock()                 { m.locks.Inc() }
func (m *promMetrics) incUnlock()               { m.unlocks.Inc() }
func (m *promMetrics) incDealloc()              { m.deallocs.Inc() }
func (m *promMetrics) setAllocedSize(v int64)   { m.allocedSize.Set(float64(v)) }
func (m *promMetrics) setRdependNum(v int64)    { m.rdependNum.Set(float64(v)) }

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
