package neural

import (
	"math"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PerformanceMetrics reports the cost of one Detect call.
type PerformanceMetrics struct {
	PreprocessMS  float64
	InferenceMS   float64
	PostprocessMS float64
	TotalMS       float64
	BytesInPool   int
}

// runningMean maintains a lock-free mean of float64 samples.
type runningMean struct {
	bits  atomic.Uint64 // float64 bits of the current mean
	count atomic.Int64
}

// add folds a sample into the mean.
func (m *runningMean) add(sample float64) {
	n := m.count.Add(1)
	for {
		oldBits := m.bits.Load()
		oldMean := math.Float64frombits(oldBits)
		newMean := oldMean + (sample-oldMean)/float64(n)
		if m.bits.CompareAndSwap(oldBits, math.Float64bits(newMean)) {
			return
		}
	}
}

// value returns the current mean.
func (m *runningMean) value() float64 {
	return math.Float64frombits(m.bits.Load())
}

// collectors exports detector timings. A nil registerer creates unregistered
// collectors, which keeps tests and multiple detector instances independent.
type collectors struct {
	preprocess  prometheus.Histogram
	inference   prometheus.Histogram
	postprocess prometheus.Histogram
	poolBytes   prometheus.Gauge
	poolMisses  prometheus.Counter
}

func newCollectors(reg prometheus.Registerer) *collectors {
	factory := promauto.With(reg)
	buckets := prometheus.ExponentialBuckets(0.5, 2, 10)
	return &collectors{
		preprocess: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "detector_preprocess_ms",
			Help:    "Preprocessing latency per inference in milliseconds.",
			Buckets: buckets,
		}),
		inference: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "detector_inference_ms",
			Help:    "Graph execution latency per inference in milliseconds.",
			Buckets: buckets,
		}),
		postprocess: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "detector_postprocess_ms",
			Help:    "Postprocessing latency per inference in milliseconds.",
			Buckets: buckets,
		}),
		poolBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "detector_pool_bytes",
			Help: "Bytes reserved by the detector buffer pool.",
		}),
		poolMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "detector_pool_claim_misses_total",
			Help: "Detect calls that fell back to heap buffers because the pool was claimed.",
		}),
	}
}

func (c *collectors) observe(m *PerformanceMetrics) {
	c.preprocess.Observe(m.PreprocessMS)
	c.inference.Observe(m.InferenceMS)
	c.postprocess.Observe(m.PostprocessMS)
	c.poolBytes.Set(float64(m.BytesInPool))
}
