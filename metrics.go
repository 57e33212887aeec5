package esimflow

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricSessionCreated counts sessions created through CreateSession.
	MetricSessionCreated MetricID = iota
	// MetricLoginStarted counts authorization URLs issued.
	MetricLoginStarted
	// MetricLoginSuccess counts completed PKCE logins.
	MetricLoginSuccess
	// MetricLoginFailure counts failed PKCE callbacks and token exchanges.
	MetricLoginFailure
	// MetricStateMismatch counts callbacks rejected for a state mismatch.
	MetricStateMismatch
	// MetricCookieLoginSuccess counts accepted imported cookies.
	MetricCookieLoginSuccess
	// MetricCookieLoginFailure counts rejected imported cookies.
	MetricCookieLoginFailure
	MetricMFAChallengeSent
	MetricMFAChallengeFailure
	MetricMFAVerifySuccess
	MetricMFAVerifyFailure
	// MetricMFAReplayRejected counts verify attempts against a consumed ref.
	MetricMFAReplayRejected
	MetricMemberLookupFailure
	MetricProvisionStarted
	MetricProvisionSuccess
	MetricProvisionFailure
	// MetricWindowBlocked counts operations refused by the service window.
	MetricWindowBlocked
	MetricWindowOverride
	// MetricInFlightRejected counts calls refused because another mutating
	// call held the session.
	MetricInFlightRejected
	MetricRateLimitHit
	MetricLogout
	// MetricUpstreamLatency is the latency histogram of upstream calls.
	MetricUpstreamLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets  [histBucketCount]uint64
	sumNanos uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's lock-free counters and the upstream latency
// histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metric values.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// HistogramSums holds the total observed duration per histogram.
	HistogramSums map[MetricID]time.Duration
}

// NewMetrics creates a metrics set from cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Inc increments counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in histogram id. Only MetricUpstreamLatency is a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricUpstreamLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
	if d > 0 {
		atomic.AddUint64(&m.histograms[id].sumNanos, uint64(d))
	}
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when latency is enabled, the
// upstream histogram buckets.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}

	s := MetricsSnapshot{
		Counters:      make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:    make(map[MetricID][]uint64, 1),
		HistogramSums: make(map[MetricID]time.Duration, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricUpstreamLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricUpstreamLatency].buckets[i])
		}
		s.Histograms[MetricUpstreamLatency] = buckets
		s.HistogramSums[MetricUpstreamLatency] = time.Duration(atomic.LoadUint64(&m.histograms[MetricUpstreamLatency].sumNanos))
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 50:
		return 0
	case ms <= 100:
		return 1
	case ms <= 250:
		return 2
	case ms <= 500:
		return 3
	case ms <= 1000:
		return 4
	case ms <= 2500:
		return 5
	case ms <= 5000:
		return 6
	default:
		return 7
	}
}
