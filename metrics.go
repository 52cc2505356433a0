package goGuard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricRateLimitAllowed counts requests admitted by a policy.
	MetricRateLimitAllowed MetricID = iota
	// MetricRateLimitRejected counts requests rejected with 429.
	MetricRateLimitRejected
	// MetricRateLimitDegraded counts fail-open admissions while the counter backend was down.
	MetricRateLimitDegraded
	// MetricRateLimitUnavailable counts fail-closed rejections while the counter backend was down.
	MetricRateLimitUnavailable
	// MetricIdempotencyClaimed counts first executions of an idempotency key.
	MetricIdempotencyClaimed
	// MetricIdempotencyReplayed counts responses served from a stored record.
	MetricIdempotencyReplayed
	// MetricIdempotencyConflict counts key reuse with a different request.
	MetricIdempotencyConflict
	// MetricIdempotencyInFlight counts requests rejected while the key was locked.
	MetricIdempotencyInFlight
	// MetricIdempotencyStored counts committed response records.
	MetricIdempotencyStored
	// MetricOTPSent counts codes handed to a sender.
	MetricOTPSent
	// MetricOTPSendThrottled counts sends refused by the OTP throttles.
	MetricOTPSendThrottled
	// MetricOTPDeliveryFailed counts sender failures.
	MetricOTPDeliveryFailed
	// MetricOTPVerified counts successful verifications.
	MetricOTPVerified
	// MetricOTPVerifyFailed counts rejected verifications of any kind.
	MetricOTPVerifyFailed
	// MetricOTPLockedOut counts challenges locked by the attempt cap.
	MetricOTPLockedOut
	// MetricTokensIssued counts new refresh chains.
	MetricTokensIssued
	// MetricRefreshSuccess counts successful rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected rotations.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts presentations of spent tokens.
	MetricRefreshReuseDetected
	// MetricRefreshConcurrencyConflict counts revocations that lost twice.
	MetricRefreshConcurrencyConflict
	// MetricSessionRevoked counts single-token revocations.
	MetricSessionRevoked
	// MetricSessionsRevokedAll counts revoke-all operations.
	MetricSessionsRevokedAll
	// MetricAccessRevokedRejected counts access tokens refused by the revocation list.
	MetricAccessRevokedRejected
	// MetricSecurityEventRecorded counts events appended to the store.
	MetricSecurityEventRecorded
	// MetricSecurityEventStoreFailure counts events the store refused.
	MetricSecurityEventStoreFailure
	// MetricSweepRuns counts completed sweeps.
	MetricSweepRuns
	// MetricRateLimitLatency is the limiter round-trip histogram.
	MetricRateLimitLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil or disabled Metrics
// ignores every call.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only MetricRateLimitLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricRateLimitLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricRateLimitLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRateLimitLatency].buckets[i])
		}
		s.Histograms[MetricRateLimitLatency] = buckets
	}

	return s
}

// Limiter calls are single Redis round trips, so buckets start at 1ms.
func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 1000:
		return 0
	case us <= 2500:
		return 1
	case us <= 5000:
		return 2
	case us <= 10000:
		return 3
	case us <= 25000:
		return 4
	case us <= 50000:
		return 5
	case us <= 100000:
		return 6
	default:
		return 7
	}
}
