package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricRateLimitAllowed, Name: "goguard_rate_limit_allowed_total", Help: "Requests admitted by a rate limit policy."},
	{ID: goGuard.MetricRateLimitRejected, Name: "goguard_rate_limit_rejected_total", Help: "Requests rejected by a rate limit policy."},
	{ID: goGuard.MetricRateLimitDegraded, Name: "goguard_rate_limit_degraded_total", Help: "Fail-open admissions while the counter backend was unavailable."},
	{ID: goGuard.MetricRateLimitUnavailable, Name: "goguard_rate_limit_unavailable_total", Help: "Fail-closed rejections while the counter backend was unavailable."},
	{ID: goGuard.MetricIdempotencyClaimed, Name: "goguard_idempotency_claimed_total", Help: "First executions under an idempotency key."},
	{ID: goGuard.MetricIdempotencyReplayed, Name: "goguard_idempotency_replayed_total", Help: "Responses replayed from an idempotency record."},
	{ID: goGuard.MetricIdempotencyConflict, Name: "goguard_idempotency_conflict_total", Help: "Idempotency keys reused with a different request."},
	{ID: goGuard.MetricIdempotencyInFlight, Name: "goguard_idempotency_in_flight_total", Help: "Requests rejected while their idempotency key was locked."},
	{ID: goGuard.MetricIdempotencyStored, Name: "goguard_idempotency_stored_total", Help: "Responses stored for replay."},
	{ID: goGuard.MetricOTPSent, Name: "goguard_otp_sent_total", Help: "Codes handed to a sender."},
	{ID: goGuard.MetricOTPSendThrottled, Name: "goguard_otp_send_throttled_total", Help: "Code sends refused by throttles."},
	{ID: goGuard.MetricOTPDeliveryFailed, Name: "goguard_otp_delivery_failed_total", Help: "Code sends the sender failed to deliver."},
	{ID: goGuard.MetricOTPVerified, Name: "goguard_otp_verified_total", Help: "Successful code verifications."},
	{ID: goGuard.MetricOTPVerifyFailed, Name: "goguard_otp_verify_failed_total", Help: "Rejected code verifications."},
	{ID: goGuard.MetricOTPLockedOut, Name: "goguard_otp_locked_out_total", Help: "Challenges locked by the attempt cap."},
	{ID: goGuard.MetricTokensIssued, Name: "goguard_tokens_issued_total", Help: "Refresh chains started."},
	{ID: goGuard.MetricRefreshSuccess, Name: "goguard_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: goGuard.MetricRefreshFailure, Name: "goguard_refresh_failure_total", Help: "Rejected refresh token rotations."},
	{ID: goGuard.MetricRefreshReuseDetected, Name: "goguard_refresh_reuse_detected_total", Help: "Spent refresh tokens presented again."},
	{ID: goGuard.MetricRefreshConcurrencyConflict, Name: "goguard_refresh_concurrency_conflict_total", Help: "Revocations that lost their version check twice."},
	{ID: goGuard.MetricSessionRevoked, Name: "goguard_session_revoked_total", Help: "Single refresh token revocations."},
	{ID: goGuard.MetricSessionsRevokedAll, Name: "goguard_sessions_revoked_all_total", Help: "Revoke-all operations."},
	{ID: goGuard.MetricAccessRevokedRejected, Name: "goguard_access_revoked_rejected_total", Help: "Access tokens refused by the revocation list."},
	{ID: goGuard.MetricSecurityEventRecorded, Name: "goguard_security_event_recorded_total", Help: "Security events appended to the store."},
	{ID: goGuard.MetricSecurityEventStoreFailure, Name: "goguard_security_event_store_failure_total", Help: "Security events the store failed to append."},
	{ID: goGuard.MetricSweepRuns, Name: "goguard_sweep_runs_total", Help: "Completed retention sweeps."},
}

// PublishDropped is exported from the audit dispatcher's drop count rather
// than from the metrics snapshot.
var PublishDropped = CounterDef{
	Name: "goguard_security_event_publish_dropped_total",
	Help: "Security events dropped by the publish queue.",
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricRateLimitLatency, Name: "goguard_rate_limit_latency_seconds", Help: "Rate limiter round-trip latency."},
}

// HistogramBounds are the upper bounds of the eight buckets in seconds.
var HistogramBounds = []string{
	"0.001",
	"0.0025",
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in instrument-name form.
var HistogramBoundSuffix = []string{
	"0_001",
	"0_0025",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
