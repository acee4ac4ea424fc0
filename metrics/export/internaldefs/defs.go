package internaldefs

import (
	"github.com/pubble-team/pubbleauth"
)

type CounterDef struct {
	ID   pubbleauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   pubbleauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: pubbleauth.MetricLoginSuccess, Name: "pubble_auth_signin_success_total", Help: "Successful sign-ins."},
	{ID: pubbleauth.MetricLoginFailure, Name: "pubble_auth_signin_failure_total", Help: "Sign-ins rejected for bad credentials or issuance failure."},
	{ID: pubbleauth.MetricLoginRateLimited, Name: "pubble_auth_signin_rate_limited_total", Help: "Sign-ins rejected by the login throttle."},
	{ID: pubbleauth.MetricTokensIssued, Name: "pubble_auth_tokens_issued_total", Help: "Token pairs handed out by sign-in, issue and refresh."},
	{ID: pubbleauth.MetricRefreshSuccess, Name: "pubble_auth_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: pubbleauth.MetricRefreshFailure, Name: "pubble_auth_refresh_failure_total", Help: "Refreshes rejected for unknown, malformed or tampered tokens."},
	{ID: pubbleauth.MetricRefreshRevoked, Name: "pubble_auth_refresh_revoked_total", Help: "Refreshes presenting a revoked or expired token."},
	{ID: pubbleauth.MetricRefreshReuseDetected, Name: "pubble_auth_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: pubbleauth.MetricAuthenticateSuccess, Name: "pubble_auth_authenticate_success_total", Help: "Accepted access tokens."},
	{ID: pubbleauth.MetricAuthenticateInvalid, Name: "pubble_auth_authenticate_invalid_total", Help: "Rejected access tokens other than expired ones."},
	{ID: pubbleauth.MetricAuthenticateExpired, Name: "pubble_auth_authenticate_expired_total", Help: "Expired access tokens."},
	{ID: pubbleauth.MetricLogout, Name: "pubble_auth_logout_total", Help: "Logouts that revoked a refresh token."},
	{ID: pubbleauth.MetricLogoutAll, Name: "pubble_auth_logout_all_total", Help: "Logout-all operations."},
	{ID: pubbleauth.MetricStoreFailure, Name: "pubble_auth_store_failure_total", Help: "Refresh store I/O failures."},
	{ID: pubbleauth.MetricAuditDelivered, Name: "pubble_auth_audit_delivered_total", Help: "Audit events written to the sink."},
	{ID: pubbleauth.MetricAuditDropped, Name: "pubble_auth_audit_dropped_total", Help: "Audit events lost to a full buffer, a cancelled request or shutdown."},
}

var HistogramDefs = []HistogramDef{
	{ID: pubbleauth.MetricAuthenticateLatency, Name: "pubble_auth_authenticate_latency_seconds", Help: "Access token verification latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's
// fixed latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names each bucket for exporters without label support.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the eight engine buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
