// Package prometheus renders engine counters and the authenticate latency
// histogram in the Prometheus text exposition format. Series are named
// pubble_auth_*; the handler is mounted by the server at /admin/metrics.
package prometheus
