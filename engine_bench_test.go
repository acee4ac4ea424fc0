package pubbleauth

import (
	"context"
	"testing"
	"time"
)

func newBenchEngine(b *testing.B, redis bool) (*Engine, TokenPair) {
	b.Helper()
	up := newTestUsers(b, [3]string{"alice", "alice-password", RoleUser})
	engine := newTestEngine(b, up, newTestClock(), engineOpts{
		redis: redis,
		mutate: func(cfg *Config) {
			cfg.JWT.RefreshTTL = 24 * time.Hour
		},
	})
	pair, err := engine.SignIn(context.Background(), "alice", "alice-password")
	if err != nil {
		b.Fatalf("signin failed: %v", err)
	}
	return engine, pair
}

func BenchmarkAuthenticate(b *testing.B) {
	engine, pair := newBenchEngine(b, false)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Authenticate(context.Background(), pair.AccessToken); err != nil {
			b.Fatalf("authenticate failed: %v", err)
		}
	}
}

func BenchmarkAuthenticateParallel(b *testing.B) {
	engine, pair := newBenchEngine(b, false)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := engine.Authenticate(context.Background(), pair.AccessToken); err != nil {
				b.Errorf("authenticate failed: %v", err)
				return
			}
		}
	})
}

func benchmarkRefresh(b *testing.B, redis bool) {
	engine, pair := newBenchEngine(b, redis)
	token := pair.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := engine.Refresh(context.Background(), token)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		token = next.RefreshToken
	}
}

func BenchmarkRefreshMemory(b *testing.B) { benchmarkRefresh(b, false) }
func BenchmarkRefreshRedis(b *testing.B)  { benchmarkRefresh(b, true) }

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricAuthenticateSuccess)
	}
}

func BenchmarkMetricsIncDisabled(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricAuthenticateSuccess)
	}
}

var mixedHotMetricIDs = [...]MetricID{
	MetricLoginSuccess,
	MetricLoginFailure,
	MetricTokensIssued,
	MetricRefreshSuccess,
	MetricAuthenticateSuccess,
	MetricLogout,
}

func BenchmarkMetricsIncMixedParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(mixedHotMetricIDs[idx])
			idx++
			if idx == len(mixedHotMetricIDs) {
				idx = 0
			}
		}
	})
}

func BenchmarkMetricsObserveLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	d := 3 * time.Millisecond
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricAuthenticateLatency, d)
		}
	})
}
