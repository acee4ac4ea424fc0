package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pubble-team/pubbleauth"
)

type fakeSource struct {
	snapshot pubbleauth.MetricsSnapshot
}

func (f fakeSource) MetricsSnapshot() pubbleauth.MetricsSnapshot { return f.snapshot }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: pubbleauth.MetricsSnapshot{
			Counters:   map[pubbleauth.MetricID]uint64{},
			Histograms: map[pubbleauth.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: pubbleauth.MetricsSnapshot{
			Counters: map[pubbleauth.MetricID]uint64{
				pubbleauth.MetricLoginSuccess:   7,
				pubbleauth.MetricRefreshRevoked: 3,
				pubbleauth.MetricAuditDropped:   2,
			},
			Histograms: map[pubbleauth.MetricID][]uint64{
				pubbleauth.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	out := exp.Render()
	for _, want := range []string{
		"pubble_auth_signin_success_total 7",
		"pubble_auth_refresh_revoked_total 3",
		"pubble_auth_logout_total 0",
		`pubble_auth_authenticate_latency_seconds_bucket{le="0.005"} 1`,
		`pubble_auth_authenticate_latency_seconds_bucket{le="+Inf"} 36`,
		"pubble_auth_authenticate_latency_seconds_count 36",
		"pubble_auth_audit_dropped_total 2",
		"# TYPE pubble_auth_store_failure_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: pubbleauth.MetricsSnapshot{
			Counters:   map[pubbleauth.MetricID]uint64{pubbleauth.MetricLoginSuccess: 1},
			Histograms: map[pubbleauth.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

type stubUsers struct{}

func (stubUsers) GetUserByUsername(context.Context, string) (pubbleauth.UserRecord, error) {
	return pubbleauth.UserRecord{}, pubbleauth.ErrUserNotFound
}

func TestRenderFromEngine(t *testing.T) {
	cfg := pubbleauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.BcryptCost = 4
	engine, err := pubbleauth.New().WithConfig(cfg).WithUserProvider(stubUsers{}).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	_, _ = engine.SignIn(context.Background(), "ghost", "correct-battery")
	_, _ = engine.Authenticate(context.Background(), "garbage")

	out := NewExporter(engine).Render()
	if !strings.Contains(out, "pubble_auth_signin_failure_total 1") {
		t.Fatalf("expected engine failure counter, got:\n%s", out)
	}
	if !strings.Contains(out, "pubble_auth_authenticate_invalid_total 1") {
		t.Fatalf("expected engine invalid counter, got:\n%s", out)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporter(fakeSource{
		snapshot: pubbleauth.MetricsSnapshot{
			Counters: map[pubbleauth.MetricID]uint64{
				pubbleauth.MetricLoginSuccess:        1000,
				pubbleauth.MetricLoginFailure:        40,
				pubbleauth.MetricRefreshSuccess:      800,
				pubbleauth.MetricRefreshFailure:      10,
				pubbleauth.MetricTokensIssued:        1800,
				pubbleauth.MetricAuthenticateSuccess: 90000,
			},
			Histograms: map[pubbleauth.MetricID][]uint64{
				pubbleauth.MetricAuthenticateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
