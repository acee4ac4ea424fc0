package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/pubble-team/pubbleauth"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot pubbleauth.MetricsSnapshot
}

func (f *fakeSource) MetricsSnapshot() pubbleauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := pubbleauth.MetricsSnapshot{
		Counters:   make(map[pubbleauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[pubbleauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findSum(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("pubbleauth-test")

	src := &fakeSource{
		snapshot: pubbleauth.MetricsSnapshot{
			Counters: map[pubbleauth.MetricID]uint64{
				pubbleauth.MetricLoginSuccess: 3,
				pubbleauth.MetricAuditDropped: 1,
			},
			Histograms: map[pubbleauth.MetricID][]uint64{
				pubbleauth.MetricAuthenticateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
	}

	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	checks := map[string]int64{
		"pubble_auth_signin_success_total":                         3,
		"pubble_auth_audit_dropped_total":                          1,
		"pubble_auth_authenticate_latency_seconds_bucket_le_0_005": 1,
		"pubble_auth_authenticate_latency_seconds_bucket_le_inf":   8,
		"pubble_auth_authenticate_latency_seconds_count":           8,
	}
	for name, want := range checks {
		got, ok := findSum(rm, name)
		if !ok {
			t.Fatalf("metric %s not collected", name)
		}
		if got != want {
			t.Fatalf("%s: expected %d, got %d", name, want, got)
		}
	}
}

func TestExporterAttachesAttributes(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("pubbleauth-test")
	src := &fakeSource{snapshot: pubbleauth.MetricsSnapshot{
		Counters: map[pubbleauth.MetricID]uint64{pubbleauth.MetricLogout: 2},
	}}

	exp, err := NewExporter(meter, src, attribute.String("region", "eu-west"))
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "pubble_auth_logout_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 {
				t.Fatalf("unexpected data for %s: %#v", m.Name, m.Data)
			}
			dp := sum.DataPoints[0]
			if dp.Value != 2 {
				t.Fatalf("expected 2 logouts, got %d", dp.Value)
			}
			if v, ok := dp.Attributes.Value("region"); !ok || v.AsString() != "eu-west" {
				t.Fatalf("region attribute missing: %v", dp.Attributes)
			}
			return
		}
	}
	t.Fatal("pubble_auth_logout_total not collected")
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newMeter()
	meter := provider.Meter("pubbleauth-test")

	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("pubbleauth-test")

	src := &fakeSource{
		snapshot: pubbleauth.MetricsSnapshot{
			Counters: map[pubbleauth.MetricID]uint64{
				pubbleauth.MetricLoginSuccess: 1,
			},
			Histograms: map[pubbleauth.MetricID][]uint64{
				pubbleauth.MetricAuthenticateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[pubbleauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
