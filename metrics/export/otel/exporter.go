package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/pubble-team/pubbleauth"
	"github.com/pubble-team/pubbleauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is what the exporter observes; *pubbleauth.Engine implements it.
type MetricsSource interface {
	MetricsSnapshot() pubbleauth.MetricsSnapshot
}

type observedCounter struct {
	id         pubbleauth.MetricID
	instrument metric.Int64ObservableCounter
}

// latencyGauges publishes one engine histogram as cumulative bucket gauges
// plus a count, since the engine keeps fixed buckets rather than raw samples.
type latencyGauges struct {
	id      pubbleauth.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter reports engine metrics through observable instruments on a
// caller-owned meter. Values are read from one snapshot per collection.
type Exporter struct {
	source       MetricsSource
	attrs        metric.MeasurementOption
	registration metric.Registration
	counters     []observedCounter
	latencies    []latencyGauges
}

// NewExporter registers the engine's counters and latency buckets on meter.
// attrs are attached to every observation, e.g. the deployment region.
func NewExporter(meter metric.Meter, source MetricsSource, attrs ...attribute.KeyValue) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source: source,
		attrs:  metric.WithAttributeSet(attribute.NewSet(attrs...)),
	}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		g, obs, err := newLatencyGauges(meter, def)
		if err != nil {
			return nil, err
		}
		e.latencies = append(e.latencies, g)
		observables = append(observables, obs...)
	}

	var err error
	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func newLatencyGauges(meter metric.Meter, def internaldefs.HistogramDef) (latencyGauges, []metric.Observable, error) {
	g := latencyGauges{id: def.ID}
	obs := make([]metric.Observable, 0, len(g.buckets)+1)
	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Cumulative bucket."))
		if err != nil {
			return g, nil, fmt.Errorf("gauge %s: %w", name, err)
		}
		g.buckets[i] = ins
		obs = append(obs, ins)
	}
	name := def.Name + "_count"
	count, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Sample count."))
	if err != nil {
		return g, nil, fmt.Errorf("gauge %s: %w", name, err)
	}
	g.count = count
	return g, append(obs, count), nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snap.Counters[c.id]), e.attrs)
	}
	for _, g := range e.latencies {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[g.id]))
		for i, v := range cumulative {
			o.ObserveInt64(g.buckets[i], int64(v), e.attrs)
		}
		o.ObserveInt64(g.count, int64(cumulative[len(cumulative)-1]), e.attrs)
	}
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
