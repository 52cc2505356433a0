package otel

import (
	"context"
	"errors"
	"fmt"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source supplies the numbers observed on each collection. *goGuard.Engine
// is one.
type Source interface {
	MetricsSnapshot() goGuard.MetricsSnapshot
	AuditDropped() uint64
}

type counterBinding struct {
	id  goGuard.MetricID
	obs metric.Int64ObservableCounter
}

// histogramBinding reports one histogram as a gauge per cumulative bucket
// plus a total.
type histogramBinding struct {
	id      goGuard.MetricID
	buckets [8]metric.Int64ObservableGauge
	total   metric.Int64ObservableGauge
}

// OTelExporter mirrors the guard's metrics into a caller-owned Meter.
type OTelExporter struct {
	source     Source
	counters   []counterBinding
	histograms []histogramBinding
	dropped    metric.Int64ObservableCounter
	reg        metric.Registration
}

func NewOTelExporter(meter metric.Meter, engine *goGuard.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource creates the instruments on meter and registers
// a single callback that reads source once per collection.
func NewOTelExporterFromSource(meter metric.Meter, source Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var all []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		obs, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterBinding{id: def.ID, obs: obs})
		all = append(all, obs)
	}

	for _, def := range internaldefs.HistogramDefs {
		hb, observables, err := bindHistogram(meter, def)
		if err != nil {
			return nil, err
		}
		e.histograms = append(e.histograms, hb)
		all = append(all, observables...)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.PublishDropped.Name,
		metric.WithDescription(internaldefs.PublishDropped.Help))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", internaldefs.PublishDropped.Name, err)
	}
	e.dropped = dropped
	all = append(all, dropped)

	reg, err := meter.RegisterCallback(e.observe, all...)
	if err != nil {
		return nil, fmt.Errorf("register metrics callback: %w", err)
	}
	e.reg = reg
	return e, nil
}

func bindHistogram(meter metric.Meter, def internaldefs.HistogramDef) (histogramBinding, []metric.Observable, error) {
	hb := histogramBinding{id: def.ID}
	observables := make([]metric.Observable, 0, len(hb.buckets)+1)

	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		g, err := meter.Int64ObservableGauge(name,
			metric.WithDescription(def.Help+" Observations at or below "+internaldefs.HistogramBounds[i]+"s."))
		if err != nil {
			return hb, nil, fmt.Errorf("bucket %s: %w", name, err)
		}
		hb.buckets[i] = g
		observables = append(observables, g)
	}

	total, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Observation count."))
	if err != nil {
		return hb, nil, fmt.Errorf("count %s: %w", def.Name, err)
	}
	hb.total = total
	observables = append(observables, total)
	return hb, observables, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		o.ObserveInt64(c.obs, int64(snap.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[h.id]))
		for i, g := range h.buckets {
			o.ObserveInt64(g, int64(cumulative[i]))
		}
		o.ObserveInt64(h.total, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.dropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. The instruments stay with the Meter.
func (e *OTelExporter) Close() error {
	if e == nil || e.reg == nil {
		return nil
	}
	return e.reg.Unregister()
}
