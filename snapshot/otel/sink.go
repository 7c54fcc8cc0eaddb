// Package otel provides OpenTelemetry instrumentation for snapshot sinks.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/stakemail/snapshot"
)

const instrumentationName = "github.com/rbaliyan/stakemail/snapshot/otel"

// Sink wraps a snapshot.Sink with spans and metrics.
type Sink struct {
	backend snapshot.Sink
	opts    *options
	tracer  trace.Tracer

	putLatency metric.Float64Histogram
	putBytes   metric.Int64Counter
	putErrors  metric.Int64Counter
	getLatency metric.Float64Histogram
	getBytes   metric.Int64Counter
	getErrors  metric.Int64Counter
}

var _ snapshot.Sink = (*Sink)(nil)

// New wraps backend.
func New(backend snapshot.Sink, opts ...Option) (*Sink, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "stakemail",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Sink{backend: backend, opts: o}
	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := s.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return s, nil
}

func (s *Sink) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	if s.putLatency, err = meter.Float64Histogram("snapshot.put.duration",
		metric.WithDescription("Duration of snapshot put operations"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if s.putBytes, err = meter.Int64Counter("snapshot.put.bytes",
		metric.WithDescription("Total snapshot bytes written"),
		metric.WithUnit("By"),
	); err != nil {
		return err
	}
	if s.putErrors, err = meter.Int64Counter("snapshot.put.errors",
		metric.WithDescription("Number of snapshot put errors"),
	); err != nil {
		return err
	}
	if s.getLatency, err = meter.Float64Histogram("snapshot.get.duration",
		metric.WithDescription("Duration of snapshot get operations"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if s.getBytes, err = meter.Int64Counter("snapshot.get.bytes",
		metric.WithDescription("Total snapshot bytes read"),
		metric.WithUnit("By"),
	); err != nil {
		return err
	}
	if s.getErrors, err = meter.Int64Counter("snapshot.get.errors",
		metric.WithDescription("Number of snapshot get errors"),
	); err != nil {
		return err
	}
	return nil
}

func (s *Sink) startSpan(ctx context.Context, name string, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	if !s.opts.tracingEnabled || s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attrs...)
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Put stores data with tracing and metrics.
func (s *Sink) Put(ctx context.Context, key string, data []byte) (string, error) {
	attrs := []attribute.KeyValue{
		attribute.String("snapshot.key", key),
		attribute.String("service.name", s.opts.serviceName),
	}
	ctx, span := s.startSpan(ctx, "snapshot.put", attrs)
	start := time.Now()

	uri, err := s.backend.Put(ctx, key, data)

	if s.opts.metricsEnabled {
		m := metric.WithAttributes(attrs...)
		s.putLatency.Record(ctx, time.Since(start).Seconds(), m)
		if err != nil {
			s.putErrors.Add(ctx, 1, m)
		} else {
			s.putBytes.Add(ctx, int64(len(data)), m)
		}
	}
	endSpan(span, err,
		attribute.String("snapshot.uri", uri),
		attribute.Int("snapshot.bytes", len(data)),
	)
	return uri, err
}

// Get reads a snapshot with tracing and metrics.
func (s *Sink) Get(ctx context.Context, uri string) ([]byte, error) {
	attrs := []attribute.KeyValue{
		attribute.String("snapshot.uri", uri),
		attribute.String("service.name", s.opts.serviceName),
	}
	ctx, span := s.startSpan(ctx, "snapshot.get", attrs)
	start := time.Now()

	data, err := s.backend.Get(ctx, uri)

	if s.opts.metricsEnabled {
		m := metric.WithAttributes(attrs...)
		s.getLatency.Record(ctx, time.Since(start).Seconds(), m)
		if err != nil {
			s.getErrors.Add(ctx, 1, m)
		} else {
			s.getBytes.Add(ctx, int64(len(data)), m)
		}
	}
	endSpan(span, err, attribute.Int("snapshot.bytes", len(data)))
	return data, err
}
