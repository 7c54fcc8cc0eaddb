package stakemail

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/stakemail"
)

// Operation names, used for span names and the "operation" metric attribute.
const (
	opDeposit            = "deposit"
	opWithdraw           = "withdraw"
	opUnregister         = "unregister"
	opSend               = "send"
	opDelete             = "delete"
	opDonate             = "donate"
	opMigrate            = "migrate"
	opSetDonationAccount = "set_donation_account"
	opGet                = "get"
	opList               = "list"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	// Ledger and mail writes
	writeLatency metric.Float64Histogram
	writeCount   metric.Int64Counter
	writeErrors  metric.Int64Counter

	// Reads
	readLatency metric.Float64Histogram
	readCount   metric.Int64Counter
	readErrors  metric.Int64Counter

	// Transfers issued after commit
	transferCount  metric.Int64Counter
	transferErrors metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp, opts.serviceName); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider, prefix string) error {
	meter := mp.Meter(instrumentationName)

	var err error

	// Write metrics
	o.writeLatency, err = meter.Float64Histogram(
		prefix+".write.duration",
		metric.WithDescription("Duration of state-changing operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.writeCount, err = meter.Int64Counter(
		prefix+".write.count",
		metric.WithDescription("Number of state-changing operations"),
	)
	if err != nil {
		return err
	}

	o.writeErrors, err = meter.Int64Counter(
		prefix+".write.errors",
		metric.WithDescription("Number of failed state-changing operations"),
	)
	if err != nil {
		return err
	}

	// Read metrics
	o.readLatency, err = meter.Float64Histogram(
		prefix+".read.duration",
		metric.WithDescription("Duration of read operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.readCount, err = meter.Int64Counter(
		prefix+".read.count",
		metric.WithDescription("Number of read operations"),
	)
	if err != nil {
		return err
	}

	o.readErrors, err = meter.Int64Counter(
		prefix+".read.errors",
		metric.WithDescription("Number of failed read operations"),
	)
	if err != nil {
		return err
	}

	// Transfer metrics
	o.transferCount, err = meter.Int64Counter(
		prefix+".transfer.count",
		metric.WithDescription("Number of transfers issued"),
	)
	if err != nil {
		return err
	}

	o.transferErrors, err = meter.Int64Counter(
		prefix+".transfer.errors",
		metric.WithDescription("Number of operations with failed transfers"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// The returned function ends the span, recording err if non-nil.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// startOp starts a span for a state-changing operation. The returned
// function ends it and records the write metrics.
func (o *otelInstrumentation) startOp(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, endSpan := o.startSpan(ctx, "stakemail."+op, attrs...)
	start := time.Now()
	return ctx, func(err error) {
		endSpan(err)
		o.recordWrite(ctx, op, time.Since(start), err)
	}
}

// startRead is startOp for read operations.
func (o *otelInstrumentation) startRead(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, endSpan := o.startSpan(ctx, "stakemail."+op, attrs...)
	start := time.Now()
	return ctx, func(err error) {
		endSpan(err)
		o.recordRead(ctx, op, time.Since(start), err)
	}
}

// recordWrite records state-changing operation metrics.
func (o *otelInstrumentation) recordWrite(ctx context.Context, op string, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", op),
	)

	o.writeLatency.Record(ctx, duration.Seconds(), attrs)
	o.writeCount.Add(ctx, 1, attrs)
	if err != nil {
		o.writeErrors.Add(ctx, 1, attrs)
	}
}

// recordRead records read operation metrics.
func (o *otelInstrumentation) recordRead(ctx context.Context, op string, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", op),
	)

	o.readLatency.Record(ctx, duration.Seconds(), attrs)
	o.readCount.Add(ctx, 1, attrs)
	if err != nil {
		o.readErrors.Add(ctx, 1, attrs)
	}
}

// recordTransfers records transfers issued by one operation.
func (o *otelInstrumentation) recordTransfers(ctx context.Context, op string, n int, err error) {
	if !o.metricsEnabled || n == 0 {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", op),
	)

	o.transferCount.Add(ctx, int64(n), attrs)
	if err != nil {
		o.transferErrors.Add(ctx, 1, attrs)
	}
}
