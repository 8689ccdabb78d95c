// Package otel bridges pollen's observability hooks into OpenTelemetry:
// a broker observer that records delivery metrics and spans, and an event
// counter handler for per-event-name metrics.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/pollen"
)

// BrokerObserver records broker delivery signals into OpenTelemetry.
type BrokerObserver struct {
	tracer trace.Tracer

	deliveries  metric.Int64Counter
	invocations metric.Int64Counter
	failures    metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewBrokerObserver creates a broker observer bound to the provided
// meter/tracer.
func NewBrokerObserver(meter metric.Meter, tracer trace.Tracer) (*BrokerObserver, error) {
	deliveries, err := meter.Int64Counter(
		"pollen.bus.deliveries",
		metric.WithDescription("Number of delivery passes"),
	)
	if err != nil {
		return nil, err
	}
	invocations, err := meter.Int64Counter(
		"pollen.bus.handler.invocations",
		metric.WithDescription("Number of handler invocations"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"pollen.bus.handler.failures",
		metric.WithDescription("Number of handler invocations that failed"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"pollen.bus.delivery.duration",
		metric.WithDescription("Delivery pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &BrokerObserver{
		tracer:      tracer,
		deliveries:  deliveries,
		invocations: invocations,
		failures:    failures,
		latency:     latency,
	}, nil
}

// ObserveDelivery records one delivery pass.
func (o *BrokerObserver) ObserveDelivery(observation pollen.DeliveryObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event_name", observation.EventName),
		attribute.String("channel", channelAttr(observation.Channel)),
		attribute.String("mode", string(observation.Mode)),
		attribute.Bool("broadcast", observation.Broadcast),
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.deliveries.Add(ctx, 1, options)
	o.latency.Record(ctx, float64(time.Duration(observation.DurationMS)*time.Millisecond)/float64(time.Second), options)

	if o.tracer == nil {
		return
	}
	spanAttrs := append(attrs,
		attribute.Int("invoked", observation.Invoked),
		attribute.Int("failed", observation.Failed),
	)
	_, span := o.tracer.Start(ctx, "bus.delivery", trace.WithAttributes(spanAttrs...))
	if observation.Failed > 0 {
		span.SetStatus(codes.Error, "handler failures during delivery")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ObserveHandler records one handler invocation result.
func (o *BrokerObserver) ObserveHandler(observation pollen.HandlerObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("handler", observation.HandlerID),
		attribute.String("event_name", observation.EventName),
		attribute.String("channel", channelAttr(observation.Channel)),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorText != "" {
		attrs = append(attrs, attribute.String("error", observation.ErrorText))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, options)
	if !observation.Success {
		o.failures.Add(ctx, 1, options)
	}

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "bus.handler", trace.WithAttributes(attrs...))
	if !observation.Success {
		span.SetStatus(codes.Error, observation.ErrorText)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// channelAttr renders a channel attribute; the zero channel addresses every
// handler and reads as "all".
func channelAttr(ch pollen.Channel) string {
	if ch.IsZero() {
		return "all"
	}
	return ch.String()
}

// Compile-time interface check.
var _ pollen.Observer = (*BrokerObserver)(nil)
