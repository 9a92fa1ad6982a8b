// Package telemetry wires Intent-Engine's structured observability: an
// otel tracer for the Store's write transactions and the Planner's
// plan() calls, and a counter instrument for busy-retries.
//
// Grounded on the teacher's direct go.mod dependency on
// go.opentelemetry.io/otel (+sdk, +metric, +trace): nowhere in the
// retrieved pack does the core storage layer import a logging library
// (see DESIGN.md's AMBIENT STACK note), so otel spans/counters are
// Intent-Engine's only observability surface, matching that discipline.
// Library code (internal/store, internal/planner) only ever calls
// otel.Tracer/otel.Meter by name, the standard instrumentation
// pattern: it is indifferent to whether a real provider is registered.
// Init wires the concrete stdout exporters and is called exactly once,
// by cmd/intentengine's entrypoint, never by library code.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InstrumentationName is the shared tracer/meter name every internal
// package instruments under, namespaced per spec.md's module name.
const InstrumentationName = "github.com/wayfind/intent-engine-sub003"

// Shutdown flushes and releases the providers Init configured. It is a
// no-op until Init is called.
type Shutdown func(context.Context) error

// Init registers stdout-exporting trace and metric providers as the
// global otel providers. It is meant to be called once, from
// cmd/intentengine's main, never from library code or tests (tests
// rely on otel's default no-op providers so they never print
// telemetry to stdout).
func Init(ctx context.Context) (Shutdown, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("building trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("building metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
		sdkmetric.NewPeriodicReader(metricExporter),
	))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}
