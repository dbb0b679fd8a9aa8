// Package telemetry wires optional OpenTelemetry metrics. When Init is
// never called the global provider stays a no-op, so instrumented code
// records counters unconditionally at zero overhead.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const scopeName = "github.com/podaac/gaptracker"

// Enabled reports whether metric export was requested.
func Enabled() bool {
	return os.Getenv("GAPTRACKER_TELEMETRY") != ""
}

// Init installs a periodic stdout metric exporter and returns its shutdown
// function. No-op (and nil shutdown) when telemetry is disabled.
func Init(ctx context.Context) (func(context.Context) error, error) {
	if !Enabled() {
		return nil, nil
	}
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

// Counter returns a named Int64Counter from the global meter.
func Counter(name, description string) metric.Int64Counter {
	c, _ := otel.Meter(scopeName).Int64Counter(name,
		metric.WithDescription(description))
	return c
}
