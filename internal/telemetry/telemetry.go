// Package telemetry wires up OpenTelemetry metrics for the process: a
// single MeterProvider exporting to stdout, from which every component
// obtains its own named Meter.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	mu       sync.Mutex
	provider *sdkmetric.MeterProvider
)

// Init installs the process-wide stdout-exporting MeterProvider. It is
// safe to call once at startup; Shutdown flushes and tears it down.
func Init(ctx context.Context, interval time.Duration) (func(context.Context) error, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create stdout exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	mu.Lock()
	provider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	mu.Unlock()

	return provider.Shutdown, nil
}

// Meter returns a named Meter from the process-wide provider, or a
// no-op Meter if Init has not been called (e.g. in unit tests that
// don't care about metrics).
func Meter(name string) metric.Meter {
	mu.Lock()
	p := provider
	mu.Unlock()
	if p == nil {
		return noop.NewMeterProvider().Meter(name)
	}
	return p.Meter(name)
}
