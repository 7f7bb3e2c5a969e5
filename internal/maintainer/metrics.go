package maintainer

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/josiahcarlson/yogatable/internal/telemetry"
)

func phaseAttr(phase string) attribute.KeyValue {
	return attribute.String("phase", phase)
}

// metrics holds the OTel instruments exposing the adaptive batch sizes
// and per-phase latency named in §4.4. One set is shared across every
// Maintainer instance created in a process.
type metrics struct {
	batchSize    metric.Int64Gauge
	phaseLatency metric.Float64Histogram
}

var (
	instruments     *metrics
	instrumentsOnce sync.Once
)

// loadInstruments creates the instruments on first use, so they come from
// the MeterProvider installed by telemetry.Init at startup rather than the
// no-op Meter that package initialisation would see.
func loadInstruments() {
	m := telemetry.Meter("github.com/josiahcarlson/yogatable/maintainer")

	batchSize, _ := m.Int64Gauge("yogatable.maintainer.batch_size",
		metric.WithDescription("current adaptive batch size per maintainer phase"),
		metric.WithUnit("{row}"),
	)
	phaseLatency, _ := m.Float64Histogram("yogatable.maintainer.phase.duration",
		metric.WithDescription("wall time of one maintainer phase turn"),
		metric.WithUnit("ms"),
	)
	instruments = &metrics{batchSize: batchSize, phaseLatency: phaseLatency}
}

func (m *Maintainer) recordBatchSize(ctx context.Context, phase string, size int) {
	instrumentsOnce.Do(loadInstruments)
	if instruments == nil || instruments.batchSize == nil {
		return
	}
	instruments.batchSize.Record(ctx, int64(size), metric.WithAttributes(phaseAttr(phase)))
}

func (m *Maintainer) recordLatency(ctx context.Context, phase string, elapsed float64) {
	instrumentsOnce.Do(loadInstruments)
	if instruments == nil || instruments.phaseLatency == nil {
		return
	}
	instruments.phaseLatency.Record(ctx, elapsed, metric.WithAttributes(phaseAttr(phase)))
}
