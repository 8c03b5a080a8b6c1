package telemetry

import (
	"context"
	"time"

	"github.com/hallamshaw/lumen-core/internal/bus"
)

// defaultInterval is used when no export interval is configured.
const defaultInterval = 15 * time.Second

// busMetricsMeasurement is the measurement name for bus snapshots.
const busMetricsMeasurement = "bus_metrics"

// Logger defines the logging interface used by the exporter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Writer is the slice of the InfluxDB client the exporter needs.
type Writer interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// Source provides metrics snapshots. *bus.Bus satisfies this.
type Source interface {
	GetMetrics() bus.Metrics
}

// Exporter periodically writes bus metrics snapshots to a Writer.
type Exporter struct {
	writer   Writer
	source   Source
	site     string
	interval time.Duration
	logger   Logger
}

// NewExporter creates an exporter. A zero or negative interval falls
// back to the default (15s).
func NewExporter(writer Writer, source Source, site string, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Exporter{
		writer:   writer,
		source:   source,
		site:     site,
		interval: interval,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the exporter.
func (e *Exporter) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Run exports on each tick until ctx is cancelled, then writes one
// final snapshot so shutdown never loses the last interval.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("metrics export started", "interval", e.interval.String())

	for {
		select {
		case <-ctx.Done():
			e.export()
			e.logger.Info("metrics export stopped")
			return
		case <-ticker.C:
			e.export()
		}
	}
}

// Export writes one snapshot immediately.
func (e *Exporter) Export() {
	e.export()
}

func (e *Exporter) export() {
	m := e.source.GetMetrics()

	// #nosec G115 -- counters stay far below int64 range
	fields := map[string]interface{}{
		"event_count":        int64(m.EventCount),
		"error_count":        int64(m.ErrorCount),
		"event_rate":         m.EventRate,
		"error_rate":         m.ErrorRate,
		"average_latency_ns": int64(m.AverageLatency),
	}
	if !m.LastEventTime.IsZero() {
		fields["last_event_time"] = m.LastEventTime.UnixNano()
	}

	e.writer.WritePoint(busMetricsMeasurement, map[string]string{"site": e.site}, fields)
	e.logger.Debug("exported bus metrics", "events", m.EventCount, "errors", m.ErrorCount)
}
