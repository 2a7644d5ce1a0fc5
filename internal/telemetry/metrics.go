// Package telemetry provides OpenTelemetry instruments for FlowRelay.
// Only the API packages are used here; the host process (or the CLI)
// decides whether to install real meter and tracer providers.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "flowrelay"

// Metrics holds all FlowRelay metric instruments.
type Metrics struct {
	NotificationsSent   metric.Int64Counter
	NotificationsFailed metric.Int64Counter
	ProgressUpdates     metric.Int64Counter
	FilesUploaded       metric.Int64Counter
	DeliveryLatency     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.NotificationsSent, err = meter.Int64Counter("flowrelay.notifications.sent",
		metric.WithDescription("Number of notifications delivered"))
	if err != nil {
		return nil, err
	}

	m.NotificationsFailed, err = meter.Int64Counter("flowrelay.notifications.failed",
		metric.WithDescription("Number of notification deliveries that failed"))
	if err != nil {
		return nil, err
	}

	m.ProgressUpdates, err = meter.Int64Counter("flowrelay.progress.updates",
		metric.WithDescription("Number of throttled progress updates sent"))
	if err != nil {
		return nil, err
	}

	m.FilesUploaded, err = meter.Int64Counter("flowrelay.files.uploaded",
		metric.WithDescription("Number of files uploaded after terminal events"))
	if err != nil {
		return nil, err
	}

	m.DeliveryLatency, err = meter.Float64Histogram("flowrelay.delivery.latency_seconds",
		metric.WithDescription("Latency of platform deliveries in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
