package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const relayMeterName = "github.com/crossnotify/crossnotify/internal/relay"

// RelayMetrics counts notification traffic through this device.
// A nil *RelayMetrics records nothing.
type RelayMetrics struct {
	sent       metric.Int64Counter
	received   metric.Int64Counter
	routed     metric.Int64Counter
	classified metric.Int64Counter
	cleared    metric.Int64Counter
}

// NewRelayMetrics creates the instruments on the global meter provider.
func NewRelayMetrics() (*RelayMetrics, error) {
	meter := otel.Meter(relayMeterName)

	sent, err := meter.Int64Counter(
		"crossnotify.notifications.sent",
		metric.WithDescription("Notifications written to the shared store"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	received, err := meter.Int64Counter(
		"crossnotify.notifications.received",
		metric.WithDescription("Incoming notifications by disposition"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	routed, err := meter.Int64Counter(
		"crossnotify.notifications.routed",
		metric.WithDescription("Routed notifications handed off per target"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	classified, err := meter.Int64Counter(
		"crossnotify.notifications.classified",
		metric.WithDescription("Observed notifications classified"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	cleared, err := meter.Int64Counter(
		"crossnotify.notifications.cleared",
		metric.WithDescription("Notifications cleared locally or by sync"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	return &RelayMetrics{
		sent:       sent,
		received:   received,
		routed:     routed,
		classified: classified,
		cleared:    cleared,
	}, nil
}

// Sent records a notification written for other devices.
func (m *RelayMetrics) Sent(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

// Received records how an incoming notification was handled.
func (m *RelayMetrics) Received(ctx context.Context, disposition string) {
	if m == nil {
		return
	}
	m.received.Add(ctx, 1, metric.WithAttributes(attribute.String("disposition", disposition)))
}

// Routed records hand-offs by routing mode.
func (m *RelayMetrics) Routed(ctx context.Context, mode string, targets int) {
	if m == nil {
		return
	}
	m.routed.Add(ctx, int64(targets), metric.WithAttributes(attribute.String("mode", mode)))
}

// Classified records a classification.
func (m *RelayMetrics) Classified(ctx context.Context, category, urgency string) {
	if m == nil {
		return
	}
	m.classified.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("urgency", urgency),
	))
}

// Cleared records clearances. source is "local" or "sync".
func (m *RelayMetrics) Cleared(ctx context.Context, source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.cleared.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}
