package session

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scopeName = "github.com/koscakluka/ema-coach/core/session"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	audioChunksSent = mustCounter("session.audio_chunks_sent", "Audio chunks forwarded to the transport", "{chunk}")
	eventsDelivered = mustCounter("session.events_delivered", "Events handed to a subscriber", "{event}")
	eventsDropped   = mustCounter("session.events_dropped", "Events suppressed because the session already ended", "{event}")
	failures        = mustCounter("session.failures", "Sessions that ended in the failed state", "{session}")
)

func mustCounter(name, description, unit string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		logger.Warn("failed to create counter", "name", name, "error", err)
		return noop.Int64Counter{}
	}
	return counter
}
