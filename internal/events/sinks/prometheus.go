package sinks

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crawlcore/crawlcore/internal/events"
)

// Prometheus increments a counter per event type, labeled by crawler id,
// giving the monitoring endpoint visibility into lifecycle and document
// outcomes without the caller needing its own counters.
type Prometheus struct {
	counter *prometheus.CounterVec
}

// NewPrometheus registers (or reuses) the crawler_events_total counter
// against reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_events_total",
			Help: "Total number of crawler lifecycle and document events, labeled by type.",
		},
		[]string{"crawler_id", "type"},
	)
	if reg != nil {
		if err := reg.Register(counter); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(err)
			}
			counter = existing
		}
	}
	return &Prometheus{counter: counter}
}

// Consume implements events.Sink.
func (p *Prometheus) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		p.counter.WithLabelValues(evt.CrawlerID, string(evt.Type)).Inc()
	}
	return nil
}

// Close implements events.Sink.
func (p *Prometheus) Close(context.Context) error { return nil }
