package session

import (
	"context"
	"sync"

	"github.com/koscakluka/ema-coach/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Subscriber func(events.Event)

// delivery hands events to the subscriber one at a time on its own goroutine
// so that a slow subscriber never blocks the transport or the capture loop.
// The goroutine starts with the first queued event, so a session that never
// emits anything holds none. Once the terminal event is queued nothing else is
// accepted, and the goroutine exits after delivering it.
type delivery struct {
	key Key

	mu         sync.Mutex
	queue      []events.Event
	subscriber Subscriber
	finished   bool
	started    bool
	wake       chan struct{}
	done       chan struct{}
}

func newDelivery(key Key) *delivery {
	return &delivery{
		key:  key,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (d *delivery) setSubscriber(subscriber Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscriber = subscriber
}

// push queues event for delivery and reports whether it was accepted.
func (d *delivery) push(event events.Event) bool {
	d.mu.Lock()
	if d.finished {
		d.mu.Unlock()
		eventsDropped.Add(context.Background(), 1, d.attributes(event))
		return false
	}
	d.queue = append(d.queue, event)
	if events.IsTerminal(event) {
		d.finished = true
	}
	if !d.started {
		d.started = true
		go d.run()
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *delivery) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			finished := d.finished
			d.mu.Unlock()
			if finished {
				return
			}
			<-d.wake
			continue
		}
		event := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		subscriber := d.subscriber
		d.mu.Unlock()

		if subscriber == nil {
			eventsDropped.Add(context.Background(), 1, d.attributes(event))
		} else {
			subscriber(event)
			eventsDelivered.Add(context.Background(), 1, d.attributes(event))
		}

		if events.IsTerminal(event) {
			return
		}
	}
}

func (d *delivery) running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *delivery) attributes(event events.Event) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("session_key", string(d.key)),
		attribute.String("kind", string(event.Kind())),
	)
}
