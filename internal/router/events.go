package router

import (
	"context"
	"sync"
	"time"

	"meshbridge/internal/constants"
	"meshbridge/internal/logger"
	"meshbridge/pkg/metrics"
	"meshbridge/pkg/models"
)

type Outcome string

const (
	OutcomeForwarded Outcome = "forwarded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFiltered  Outcome = "filtered"
	OutcomeDropped   Outcome = "dropped"
	OutcomeMalformed Outcome = "malformed"
)

// Event describes the routing outcome of one message. Events feed the
// storage and bus sinks; the routing path itself never blocks on them.
type Event struct {
	Outcome   Outcome        `json:"outcome"`
	Reason    string         `json:"reason,omitempty"`
	Message   models.Message `json:"message"`
	Delivered []string       `json:"delivered,omitempty"`
	Failed    []string       `json:"failed,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink consumes routing events. A slow or failing sink is logged and
// skipped; it never stalls the dispatcher.
type Sink interface {
	Name() string
	HandleEvent(ctx context.Context, ev Event) error
}

// Dispatcher fans routing events out to sinks through a bounded queue.
// Publish drops the event when the queue is full rather than applying
// backpressure to the routing path.
type Dispatcher struct {
	queue  chan Event
	sinks  []Sink
	logger logger.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(bufferSize int, log logger.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultEventBufferSize
	}
	return &Dispatcher{
		queue:  make(chan Event, bufferSize),
		logger: log,
		done:   make(chan struct{}),
	}
}

// AddSink registers a sink. Must be called before Start.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for ev := range d.queue {
		metrics.EventQueueSize.Set(float64(len(d.queue)))
		for _, sink := range d.sinks {
			if err := sink.HandleEvent(ctx, ev); err != nil {
				d.logger.Warnw("Event sink failed",
					"sink", sink.Name(),
					"outcome", ev.Outcome,
					"error", err,
				)
			}
		}
	}
}

// Publish enqueues an event without blocking. Full queue means the event
// is dropped and counted.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	select {
	case d.queue <- ev:
		metrics.EventQueueSize.Set(float64(len(d.queue)))
	default:
		metrics.EventsDroppedTotal.WithLabelValues("dispatcher").Inc()
		d.logger.Warnw("Event queue full, dropping event", "outcome", ev.Outcome)
	}
	d.mu.Unlock()
}

// Close stops accepting events and waits for the queue to drain, up to
// the drain timeout. Pending events past the deadline are lost.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-time.After(constants.EventDrainTimeout):
		d.logger.Warn("Event dispatcher drain timed out")
	}
}
