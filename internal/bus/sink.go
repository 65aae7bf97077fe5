package bus

import (
	"context"

	"meshbridge/internal/router"
)

// EventSink publishes routing outcomes to the messages topic so
// downstream consumers (dashboards, archives) see every routed message.
type EventSink struct {
	bus *Bus
}

func NewEventSink(b *Bus) *EventSink {
	return &EventSink{bus: b}
}

func (s *EventSink) Name() string {
	return "bus"
}

func (s *EventSink) HandleEvent(ctx context.Context, ev router.Event) error {
	if ev.Outcome == router.OutcomeDuplicate {
		return nil
	}
	return s.bus.Publish(ctx, ev.Message.ID, ev)
}
