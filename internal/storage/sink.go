package storage

import (
	"context"

	"meshbridge/internal/router"
)

// EventSink persists routing outcomes. It runs on the dispatcher's
// goroutine, off the routing path.
type EventSink struct {
	store *Store
}

func NewEventSink(store *Store) *EventSink {
	return &EventSink{store: store}
}

func (s *EventSink) Name() string {
	return "storage"
}

func (s *EventSink) HandleEvent(ctx context.Context, ev router.Event) error {
	// Duplicates update the original row's outcome columns; there is
	// nothing new to persist.
	if ev.Outcome == router.OutcomeDuplicate {
		return nil
	}

	return s.store.SaveMessage(ctx, MessageRecord{
		ID:         ev.Message.ID,
		SourceLink: ev.Message.SourceLink,
		FromNode:   ev.Message.From,
		ToNode:     ev.Message.To,
		Text:       ev.Message.Text,
		Channel:    ev.Message.Channel,
		Outcome:    string(ev.Outcome),
		Reason:     ev.Reason,
		Delivered:  len(ev.Delivered),
		ReceivedAt: ev.Message.ReceivedAt,
	})
}
