package router

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"meshbridge/internal/constants"
	"meshbridge/internal/filter"
	"meshbridge/internal/link"
	"meshbridge/internal/logger"
	"meshbridge/internal/tracker"
	apperrors "meshbridge/pkg/errors"
	"meshbridge/pkg/logging"
	"meshbridge/pkg/metrics"
	"meshbridge/pkg/models"
)

// LinkStats are cumulative per-link delivery counters, flushed
// periodically to storage and exposed over the API.
type LinkStats struct {
	Received   uint64 `json:"received"`
	Sent       uint64 `json:"sent"`
	SendErrors uint64 `json:"send_errors"`
}

// Router is the fan-out core: every message arriving on one link is
// deduplicated, run through the admission filter, and delivered to every
// other registered link. Target failures are isolated; one dead link
// never stops delivery to the rest.
type Router struct {
	tracker    *tracker.Tracker
	filter     *filter.Engine
	registry   *link.Registry
	dispatcher *Dispatcher
	logger     logger.Logger

	sendTimeout time.Duration

	statsMu   sync.Mutex
	linkStats map[string]*LinkStats

	now func() time.Time
}

func New(tr *tracker.Tracker, fe *filter.Engine, reg *link.Registry, disp *Dispatcher, log logger.Logger, sendTimeout time.Duration) *Router {
	if sendTimeout <= 0 {
		sendTimeout = constants.DefaultSendTimeout
	}
	return &Router{
		tracker:     tr,
		filter:      fe,
		registry:    reg,
		dispatcher:  disp,
		logger:      log,
		sendTimeout: sendTimeout,
		linkStats:   make(map[string]*LinkStats),
		now:         time.Now,
	}
}

// OnReceive routes one packet that arrived on sourceLink. It never
// returns an error and never panics outward; transports call it straight
// from their read loops.
func (r *Router) OnReceive(ctx context.Context, sourceLink string, pkt models.Packet) {
	defer func() {
		if err := apperrors.RecoverPanic(recover()); err != nil {
			r.logger.ErrorwCtx(ctx, "Panic while routing message",
				"link", sourceLink,
				"error", err,
			)
		}
	}()

	start := r.now()
	ctx = logging.WithLink(ctx, sourceLink)

	metrics.MessagesReceivedTotal.WithLabelValues(sourceLink).Inc()
	r.bumpStats(sourceLink, func(s *LinkStats) { s.Received++ })

	text := strings.ToValidUTF8(string(pkt.Payload), string(utf8.RuneError))
	if pkt.ID == "" || text == "" {
		metrics.MalformedPacketsTotal.WithLabelValues(sourceLink).Inc()
		r.logger.DebugwCtx(ctx, "Dropping malformed packet",
			"packet_id", pkt.ID,
			"payload_len", len(pkt.Payload),
		)
		return
	}

	msg := models.Message{
		ID:         pkt.ID,
		SourceLink: sourceLink,
		From:       pkt.From,
		To:         pkt.To,
		Text:       text,
		Channel:    pkt.Channel,
		ReceivedAt: start,
	}
	ctx = logging.WithMessageID(ctx, msg.ID)

	if r.tracker.Seen(msg.ID) {
		metrics.MessagesDuplicateTotal.Inc()
		metrics.ObserveProcessingDuration(r.now().Sub(start), string(OutcomeDuplicate))
		r.logger.DebugwCtx(ctx, "Dropping duplicate message", "from", msg.From)
		r.publish(Event{Outcome: OutcomeDuplicate, Message: msg, Timestamp: start})
		return
	}

	allowed, reason := r.filter.Admit(ctx, msg)

	// Record before the filter verdict is applied so a retransmission of
	// a blocked message is dropped as a duplicate, not re-filtered.
	r.tracker.Record(msg.ID, msg.From, msg.To, msg.Text, msg.Channel, start)

	if !allowed {
		metrics.MessagesFilteredTotal.WithLabelValues(reason).Inc()
		metrics.ObserveProcessingDuration(r.now().Sub(start), string(OutcomeFiltered))
		r.publish(Event{Outcome: OutcomeFiltered, Reason: reason, Message: msg, Timestamp: start})
		return
	}

	delivered, failed := r.fanOut(ctx, msg)

	outcome := OutcomeForwarded
	switch {
	case len(delivered) > 0:
		metrics.MessagesForwardedTotal.Inc()
	case len(failed) > 0:
		outcome = OutcomeDropped
		metrics.MessagesDroppedTotal.Inc()
		r.logger.WarnwCtx(ctx, "Message not delivered to any link", "failed", failed)
	default:
		// Sole link on the mesh, nothing to forward to.
		outcome = OutcomeDropped
	}

	metrics.ObserveProcessingDuration(r.now().Sub(start), string(outcome))
	r.publish(Event{
		Outcome:   outcome,
		Message:   msg,
		Delivered: delivered,
		Failed:    failed,
		Timestamp: start,
	})
}

// fanOut delivers msg to every registered link except its source, in
// registration order. Each successful send is marked on the tracker.
func (r *Router) fanOut(ctx context.Context, msg models.Message) (delivered, failed []string) {
	for _, target := range r.registry.Links() {
		name := target.Name()
		if name == msg.SourceLink {
			continue
		}

		if err := r.sendTo(ctx, target, msg.Text, msg.Channel); err != nil {
			failed = append(failed, name)
			r.logger.ErrorwCtx(ctx, "Failed to forward message",
				"target", name,
				"error", err,
			)
			continue
		}

		delivered = append(delivered, name)
		r.tracker.MarkForwarded(msg.ID)
		r.logger.DebugwCtx(ctx, "Forwarded message", "target", name)
	}
	return delivered, failed
}

func (r *Router) sendTo(ctx context.Context, target link.Link, text string, channel int) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	err := target.Send(sendCtx, text, channel)
	if err != nil {
		metrics.SendErrorsTotal.WithLabelValues(target.Name()).Inc()
		r.bumpStats(target.Name(), func(s *LinkStats) { s.SendErrors++ })
		return err
	}

	metrics.MessagesSentTotal.WithLabelValues(target.Name()).Inc()
	r.bumpStats(target.Name(), func(s *LinkStats) { s.Sent++ })
	return nil
}

// Send is the operator path: deliver text to one named link, or to all
// links when target is "all" or empty. Partial failure on the broadcast
// path is not an error as long as one link accepted the message.
func (r *Router) Send(ctx context.Context, target, text string, channel int) error {
	if target != "" && target != "all" {
		l, ok := r.registry.Get(target)
		if !ok {
			return apperrors.ErrUnknownLink.WithDetail("link", target)
		}
		return r.sendTo(ctx, l, text, channel)
	}

	links := r.registry.Links()
	if len(links) == 0 {
		return apperrors.ErrServiceUnavailable.WithDetail("reason", "no links registered")
	}

	var lastErr error
	sent := 0
	for _, l := range links {
		if err := r.sendTo(ctx, l, text, channel); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 {
		return apperrors.ErrServiceUnavailable.WithCause(lastErr)
	}
	return nil
}

// LinkStatsSnapshot returns a copy of the per-link counters.
func (r *Router) LinkStatsSnapshot() map[string]LinkStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	out := make(map[string]LinkStats, len(r.linkStats))
	for name, s := range r.linkStats {
		out[name] = *s
	}
	return out
}

func (r *Router) bumpStats(name string, fn func(*LinkStats)) {
	r.statsMu.Lock()
	s, ok := r.linkStats[name]
	if !ok {
		s = &LinkStats{}
		r.linkStats[name] = s
	}
	fn(s)
	r.statsMu.Unlock()
}

func (r *Router) publish(ev Event) {
	if r.dispatcher == nil {
		return
	}
	r.dispatcher.Publish(ev)
}
