// Package notify pushes operator alerts for order lifecycle events through
// one or more channels. Delivery is best effort: a failed channel is logged
// and never blocks the engine.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Sender delivers one formatted alert through a single channel.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
	Name() string
}

// Notifier fans alerts out to every configured sender, filtered by event
// type. With an empty filter every event passes.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{}
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Notifier delivering to senders. events lists the event
// types to forward; empty means all.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = struct{}{}
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the message for an event that passes the filter. It
// satisfies the engine's notifier contract: errors are logged, not returned,
// so a dead webhook cannot fail a fill.
func (n *Notifier) Notify(ctx context.Context, event, message string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.allowed) > 0 {
		if _, ok := n.allowed[event]; !ok {
			n.logger.Debug("event filtered", slog.String("event", event))
			return
		}
	}

	subject := subjectFor(event)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	for _, s := range n.senders {
		if err := s.Send(sendCtx, subject, message); err != nil {
			n.logger.Warn("notification send failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.Any("error", err))
			continue
		}
		n.logger.Debug("notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event))
	}
}

// subjectFor turns an event type like "order_filled" into a readable
// subject line.
func subjectFor(event string) string {
	return strings.ToUpper(strings.ReplaceAll(event, "_", " "))
}
