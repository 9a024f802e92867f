// Package notify delivers operator alerts for trading events. Alerts fan out
// to every configured channel (Telegram, Discord) and pass through an event
// filter so operators can mute noisy event types. Delivery is best effort:
// the trading loop never blocks on a slow or failing channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// Sender delivers a single alert to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Limiter caps alert bursts. During volatile markets the engine can emit
// dozens of entry and exit alerts per minute; a limiter keeps the channels
// usable without muting event types entirely.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

const (
	burstLimit  = 20
	burstWindow = time.Minute
)

// Notifier dispatches alerts to registered senders, filtered by event type.
// It implements domain.Notifier.
type Notifier struct {
	senders []Sender
	events  map[string]struct{} // empty means no filtering
	limiter Limiter             // optional
	logger  *slog.Logger
}

var _ domain.Notifier = (*Notifier)(nil)

// New creates a Notifier. If events is non-empty, Notify drops any alert
// whose event type is not listed. limiter may be nil.
func New(senders []Sender, events []string, limiter Limiter, logger *slog.Logger) *Notifier {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = struct{}{}
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to every sender if the event type passes the
// filter and the burst limiter. Sender failures are aggregated into the
// returned error but never stop delivery to the remaining senders.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 {
		if _, ok := n.events[event]; !ok {
			return nil
		}
	}
	if n.limiter != nil {
		ok, err := n.limiter.Allow(ctx, "notify:"+event, burstLimit, burstWindow)
		if err != nil {
			n.logger.WarnContext(ctx, "burst limiter unavailable",
				slog.String("event", event),
				slog.String("error", err.Error()))
		} else if !ok {
			n.logger.DebugContext(ctx, "alert suppressed by burst limit",
				slog.String("event", event))
			return nil
		}
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()))
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(failed, "; "))
	}
	return nil
}
