package audit

import (
	"context"
	"log/slog"

	"github.com/bhunte/atelier/internal/session"
)

// Enqueuer hands an entry to the background queue.
type Enqueuer interface {
	EnqueueSessionAudit(ctx context.Context, e Entry) error
}

// Forwarder moves bus events onto the audit queue.
type Forwarder struct {
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewForwarder constructs a Forwarder.
func NewForwarder(enqueuer Enqueuer, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{enqueuer: enqueuer, logger: logger}
}

// Run drains events until ctx ends or the channel closes. Routine principal
// refreshes are not audited. Enqueue failures are logged and the event is dropped.
func (f *Forwarder) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind() == session.TransitionResolve {
				continue
			}
			entry := EntryFromEvent(ev)
			if err := f.enqueuer.EnqueueSessionAudit(ctx, entry); err != nil {
				f.logger.Error("enqueue session audit",
					slog.String("event_id", entry.EventID),
					slog.String("transition", string(entry.Transition)),
					slog.Any("error", err),
				)
			}
		}
	}
}
