package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/session"
	"github.com/bhunte/atelier/internal/shared"
)

// streamMargin is how long before the request deadline the stream closes.
const streamMargin = time.Second

type eventPayload struct {
	Transition session.Transition `json:"transition"`
	Status     string             `json:"status"`
	Principal  *access.Principal  `json:"principal,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	At         time.Time          `json:"at"`
}

func payloadFor(ev session.Event) (string, eventPayload) {
	switch e := ev.(type) {
	case session.Changed:
		status := "anonymous"
		if e.Principal != nil {
			status = "authenticated"
			if e.Principal.Impersonating {
				status = "impersonating"
			}
		}
		return "changed", eventPayload{Transition: e.Transition, Status: status, Principal: e.Principal, At: e.At}
	case session.Expired:
		return "expired", eventPayload{Transition: session.TransitionExpire, Status: "anonymous", Reason: e.Reason, At: e.At}
	default:
		return "changed", eventPayload{Transition: ev.Kind(), At: ev.OccurredAt()}
	}
}

// streamDeadline returns when the stream has to end. The connection write
// deadline is moved to the request deadline when the writer supports it;
// otherwise the server write timeout bounds the stream.
func (h *Handler) streamDeadline(ctx context.Context, w http.ResponseWriter, started time.Time) (time.Time, bool) {
	end, bounded := ctx.Deadline()
	if bounded && http.NewResponseController(w).SetWriteDeadline(end) == nil {
		return end, true
	}
	if h.writeTimeout > 0 {
		if limit := started.Add(h.writeTimeout); !bounded || limit.Before(end) {
			return limit, true
		}
	}
	return end, bounded
}

// streamEvents relays the caller's session transitions as server-sent events
// until the client goes away, the session expires or the request deadline
// approaches.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, cancel := h.events.SubscribeSession(shared.SessionID(r.Context()), 8)
	defer cancel()

	ctx := r.Context()
	var closing <-chan time.Time
	if end, ok := h.streamDeadline(ctx, w, started); ok {
		timer := time.NewTimer(time.Until(end) - streamMargin)
		defer timer.Stop()
		closing = timer.C
	}
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	fmt.Fprintf(w, "retry: %d\n\n", (5 * time.Second).Milliseconds())
	flusher.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closing:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			name, payload := payloadFor(ev)
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.EventID(), name, data)
			flusher.Flush()
			if k := ev.Kind(); k == session.TransitionExpire || k == session.TransitionLogout {
				return
			}
		}
	}
}
