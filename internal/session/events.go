package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bhunte/atelier/internal/access"
)

// Transition names a session state change.
type Transition string

const (
	TransitionResolve     Transition = "resolve"
	TransitionLogin       Transition = "login"
	TransitionLogout      Transition = "logout"
	TransitionImpersonate Transition = "impersonate"
	TransitionExit        Transition = "exit_impersonation"
	TransitionExpire      Transition = "expire"
)

// Event is delivered to bus subscribers after a transition is stored.
type Event interface {
	EventID() string
	SessionID() string
	Kind() Transition
	OccurredAt() time.Time
}

// Changed carries the principal a session settled on. Principal is nil after logout.
type Changed struct {
	ID         string
	Session    string
	Principal  *access.Principal
	Transition Transition
	At         time.Time
}

func (e Changed) EventID() string { return e.ID }
func (e Changed) SessionID() string { return e.Session }
func (e Changed) Kind() Transition { return e.Transition }
func (e Changed) OccurredAt() time.Time { return e.At }

// Expired reports a forced logout.
type Expired struct {
	ID        string
	Session   string
	Principal string
	Reason    string
	At        time.Time
}

func (e Expired) EventID() string { return e.ID }
func (e Expired) SessionID() string { return e.Session }
func (e Expired) Kind() Transition { return TransitionExpire }
func (e Expired) OccurredAt() time.Time { return e.At }

func newChanged(sid string, p *access.Principal, t Transition, at time.Time) Changed {
	return Changed{ID: uuid.NewString(), Session: sid, Principal: p.Clone(), Transition: t, At: at}
}

func newExpired(sid string, previous *access.Principal, reason string, at time.Time) Expired {
	ev := Expired{ID: uuid.NewString(), Session: sid, Reason: reason, At: at}
	if previous != nil {
		ev.Principal = previous.ID
	}
	return ev
}

type subscriber struct {
	ch      chan Event
	session string
}

// Bus fans session events out to subscribers. Publish never blocks; a
// subscriber with a full buffer misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscriber
	next   uint64
	logger *slog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[uint64]subscriber), logger: logger}
}

// Subscribe receives every event.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	return b.subscribe("", buffer)
}

// SubscribeSession receives the events of one session only.
func (b *Bus) SubscribeSession(sid string, buffer int) (<-chan Event, func()) {
	return b.subscribe(sid, buffer)
}

func (b *Bus) subscribe(sid string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{ch: ch, session: sid}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every matching subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.session != "" && sub.session != ev.SessionID() {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("session event dropped", slog.String("transition", string(ev.Kind())), slog.String("event_id", ev.EventID()))
		}
	}
}
