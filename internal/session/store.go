package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/backend"
)

// State is the stored session of one browser. A nil principal is Anonymous.
type State struct {
	Version     uint64
	Principal   *access.Principal
	Credentials backend.Credentials
	ResolvedAt  time.Time
}

// Authenticated reports whether a principal is held.
func (s State) Authenticated() bool {
	return s.Principal != nil
}

// Status names the state for logs and responses.
func (s State) Status() string {
	switch {
	case s.Principal == nil:
		return "anonymous"
	case s.Principal.Impersonating:
		return "impersonating"
	default:
		return "authenticated"
	}
}

// Store persists session states. Load of an unknown session returns the zero
// (Anonymous) state.
type Store interface {
	Load(ctx context.Context, sid string) (State, error)
	Save(ctx context.Context, sid string, st State) error
}

type storedState struct {
	Version    uint64            `json:"version"`
	Principal  *access.Principal `json:"principal,omitempty"`
	Sealed     []byte            `json:"sealed,omitempty"`
	ResolvedAt time.Time         `json:"resolved_at,omitempty"`
}

// RedisStore keeps states in redis with credentials sealed at rest.
type RedisStore struct {
	client *redis.Client
	sealer *Sealer
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore. States expire ttl after their last save.
func NewRedisStore(client *redis.Client, sealer *Sealer, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, sealer: sealer, ttl: ttl}
}

func stateKey(sid string) string {
	return "atelier:session:" + sid
}

// Load reads the state of sid.
func (s *RedisStore) Load(ctx context.Context, sid string) (State, error) {
	raw, err := s.client.Get(ctx, stateKey(sid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("session: load: %w", err)
	}
	var stored storedState
	if err := json.Unmarshal(raw, &stored); err != nil {
		return State{}, fmt.Errorf("session: decode: %w", err)
	}
	st := State{Version: stored.Version, Principal: stored.Principal, ResolvedAt: stored.ResolvedAt}
	if len(stored.Sealed) > 0 {
		plain, err := s.sealer.Open(stored.Sealed)
		if err != nil {
			return State{}, err
		}
		if err := json.Unmarshal(plain, &st.Credentials); err != nil {
			return State{}, fmt.Errorf("session: decode credentials: %w", err)
		}
	}
	return st, nil
}

// Save writes st in a single SET so readers never observe a partial state.
func (s *RedisStore) Save(ctx context.Context, sid string, st State) error {
	stored := storedState{Version: st.Version, Principal: st.Principal, ResolvedAt: st.ResolvedAt}
	if !st.Credentials.Empty() {
		plain, err := json.Marshal(st.Credentials)
		if err != nil {
			return fmt.Errorf("session: encode credentials: %w", err)
		}
		stored.Sealed, err = s.sealer.Seal(plain)
		if err != nil {
			return err
		}
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := s.client.Set(ctx, stateKey(sid), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
