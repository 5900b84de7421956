package session

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhunte/atelier/internal/access"
	"github.com/bhunte/atelier/internal/backend"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStoreSealsCredentials(t *testing.T) {
	mr, client := newRedis(t)
	sealer, err := NewSealer("secret")
	require.NoError(t, err)
	store := NewRedisStore(client, sealer, time.Hour)
	ctx := context.Background()

	st := State{
		Version:     3,
		Principal:   &access.Principal{ID: "u1", Role: "Manager"},
		Credentials: backend.Credentials{"token": "upstream-secret-token"},
		ResolvedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, store.Save(ctx, "sid", st))

	raw, err := mr.Get("atelier:session:sid")
	require.NoError(t, err)
	assert.False(t, strings.Contains(raw, "upstream-secret-token"))
	assert.Equal(t, time.Hour, mr.TTL("atelier:session:sid"))

	loaded, err := store.Load(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, st.Version, loaded.Version)
	assert.Equal(t, st.Principal.ID, loaded.Principal.ID)
	assert.Equal(t, st.Credentials, loaded.Credentials)
	assert.True(t, st.ResolvedAt.Equal(loaded.ResolvedAt))
	assert.Equal(t, "authenticated", loaded.Status())
}

func TestRedisStoreUnknownSessionIsAnonymous(t *testing.T) {
	_, client := newRedis(t)
	sealer, err := NewSealer("secret")
	require.NoError(t, err)
	st, err := NewRedisStore(client, sealer, time.Hour).Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, st.Authenticated())
	assert.Equal(t, "anonymous", st.Status())
}

func TestSealerRejectsForeignKey(t *testing.T) {
	a, err := NewSealer("one")
	require.NoError(t, err)
	b, err := NewSealer("two")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("payload"))
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrSealBroken)
	_, err = a.Open(sealed[:10])
	assert.ErrorIs(t, err, ErrSealBroken)

	plain, err := a.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))

	_, err = NewSealer("")
	assert.Error(t, err)
}

func TestRedisLockerExcludes(t *testing.T) {
	_, client := newRedis(t)
	locker := NewRedisLocker(client, time.Minute)

	unlock, err := locker.Lock(context.Background(), "sid")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "sid")
	assert.ErrorIs(t, err, ErrBusy)

	unlock()
	unlock2, err := locker.Lock(context.Background(), "sid")
	require.NoError(t, err)
	unlock2()
}

func TestBusFiltersAndDrops(t *testing.T) {
	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	all, cancelAll := bus.Subscribe(1)
	mine, cancelMine := bus.SubscribeSession("a", 4)
	defer cancelMine()

	bus.Publish(newChanged("a", nil, TransitionLogout, time.Now()))
	bus.Publish(newChanged("b", nil, TransitionLogout, time.Now()))

	assert.Len(t, mine, 1)
	assert.Len(t, all, 1)
	ev := <-all
	assert.Equal(t, "a", ev.SessionID())

	cancelAll()
	cancelAll()
	_, open := <-all
	assert.False(t, open)
}
