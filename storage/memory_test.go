package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryStoreGetSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTL(t *testing.T) {
	clock := &testClock{t: time.Now()}
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 30*time.Second))

	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(31 * time.Second)

	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetDel(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))

	value, err := store.GetDel(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	_, err = store.GetDel(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSets(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SetAdd(ctx, "s", "a"))
	require.NoError(t, store.SetAdd(ctx, "s", "b"))
	require.NoError(t, store.SetAdd(ctx, "s", "a"))

	members, err := store.SetMembers(ctx, "s")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, store.SetRemove(ctx, "s", "a"))

	members, err = store.SetMembers(ctx, "s")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members)

	// Removing from a missing set is fine
	require.NoError(t, store.SetRemove(ctx, "other", "x"))
}

func TestMemoryStoreScanKeys(t *testing.T) {
	clock := &testClock{t: time.Now()}
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "presence:user:u1", []byte("1"), 0))
	require.NoError(t, store.Set(ctx, "presence:user:u2", []byte("2"), 10*time.Second))
	require.NoError(t, store.Set(ctx, "presence:session:s1", []byte("3"), 0))

	keys, err := store.ScanKeys(ctx, "presence:user:*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"presence:user:u1", "presence:user:u2"}, keys)

	// Expired keys drop out of the scan
	clock.Advance(11 * time.Second)

	keys, err = store.ScanKeys(ctx, "presence:user:*")
	require.NoError(t, err)
	require.Equal(t, []string{"presence:user:u1"}, keys)
}

func TestMemoryStorePubSub(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := store.Subscribe(ctx, "ch1")
	require.NoError(t, err)

	require.NoError(t, store.Publish(ctx, "ch1", []byte("hello")))
	require.NoError(t, store.Publish(ctx, "ch2", []byte("ignored")))

	select {
	case msg := <-messages:
		require.Equal(t, "ch1", msg.Channel)
		require.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected a message on ch1")
	}

	select {
	case msg := <-messages:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
