package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/usermanager/internal/database/testutil"
)

type fakeClock struct{ current time.Time }

func (c *fakeClock) Now() time.Time { return c.current }

func newTestStore(t *testing.T) (*DatabaseStore, *fakeClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &fakeClock{current: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	return NewDatabaseStore(db, WithClock(clock.Now)), clock
}

func TestNewDatabaseStoreNilDB(t *testing.T) {
	require.Nil(t, NewDatabaseStore(nil))

	var store *DatabaseStore
	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
}

func TestSetGetRespectsExpiry(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "marker", []byte("v1"), time.Minute))

	value, ok, err := store.Get(ctx, "marker")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), value)

	require.NoError(t, store.Set(ctx, "marker", []byte("v2"), time.Minute))
	value, ok, err = store.Get(ctx, "marker")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), value)

	clock.current = clock.current.Add(time.Minute)
	_, ok, err = store.Get(ctx, "marker")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetIfAbsent(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.SetIfAbsent(ctx, "notify:s1:alice@example.com", []byte("1"), time.Hour)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.SetIfAbsent(ctx, "notify:s1:alice@example.com", []byte("1"), time.Hour)
	require.NoError(t, err)
	require.False(t, inserted)

	clock.current = clock.current.Add(2 * time.Hour)
	inserted, err = store.SetIfAbsent(ctx, "notify:s1:alice@example.com", []byte("1"), time.Hour)
	require.NoError(t, err)
	require.True(t, inserted, "expired marker should be replaced")
}

func TestIncrementWithTTL(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, ttl)

	clock.current = clock.current.Add(20 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "rl:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.Equal(t, 40*time.Second, ttl)

	clock.current = clock.current.Add(time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "rl:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestPurgeExpired(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "long", []byte("b"), time.Hour))
	require.NoError(t, store.Set(ctx, "forever", []byte("c"), 0))

	clock.current = clock.current.Add(30 * time.Minute)
	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, ok, err := store.Get(ctx, "long")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, store.Delete(ctx, "a", "b"))
	require.NoError(t, store.Delete(ctx))

	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}
