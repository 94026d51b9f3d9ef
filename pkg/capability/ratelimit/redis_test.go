package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client)
}

func TestStore_IncrCountsUp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Incr(ctx, "quota:org-1:agent-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Incr(ctx, "quota:org-1:agent-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_IncrIsolatesKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Incr(ctx, "quota:org-1:agent-1", time.Minute)
	require.NoError(t, err)
	n, err := s.Incr(ctx, "quota:org-1:agent-2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_SlidingWindowAddEvictsOldEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "burst:org-1:agent-1"

	base := time.Now()
	n, err := s.SlidingWindowAdd(ctx, key, "req-1", base, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.SlidingWindowAdd(ctx, key, "req-2", base.Add(2*time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Past the window: req-1 and req-2 should have been evicted, only
	// the new member remains.
	n, err = s.SlidingWindowAdd(ctx, key, "req-3", base.Add(15*time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
