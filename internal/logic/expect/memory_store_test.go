package expect

import (
	"context"
	"testing"
	"time"

	"custody-relay-sol/internal/relayerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() (*MemoryStore, *time.Time) {
	s := NewMemoryStore(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	return s, &now
}

func newTestExpectation(ttl int64) *Expectation {
	return &Expectation{
		Kind:        KindRewardClaim,
		TTLSec:      ttl,
		ResourceKey: "mint-1",
	}
}

func TestMemoryStore_CreateGetDelete(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	id, err := s.Create(ctx, newTestExpectation(300))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, KindRewardClaim, got.Kind)
	assert.NotZero(t, got.CreatedAt)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, relayerr.ErrNotFound)

	// 删除幂等
	require.NoError(t, s.Delete(ctx, id))
}

func TestMemoryStore_GetUnknownID(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
}

func TestMemoryStore_UniqueIDs(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		id, err := s.Create(ctx, newTestExpectation(300))
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
}

func TestMemoryStore_ExpiredGetBehavesAsDeleted(t *testing.T) {
	s, now := newTestStore()
	ctx := context.Background()

	id, err := s.Create(ctx, newTestExpectation(1))
	require.NoError(t, err)

	// TTL 内可读
	_, err = s.Get(ctx, id)
	require.NoError(t, err)

	// TTL=1s，2 秒后视同已删除
	*now = now.Add(2 * time.Second)
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	s, now := newTestStore()
	ctx := context.Background()

	_, err := s.Create(ctx, newTestExpectation(1))
	require.NoError(t, err)
	longLived, err := s.Create(ctx, newTestExpectation(3600))
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	*now = now.Add(10 * time.Second)
	s.sweep()

	assert.Equal(t, 1, s.Len())
	_, err = s.Get(ctx, longLived)
	assert.NoError(t, err)
}

func TestMemoryStore_StartStop(t *testing.T) {
	s := NewMemoryStore(10 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		s.Start()
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop")
	}
	// Stop 幂等
	s.Stop()
}
