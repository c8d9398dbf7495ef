package counter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-notify-backend/internal/store"
)

// countingStore implements just enough of store.Store to observe how often
// the cache falls through to the database.
type countingStore struct {
	store.Store

	mu     sync.Mutex
	calls  int
	counts store.Counts
	err    error
}

func (c *countingStore) CountsFor(context.Context, int64, *int64, time.Time) (store.Counts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.counts, c.err
}

func (c *countingStore) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *countingStore) setCounts(counts store.Counts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = counts
}

var _ store.Store = (*countingStore)(nil)

func TestCountsForCachesWithinTTL(t *testing.T) {
	cs := &countingStore{counts: store.Counts{Count: 3, Unread: 2, SignaturesPending: 1}}
	c := New(cs, time.Minute)
	ctx := context.Background()

	got, err := c.CountsFor(ctx, 1, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Count)

	// Stale on purpose: the second read within the TTL serves the cached
	// value and never reaches the store.
	cs.setCounts(store.Counts{Count: 99})
	got, err = c.CountsFor(ctx, 1, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Count)
	assert.Equal(t, 1, cs.callCount())
}

func TestCountsForScopesAreCachedSeparately(t *testing.T) {
	cs := &countingStore{}
	c := New(cs, time.Minute)
	ctx := context.Background()

	school := int64(2)
	_, err := c.CountsFor(ctx, 1, nil)
	require.NoError(t, err)
	_, err = c.CountsFor(ctx, 1, &school)
	require.NoError(t, err)
	assert.Equal(t, 2, cs.callCount())
}

func TestInvalidateDropsAllScopesForTeacher(t *testing.T) {
	cs := &countingStore{}
	c := New(cs, time.Minute)
	ctx := context.Background()

	school := int64(2)
	_, _ = c.CountsFor(ctx, 1, nil)
	_, _ = c.CountsFor(ctx, 1, &school)
	_, _ = c.CountsFor(ctx, 7, nil)
	require.Equal(t, 3, cs.callCount())

	c.Invalidate(1)

	// Teacher 1's scopes recompute; teacher 7's entry survives.
	_, _ = c.CountsFor(ctx, 1, nil)
	_, _ = c.CountsFor(ctx, 1, &school)
	_, _ = c.CountsFor(ctx, 7, nil)
	assert.Equal(t, 5, cs.callCount())
}

func TestCountsForErrorsAreNotCached(t *testing.T) {
	cs := &countingStore{err: errors.New("db down")}
	c := New(cs, time.Minute)
	ctx := context.Background()

	_, err := c.CountsFor(ctx, 1, nil)
	assert.Error(t, err)

	cs.mu.Lock()
	cs.err = nil
	cs.mu.Unlock()

	_, err = c.CountsFor(ctx, 1, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, cs.callCount())
}
