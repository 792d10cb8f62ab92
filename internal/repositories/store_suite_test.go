package repositories_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/BradenHooton/attemptguard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by a store and its test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, family models.AttemptFamily, clock func() time.Time) services.AttemptStore

// runAttemptStoreSuite checks the behaviour every AttemptStore engine shares
func runAttemptStoreSuite(t *testing.T, newStore storeFactory) {
	t.Run("increment creates then bumps", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, models.FamilyLogin, clock.Now)
		ctx := context.Background()
		first := clock.Now()

		count, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "user@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		rec, err := store.FindMatching(ctx, "203.0.113.0/24", "user@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Count)
		assert.Nil(t, rec.PreviousAt)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, models.FamilyLogin, rec.Family)

		clock.Advance(10 * time.Second)
		count, err = store.IncrementAndGet(ctx, "203.0.113.0/24", "user@example.com")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		updated, err := store.FindMatching(ctx, "203.0.113.0/24", "user@example.com")
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Count)
		assert.Equal(t, rec.ID, updated.ID, "id is immutable")
		assert.True(t, updated.UpdatedAt.Equal(first.Add(10*time.Second)), "updated_at %v", updated.UpdatedAt)
		require.NotNil(t, updated.PreviousAt)
		assert.True(t, updated.PreviousAt.Equal(first), "previous_at %v", *updated.PreviousAt)
	})

	t.Run("concurrent increments are never lost", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, models.FamilyLogin, clock.Now)
		ctx := context.Background()

		const n = 150
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.IncrementAndGet(ctx, "198.51.100.0/24", "victim@example.com"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		rec, err := store.FindMatching(ctx, "198.51.100.0/24", "victim@example.com")
		require.NoError(t, err)
		assert.Equal(t, n, rec.Count)

		all, err := store.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1, "concurrent inserts converge to one record")
	})

	t.Run("login lookup matches bucket or key", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, models.FamilyLogin, clock.Now)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "a@example.com")
			require.NoError(t, err)
		}

		byBucket, err := store.FindMatching(ctx, "203.0.113.0/24", "other@example.com")
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", byBucket.IdentityKey)

		byKey, err := store.FindMatching(ctx, "192.0.2.0/24", "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.0/24", byKey.NetworkBucket)

		_, err = store.FindMatching(ctx, "192.0.2.0/24", "other@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("login lookup prefers the most severe match", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, models.FamilyLogin, clock.Now)
		ctx := context.Background()

		for i := 0; i < 4; i++ {
			_, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "a@example.com")
			require.NoError(t, err)
		}
		clock.Advance(time.Second)
		_, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "b@example.com")
		require.NoError(t, err)

		rec, err := store.FindMatching(ctx, "203.0.113.0/24", "b@example.com")
		require.NoError(t, err)
		assert.Equal(t, 4, rec.Count)
		assert.Equal(t, "a@example.com", rec.IdentityKey)
		assert.False(t, rec.Matches("203.0.113.0/24", "b@example.com"))
	})

	t.Run("login reset clears every record for the key", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, models.FamilyLogin, clock.Now)
		ctx := context.Background()

		_, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "a@example.com")
		require.NoError(t, err)
		_, err = store.IncrementAndGet(ctx, "192.0.2.0/24", "a@example.com")
		require.NoError(t, err)
		_, err = store.IncrementAndGet(ctx, "198.51.100.0/24", "b@example.com")
		require.NoError(t, err)

		require.NoError(t, store.Reset(ctx, "203.0.113.0/24", "a@example.com"))

		all, err := store.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "b@example.com", all[0].IdentityKey)

		count, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, count, "history starts over after reset")

		rec, err := store.FindMatching(ctx, "203.0.113.0/24", "a@example.com")
		require.NoError(t, err)
		assert.Nil(t, rec.PreviousAt)
	})

	t.Run("reset without a record is a no-op", func(t *testing.T) {
		store := newStore(t, models.FamilyLogin, newFakeClock().Now)

		assert.NoError(t, store.Reset(context.Background(), "203.0.113.0/24", "ghost@example.com"))
		assert.NoError(t, store.Reset(context.Background(), "203.0.113.0/24", "ghost@example.com"))
	})

	t.Run("sign-up records are keyed by bucket alone", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, models.FamilySignUp, clock.Now)
		ctx := context.Background()

		count, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		count, err = store.IncrementAndGet(ctx, "203.0.113.0/24", "b@example.com")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		rec, err := store.FindMatching(ctx, "203.0.113.0/24", "c@example.com")
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Count)
		assert.Empty(t, rec.IdentityKey)
		assert.Equal(t, models.FamilySignUp, rec.Family)
		assert.True(t, rec.Matches("203.0.113.0/24", "anything"))

		_, err = store.FindMatching(ctx, "192.0.2.0/24", "a@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)

		require.NoError(t, store.Reset(ctx, "203.0.113.0/24", ""))
		_, err = store.FindMatching(ctx, "203.0.113.0/24", "a@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("list all is most recent first", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, models.FamilyLogin, clock.Now)
		ctx := context.Background()

		_, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "old@example.com")
		require.NoError(t, err)
		clock.Advance(time.Minute)
		_, err = store.IncrementAndGet(ctx, "192.0.2.0/24", "new@example.com")
		require.NoError(t, err)

		all, err := store.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "new@example.com", all[0].IdentityKey)
		assert.Equal(t, "old@example.com", all[1].IdentityKey)
	})

	t.Run("delete stale removes only old records", func(t *testing.T) {
		for _, family := range []models.AttemptFamily{models.FamilyLogin, models.FamilySignUp} {
			t.Run(string(family), func(t *testing.T) {
				clock := newFakeClock()
				store := newStore(t, family, clock.Now)
				ctx := context.Background()
				start := clock.Now()

				_, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "old@example.com")
				require.NoError(t, err)
				clock.Advance(2 * time.Hour)
				_, err = store.IncrementAndGet(ctx, "192.0.2.0/24", "new@example.com")
				require.NoError(t, err)

				deleted, err := store.DeleteStale(ctx, start.Add(time.Hour), math.MaxInt)
				require.NoError(t, err)
				assert.Equal(t, int64(1), deleted)

				all, err := store.ListAll(ctx)
				require.NoError(t, err)
				require.Len(t, all, 1)
				assert.Equal(t, "192.0.2.0/24", all[0].NetworkBucket)

				// the swept record can be recreated from scratch
				count, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "old@example.com")
				require.NoError(t, err)
				assert.Equal(t, 1, count)
			})
		}
	})

	t.Run("delete stale keeps records above max count", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, models.FamilyLogin, clock.Now)
		ctx := context.Background()

		for i := 0; i < 6; i++ {
			_, err := store.IncrementAndGet(ctx, "203.0.113.0/24", "locked@example.com")
			require.NoError(t, err)
		}
		_, err := store.IncrementAndGet(ctx, "192.0.2.0/24", "idle@example.com")
		require.NoError(t, err)
		clock.Advance(2 * time.Hour)

		deleted, err := store.DeleteStale(ctx, clock.Now(), 5)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		rec, err := store.FindMatching(ctx, "203.0.113.0/24", "locked@example.com")
		require.NoError(t, err)
		assert.Equal(t, 6, rec.Count)

		_, err = store.FindMatching(ctx, "192.0.2.0/24", "idle@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
