package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/BradenHooton/attemptguard/internal/repositories"
	"github.com/BradenHooton/attemptguard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	mu        sync.Mutex
	calls     int
	retention time.Duration
	deleted   int64
	err       error
}

func (f *fakePurger) PurgeStale(ctx context.Context, retention time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.retention = retention
	return f.deleted, f.err
}

func (f *fakePurger) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce_SumsAndSkipsFailures(t *testing.T) {
	login := &fakePurger{deleted: 3}
	signup := &fakePurger{err: errors.New("store down")}
	cm := NewCleanupManager(map[string]StalePurger{"login": login, "signup": signup}, discard(), time.Hour, 24*time.Hour)

	total := cm.RunOnce(context.Background())

	assert.Equal(t, int64(3), total)
	assert.Equal(t, 1, login.Calls())
	assert.Equal(t, 1, signup.Calls())
	assert.Equal(t, 24*time.Hour, login.retention)
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	purger := &fakePurger{}
	cm := NewCleanupManager(map[string]StalePurger{"login": purger}, discard(), 10*time.Millisecond, time.Hour)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return purger.Calls() >= 2 }, time.Second, 5*time.Millisecond)

	cm.Stop()
	cm.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestStart_ContextCancel(t *testing.T) {
	purger := &fakePurger{}
	cm := NewCleanupManager(map[string]StalePurger{"login": purger}, discard(), time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return purger.Calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager ignored cancellation")
	}
}

func TestStart_DisabledWithoutRetention(t *testing.T) {
	purger := &fakePurger{}
	cm := NewCleanupManager(map[string]StalePurger{"login": purger}, discard(), time.Hour, 0)

	cm.Start(context.Background())
	assert.Zero(t, purger.Calls())
}

func TestRunOnce_ActiveLockoutSurvivesSweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := repositories.NewMemoryAttemptRepository(models.FamilyLogin, repositories.WithClock(clock))
	guard, err := services.NewAttemptGuardService(store, services.DefaultLoginGuardConfig(), discard(),
		services.WithGuardClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 80; i++ {
		_, _ = guard.Check(ctx, "203.0.113.0/24", "locked@example.com")
	}
	_, err = guard.Check(ctx, "192.0.2.0/24", "idle@example.com")
	require.NoError(t, err)

	now = now.Add(8 * 24 * time.Hour)
	cm := NewCleanupManager(map[string]StalePurger{"login": guard}, discard(), time.Hour, 7*24*time.Hour)

	assert.Equal(t, int64(1), cm.RunOnce(ctx), "only the idle record is swept")

	rec, err := store.FindMatching(ctx, "203.0.113.0/24", "locked@example.com")
	require.NoError(t, err)
	assert.Equal(t, 80, rec.Count)
}
