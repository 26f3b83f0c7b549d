package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azelphur/ekpogo/internal/raid"
	"github.com/azelphur/ekpogo/internal/storage"
)

// recordingCompleter marks raids done through the registry and
// remembers who it completed
type recordingCompleter struct {
	registry *raid.Registry

	mu        sync.Mutex
	completed []int64
}

func (c *recordingCompleter) Complete(ctx context.Context, guildID string, raidID int64, done bool, actorID string) error {
	if err := c.registry.SetDone(raidID, done); err != nil {
		return err
	}
	c.mu.Lock()
	c.completed = append(c.completed, raidID)
	c.mu.Unlock()
	return nil
}

func (c *recordingCompleter) completedIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.completed...)
}

func newSchedulerFixture(t *testing.T) (*Scheduler, *raid.Registry, *recordingCompleter, int64) {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	gym := &storage.Gym{Title: "Town Hall", Latitude: 51.5, Longitude: -0.12}
	require.NoError(t, repo.CreateGym(gym))

	registry := raid.NewRegistry(repo)
	completer := &recordingCompleter{registry: registry}
	return New(registry, completer, 0), registry, completer, gym.ID
}

func TestSweepCompletesOverdueRaid(t *testing.T) {
	sched, registry, completer, gymID := newSchedulerFixture(t)

	start := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	level := 5
	overdue, err := registry.Create(gymID, nil, &level, start, start.Add(30*time.Minute))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	require.Eventually(t, func() bool {
		r, err := registry.Get(overdue.ID)
		return err == nil && r.Done
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []int64{overdue.ID}, completer.completedIDs())
}

func TestRegistryChangesRearmTheWait(t *testing.T) {
	sched, registry, _, gymID := newSchedulerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Starts idle: nothing to expire yet
	sched.Start(ctx)
	defer sched.Stop()
	time.Sleep(50 * time.Millisecond)

	// Creating an already-overdue raid must wake the loop without any
	// external prodding
	start := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	level := 5
	overdue, err := registry.Create(gymID, nil, &level, start, start.Add(30*time.Minute))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := registry.Get(overdue.ID)
		return err == nil && r.Done
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDoneRaidIsNotSwept(t *testing.T) {
	sched, registry, completer, gymID := newSchedulerFixture(t)

	start := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	level := 5
	finished, err := registry.Create(gymID, nil, &level, start, start.Add(30*time.Minute))
	require.NoError(t, err)
	require.NoError(t, registry.SetDone(finished.ID, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	sched.Stop()

	assert.Empty(t, completer.completedIDs())
}
