package raid

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azelphur/ekpogo/internal/storage"
	"github.com/azelphur/ekpogo/internal/timeparse"
)

type fixture struct {
	registry  *Registry
	gym       *storage.Gym
	tyranitar *storage.Pokemon // fixed raid level
	magikarp  *storage.Pokemon // no raid level
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	gym := &storage.Gym{Title: "Town Hall", Latitude: 51.5, Longitude: -0.12}
	require.NoError(t, repo.CreateGym(gym))

	level := 4
	tyranitar := &storage.Pokemon{ID: 248, Name: "Tyranitar", RaidLevel: &level}
	require.NoError(t, repo.UpsertPokemon(tyranitar))
	magikarp := &storage.Pokemon{ID: 129, Name: "Magikarp"}
	require.NoError(t, repo.UpsertPokemon(magikarp))

	return &fixture{
		registry:  NewRegistry(repo),
		gym:       gym,
		tyranitar: tyranitar,
		magikarp:  magikarp,
	}
}

func startAt(offset time.Duration) time.Time {
	return time.Now().UTC().Truncate(time.Second).Add(offset)
}

func TestCreateDefaults(t *testing.T) {
	f := newFixture(t)
	start := startAt(10 * time.Minute)

	raid, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, start, time.Time{})
	require.NoError(t, err)

	// End defaults to start plus the despawn window, and the level
	// comes from the species
	assert.Equal(t, start.Add(timeparse.DespawnWindow), raid.EndTime)
	require.NotNil(t, raid.Level)
	assert.Equal(t, 4, *raid.Level)

	got, err := f.registry.Get(raid.ID)
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(start))
	assert.False(t, got.Done)
}

func TestCreateRequiresTier(t *testing.T) {
	f := newFixture(t)
	start := startAt(10 * time.Minute)

	_, err := f.registry.Create(f.gym.ID, nil, nil, start, time.Time{})
	assert.ErrorIs(t, err, ErrMissingTier)

	// A species with no fixed level still needs an explicit one
	_, err = f.registry.Create(f.gym.ID, &f.magikarp.ID, nil, start, time.Time{})
	assert.ErrorIs(t, err, ErrMissingTier)

	level := 5
	raid, err := f.registry.Create(f.gym.ID, &f.magikarp.ID, &level, start, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 5, *raid.Level)
}

func TestCreateRejectsInvalidWindow(t *testing.T) {
	f := newFixture(t)
	start := startAt(10 * time.Minute)

	_, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, start, start.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestCreateUnknownGym(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Create(9999, &f.tyranitar.ID, nil, startAt(10*time.Minute), time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicateWindow(t *testing.T) {
	f := newFixture(t)
	start := startAt(10 * time.Minute)

	first, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, start, time.Time{})
	require.NoError(t, err)

	// A second raid inside the existing raid's expiry window is a
	// duplicate
	_, err = f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, start.Add(30*time.Minute), time.Time{})
	existing, ok := IsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, first.ID, existing.ID)

	// Completing the first raid frees the gym
	require.NoError(t, f.registry.SetDone(first.ID, true))
	_, err = f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, start.Add(30*time.Minute), time.Time{})
	require.NoError(t, err)

	// A raid far past the window never conflicts
	_, err = f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, start.Add(8*time.Hour), time.Time{})
	require.NoError(t, err)
}

func TestSetStartPushesEnd(t *testing.T) {
	f := newFixture(t)
	start := startAt(10 * time.Minute)

	raid, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, start, time.Time{})
	require.NoError(t, err)

	// Moving the start past the end drags the end with it
	newStart := raid.EndTime.Add(time.Hour)
	require.NoError(t, f.registry.SetStart(raid.ID, newStart))

	got, err := f.registry.Get(raid.ID)
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(newStart))
	assert.True(t, got.EndTime.Equal(newStart.Add(timeparse.DespawnWindow)))
}

func TestSetEndBeforeStart(t *testing.T) {
	f := newFixture(t)
	start := startAt(10 * time.Minute)

	raid, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, start, time.Time{})
	require.NoError(t, err)

	err = f.registry.SetEnd(raid.ID, start.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	raid, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(10*time.Minute), time.Time{})
	require.NoError(t, err)

	joined, err := f.registry.Join(raid.ID, "user1", 0)
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = f.registry.Join(raid.ID, "user1", 3)
	require.NoError(t, err)
	assert.False(t, joined)

	going, err := f.registry.IsGoing(raid.ID, "user1")
	require.NoError(t, err)
	assert.True(t, going)

	require.NoError(t, f.registry.Leave(raid.ID, "user1"))
	going, err = f.registry.IsGoing(raid.ID, "user1")
	require.NoError(t, err)
	assert.False(t, going)
}

func TestAdjustExtraClampsAtZero(t *testing.T) {
	f := newFixture(t)
	raid, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(10*time.Minute), time.Time{})
	require.NoError(t, err)

	_, err = f.registry.Join(raid.ID, "user1", 0)
	require.NoError(t, err)

	// Decrementing at zero changes nothing
	value, changed, err := f.registry.AdjustExtra(raid.ID, "user1", -1)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, value)

	value, changed, err = f.registry.AdjustExtra(raid.ID, "user1", 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, value)

	// Without an attendance row there is nothing to adjust
	_, _, err = f.registry.AdjustExtra(raid.ID, "stranger", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetExtraCreatesAttendance(t *testing.T) {
	f := newFixture(t)
	raid, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(10*time.Minute), time.Time{})
	require.NoError(t, err)

	require.NoError(t, f.registry.SetExtra(raid.ID, "user1", 2))
	attendance, err := f.registry.Attendance(raid.ID)
	require.NoError(t, err)
	require.Len(t, attendance, 1)
	assert.Equal(t, 2, attendance[0].Extra)

	require.NoError(t, f.registry.SetExtra(raid.ID, "user1", -5))
	attendance, err = f.registry.Attendance(raid.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, attendance[0].Extra)
}

func TestNextExpiring(t *testing.T) {
	f := newFixture(t)

	next, err := f.registry.NextExpiring()
	require.NoError(t, err)
	assert.Nil(t, next)

	late, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(8*time.Hour), time.Time{})
	require.NoError(t, err)
	early, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(10*time.Minute), time.Time{})
	require.NoError(t, err)

	next, err = f.registry.NextExpiring()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, early.ID, next.ID)

	// Done raids no longer expire
	require.NoError(t, f.registry.SetDone(early.ID, true))
	next, err = f.registry.NextExpiring()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, late.ID, next.ID)
}

func TestExpiredOpen(t *testing.T) {
	f := newFixture(t)

	past, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(-2*time.Hour), time.Time{})
	require.NoError(t, err)
	_, err = f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(8*time.Hour), time.Time{})
	require.NoError(t, err)

	expired, err := f.registry.ExpiredOpen(time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, past.ID, expired[0].ID)
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t)
	raid, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(10*time.Minute), time.Time{})
	require.NoError(t, err)

	_, err = f.registry.Join(raid.ID, "user1", 1)
	require.NoError(t, err)
	_, err = f.registry.AddMirror(raid.ID, "guild1", "chan1", "msg1")
	require.NoError(t, err)

	require.NoError(t, f.registry.Delete(raid.ID))

	_, err = f.registry.Get(raid.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.registry.MirrorByMessage("chan1", "msg1")
	assert.ErrorIs(t, err, ErrNotFound)
	attendance, err := f.registry.Attendance(raid.ID)
	require.NoError(t, err)
	assert.Empty(t, attendance)
}

func TestListeners(t *testing.T) {
	f := newFixture(t)

	var kinds []ChangeKind
	f.registry.AddListener(func(raidID int64, kind ChangeKind) {
		kinds = append(kinds, kind)
	})

	raid, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(10*time.Minute), time.Time{})
	require.NoError(t, err)
	require.NoError(t, f.registry.SetEnd(raid.ID, raid.EndTime.Add(10*time.Minute)))
	require.NoError(t, f.registry.SetDone(raid.ID, true))
	require.NoError(t, f.registry.Delete(raid.ID))

	assert.Equal(t, []ChangeKind{ChangeCreated, ChangeTimeEdited, ChangeDoneToggled, ChangeDeleted}, kinds)
}

func TestGymStats(t *testing.T) {
	f := newFixture(t)

	r1, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(-2*time.Hour), time.Time{})
	require.NoError(t, err)
	r2, err := f.registry.Create(f.gym.ID, &f.tyranitar.ID, nil, startAt(8*time.Hour), time.Time{})
	require.NoError(t, err)

	_, err = f.registry.Join(r1.ID, "alice", 2)
	require.NoError(t, err)
	_, err = f.registry.Join(r1.ID, "bob", 0)
	require.NoError(t, err)
	_, err = f.registry.Join(r2.ID, "alice", 0)
	require.NoError(t, err)

	stats, err := f.registry.GymStats(f.gym.ID, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Raids)
	assert.Equal(t, 5, stats.Visits)
	assert.Equal(t, 2, stats.Individuals)
	assert.Equal(t, 2, stats.Extras)

	stats, err = f.registry.GymStats(f.gym.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Raids)
}
