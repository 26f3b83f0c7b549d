package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azelphur/ekpogo/internal/storage"
)

func newTestFinder(t *testing.T) (*StoreFinder, *storage.Repository) {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return NewStoreFinder(repo), repo
}

func TestFindGym(t *testing.T) {
	finder, repo := newTestFinder(t)
	ctx := context.Background()

	townHall := &storage.Gym{Title: "Town Hall", Latitude: 51.50, Longitude: -0.12}
	require.NoError(t, repo.CreateGym(townHall))
	require.NoError(t, repo.CreateGym(&storage.Gym{Title: "Clock Tower", Latitude: 51.51, Longitude: -0.13}))

	// Exact match, case-insensitive
	got, err := finder.FindGym(ctx, "town hall", nil, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, townHall.ID, got.ID)

	// A typo still resolves
	got, err = finder.FindGym(ctx, "Town Hal", nil, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, townHall.ID, got.ID)

	// Nothing close enough
	got, err = finder.FindGym(ctx, "zzzzzzzzzz", nil, 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindGymProximityBreaksTies(t *testing.T) {
	finder, repo := newTestFinder(t)
	ctx := context.Background()

	northChurch := &storage.Gym{Title: "St Mary's Church", Latitude: 52.00, Longitude: -0.12}
	southChurch := &storage.Gym{Title: "St Mary's Church", Latitude: 51.00, Longitude: -0.12}
	require.NoError(t, repo.CreateGym(northChurch))
	require.NoError(t, repo.CreateGym(southChurch))

	near := &LatLon{Lat: 51.01, Lon: -0.12}
	got, err := finder.FindGym(ctx, "st marys church", near, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, southChurch.ID, got.ID)
}

func TestFindPokemon(t *testing.T) {
	finder, repo := newTestFinder(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPokemon(&storage.Pokemon{ID: 248, Name: "Tyranitar"}))
	require.NoError(t, repo.UpsertPokemon(&storage.Pokemon{ID: 143, Name: "Snorlax"}))

	got, err := finder.FindPokemon(ctx, "tyranitar")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(248), got.ID)

	got, err = finder.FindPokemon(ctx, "snorlx")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(143), got.ID)

	got, err = finder.FindPokemon(ctx, "qqqqqqqq")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDistanceKm(t *testing.T) {
	t.Parallel()

	// London to Paris is roughly 344km
	d := DistanceKm(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 344, d, 5)

	assert.Zero(t, DistanceKm(51.5, -0.12, 51.5, -0.12))
}
