// Package search finds gyms and pokemon from free-form user text.
// Absence of a match is a nil result, not an error.
package search

import (
	"context"
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/azelphur/ekpogo/internal/storage"
)

// LatLon is a geographic point
type LatLon struct {
	Lat float64
	Lon float64
}

// Finder resolves free-form names to gym and pokemon records. A near
// point, when given, boosts gyms close to it with falloff over
// scaleKm.
type Finder interface {
	FindGym(ctx context.Context, text string, near *LatLon, scaleKm float64) (*storage.Gym, error)
	FindPokemon(ctx context.Context, text string) (*storage.Pokemon, error)
}

// StoreFinder is a Finder over the repository, scoring candidates by
// normalized edit distance with a gaussian proximity boost
type StoreFinder struct {
	repo *storage.Repository
}

// NewStoreFinder creates a repository-backed finder
func NewStoreFinder(repo *storage.Repository) *StoreFinder {
	return &StoreFinder{repo: repo}
}

// minScore is the lowest name similarity accepted as a match,
// roughly two edits on a typical gym name
const minScore = 0.5

// FindGym returns the best-matching gym for text, or nil when nothing
// scores above the match threshold
func (f *StoreFinder) FindGym(ctx context.Context, text string, near *LatLon, scaleKm float64) (*storage.Gym, error) {
	gyms, err := f.repo.ListGyms()
	if err != nil {
		return nil, err
	}

	var best *storage.Gym
	bestScore := 0.0
	for _, gym := range gyms {
		score := nameScore(text, gym.Title)
		if score < minScore {
			continue
		}
		if near != nil && scaleKm > 0 {
			d := DistanceKm(near.Lat, near.Lon, gym.Latitude, gym.Longitude)
			score *= math.Exp(-(d * d) / (2 * scaleKm * scaleKm))
		}
		if score > bestScore {
			best = gym
			bestScore = score
		}
	}
	return best, nil
}

// FindPokemon returns the best-matching pokemon for text, or nil when
// nothing scores above the match threshold
func (f *StoreFinder) FindPokemon(ctx context.Context, text string) (*storage.Pokemon, error) {
	pokemon, err := f.repo.ListPokemon()
	if err != nil {
		return nil, err
	}

	var best *storage.Pokemon
	bestScore := 0.0
	for _, p := range pokemon {
		score := nameScore(text, p.Name)
		if score < minScore {
			continue
		}
		if score > bestScore {
			best = p
			bestScore = score
		}
	}
	return best, nil
}

// nameScore rates how well query matches name, 1.0 for an exact
// case-insensitive match falling off with edit distance
func nameScore(query, name string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	n := strings.ToLower(strings.TrimSpace(name))
	if q == n {
		return 1
	}
	longest := len(q)
	if len(n) > longest {
		longest = len(n)
	}
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(q, n)
	return 1 - float64(d)/float64(longest)
}

// earthRadiusKm is the mean radius used for great-circle distance
const earthRadiusKm = 6371.0

// DistanceKm computes the haversine great-circle distance between two
// points in kilometers
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
