// Package raid owns every raid, gym, pokemon, attendance and mirror
// mutation. All writes go through the Registry so concurrent events on
// the same raid are applied in arrival order.
package raid

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/azelphur/ekpogo/internal/storage"
	"github.com/azelphur/ekpogo/internal/timeparse"
)

// ChangeKind describes a registry mutation relevant to observers
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeTimeEdited
	ChangeDoneToggled
	ChangeDeleted
)

// Listener is notified after a raid change that can move the next
// expiry target
type Listener func(raidID int64, kind ChangeKind)

// Registry is the single mutation authority for raid state
type Registry struct {
	repo *storage.Repository

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	listenerMu sync.RWMutex
	listeners  []Listener
}

// NewRegistry creates a registry over the repository
func NewRegistry(repo *storage.Repository) *Registry {
	return &Registry{
		repo:  repo,
		locks: make(map[int64]*sync.Mutex),
	}
}

// AddListener registers a change listener. Listeners run synchronously
// after the mutation commits.
func (r *Registry) AddListener(l Listener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(raidID int64, kind ChangeKind) {
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	for _, l := range r.listeners {
		l(raidID, kind)
	}
}

// LockRaid serializes work on one raid. The returned function releases
// the lock. Events for the same raid must be processed in arrival
// order; events for different raids may interleave.
func (r *Registry) LockRaid(raidID int64) func() {
	r.mu.Lock()
	lock, ok := r.locks[raidID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[raidID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (r *Registry) dropLock(raidID int64) {
	r.mu.Lock()
	delete(r.locks, raidID)
	r.mu.Unlock()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Create opens a new raid on a gym. Either pokemonID or level must be
// given; when the pokemon has a fixed raid level and level is nil, the
// fixed level is used. A zero end time defaults to start plus the
// despawn window. Creation is rejected with a DuplicateError when the
// gym already has an open raid whose expiry window overlaps the new
// raid's window.
func (r *Registry) Create(gymID int64, pokemonID *int64, level *int, start, end time.Time) (*storage.Raid, error) {
	if _, err := r.repo.GetGym(gymID); err != nil {
		return nil, notFound(err)
	}

	if pokemonID != nil {
		pokemon, err := r.repo.GetPokemon(*pokemonID)
		if err != nil {
			return nil, notFound(err)
		}
		if level == nil {
			level = pokemon.RaidLevel
		}
	}
	if pokemonID == nil && level == nil {
		return nil, ErrMissingTier
	}

	if end.IsZero() {
		end = start.Add(timeparse.DespawnWindow)
	}
	if end.Before(start) {
		return nil, ErrInvalidWindow
	}

	existing, err := r.repo.OpenRaidsOnGym(gymID)
	if err != nil {
		return nil, err
	}
	window := timeparse.HatchWindow + timeparse.DespawnWindow
	for _, other := range existing {
		if !start.After(other.EndTime.Add(window)) && !end.Before(other.EndTime.Add(-window)) {
			return nil, &DuplicateError{Existing: other}
		}
	}

	raid := &storage.Raid{
		PokemonID: pokemonID,
		GymID:     gymID,
		Level:     level,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
	}
	if err := r.repo.CreateRaid(raid); err != nil {
		return nil, err
	}
	r.notify(raid.ID, ChangeCreated)
	return raid, nil
}

// Get returns a raid by ID
func (r *Registry) Get(raidID int64) (*storage.Raid, error) {
	raid, err := r.repo.GetRaid(raidID)
	return raid, notFound(err)
}

// Gym returns a gym by ID
func (r *Registry) Gym(gymID int64) (*storage.Gym, error) {
	gym, err := r.repo.GetGym(gymID)
	return gym, notFound(err)
}

// Pokemon returns a pokemon by ID
func (r *Registry) Pokemon(pokemonID int64) (*storage.Pokemon, error) {
	pokemon, err := r.repo.GetPokemon(pokemonID)
	return pokemon, notFound(err)
}

// SetStart moves a raid's start time, pushing the end time out when
// the start would pass it
func (r *Registry) SetStart(raidID int64, start time.Time) error {
	raid, err := r.repo.GetRaid(raidID)
	if err != nil {
		return notFound(err)
	}
	end := raid.EndTime
	if end.Before(start) {
		end = start.Add(timeparse.DespawnWindow)
	}
	if err := r.repo.UpdateRaidTimes(raidID, start, end); err != nil {
		return err
	}
	r.notify(raidID, ChangeTimeEdited)
	return nil
}

// SetEnd moves a raid's end time. The end must not precede the start.
func (r *Registry) SetEnd(raidID int64, end time.Time) error {
	raid, err := r.repo.GetRaid(raidID)
	if err != nil {
		return notFound(err)
	}
	if end.Before(raid.StartTime) {
		return ErrInvalidWindow
	}
	if err := r.repo.UpdateRaidTimes(raidID, raid.StartTime, end); err != nil {
		return err
	}
	r.notify(raidID, ChangeTimeEdited)
	return nil
}

// NudgeStart shifts a raid's start time by delta, keeping the end time
// in step when the shift would invert the window
func (r *Registry) NudgeStart(raidID int64, delta time.Duration) error {
	raid, err := r.repo.GetRaid(raidID)
	if err != nil {
		return notFound(err)
	}
	return r.SetStart(raidID, raid.StartTime.Add(delta))
}

// SetPokemon assigns a pokemon to a raid, keeping the explicit level
// when one was set and falling back to the pokemon's fixed level
func (r *Registry) SetPokemon(raidID, pokemonID int64) error {
	raid, err := r.repo.GetRaid(raidID)
	if err != nil {
		return notFound(err)
	}
	pokemon, err := r.repo.GetPokemon(pokemonID)
	if err != nil {
		return notFound(err)
	}
	level := raid.Level
	if level == nil {
		level = pokemon.RaidLevel
	}
	return r.repo.UpdateRaidPokemon(raidID, &pokemon.ID, level)
}

// SetLevel assigns an explicit tier to a raid
func (r *Registry) SetLevel(raidID int64, level int) error {
	raid, err := r.repo.GetRaid(raidID)
	if err != nil {
		return notFound(err)
	}
	return r.repo.UpdateRaidPokemon(raidID, raid.PokemonID, &level)
}

// SetGym moves a raid to another gym
func (r *Registry) SetGym(raidID, gymID int64) error {
	if _, err := r.repo.GetRaid(raidID); err != nil {
		return notFound(err)
	}
	if _, err := r.repo.GetGym(gymID); err != nil {
		return notFound(err)
	}
	return r.repo.UpdateRaidGym(raidID, gymID)
}

// SetDone sets a raid's completion flag
func (r *Registry) SetDone(raidID int64, done bool) error {
	if _, err := r.repo.GetRaid(raidID); err != nil {
		return notFound(err)
	}
	if err := r.repo.UpdateRaidDone(raidID, done); err != nil {
		return err
	}
	r.notify(raidID, ChangeDoneToggled)
	return nil
}

// Join marks a user as going to a raid. Returns false without mutating
// anything when the user already joined.
func (r *Registry) Join(raidID int64, userID string, extra int) (bool, error) {
	if _, err := r.repo.GetRaid(raidID); err != nil {
		return false, notFound(err)
	}
	if _, err := r.repo.GetAttendance(raidID, userID); err == nil {
		return false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if extra < 0 {
		extra = 0
	}
	return true, r.repo.CreateAttendance(&storage.Attendance{
		RaidID: raidID,
		UserID: userID,
		Extra:  extra,
	})
}

// Leave removes a user's attendance from a raid
func (r *Registry) Leave(raidID int64, userID string) error {
	attendance, err := r.repo.GetAttendance(raidID, userID)
	if err != nil {
		return notFound(err)
	}
	return r.repo.DeleteAttendance(attendance.ID)
}

// IsGoing reports whether a user has an attendance row on a raid
func (r *Registry) IsGoing(raidID int64, userID string) (bool, error) {
	_, err := r.repo.GetAttendance(raidID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AdjustExtra shifts a user's extra headcount by delta, clamped at
// zero. Returns the new value and whether anything changed; a
// decrement at zero is a no-op.
func (r *Registry) AdjustExtra(raidID int64, userID string, delta int) (int, bool, error) {
	attendance, err := r.repo.GetAttendance(raidID, userID)
	if err != nil {
		return 0, false, notFound(err)
	}
	next := attendance.Extra + delta
	if next < 0 {
		next = 0
	}
	if next == attendance.Extra {
		return next, false, nil
	}
	return next, true, r.repo.UpdateAttendanceExtra(attendance.ID, next)
}

// SetExtra overwrites a user's extra headcount, creating the
// attendance row if needed
func (r *Registry) SetExtra(raidID int64, userID string, extra int) error {
	if extra < 0 {
		extra = 0
	}
	attendance, err := r.repo.GetAttendance(raidID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := r.Join(raidID, userID, extra)
		return err
	}
	if err != nil {
		return err
	}
	return r.repo.UpdateAttendanceExtra(attendance.ID, extra)
}

// Attendance returns all attendance rows for a raid
func (r *Registry) Attendance(raidID int64) ([]*storage.Attendance, error) {
	return r.repo.AttendanceByRaid(raidID)
}

// AddMirror registers a (channel, message) pair as a mirror of a raid
func (r *Registry) AddMirror(raidID int64, guildID, channelID, messageID string) (*storage.Mirror, error) {
	if _, err := r.repo.GetRaid(raidID); err != nil {
		return nil, notFound(err)
	}
	mirror := &storage.Mirror{
		GuildID:   guildID,
		ChannelID: channelID,
		MessageID: messageID,
		RaidID:    raidID,
	}
	if err := r.repo.CreateMirror(mirror); err != nil {
		return nil, err
	}
	return mirror, nil
}

// RemoveMirror deregisters the mirror bound to a (channel, message)
// pair
func (r *Registry) RemoveMirror(channelID, messageID string) error {
	mirror, err := r.repo.GetMirrorByMessage(channelID, messageID)
	if err != nil {
		return notFound(err)
	}
	return r.repo.DeleteMirror(mirror.ID)
}

// MirrorByMessage finds the mirror bound to a (channel, message) pair
func (r *Registry) MirrorByMessage(channelID, messageID string) (*storage.Mirror, error) {
	mirror, err := r.repo.GetMirrorByMessage(channelID, messageID)
	return mirror, notFound(err)
}

// Mirrors returns all mirrors of a raid
func (r *Registry) Mirrors(raidID int64) ([]*storage.Mirror, error) {
	return r.repo.MirrorsByRaid(raidID)
}

// NextExpiring returns the open raid with the earliest end time, or
// nil when no open raid exists
func (r *Registry) NextExpiring() (*storage.Raid, error) {
	raid, err := r.repo.OpenRaidWithEarliestEnd()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return raid, err
}

// ExpiredOpen returns every open raid whose end time is at or before
// now
func (r *Registry) ExpiredOpen(now time.Time) ([]*storage.Raid, error) {
	return r.repo.OpenRaidsEndedBefore(now)
}

// Delete removes a raid and cascades to its attendance and mirror rows
func (r *Registry) Delete(raidID int64) error {
	if _, err := r.repo.GetRaid(raidID); err != nil {
		return notFound(err)
	}
	if err := r.repo.DeleteRaidCascade(raidID); err != nil {
		return err
	}
	r.dropLock(raidID)
	r.notify(raidID, ChangeDeleted)
	return nil
}

// Stats aggregates raid activity on a gym since a date
type Stats struct {
	Raids       int
	Visits      int
	Individuals int
	Extras      int
}

// GymStats computes attendance statistics for a gym since a date
func (r *Registry) GymStats(gymID int64, since time.Time) (*Stats, error) {
	raids, err := r.repo.RaidsOnGymSince(gymID, since)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Raids: len(raids)}
	individuals := make(map[string]struct{})
	for _, raid := range raids {
		attendance, err := r.repo.AttendanceByRaid(raid.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range attendance {
			individuals[a.UserID] = struct{}{}
			stats.Visits += 1 + a.Extra
			stats.Extras += a.Extra
		}
	}
	stats.Individuals = len(individuals)
	return stats, nil
}
