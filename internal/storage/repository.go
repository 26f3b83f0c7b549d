package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Repository handles all database operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS gyms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title VARCHAR(200) NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			UNIQUE(title, latitude, longitude)
		)`,
		`CREATE TABLE IF NOT EXISTS pokemon (
			id INTEGER PRIMARY KEY,
			name VARCHAR(100) UNIQUE NOT NULL,
			raid_level INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS raids (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pokemon_id INTEGER,
			gym_id INTEGER NOT NULL,
			level INTEGER,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			done INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (pokemon_id) REFERENCES pokemon(id),
			FOREIGN KEY (gym_id) REFERENCES gyms(id)
		)`,
		`CREATE TABLE IF NOT EXISTS mirrors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id VARCHAR(20) NOT NULL,
			channel_id VARCHAR(20) NOT NULL,
			message_id VARCHAR(20) NOT NULL,
			raid_id INTEGER NOT NULL,
			FOREIGN KEY (raid_id) REFERENCES raids(id),
			UNIQUE(channel_id, message_id)
		)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			raid_id INTEGER NOT NULL,
			user_id VARCHAR(20) NOT NULL,
			extra INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (raid_id) REFERENCES raids(id),
			UNIQUE(raid_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS config_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id VARCHAR(20) NOT NULL,
			channel_id VARCHAR(20) NOT NULL DEFAULT '',
			key VARCHAR(50) NOT NULL,
			value TEXT NOT NULL,
			UNIQUE(guild_id, channel_id, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raids_open_end ON raids(done, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_mirrors_raid ON mirrors(raid_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_raid ON attendance(raid_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Gym operations

// CreateGym inserts a new gym
func (r *Repository) CreateGym(g *Gym) error {
	result, err := r.db.Exec(
		`INSERT INTO gyms (title, latitude, longitude) VALUES (?, ?, ?)`,
		g.Title, g.Latitude, g.Longitude,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	g.ID = id
	return nil
}

// GetGym finds a gym by ID
func (r *Repository) GetGym(id int64) (*Gym, error) {
	g := &Gym{}
	err := r.db.QueryRow(
		`SELECT id, title, latitude, longitude FROM gyms WHERE id = ?`, id,
	).Scan(&g.ID, &g.Title, &g.Latitude, &g.Longitude)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetGymByNaturalKey finds a gym by its (title, latitude, longitude) key
func (r *Repository) GetGymByNaturalKey(title string, lat, lon float64) (*Gym, error) {
	g := &Gym{}
	err := r.db.QueryRow(
		`SELECT id, title, latitude, longitude FROM gyms WHERE title = ? AND latitude = ? AND longitude = ?`,
		title, lat, lon,
	).Scan(&g.ID, &g.Title, &g.Latitude, &g.Longitude)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ListGyms returns all gyms
func (r *Repository) ListGyms() ([]*Gym, error) {
	rows, err := r.db.Query(`SELECT id, title, latitude, longitude FROM gyms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gyms []*Gym
	for rows.Next() {
		g := &Gym{}
		if err := rows.Scan(&g.ID, &g.Title, &g.Latitude, &g.Longitude); err != nil {
			return nil, err
		}
		gyms = append(gyms, g)
	}

	return gyms, rows.Err()
}

// DeleteGym removes a gym by ID
func (r *Repository) DeleteGym(id int64) error {
	_, err := r.db.Exec(`DELETE FROM gyms WHERE id = ?`, id)
	return err
}

// Pokemon operations

// UpsertPokemon inserts a pokemon or updates its name and raid level
func (r *Repository) UpsertPokemon(p *Pokemon) error {
	_, err := r.db.Exec(
		`INSERT INTO pokemon (id, name, raid_level) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET id = excluded.id, raid_level = excluded.raid_level`,
		p.ID, p.Name, p.RaidLevel,
	)
	return err
}

// GetPokemon finds a pokemon by ID
func (r *Repository) GetPokemon(id int64) (*Pokemon, error) {
	p := &Pokemon{}
	err := r.db.QueryRow(
		`SELECT id, name, raid_level FROM pokemon WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.RaidLevel)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPokemon returns all pokemon
func (r *Repository) ListPokemon() ([]*Pokemon, error) {
	rows, err := r.db.Query(`SELECT id, name, raid_level FROM pokemon`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pokemon []*Pokemon
	for rows.Next() {
		p := &Pokemon{}
		if err := rows.Scan(&p.ID, &p.Name, &p.RaidLevel); err != nil {
			return nil, err
		}
		pokemon = append(pokemon, p)
	}

	return pokemon, rows.Err()
}

// Raid operations

// CreateRaid inserts a new raid
func (r *Repository) CreateRaid(raid *Raid) error {
	result, err := r.db.Exec(
		`INSERT INTO raids (pokemon_id, gym_id, level, start_time, end_time, done) VALUES (?, ?, ?, ?, ?, ?)`,
		raid.PokemonID, raid.GymID, raid.Level, raid.StartTime.UTC().Unix(), raid.EndTime.UTC().Unix(), boolToInt(raid.Done),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	raid.ID = id
	return nil
}

// GetRaid finds a raid by ID
func (r *Repository) GetRaid(id int64) (*Raid, error) {
	return r.scanRaid(r.db.QueryRow(
		`SELECT id, pokemon_id, gym_id, level, start_time, end_time, done FROM raids WHERE id = ?`, id,
	))
}

// UpdateRaidTimes sets a raid's start and end times
func (r *Repository) UpdateRaidTimes(id int64, start, end time.Time) error {
	_, err := r.db.Exec(
		`UPDATE raids SET start_time = ?, end_time = ? WHERE id = ?`,
		start.UTC().Unix(), end.UTC().Unix(), id,
	)
	return err
}

// UpdateRaidPokemon sets a raid's pokemon and level
func (r *Repository) UpdateRaidPokemon(id int64, pokemonID *int64, level *int) error {
	_, err := r.db.Exec(
		`UPDATE raids SET pokemon_id = ?, level = ? WHERE id = ?`,
		pokemonID, level, id,
	)
	return err
}

// UpdateRaidGym moves a raid to another gym
func (r *Repository) UpdateRaidGym(id, gymID int64) error {
	_, err := r.db.Exec(`UPDATE raids SET gym_id = ? WHERE id = ?`, gymID, id)
	return err
}

// UpdateRaidDone sets a raid's done flag
func (r *Repository) UpdateRaidDone(id int64, done bool) error {
	_, err := r.db.Exec(`UPDATE raids SET done = ? WHERE id = ?`, boolToInt(done), id)
	return err
}

// OpenRaidsOnGym returns all raids on a gym that are not done
func (r *Repository) OpenRaidsOnGym(gymID int64) ([]*Raid, error) {
	return r.queryRaids(
		`SELECT id, pokemon_id, gym_id, level, start_time, end_time, done FROM raids WHERE gym_id = ? AND done = 0`,
		gymID,
	)
}

// OpenRaidWithEarliestEnd returns the not-done raid with the earliest
// end time, or sql.ErrNoRows if no open raid exists
func (r *Repository) OpenRaidWithEarliestEnd() (*Raid, error) {
	return r.scanRaid(r.db.QueryRow(
		`SELECT id, pokemon_id, gym_id, level, start_time, end_time, done FROM raids
		 WHERE done = 0 ORDER BY end_time ASC LIMIT 1`,
	))
}

// OpenRaidsEndedBefore returns all not-done raids whose end time has passed
func (r *Repository) OpenRaidsEndedBefore(t time.Time) ([]*Raid, error) {
	return r.queryRaids(
		`SELECT id, pokemon_id, gym_id, level, start_time, end_time, done FROM raids
		 WHERE done = 0 AND end_time <= ?`,
		t.UTC().Unix(),
	)
}

// RaidsOnGymSince returns all raids on a gym starting at or after the given time
func (r *Repository) RaidsOnGymSince(gymID int64, since time.Time) ([]*Raid, error) {
	return r.queryRaids(
		`SELECT id, pokemon_id, gym_id, level, start_time, end_time, done FROM raids
		 WHERE gym_id = ? AND start_time >= ?`,
		gymID, since.UTC().Unix(),
	)
}

// DeleteRaidCascade removes a raid together with its attendance and
// mirror rows in a single transaction
func (r *Repository) DeleteRaidCascade(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM attendance WHERE raid_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM mirrors WHERE raid_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM raids WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// Mirror operations

// CreateMirror registers a message as a mirror of a raid
func (r *Repository) CreateMirror(m *Mirror) error {
	result, err := r.db.Exec(
		`INSERT INTO mirrors (guild_id, channel_id, message_id, raid_id) VALUES (?, ?, ?, ?)`,
		m.GuildID, m.ChannelID, m.MessageID, m.RaidID,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

// GetMirrorByMessage finds the mirror bound to a (channel, message) pair
func (r *Repository) GetMirrorByMessage(channelID, messageID string) (*Mirror, error) {
	m := &Mirror{}
	err := r.db.QueryRow(
		`SELECT id, guild_id, channel_id, message_id, raid_id FROM mirrors WHERE channel_id = ? AND message_id = ?`,
		channelID, messageID,
	).Scan(&m.ID, &m.GuildID, &m.ChannelID, &m.MessageID, &m.RaidID)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MirrorsByRaid returns all mirrors of a raid
func (r *Repository) MirrorsByRaid(raidID int64) ([]*Mirror, error) {
	rows, err := r.db.Query(
		`SELECT id, guild_id, channel_id, message_id, raid_id FROM mirrors WHERE raid_id = ?`, raidID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mirrors []*Mirror
	for rows.Next() {
		m := &Mirror{}
		if err := rows.Scan(&m.ID, &m.GuildID, &m.ChannelID, &m.MessageID, &m.RaidID); err != nil {
			return nil, err
		}
		mirrors = append(mirrors, m)
	}

	return mirrors, rows.Err()
}

// DeleteMirror removes a mirror by ID
func (r *Repository) DeleteMirror(id int64) error {
	_, err := r.db.Exec(`DELETE FROM mirrors WHERE id = ?`, id)
	return err
}

// DeleteMirrorsByRaidChannel removes all mirrors of a raid in one channel
func (r *Repository) DeleteMirrorsByRaidChannel(raidID int64, channelID string) error {
	_, err := r.db.Exec(`DELETE FROM mirrors WHERE raid_id = ? AND channel_id = ?`, raidID, channelID)
	return err
}

// Attendance operations

// CreateAttendance inserts an attendance row
func (r *Repository) CreateAttendance(a *Attendance) error {
	result, err := r.db.Exec(
		`INSERT INTO attendance (raid_id, user_id, extra) VALUES (?, ?, ?)`,
		a.RaidID, a.UserID, a.Extra,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

// GetAttendance finds the attendance row for a (raid, user) pair
func (r *Repository) GetAttendance(raidID int64, userID string) (*Attendance, error) {
	a := &Attendance{}
	err := r.db.QueryRow(
		`SELECT id, raid_id, user_id, extra FROM attendance WHERE raid_id = ? AND user_id = ?`,
		raidID, userID,
	).Scan(&a.ID, &a.RaidID, &a.UserID, &a.Extra)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// AttendanceByRaid returns all attendance rows for a raid
func (r *Repository) AttendanceByRaid(raidID int64) ([]*Attendance, error) {
	rows, err := r.db.Query(
		`SELECT id, raid_id, user_id, extra FROM attendance WHERE raid_id = ?`, raidID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attendance []*Attendance
	for rows.Next() {
		a := &Attendance{}
		if err := rows.Scan(&a.ID, &a.RaidID, &a.UserID, &a.Extra); err != nil {
			return nil, err
		}
		attendance = append(attendance, a)
	}

	return attendance, rows.Err()
}

// UpdateAttendanceExtra sets the extra headcount on an attendance row
func (r *Repository) UpdateAttendanceExtra(id int64, extra int) error {
	_, err := r.db.Exec(`UPDATE attendance SET extra = ? WHERE id = ?`, extra, id)
	return err
}

// DeleteAttendance removes an attendance row by ID
func (r *Repository) DeleteAttendance(id int64) error {
	_, err := r.db.Exec(`DELETE FROM attendance WHERE id = ?`, id)
	return err
}

// Config operations

// GetConfigEntry finds the entry for a scope and key. Channel scope
// uses a non-empty channel ID, server scope an empty one.
func (r *Repository) GetConfigEntry(guildID, channelID, key string) (*ConfigEntry, error) {
	e := &ConfigEntry{}
	err := r.db.QueryRow(
		`SELECT id, guild_id, channel_id, key, value FROM config_entries WHERE guild_id = ? AND channel_id = ? AND key = ?`,
		guildID, channelID, key,
	).Scan(&e.ID, &e.GuildID, &e.ChannelID, &e.Key, &e.Value)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// SetConfigEntry creates or updates the entry for a scope and key
func (r *Repository) SetConfigEntry(guildID, channelID, key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO config_entries (guild_id, channel_id, key, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(guild_id, channel_id, key) DO UPDATE SET value = excluded.value`,
		guildID, channelID, key, value,
	)
	return err
}

// DeleteConfigEntry removes the entry for a scope and key
func (r *Repository) DeleteConfigEntry(guildID, channelID, key string) error {
	_, err := r.db.Exec(
		`DELETE FROM config_entries WHERE guild_id = ? AND channel_id = ? AND key = ?`,
		guildID, channelID, key,
	)
	return err
}

// ChannelConfigEntries returns all channel-scoped entries for a key in a guild
func (r *Repository) ChannelConfigEntries(guildID, key string) ([]*ConfigEntry, error) {
	rows, err := r.db.Query(
		`SELECT id, guild_id, channel_id, key, value FROM config_entries WHERE guild_id = ? AND channel_id != '' AND key = ?`,
		guildID, key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*ConfigEntry
	for rows.Next() {
		e := &ConfigEntry{}
		if err := rows.Scan(&e.ID, &e.GuildID, &e.ChannelID, &e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanRaid(row rowScanner) (*Raid, error) {
	raid := &Raid{}
	var start, end int64
	var done int
	if err := row.Scan(&raid.ID, &raid.PokemonID, &raid.GymID, &raid.Level, &start, &end, &done); err != nil {
		return nil, err
	}
	raid.StartTime = time.Unix(start, 0).UTC()
	raid.EndTime = time.Unix(end, 0).UTC()
	raid.Done = done != 0
	return raid, nil
}

func (r *Repository) queryRaids(query string, args ...any) ([]*Raid, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raids []*Raid
	for rows.Next() {
		raid, err := r.scanRaid(rows)
		if err != nil {
			return nil, err
		}
		raids = append(raids, raid)
	}

	return raids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
