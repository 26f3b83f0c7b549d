package storage

import "time"

// Gym is a raid venue. (title, latitude, longitude) is unique.
type Gym struct {
	ID        int64
	Title     string
	Latitude  float64
	Longitude float64
}

// Pokemon is a raid boss species. Name is unique. RaidLevel is the
// fixed tier the species appears at, if it has one.
type Pokemon struct {
	ID        int64
	Name      string
	RaidLevel *int
}

// Raid is a time-boxed event on a gym. PokemonID is nil for eggs, in
// which case Level must be set. Times are stored in UTC.
type Raid struct {
	ID        int64
	PokemonID *int64
	GymID     int64
	Level     *int
	StartTime time.Time
	EndTime   time.Time
	Done      bool
}

// Mirror binds one posted notification message to a raid. A
// (channel, message) pair maps to at most one mirror.
type Mirror struct {
	ID        int64
	GuildID   string
	ChannelID string
	MessageID string
	RaidID    int64
}

// Attendance records one user going to a raid, plus the extra
// headcount they bring. (raid, user) is unique and Extra is never
// negative.
type Attendance struct {
	ID     int64
	RaidID int64
	UserID string
	Extra  int
}

// ConfigEntry is one setting at server scope (ChannelID empty) or
// channel scope. (guild, channel, key) is unique.
type ConfigEntry struct {
	ID        int64
	GuildID   string
	ChannelID string
	Key       string
	Value     string
}
