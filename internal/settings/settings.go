// Package settings resolves per-server and per-channel configuration.
// Channel-scoped entries shadow server-scoped entries for the same key.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/azelphur/ekpogo/internal/storage"
)

// ErrInvalidSetting is returned when a key is not in the settings set
var ErrInvalidSetting = errors.New("invalid setting")

// Keys is the fixed set of recognized setting names
var Keys = []string{
	"mirror",
	"mirror_nearby",
	"show_subscriptions",
	"delete_on_done",
	"location",
	"scale",
	"emoji_going",
	"emoji_plus1",
	"emoji_minus1",
	"emoji_command",
	"edit_time",
	"emoji_add_time",
	"emoji_remove_time",
	"emoji_done",
	"emoji_mystic",
	"emoji_valor",
	"emoji_instinct",
	"role_mystic",
	"role_valor",
	"role_instinct",
	"enable_subscriptions",
	"log",
	"timezone",
}

// Default reaction symbols, used when a channel binds no custom emoji
const (
	DefaultEmojiGoing      = "\U0001F44D" // thumbs up
	DefaultEmojiPlus1      = "⬆"     // up arrow
	DefaultEmojiMinus1     = "⬇"     // down arrow
	DefaultEmojiAddTime    = "⏩"     // fast forward
	DefaultEmojiRemoveTime = "⏪"     // rewind
	DefaultEmojiDone       = "✅"     // check mark
	DefaultEmojiCommand    = "\U0001F44D" // thumbs up
)

// DefaultEditTimeMinutes is the start-time nudge increment
const DefaultEditTimeMinutes = 5

// Scope identifies where a lookup or write applies. An empty ChannelID
// means server scope.
type Scope struct {
	GuildID   string
	ChannelID string
}

// Resolver reads and writes configuration entries
type Resolver struct {
	repo *storage.Repository
}

// NewResolver creates a resolver backed by the repository
func NewResolver(repo *storage.Repository) *Resolver {
	return &Resolver{repo: repo}
}

// valid reports whether key is in the settings set
func valid(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Get resolves a key for a scope: channel entry, then server entry,
// then the caller-supplied default.
func (r *Resolver) Get(scope Scope, key, def string) string {
	if scope.ChannelID != "" {
		if entry, err := r.repo.GetConfigEntry(scope.GuildID, scope.ChannelID, key); err == nil {
			return entry.Value
		}
	}
	if entry, err := r.repo.GetConfigEntry(scope.GuildID, "", key); err == nil {
		return entry.Value
	}
	return def
}

// GetScoped reads the entry at exactly the given scope, without
// falling back. Returns ("", false) when no entry exists.
func (r *Resolver) GetScoped(scope Scope, key string) (string, bool) {
	entry, err := r.repo.GetConfigEntry(scope.GuildID, scope.ChannelID, key)
	if err != nil {
		return "", false
	}
	return entry.Value, true
}

// Set upserts a key at the given scope
func (r *Resolver) Set(scope Scope, key, value string) error {
	if !valid(key) {
		return fmt.Errorf("%w: %s", ErrInvalidSetting, key)
	}
	return r.repo.SetConfigEntry(scope.GuildID, scope.ChannelID, key, value)
}

// Delete removes a key at the given scope
func (r *Resolver) Delete(scope Scope, key string) error {
	if !valid(key) {
		return fmt.Errorf("%w: %s", ErrInvalidSetting, key)
	}
	err := r.repo.DeleteConfigEntry(scope.GuildID, scope.ChannelID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// GetBool interprets a yes/no valued key
func (r *Resolver) GetBool(scope Scope, key string, def bool) bool {
	defStr := "no"
	if def {
		defStr = "yes"
	}
	value := r.Get(scope, key, defStr)
	switch strings.ToLower(value) {
	case "yes", "true", "1", "on":
		return true
	default:
		return false
	}
}

// GetMinutes interprets an integer-minutes valued key
func (r *Resolver) GetMinutes(scope Scope, key string, def int) time.Duration {
	value := r.Get(scope, key, strconv.Itoa(def))
	minutes, err := strconv.Atoi(value)
	if err != nil {
		minutes = def
	}
	return time.Duration(minutes) * time.Minute
}

// GetLocation interprets the "location" key as a "lat,lon" pair.
// Returns false when the setting is absent or malformed.
func (r *Resolver) GetLocation(scope Scope) (lat, lon float64, ok bool) {
	value := r.Get(scope, "location", "")
	if value == "" {
		return 0, 0, false
	}
	parts := strings.Split(strings.ReplaceAll(value, " ", ""), ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// GetScaleKm interprets the "scale" key, e.g. "2km". Defaults to 2km.
func (r *Resolver) GetScaleKm(scope Scope) float64 {
	value := strings.TrimSuffix(r.Get(scope, "scale", "2km"), "km")
	km, err := strconv.ParseFloat(value, 64)
	if err != nil || km <= 0 {
		return 2
	}
	return km
}

// GetTimezone resolves the display timezone for a scope, falling back
// to the supplied process default
func (r *Resolver) GetTimezone(scope Scope, def *time.Location) *time.Location {
	value := r.Get(scope, "timezone", "")
	if value == "" {
		return def
	}
	loc, err := time.LoadLocation(value)
	if err != nil {
		return def
	}
	return loc
}

// Emoji is the six-symbol reaction binding for a channel
type Emoji struct {
	Going      string
	Plus1      string
	Minus1     string
	AddTime    string
	RemoveTime string
	Done       string
}

// GetEmoji resolves the reaction symbol bindings for a scope
func (r *Resolver) GetEmoji(scope Scope) Emoji {
	return Emoji{
		Going:      r.Get(scope, "emoji_going", DefaultEmojiGoing),
		Plus1:      r.Get(scope, "emoji_plus1", DefaultEmojiPlus1),
		Minus1:     r.Get(scope, "emoji_minus1", DefaultEmojiMinus1),
		AddTime:    r.Get(scope, "emoji_add_time", DefaultEmojiAddTime),
		RemoveTime: r.Get(scope, "emoji_remove_time", DefaultEmojiRemoveTime),
		Done:       r.Get(scope, "emoji_done", DefaultEmojiDone),
	}
}

// All returns the six bound symbols in the order they are added to a
// message
func (e Emoji) All() []string {
	return []string{e.Going, e.Plus1, e.Minus1, e.AddTime, e.RemoveTime, e.Done}
}

// MirrorChannels returns the channel IDs in a guild whose given key is
// set to yes
func (r *Resolver) MirrorChannels(guildID, key string) ([]string, error) {
	entries, err := r.repo.ChannelConfigEntries(guildID, key)
	if err != nil {
		return nil, err
	}
	var channels []string
	for _, entry := range entries {
		if strings.EqualFold(entry.Value, "yes") {
			channels = append(channels, entry.ChannelID)
		}
	}
	return channels, nil
}

// ChannelsWithKey returns all channel IDs in a guild that have any
// value set for a key
func (r *Resolver) ChannelsWithKey(guildID, key string) ([]string, error) {
	entries, err := r.repo.ChannelConfigEntries(guildID, key)
	if err != nil {
		return nil, err
	}
	channels := make([]string, 0, len(entries))
	for _, entry := range entries {
		channels = append(channels, entry.ChannelID)
	}
	return channels, nil
}
