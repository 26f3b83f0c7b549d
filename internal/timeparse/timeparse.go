// Package timeparse converts free-form raid time expressions into
// absolute instants.
package timeparse

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Raid window constants: an egg hatches within HatchWindow of being
// reported and the boss despawns DespawnWindow after hatching.
const (
	HatchWindow   = 60 * time.Minute
	DespawnWindow = 45 * time.Minute
)

// HelpString is shown to users whose input failed to parse
const HelpString = "Invalid time specified, please use HH:MM, HHMM, HH.MM, Xm or \"YYYY-MM-DD HH:MM\""

// ErrInvalidTime is returned when no supported grammar matches
var ErrInvalidTime = errors.New("invalid time format")

// Parse converts text into an absolute instant in UTC. Supported
// grammars, tried in order:
//
//  1. "<N>@<rest>": parse <rest>, then add N minutes.
//  2. Bare integer up to 60, optional trailing "m"/"mins": minutes
//     from now.
//  3. 24-hour HH:MM, HHMM or HH.MM in loc, rolled to the next day if
//     already past; reinterpreted as 12-hour with an assumed "pm" when
//     the result lands outside the raid window.
//  4. Absolute "YYYY-MM-DD HH:MM" in loc.
func Parse(text string, now time.Time, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\"", ""))
	if text == "" {
		return time.Time{}, ErrInvalidTime
	}

	if t, ok := parseOffset(text, now, loc); ok {
		return t, nil
	}
	if t, ok := parseMinutes(text, now); ok {
		return t, nil
	}
	if t, ok := parseClock(text, now, loc); ok {
		return t, nil
	}
	if t, ok := parseAbsolute(text, loc); ok {
		return t, nil
	}

	return time.Time{}, ErrInvalidTime
}

// parseOffset handles "<N>@<rest>" by parsing <rest> recursively and
// adding N minutes to the result.
func parseOffset(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	idx := strings.Index(text, "@")
	if idx <= 0 {
		return time.Time{}, false
	}
	minutes, err := strconv.Atoi(text[:idx])
	if err != nil || minutes < 0 {
		return time.Time{}, false
	}
	base, err := Parse(text[idx+1:], now, loc)
	if err != nil {
		return time.Time{}, false
	}
	return base.Add(time.Duration(minutes) * time.Minute), true
}

// parseMinutes handles a bare minute count up to 60
func parseMinutes(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(text)
	lower = strings.TrimSuffix(lower, "mins")
	lower = strings.TrimSuffix(lower, "m")
	minutes, err := strconv.Atoi(lower)
	if err != nil || minutes < 0 || minutes > 60 {
		return time.Time{}, false
	}
	return now.UTC().Add(time.Duration(minutes) * time.Minute), true
}

// parseClock handles 24-hour HH:MM, HHMM and HH.MM wall-clock times
func parseClock(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	hour, minute, ok := splitClock(text)
	if !ok {
		return time.Time{}, false
	}

	t := nextWallTime(hour, minute, now, loc)

	// A 24-hour reading far outside the raid window usually means the
	// user gave a 12-hour time without a pm suffix.
	if t.Sub(now) > HatchWindow+DespawnWindow && hour >= 1 && hour < 12 {
		pm := nextWallTime(hour+12, minute, now, loc)
		if pm.Sub(now) <= HatchWindow+DespawnWindow {
			t = pm
		}
	}

	return t.UTC(), true
}

// splitClock extracts hour and minute from HH:MM, HHMM or HH.MM
func splitClock(text string) (hour, minute int, ok bool) {
	var hStr, mStr string
	switch {
	case strings.Contains(text, ":"):
		parts := strings.SplitN(text, ":", 2)
		hStr, mStr = parts[0], parts[1]
	case strings.Contains(text, "."):
		parts := strings.SplitN(text, ".", 2)
		hStr, mStr = parts[0], parts[1]
	case len(text) == 3:
		hStr, mStr = text[:1], text[1:]
	case len(text) == 4:
		hStr, mStr = text[:2], text[2:]
	default:
		return 0, 0, false
	}

	h, err := strconv.Atoi(hStr)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(mStr)
	if err != nil || len(mStr) != 2 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// nextWallTime returns the next instant at the given wall-clock time
// in loc, today or tomorrow relative to now
func nextWallTime(hour, minute int, now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if t.Before(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// parseAbsolute handles "YYYY-MM-DD HH:MM"
func parseAbsolute(text string, loc *time.Location) (time.Time, bool) {
	t, err := time.ParseInLocation("2006-01-02 15:04", text, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
