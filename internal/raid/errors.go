package raid

import (
	"errors"
	"fmt"

	"github.com/azelphur/ekpogo/internal/storage"
)

// ErrNotFound is returned when a referenced raid, gym, pokemon,
// mirror or attendance row does not exist
var ErrNotFound = errors.New("not found")

// ErrMissingTier is returned when a raid is created with neither a
// pokemon nor a level
var ErrMissingTier = errors.New("raid needs a pokemon or a level")

// ErrInvalidWindow is returned when a raid's end time precedes its
// start time
var ErrInvalidWindow = errors.New("raid end time before start time")

// DuplicateError reports an attempt to create a raid on a gym that
// already has an open raid in an overlapping window. Existing is the
// conflicting raid so callers can offer it instead.
type DuplicateError struct {
	Existing *storage.Raid
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("raid #%d already open on this gym", e.Existing.ID)
}

// IsDuplicate reports whether err is a DuplicateError, returning the
// conflicting raid when it is
func IsDuplicate(err error) (*storage.Raid, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Existing, true
	}
	return nil, false
}
