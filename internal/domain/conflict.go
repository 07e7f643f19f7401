package domain

import (
	"time"

	"github.com/google/uuid"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports whether candidate and existing share any instant.
// Intervals that only touch (candidate.End == existing.Start) do not overlap.
func Overlaps(candidate, existing Interval) bool {
	return candidate.Start.Before(existing.End) && candidate.End.After(existing.Start)
}

// HasConflict reports whether candidate overlaps any active appointment in
// appts other than the one identified by excludeID. Pass uuid.Nil to check
// against every appointment.
func HasConflict(candidate Interval, appts []Appointment, excludeID uuid.UUID) bool {
	for _, a := range appts {
		if excludeID != uuid.Nil && a.ID == excludeID {
			continue
		}
		if !a.Status.Active() {
			continue
		}
		if Overlaps(candidate, a.Interval()) {
			return true
		}
	}
	return false
}
