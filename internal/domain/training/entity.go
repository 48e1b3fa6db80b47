// Package training contains the session log: validated, immutable training
// entries recorded per user. This is a pure domain layer with zero external
// dependencies besides the shared kernel.
package training

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/followme/followme-hub/internal/domain/shared"
)

// MaxNoteLength bounds the free-text note attached to an entry.
const MaxNoteLength = 500

// MaxDistanceKm bounds a single session. Multi-day ultra events stay well
// below it.
const MaxDistanceKm = 1000

// EntryID uniquely identifies a training entry.
type EntryID string

// IsValid checks if the entry ID is valid.
func (e EntryID) IsValid() bool {
	return e != ""
}

// String returns the string representation of EntryID.
func (e EntryID) String() string {
	return string(e)
}

// ActivityType is the kind of training performed.
type ActivityType string

const (
	ActivityRun   ActivityType = "run"
	ActivityBike  ActivityType = "bike"
	ActivityWalk  ActivityType = "walk"
	ActivitySki   ActivityType = "ski"
	ActivityOther ActivityType = "other"
)

// AllActivityTypes lists the supported activities in display order.
var AllActivityTypes = []ActivityType{ActivityRun, ActivityBike, ActivityWalk, ActivitySki, ActivityOther}

// IsValid reports whether the activity type belongs to the supported set.
func (a ActivityType) IsValid() bool {
	switch a {
	case ActivityRun, ActivityBike, ActivityWalk, ActivitySki, ActivityOther:
		return true
	}
	return false
}

// String returns the string representation of ActivityType.
func (a ActivityType) String() string {
	return string(a)
}

// ParseActivityType normalizes user input into an ActivityType.
func ParseActivityType(s string) (ActivityType, error) {
	a := ActivityType(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", shared.WrapError("training", "ParseActivityType", shared.ErrValidation,
			fmt.Sprintf("unsupported activity type %q", s), shared.ErrUnknownActivity)
	}
	return a, nil
}

// TrainingEntry is one logged training session. Entries are immutable once
// stored: corrections are a delete followed by a new entry.
type TrainingEntry struct {
	ID         EntryID
	UserID     shared.UserID
	Timestamp  time.Time
	DistanceKm float64
	Activity   ActivityType
	Note       string
}

// Draft holds caller-supplied fields for a new entry. ID and Timestamp are
// optional and assigned on append when absent.
type Draft struct {
	ID         EntryID
	UserID     shared.UserID
	Timestamp  time.Time
	DistanceKm float64
	Activity   ActivityType
	Note       string
}

// Validate checks the draft without touching any state.
func (d Draft) Validate() error {
	if !d.UserID.IsValid() {
		return shared.ErrEmptyUserID
	}
	if math.IsNaN(d.DistanceKm) || math.IsInf(d.DistanceKm, 0) {
		return shared.ValidationError("training", "Validate", "distance must be a finite number")
	}
	if d.DistanceKm <= 0 {
		return shared.ErrNonPositiveDistance
	}
	if d.DistanceKm > MaxDistanceKm {
		return shared.WrapError("training", "Validate", shared.ErrValidation,
			fmt.Sprintf("distance must not exceed %d km", MaxDistanceKm), shared.ErrDistanceTooLarge)
	}
	if !d.Activity.IsValid() {
		return shared.WrapError("training", "Validate", shared.ErrValidation,
			fmt.Sprintf("unsupported activity type %q", d.Activity), shared.ErrUnknownActivity)
	}
	if len(d.Note) > MaxNoteLength {
		return shared.ValidationError("training", "Validate", "note exceeds %d characters", MaxNoteLength)
	}
	return nil
}

// NewTrainingEntry validates a draft and fills in missing identity fields.
func NewTrainingEntry(d Draft, newID func() string, now time.Time) (*TrainingEntry, error) {
	d.Note = strings.TrimSpace(d.Note)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if !d.ID.IsValid() {
		d.ID = EntryID(newID())
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = now
	}
	return &TrainingEntry{
		ID:         d.ID,
		UserID:     d.UserID,
		Timestamp:  d.Timestamp.UTC(),
		DistanceKm: d.DistanceKm,
		Activity:   d.Activity,
		Note:       d.Note,
	}, nil
}

// SortEntries orders entries by timestamp ascending; ties are broken by ID so
// replays are deterministic.
func SortEntries(entries []TrainingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].ID < entries[j].ID
	})
}

// Filter returns entries matching the predicate, preserving order.
func Filter(entries []TrainingEntry, keep func(TrainingEntry) bool) []TrainingEntry {
	out := make([]TrainingEntry, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// TotalKm sums raw distance, optionally restricted to one activity.
func TotalKm(entries []TrainingEntry, activity ActivityType) float64 {
	var total float64
	for _, e := range entries {
		if activity != "" && e.Activity != activity {
			continue
		}
		total += e.DistanceKm
	}
	return total
}
