// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies the owner of a training log. Identity management lives
// outside this service, so any non-blank opaque string is accepted.
type UserID string

// IsValid checks if the user ID is non-blank.
func (u UserID) IsValid() bool {
	return strings.TrimSpace(string(u)) != ""
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", ErrEmptyUserID
	}
	return uid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents an inclusive time period.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return !tm.Before(t.From) && !tm.After(t.To)
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}

// DayRange returns the range covering the whole calendar days from..to.
func DayRange(from, to time.Time) TimeRange {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	endDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())
	return TimeRange{From: start, To: endDay.Add(24*time.Hour - time.Nanosecond)}
}

// WeekOf returns the ISO week (Monday..Sunday) containing t.
func WeekOf(t time.Time) TimeRange {
	offset := (int(t.Weekday()) + 6) % 7
	monday := t.AddDate(0, 0, -offset)
	return DayRange(monday, monday.AddDate(0, 0, 6))
}

// MonthOf returns the calendar month containing t.
func MonthOf(t time.Time) TimeRange {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return DayRange(first, first.AddDate(0, 1, -1))
}

// YearOf returns the calendar year containing t.
func YearOf(t time.Time) TimeRange {
	first := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	return DayRange(first, time.Date(t.Year(), time.December, 31, 0, 0, 0, 0, t.Location()))
}
