package training

import (
	"context"
	"time"

	"github.com/followme/followme-hub/internal/domain/shared"
)

// SessionLog is the append-only record of training entries per user.
type SessionLog struct {
	store EntryStore
	newID func() string
	now   func() time.Time
}

// SessionLogOption customizes a SessionLog.
type SessionLogOption func(*SessionLog)

// WithIDGenerator overrides how entry IDs are assigned.
func WithIDGenerator(fn func() string) SessionLogOption {
	return func(l *SessionLog) { l.newID = fn }
}

// WithClock overrides the timestamp source for entries without one.
func WithClock(fn func() time.Time) SessionLogOption {
	return func(l *SessionLog) { l.now = fn }
}

// NewSessionLog creates a session log over the given store.
func NewSessionLog(store EntryStore, newID func() string, opts ...SessionLogOption) *SessionLog {
	l := &SessionLog{store: store, newID: newID, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append validates the draft, assigns missing id/timestamp and persists it.
func (l *SessionLog) Append(ctx context.Context, d Draft) (*TrainingEntry, error) {
	entry, err := NewTrainingEntry(d, l.newID, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListForUser returns the user's entries ordered by timestamp ascending.
func (l *SessionLog) ListForUser(ctx context.Context, userID shared.UserID) ([]TrainingEntry, error) {
	entries, err := l.store.ListEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	SortEntries(entries)
	return entries, nil
}

// Delete removes an entry owned by userID. The caller must recompute the
// user's progression afterwards.
func (l *SessionLog) Delete(ctx context.Context, userID shared.UserID, id EntryID) (*TrainingEntry, error) {
	entry, err := l.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	// Entries of other users are reported as missing.
	if entry.UserID != userID {
		return nil, shared.ErrEntryNotFound
	}
	if err := l.store.DeleteEntry(ctx, id); err != nil {
		return nil, err
	}
	return entry, nil
}

// InRange returns the user's entries inside the inclusive time range.
func (l *SessionLog) InRange(ctx context.Context, userID shared.UserID, r shared.TimeRange) ([]TrainingEntry, error) {
	if !r.IsValid() {
		return nil, shared.ValidationError("training", "InRange", "invalid range %s..%s",
			r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}
	entries, err := l.store.ListEntriesBetween(ctx, userID, r.From, r.To)
	if err != nil {
		return nil, err
	}
	SortEntries(entries)
	return entries, nil
}
