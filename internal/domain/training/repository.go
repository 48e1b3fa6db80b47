package training

import (
	"context"
	"time"

	"github.com/followme/followme-hub/internal/domain/shared"
)

// EntryStore defines the persistence contract of the session log.
// This interface is implemented by the infrastructure layer.
type EntryStore interface {
	// AppendEntry stores a new entry. Entries are never updated in place.
	AppendEntry(ctx context.Context, entry *TrainingEntry) error

	// GetEntry returns an entry by ID or an error of kind shared.ErrNotFound.
	GetEntry(ctx context.Context, id EntryID) (*TrainingEntry, error)

	// DeleteEntry removes an entry. Returns shared.ErrNotFound if absent.
	DeleteEntry(ctx context.Context, id EntryID) error

	// ListEntries returns all entries of a user ordered by timestamp ascending.
	ListEntries(ctx context.Context, userID shared.UserID) ([]TrainingEntry, error)

	// ListEntriesBetween returns entries with from <= timestamp <= to,
	// ordered by timestamp ascending.
	ListEntriesBetween(ctx context.Context, userID shared.UserID, from, to time.Time) ([]TrainingEntry, error)
}
