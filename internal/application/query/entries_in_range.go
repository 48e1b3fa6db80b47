package query

import (
	"context"
	"time"

	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTRIES IN RANGE QUERY
// Reads the session log directly; progression state is never touched.
// ══════════════════════════════════════════════════════════════════════════════

// EntriesInRangeQuery selects entries between two calendar dates, inclusive.
type EntriesInRangeQuery struct {
	UserID string
	From   time.Time
	To     time.Time
}

// EntryDTO is a training entry as shown to clients.
type EntryDTO struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	DistanceKm float64   `json:"distance_km"`
	Activity   string    `json:"activity"`
	Note       string    `json:"note,omitempty"`
}

// ToEntryDTO converts a domain entry.
func ToEntryDTO(e training.TrainingEntry) EntryDTO {
	return EntryDTO{
		ID:         e.ID.String(),
		Timestamp:  e.Timestamp,
		DistanceKm: e.DistanceKm,
		Activity:   e.Activity.String(),
		Note:       e.Note,
	}
}

// EntriesInRangeHandler serves entry listings.
type EntriesInRangeHandler struct {
	log *training.SessionLog
}

// NewEntriesInRangeHandler creates a new handler.
func NewEntriesInRangeHandler(log *training.SessionLog) *EntriesInRangeHandler {
	return &EntriesInRangeHandler{log: log}
}

// Handle returns entries ordered by timestamp. Both dates are widened to
// whole UTC days.
func (h *EntriesInRangeHandler) Handle(ctx context.Context, q EntriesInRangeQuery) ([]EntryDTO, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, err
	}
	if q.From.IsZero() || q.To.IsZero() {
		return nil, shared.ValidationError("query", "EntriesInRange", "both from and to are required")
	}
	if q.From.After(q.To) {
		return nil, shared.ValidationError("query", "EntriesInRange", "from must not be after to")
	}

	entries, err := h.log.InRange(ctx, userID, shared.DayRange(q.From.UTC(), q.To.UTC()))
	if err != nil {
		return nil, err
	}
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = ToEntryDTO(e)
	}
	return out, nil
}
