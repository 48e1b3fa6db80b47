package query

import (
	"context"
	"time"

	"github.com/followme/followme-hub/internal/domain/challenge"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE BOARD QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ChallengeBoard lists every challenge with the user's standing.
type ChallengeBoard struct {
	UserID     string               `json:"user_id"`
	Challenges []challenge.Progress `json:"challenges"`
	Joined     int                  `json:"joined"`
	Completed  int                  `json:"completed"`
}

// GetChallengesHandler builds challenge boards.
type GetChallengesHandler struct {
	challenges challenge.Repository
	entries    training.EntryStore
}

// NewGetChallengesHandler creates a new handler.
func NewGetChallengesHandler(challenges challenge.Repository, entries training.EntryStore) *GetChallengesHandler {
	return &GetChallengesHandler{challenges: challenges, entries: entries}
}

// Handle evaluates every challenge at now. Progress only counts for joined
// challenges.
func (h *GetChallengesHandler) Handle(ctx context.Context, rawUserID string, now time.Time) (*ChallengeBoard, error) {
	userID, err := shared.NewUserID(rawUserID)
	if err != nil {
		return nil, err
	}

	list, err := h.challenges.ListChallenges(ctx)
	if err != nil {
		return nil, err
	}
	memberships, err := h.challenges.Memberships(ctx, userID)
	if err != nil {
		return nil, err
	}

	board := &ChallengeBoard{UserID: userID.String(), Challenges: make([]challenge.Progress, 0, len(list))}
	if len(list) == 0 {
		return board, nil
	}

	var entries []training.TrainingEntry
	if len(memberships) > 0 {
		entries, err = h.entries.ListEntries(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	for _, c := range list {
		_, joined := memberships[c.ID]
		p := c.Evaluate(entries, joined, now)
		if joined {
			board.Joined++
		}
		if p.Completed {
			board.Completed++
		}
		board.Challenges = append(board.Challenges, p)
	}
	return board, nil
}
