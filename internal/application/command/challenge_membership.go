package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/followme/followme-hub/internal/domain/challenge"
	"github.com/followme/followme-hub/internal/domain/shared"
)

// ChallengeMembershipHandler joins and leaves challenges.
type ChallengeMembershipHandler struct {
	repo      challenge.Repository
	publisher shared.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewChallengeMembershipHandler creates a new ChallengeMembershipHandler.
func NewChallengeMembershipHandler(repo challenge.Repository, publisher shared.EventPublisher, logger *slog.Logger) *ChallengeMembershipHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &ChallengeMembershipHandler{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "challenge_membership"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MembershipEvent is emitted when a user joins or leaves a challenge.
type MembershipEvent struct {
	shared.BaseEvent
	UserID      shared.UserID `json:"user_id"`
	ChallengeID string        `json:"challenge_id"`
}

// Payload implements shared.Event.
func (e MembershipEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID.String(),
		"challenge_id": e.ChallengeID,
	}
}

// Join adds the user to a challenge. Joining twice fails with
// shared.ErrAlreadyJoined.
func (h *ChallengeMembershipHandler) Join(ctx context.Context, rawUserID, challengeID string) error {
	userID, err := h.resolve(ctx, rawUserID, challengeID)
	if err != nil {
		return err
	}
	if err := h.repo.Join(ctx, challengeID, userID); err != nil {
		if shared.IsAlreadyExists(err) {
			return shared.ErrAlreadyJoined
		}
		return err
	}
	h.emit(shared.EventChallengeJoined, userID, challengeID)
	return nil
}

// Leave removes the user from a challenge; leaving a challenge one never
// joined is a no-op.
func (h *ChallengeMembershipHandler) Leave(ctx context.Context, rawUserID, challengeID string) error {
	userID, err := h.resolve(ctx, rawUserID, challengeID)
	if err != nil {
		return err
	}
	if err := h.repo.Leave(ctx, challengeID, userID); err != nil {
		return err
	}
	h.emit(shared.EventChallengeLeft, userID, challengeID)
	return nil
}

func (h *ChallengeMembershipHandler) resolve(ctx context.Context, rawUserID, challengeID string) (shared.UserID, error) {
	userID, err := shared.NewUserID(rawUserID)
	if err != nil {
		return "", err
	}
	if _, err := h.repo.GetChallenge(ctx, challengeID); err != nil {
		return "", err
	}
	return userID, nil
}

func (h *ChallengeMembershipHandler) emit(t shared.EventType, userID shared.UserID, challengeID string) {
	ev := MembershipEvent{
		BaseEvent:   shared.NewBaseEvent(t, userID.String(), h.now()),
		UserID:      userID,
		ChallengeID: challengeID,
	}
	if err := h.publisher.Publish(ev); err != nil {
		h.logger.Error("failed to publish event", "event_type", t, "error", err)
	}
}
