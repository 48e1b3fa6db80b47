package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/domain/challenge"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/infrastructure/persistence/memory"
)

func TestChallengeMembership_JoinLeave(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.UpsertChallenges(ctx, []challenge.Challenge{{
		ID:        "spring-100",
		Name:      "Spring 100",
		StartDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
		TargetKm:  100,
	}}))
	pub := &recordingPublisher{}
	h := NewChallengeMembershipHandler(store, pub, nil)

	require.NoError(t, h.Join(ctx, "u1", "spring-100"))
	err := h.Join(ctx, "u1", "spring-100")
	assert.True(t, errors.Is(err, shared.ErrAlreadyJoined))

	members, err := store.Memberships(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, members, "spring-100")

	require.NoError(t, h.Leave(ctx, "u1", "spring-100"))
	require.NoError(t, h.Leave(ctx, "u1", "spring-100"))
	members, err = store.Memberships(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, members)

	assert.Equal(t, []shared.EventType{
		shared.EventChallengeJoined,
		shared.EventChallengeLeft,
		shared.EventChallengeLeft,
	}, pub.types())
}

func TestChallengeMembership_UnknownChallenge(t *testing.T) {
	h := NewChallengeMembershipHandler(memory.NewStore(), nil, nil)

	err := h.Join(context.Background(), "u1", "nope")
	assert.True(t, shared.IsNotFound(err))

	err = h.Join(context.Background(), "", "nope")
	assert.True(t, shared.IsValidation(err))
}
