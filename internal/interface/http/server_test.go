package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/application/command"
	"github.com/followme/followme-hub/internal/application/query"
	"github.com/followme/followme-hub/internal/domain/achievement"
	"github.com/followme/followme-hub/internal/domain/challenge"
	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
	"github.com/followme/followme-hub/internal/infrastructure/persistence/memory"
)

var now = time.Date(2025, 4, 9, 18, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.UpsertDestinations(ctx, []route.Destination{
		{Order: 1, Name: "Tromsø", ThresholdKm: 10},
		{Order: 2, Name: "Stockholm", ThresholdKm: 25},
		{Order: 3, Name: "London", ThresholdKm: 60},
	}))
	require.NoError(t, store.UpsertAchievements(ctx, []achievement.Achievement{
		{ID: "first_km", Name: "First km", Rule: achievement.Rule{Kind: achievement.RuleTotalKm, Threshold: 1}},
	}))
	require.NoError(t, store.UpsertChallenges(ctx, []challenge.Challenge{
		{ID: "april", Name: "April", StartDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
			EndDate: time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), TargetKm: 50},
	}))

	engineCfg := progression.DefaultEngineConfig()
	cfg := command.DefaultCoordinatorConfig()
	cfg.Clock = func() time.Time { return now }
	coord := command.NewProgressionCoordinator(store, nil, nil, cfg)

	aggregator, err := progression.NewDistanceAggregator(engineCfg.Weights)
	require.NoError(t, err)
	log := training.NewSessionLog(store, uuid.NewString)

	srv := NewServer(DefaultConfig(), Dependencies{
		Coordinator:  coord,
		Memberships:  command.NewChallengeMembershipHandler(store, nil, nil),
		Progress:     query.NewGetProgressHandler(store, nil, engineCfg, nil),
		Destinations: query.NewGetUnlockedDestinationsHandler(store, engineCfg),
		Entries:      query.NewEntriesInRangeHandler(log),
		Report:       query.NewGetReportHandler(log, aggregator),
		Leaderboard:  query.NewGetLeaderboardHandler(store, nil, nil),
		Challenges:   query.NewGetChallengesHandler(store, store),
		Clock:        func() time.Time { return now },
	})
	return srv, store
}

func do(t *testing.T, srv *Server, method, target, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestSubmitEntry(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := do(t, srv, fiber.MethodPost, "/api/v1/users/u1/entries",
		`{"distance_km": 30, "activity": "run", "timestamp": "2025-04-08T07:00:00Z"}`)
	require.Equal(t, fiber.StatusCreated, status, body)

	progress := body["progress"].(map[string]interface{})
	assert.InDelta(t, 30, progress["cumulative_km"], 1e-9)
	assert.EqualValues(t, 400, progress["points"])
	assert.EqualValues(t, 2, progress["level"])
	assert.EqualValues(t, 2, progress["current_order"])
	assert.Equal(t, []interface{}{float64(1), float64(2)}, progress["unlocked"])
	assert.Equal(t, []interface{}{"first_km"}, progress["achievements"])

	events := body["events"].([]interface{})
	var types []string
	for _, ev := range events {
		types = append(types, ev.(map[string]interface{})["type"].(string))
	}
	assert.Equal(t, []string{
		string(shared.EventDestinationUnlocked),
		string(shared.EventDestinationUnlocked),
		string(shared.EventLevelUp),
		string(shared.EventAchievementEarned),
	}, types)
}

func TestSubmitEntry_Rejected(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"distance_km":`, fiber.StatusBadRequest},
		{"zero distance", `{"distance_km": 0, "activity": "run"}`, fiber.StatusBadRequest},
		{"unknown activity", `{"distance_km": 5, "activity": "swim"}`, fiber.StatusBadRequest},
		{"over the session limit", `{"distance_km": 1e300, "activity": "run"}`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, srv, fiber.MethodPost, "/api/v1/users/u1/entries", tt.body)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, body["error"])
		})
	}

	status, _ := do(t, srv, fiber.MethodGet, "/api/v1/users/u1/progress", "")
	assert.Equal(t, fiber.StatusNotFound, status, "rejected entries leave no progress")
}

func TestListAndDeleteEntries(t *testing.T) {
	srv, _ := newTestServer(t)

	_, first := do(t, srv, fiber.MethodPost, "/api/v1/users/u1/entries",
		`{"distance_km": 12, "activity": "run", "timestamp": "2025-04-02T07:00:00Z"}`)
	do(t, srv, fiber.MethodPost, "/api/v1/users/u1/entries",
		`{"distance_km": 5, "activity": "walk", "timestamp": "2025-04-05T07:00:00Z"}`)

	status, body := do(t, srv, fiber.MethodGet, "/api/v1/users/u1/entries?from=2025-04-01&to=2025-04-03", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["entries"], 1)

	status, _ = do(t, srv, fiber.MethodGet, "/api/v1/users/u1/entries?from=april&to=2025-04-03", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	id := first["entry"].(map[string]interface{})["id"].(string)
	status, body = do(t, srv, fiber.MethodDelete, "/api/v1/users/u1/entries/"+id, "")
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["changed"])
	progress := body["progress"].(map[string]interface{})
	assert.InDelta(t, 3, progress["cumulative_km"], 1e-9)
	assert.Empty(t, progress["unlocked"])

	status, _ = do(t, srv, fiber.MethodDelete, "/api/v1/users/u1/entries/"+id, "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestRecompute(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := do(t, srv, fiber.MethodPost, "/api/v1/users/ghost/recompute", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	do(t, srv, fiber.MethodPost, "/api/v1/users/u1/entries", `{"distance_km": 11, "activity": "run"}`)
	status, body := do(t, srv, fiber.MethodPost, "/api/v1/users/u1/recompute", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["changed"])
}

func TestReads(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, fiber.MethodPost, "/api/v1/users/u1/entries",
		`{"distance_km": 26, "activity": "run", "timestamp": "2025-04-08T07:00:00Z"}`)
	do(t, srv, fiber.MethodPost, "/api/v1/users/u2/entries",
		`{"distance_km": 40, "activity": "run", "timestamp": "2025-04-08T07:00:00Z"}`)

	status, body := do(t, srv, fiber.MethodGet, "/api/v1/users/u1/progress", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["unlocked"], 2)

	status, body = do(t, srv, fiber.MethodGet, "/api/v1/users/u1/destinations", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["locked"], 1)

	status, _ = do(t, srv, fiber.MethodGet, "/api/v1/users/u1/report", "")
	assert.Equal(t, fiber.StatusOK, status)

	status, body = do(t, srv, fiber.MethodGet, "/api/v1/users/u1/leaderboard?friends=u2,u1,", "")
	require.Equal(t, fiber.StatusOK, status)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	assert.Equal(t, "u2", entries[0].(map[string]interface{})["user_id"])
}

func TestChallengeMembership(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := do(t, srv, fiber.MethodPost, "/api/v1/users/u1/challenges/april/membership", "")
	assert.Equal(t, fiber.StatusCreated, status)
	status, _ = do(t, srv, fiber.MethodPost, "/api/v1/users/u1/challenges/april/membership", "")
	assert.Equal(t, fiber.StatusConflict, status)
	status, _ = do(t, srv, fiber.MethodPost, "/api/v1/users/u1/challenges/nope/membership", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	do(t, srv, fiber.MethodPost, "/api/v1/users/u1/entries",
		`{"distance_km": 10, "activity": "bike", "timestamp": "2025-04-08T07:00:00Z"}`)
	status, body := do(t, srv, fiber.MethodGet, "/api/v1/users/u1/challenges", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["joined"])

	status, _ = do(t, srv, fiber.MethodDelete, "/api/v1/users/u1/challenges/april/membership", "")
	assert.Equal(t, fiber.StatusNoContent, status)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := do(t, srv, fiber.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["healthy"])

	srv.deps.Health.AddCheck("database", func(context.Context) error { return errors.New("down") })
	status, body = do(t, srv, fiber.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "failing: database", body["message"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.ErrEmptyUserID, fiber.StatusBadRequest},
		{shared.ErrProgressNotFound, fiber.StatusNotFound},
		{shared.ErrAlreadyJoined, fiber.StatusConflict},
		{shared.WrapError("redis", "Lock", shared.ErrLockTimeout, "busy", nil), fiber.StatusServiceUnavailable},
		{shared.InconsistencyError("progression", "Verify", "drift"), fiber.StatusInternalServerError},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, msg := classify(tt.err)
		assert.Equal(t, tt.want, status, tt.err.Error())
		assert.NotEmpty(t, msg)
	}
	_, msg := classify(errors.New("pq: secret detail"))
	assert.Equal(t, "internal error", msg)
}
