package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/followme/followme-hub/internal/application/command"
	"github.com/followme/followme-hub/internal/application/query"
	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
)

// dateLayout is the format of the from/to query parameters.
const dateLayout = "2006-01-02"

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE TYPES
// ══════════════════════════════════════════════════════════════════════════════

type progressResponse struct {
	UserID       string    `json:"user_id"`
	CumulativeKm float64   `json:"cumulative_km"`
	CurrentOrder int       `json:"current_order"`
	Unlocked     []int     `json:"unlocked"`
	Points       int64     `json:"points"`
	Level        int       `json:"level"`
	Achievements []string  `json:"achievements"`
	EntryCount   int       `json:"entry_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toProgressResponse(p *progression.UserProgress) *progressResponse {
	if p == nil {
		return nil
	}
	return &progressResponse{
		UserID:       p.UserID.String(),
		CumulativeKm: p.CumulativeKm,
		CurrentOrder: p.CurrentOrder,
		Unlocked:     p.UnlockedOrders(),
		Points:       p.Points,
		Level:        p.Level,
		Achievements: p.AchievementIDs(),
		EntryCount:   p.EntryCount,
		UpdatedAt:    p.UpdatedAt,
	}
}

type eventResponse struct {
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
}

type submitResponse struct {
	Entry     query.EntryDTO    `json:"entry"`
	Progress  *progressResponse `json:"progress"`
	Events    []eventResponse   `json:"events"`
	Recovered bool              `json:"recovered,omitempty"`
}

type recomputeResponse struct {
	Previous *progressResponse `json:"previous,omitempty"`
	Progress *progressResponse `json:"progress"`
	Changed  bool              `json:"changed"`
}

func toRecomputeResponse(r *command.RecomputeResult) recomputeResponse {
	return recomputeResponse{
		Previous: toProgressResponse(r.Previous),
		Progress: toProgressResponse(r.Progress),
		Changed:  r.Changed,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := s.deps.Health.Check(c.UserContext())
	if !status.Healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

type submitEntryRequest struct {
	ID         string     `json:"id"`
	DistanceKm float64    `json:"distance_km"`
	Activity   string     `json:"activity"`
	Timestamp  *time.Time `json:"timestamp"`
	Note       string     `json:"note"`
}

func (s *Server) handleSubmitEntry(c *fiber.Ctx) error {
	var req submitEntryRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	cmd := command.SubmitEntryCommand{
		UserID:        c.Params("userID"),
		DistanceKm:    req.DistanceKm,
		ActivityType:  req.Activity,
		Note:          req.Note,
		EntryID:       req.ID,
		CorrelationID: c.GetRespHeader(fiber.HeaderXRequestID),
	}
	if req.Timestamp != nil {
		cmd.Timestamp = req.Timestamp.UTC()
	}

	res, err := s.deps.Coordinator.Submit(c.UserContext(), cmd)
	if err != nil {
		return err
	}

	events := make([]eventResponse, 0, len(res.Events))
	for _, ev := range res.Events {
		events = append(events, eventResponse{
			Type:       string(ev.EventType()),
			OccurredAt: ev.OccurredAt(),
			Payload:    ev.Payload(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(submitResponse{
		Entry:     query.ToEntryDTO(*res.Entry),
		Progress:  toProgressResponse(res.Progress),
		Events:    events,
		Recovered: res.Recovered,
	})
}

func (s *Server) handleListEntries(c *fiber.Ctx) error {
	from, err := parseDate(c.Query("from"), "from")
	if err != nil {
		return err
	}
	to, err := parseDate(c.Query("to"), "to")
	if err != nil {
		return err
	}
	entries, err := s.deps.Entries.Handle(c.UserContext(), query.EntriesInRangeQuery{
		UserID: c.Params("userID"),
		From:   from,
		To:     to,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (s *Server) handleDeleteEntry(c *fiber.Ctx) error {
	res, err := s.deps.Coordinator.DeleteEntry(c.UserContext(), command.DeleteEntryCommand{
		UserID:  c.Params("userID"),
		EntryID: c.Params("entryID"),
	})
	if err != nil {
		return err
	}
	return c.JSON(toRecomputeResponse(res))
}

func (s *Server) handleRecompute(c *fiber.Ctx) error {
	res, err := s.deps.Coordinator.Recompute(c.UserContext(), c.Params("userID"))
	if err != nil {
		return err
	}
	return c.JSON(toRecomputeResponse(res))
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetProgress(c *fiber.Ctx) error {
	view, err := s.deps.Progress.Handle(c.UserContext(), c.Params("userID"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *Server) handleGetDestinations(c *fiber.Ctx) error {
	res, err := s.deps.Destinations.Handle(c.UserContext(), c.Params("userID"))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleGetReport(c *fiber.Ctx) error {
	report, err := s.deps.Report.Handle(c.UserContext(), c.Params("userID"), s.deps.Clock())
	if err != nil {
		return err
	}
	return c.JSON(report)
}

func (s *Server) handleGetLeaderboard(c *fiber.Ctx) error {
	var friends []string
	if raw := c.Query("friends"); raw != "" {
		friends = strings.Split(raw, ",")
	}
	res, err := s.deps.Leaderboard.Handle(c.UserContext(), query.GetLeaderboardQuery{
		UserID:    c.Params("userID"),
		FriendIDs: friends,
	})
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetChallenges(c *fiber.Ctx) error {
	board, err := s.deps.Challenges.Handle(c.UserContext(), c.Params("userID"), s.deps.Clock())
	if err != nil {
		return err
	}
	return c.JSON(board)
}

func (s *Server) handleJoinChallenge(c *fiber.Ctx) error {
	if err := s.deps.Memberships.Join(c.UserContext(), c.Params("userID"), c.Params("challengeID")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusCreated)
}

func (s *Server) handleLeaveChallenge(c *fiber.Ctx) error {
	if err := s.deps.Memberships.Leave(c.UserContext(), c.Params("userID"), c.Params("challengeID")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// parseDate reads a YYYY-MM-DD query parameter. Empty values stay zero and
// are rejected by the query handler.
func parseDate(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, shared.ValidationError("http", "parseDate", "%s must be a date like 2006-01-02", name)
	}
	return t, nil
}
