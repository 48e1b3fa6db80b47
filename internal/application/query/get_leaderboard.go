package query

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FRIENDS LEADERBOARD QUERY
// Ranks a user and their friends by cumulative distance. Friend IDs come from
// the caller; the friend graph lives outside this service.
// ══════════════════════════════════════════════════════════════════════════════

// MaxFriends caps how many friends one leaderboard request may include.
const MaxFriends = 100

// GetLeaderboardQuery contains leaderboard parameters.
type GetLeaderboardQuery struct {
	UserID    string
	FriendIDs []string
}

// Validate normalizes friend IDs: blanks, duplicates and the user are dropped.
func (q *GetLeaderboardQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	seen := map[string]struct{}{strings.TrimSpace(q.UserID): {}}
	friends := make([]string, 0, len(q.FriendIDs))
	for _, id := range q.FriendIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		friends = append(friends, id)
	}
	if len(friends) > MaxFriends {
		return shared.ValidationError("query", "GetLeaderboard", "at most %d friends per request", MaxFriends)
	}
	q.UserID = strings.TrimSpace(q.UserID)
	q.FriendIDs = friends
	return nil
}

// LeaderboardEntryDTO is one row of the leaderboard.
type LeaderboardEntryDTO struct {
	Rank         int     `json:"rank"`
	UserID       string  `json:"user_id"`
	CumulativeKm float64 `json:"cumulative_km"`
	Points       int64   `json:"points"`
	Level        int     `json:"level"`
	Destinations int     `json:"destinations"`
	IsSelf       bool    `json:"is_self"`
}

// GetLeaderboardResult contains the ranked rows.
type GetLeaderboardResult struct {
	Entries []LeaderboardEntryDTO `json:"entries"`

	// GlobalRank is the user's rank among everyone, 0 when unavailable.
	GlobalRank  int64     `json:"global_rank,omitempty"`
	GlobalTotal int64     `json:"global_total,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GetLeaderboardHandler serves friends leaderboards.
type GetLeaderboardHandler struct {
	repo        progression.Repository
	board       DistanceBoard
	logger      *slog.Logger
	concurrency int
}

// NewGetLeaderboardHandler creates a new handler. board may be nil.
func NewGetLeaderboardHandler(repo progression.Repository, board DistanceBoard, logger *slog.Logger) *GetLeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLeaderboardHandler{repo: repo, board: board, logger: logger, concurrency: 8}
}

// Handle loads every participant's progress concurrently and ranks them by
// distance, then points, then user ID. Participants without progress rank
// with zero distance.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ids := append([]string{q.UserID}, q.FriendIDs...)
	rows := make([]LeaderboardEntryDTO, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			row := LeaderboardEntryDTO{UserID: id, Level: progression.StartLevel, IsSelf: i == 0}
			p, err := h.repo.LoadProgress(gctx, shared.UserID(id))
			switch {
			case shared.IsNotFound(err):
			case err != nil:
				return err
			default:
				row.CumulativeKm = p.CumulativeKm
				row.Points = p.Points
				row.Level = p.Level
				row.Destinations = len(p.Unlocked)
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CumulativeKm != rows[j].CumulativeKm {
			return rows[i].CumulativeKm > rows[j].CumulativeKm
		}
		if rows[i].Points != rows[j].Points {
			return rows[i].Points > rows[j].Points
		}
		return rows[i].UserID < rows[j].UserID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}

	res := &GetLeaderboardResult{Entries: rows, GeneratedAt: time.Now().UTC()}
	if h.board != nil {
		rank, total, err := h.board.Rank(ctx, shared.UserID(q.UserID))
		if err != nil {
			// Global rank is decorative; the friends table is already complete.
			h.logger.Warn("failed to read global rank", "user_id", q.UserID, "error", err)
		} else {
			res.GlobalRank, res.GlobalTotal = rank, total
		}
	}
	return res, nil
}
