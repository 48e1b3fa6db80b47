package postgres

import (
	"context"
	"fmt"

	"github.com/followme/followme-hub/internal/domain/challenge"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ChallengeRepository implements challenge.Repository for PostgreSQL.
type ChallengeRepository struct {
	q Querier
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(q Querier) *ChallengeRepository {
	return &ChallengeRepository{q: q}
}

const challengeColumns = `id, name, description, start_date, end_date, target_km, activity`

// ListChallenges returns all challenges, newest first.
func (r *ChallengeRepository) ListChallenges(ctx context.Context) ([]challenge.Challenge, error) {
	rows, err := r.q.Query(ctx, `SELECT `+challengeColumns+` FROM challenges ORDER BY start_date DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	defer rows.Close()

	out := make([]challenge.Challenge, 0)
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetChallenge returns one challenge.
func (r *ChallengeRepository) GetChallenge(ctx context.Context, id string) (*challenge.Challenge, error) {
	c, err := scanChallenge(r.q.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return c, nil
}

// UpsertChallenges stores challenges keyed by id.
func (r *ChallengeRepository) UpsertChallenges(ctx context.Context, challenges []challenge.Challenge) error {
	query := `
		INSERT INTO challenges (` + challengeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			target_km = EXCLUDED.target_km,
			activity = EXCLUDED.activity
	`
	for _, c := range challenges {
		_, err := r.q.Exec(ctx, query, c.ID, c.Name, c.Description, c.StartDate, c.EndDate, c.TargetKm, string(c.Activity))
		if err != nil {
			return fmt.Errorf("failed to upsert challenge %s: %w", c.ID, err)
		}
	}
	return nil
}

// Memberships returns the challenge IDs the user joined.
func (r *ChallengeRepository) Memberships(ctx context.Context, userID shared.UserID) (map[string]struct{}, error) {
	rows, err := r.q.Query(ctx, `SELECT challenge_id FROM challenge_members WHERE user_id = $1`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Join adds a membership.
func (r *ChallengeRepository) Join(ctx context.Context, challengeID string, userID shared.UserID) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO challenge_members (challenge_id, user_id) VALUES ($1, $2)`,
		challengeID, userID.String())
	if err != nil {
		switch {
		case IsUniqueViolation(err):
			return shared.ErrAlreadyJoined
		case IsForeignKeyViolation(err):
			return shared.ErrChallengeNotFound
		}
		return fmt.Errorf("failed to join challenge: %w", err)
	}
	return nil
}

// Leave removes a membership if present.
func (r *ChallengeRepository) Leave(ctx context.Context, challengeID string, userID shared.UserID) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM challenge_members WHERE challenge_id = $1 AND user_id = $2`,
		challengeID, userID.String())
	if err != nil {
		return fmt.Errorf("failed to leave challenge: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChallenge(row scanner) (*challenge.Challenge, error) {
	var (
		c        challenge.Challenge
		activity string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.StartDate, &c.EndDate, &c.TargetKm, &activity); err != nil {
		return nil, err
	}
	c.Activity = training.ActivityType(activity)
	return &c, nil
}
