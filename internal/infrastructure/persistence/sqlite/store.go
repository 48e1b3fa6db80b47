package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/followme/followme-hub/internal/domain/achievement"
	"github.com/followme/followme-hub/internal/domain/challenge"
	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements progression.UnitOfWork, progression.CatalogWriter and
// challenge.Repository.
type Store struct {
	db *sql.DB
	q  querier
}

// NewStore creates a new Store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// WithinTx implements progression.UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx progression.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, &Store{db: s.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit error: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress
// ─────────────────────────────────────────────────────────────────────────────

// LoadProgress implements progression.Repository.
func (s *Store) LoadProgress(ctx context.Context, userID shared.UserID) (*progression.UserProgress, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT cumulative_km, current_order, points, level, entry_count, unlocked_json, achievements_json, version, updated_at
		FROM user_progress WHERE user_id = ?`, userID.String())

	var (
		p                     = progression.NewUserProgress(userID, progression.StartLevel)
		unlockedJSON, achJSON string
		updatedAt             string
		unlocked              []int
		earned                []string
	)
	err := row.Scan(&p.CumulativeKm, &p.CurrentOrder, &p.Points, &p.Level, &p.EntryCount,
		&unlockedJSON, &achJSON, &p.Version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	if err := json.Unmarshal([]byte(unlockedJSON), &unlocked); err != nil {
		return nil, fmt.Errorf("failed to decode unlocked destinations: %w", err)
	}
	if err := json.Unmarshal([]byte(achJSON), &earned); err != nil {
		return nil, fmt.Errorf("failed to decode achievements: %w", err)
	}
	for _, o := range unlocked {
		p.Unlocked[o] = struct{}{}
	}
	for _, id := range earned {
		p.Achievements[id] = struct{}{}
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return p, nil
}

// ListStandings implements progression.StandingsReader.
func (s *Store) ListStandings(ctx context.Context) ([]progression.Standing, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT user_id, cumulative_km, points, level, updated_at
		FROM user_progress ORDER BY cumulative_km DESC, user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list standings: %w", err)
	}
	defer rows.Close()

	var out []progression.Standing
	for rows.Next() {
		var (
			st        progression.Standing
			userID    string
			updatedAt string
		)
		if err := rows.Scan(&userID, &st.CumulativeKm, &st.Points, &st.Level, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		st.UserID = shared.UserID(userID)
		if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveProgress implements progression.Repository.
func (s *Store) SaveProgress(ctx context.Context, p *progression.UserProgress) error {
	unlocked, err := json.Marshal(p.UnlockedOrders())
	if err != nil {
		return err
	}
	earned, err := json.Marshal(p.AchievementIDs())
	if err != nil {
		return err
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	next := p.Version + 1

	var res sql.Result
	if p.Version == 0 {
		res, err = s.q.ExecContext(ctx, `
			INSERT INTO user_progress (user_id, cumulative_km, current_order, points, level, entry_count,
				unlocked_json, achievements_json, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO NOTHING`,
			p.UserID.String(), p.CumulativeKm, p.CurrentOrder, p.Points, p.Level, p.EntryCount,
			string(unlocked), string(earned), next, formatTime(updatedAt))
	} else {
		res, err = s.q.ExecContext(ctx, `
			UPDATE user_progress SET cumulative_km = ?, current_order = ?, points = ?, level = ?, entry_count = ?,
				unlocked_json = ?, achievements_json = ?, version = ?, updated_at = ?
			WHERE user_id = ? AND version = ?`,
			p.CumulativeKm, p.CurrentOrder, p.Points, p.Level, p.EntryCount,
			string(unlocked), string(earned), next, formatTime(updatedAt), p.UserID.String(), p.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.NewDomainError("progression", "SaveProgress", shared.ErrConcurrentModification,
			fmt.Sprintf("progress of %s changed since version %d", p.UserID, p.Version))
	}
	p.Version = next
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Catalogs
// ─────────────────────────────────────────────────────────────────────────────

// LoadDestinations implements progression.Repository.
func (s *Store) LoadDestinations(ctx context.Context) ([]route.Destination, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT ord, name, country, threshold_km, facts_json, images_json FROM destinations ORDER BY ord`)
	if err != nil {
		return nil, fmt.Errorf("failed to load destinations: %w", err)
	}
	defer rows.Close()

	out := make([]route.Destination, 0)
	for rows.Next() {
		var (
			d             route.Destination
			facts, images string
		)
		if err := rows.Scan(&d.Order, &d.Name, &d.Country, &d.ThresholdKm, &facts, &images); err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		if err := json.Unmarshal([]byte(facts), &d.Facts); err != nil {
			return nil, fmt.Errorf("failed to decode facts of %s: %w", d.Name, err)
		}
		if err := json.Unmarshal([]byte(images), &d.Images); err != nil {
			return nil, fmt.Errorf("failed to decode images of %s: %w", d.Name, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LoadAchievements implements progression.Repository.
func (s *Store) LoadAchievements(ctx context.Context) ([]achievement.Achievement, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, description, rule_kind, threshold, activity FROM achievements ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load achievements: %w", err)
	}
	defer rows.Close()

	out := make([]achievement.Achievement, 0)
	for rows.Next() {
		var (
			a              achievement.Achievement
			kind, activity string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &kind, &a.Rule.Threshold, &activity); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		a.Rule.Kind = achievement.RuleKind(kind)
		a.Rule.Activity = training.ActivityType(activity)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertDestinations implements progression.CatalogWriter.
func (s *Store) UpsertDestinations(ctx context.Context, destinations []route.Destination) error {
	for _, d := range destinations {
		facts, err := json.Marshal(nonNil(d.Facts))
		if err != nil {
			return err
		}
		images, err := json.Marshal(nonNil(d.Images))
		if err != nil {
			return err
		}
		_, err = s.q.ExecContext(ctx, `
			INSERT INTO destinations (ord, name, country, threshold_km, facts_json, images_json)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (ord) DO UPDATE SET name = excluded.name, country = excluded.country,
				threshold_km = excluded.threshold_km, facts_json = excluded.facts_json, images_json = excluded.images_json`,
			d.Order, d.Name, d.Country, d.ThresholdKm, string(facts), string(images))
		if err != nil {
			return fmt.Errorf("failed to upsert destination %d: %w", d.Order, err)
		}
	}
	return nil
}

// UpsertAchievements implements progression.CatalogWriter. The slice order
// becomes the catalog order.
func (s *Store) UpsertAchievements(ctx context.Context, achievements []achievement.Achievement) error {
	for i, a := range achievements {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO achievements (id, name, description, rule_kind, threshold, activity, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, description = excluded.description,
				rule_kind = excluded.rule_kind, threshold = excluded.threshold, activity = excluded.activity,
				position = excluded.position`,
			a.ID, a.Name, a.Description, string(a.Rule.Kind), a.Rule.Threshold, string(a.Rule.Activity), i)
		if err != nil {
			return fmt.Errorf("failed to upsert achievement %s: %w", a.ID, err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Session log
// ─────────────────────────────────────────────────────────────────────────────

const entryColumns = `id, user_id, occurred_at, distance_km, activity, note`

// AppendEntry implements training.EntryStore.
func (s *Store) AppendEntry(ctx context.Context, e *training.TrainingEntry) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO training_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.UserID.String(), formatTime(e.Timestamp), e.DistanceKm, e.Activity.String(), e.Note)
	if err != nil {
		if isConstraint(err) {
			return shared.NewDomainError("training", "Append", shared.ErrAlreadyExists,
				fmt.Sprintf("entry %s already exists", e.ID))
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// GetEntry implements training.EntryStore.
func (s *Store) GetEntry(ctx context.Context, id training.EntryID) (*training.TrainingEntry, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM training_entries WHERE id = ?`, id.String())
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

// DeleteEntry implements training.EntryStore.
func (s *Store) DeleteEntry(ctx context.Context, id training.EntryID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM training_entries WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrEntryNotFound
	}
	return nil
}

// LoadEntries implements progression.Repository.
func (s *Store) LoadEntries(ctx context.Context, userID shared.UserID) ([]training.TrainingEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM training_entries WHERE user_id = ? ORDER BY occurred_at, id`,
		userID.String())
}

// ListEntries implements training.EntryStore.
func (s *Store) ListEntries(ctx context.Context, userID shared.UserID) ([]training.TrainingEntry, error) {
	return s.LoadEntries(ctx, userID)
}

// ListEntriesBetween implements training.EntryStore.
func (s *Store) ListEntriesBetween(ctx context.Context, userID shared.UserID, from, to time.Time) ([]training.TrainingEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM training_entries
		WHERE user_id = ? AND occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at, id`,
		userID.String(), formatTime(from), formatTime(to))
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]training.TrainingEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	out := make([]training.TrainingEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*training.TrainingEntry, error) {
	var (
		e                        training.TrainingEntry
		id, userID, ts, activity string
	)
	if err := row.Scan(&id, &userID, &ts, &e.DistanceKm, &activity, &e.Note); err != nil {
		return nil, err
	}
	at, err := parseTime(ts)
	if err != nil {
		return nil, err
	}
	e.ID = training.EntryID(id)
	e.UserID = shared.UserID(userID)
	e.Timestamp = at
	e.Activity = training.ActivityType(activity)
	return &e, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Challenges
// ─────────────────────────────────────────────────────────────────────────────

const dateLayout = "2006-01-02"

const challengeColumns = `id, name, description, start_date, end_date, target_km, activity`

// ListChallenges implements challenge.Repository.
func (s *Store) ListChallenges(ctx context.Context) ([]challenge.Challenge, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+challengeColumns+` FROM challenges ORDER BY start_date DESC, id`)
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

// GetChallenge implements challenge.Repository.
func (s *Store) GetChallenge(ctx context.Context, id string) (*challenge.Challenge, error) {
	c, err := scanChallenge(s.q.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return c, nil
}

// UpsertChallenges implements challenge.Repository.
func (s *Store) UpsertChallenges(ctx context.Context, challenges []challenge.Challenge) error {
	for _, c := range challenges {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO challenges (`+challengeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, description = excluded.description,
				start_date = excluded.start_date, end_date = excluded.end_date,
				target_km = excluded.target_km, activity = excluded.activity`,
			c.ID, c.Name, c.Description, c.StartDate.Format(dateLayout), c.EndDate.Format(dateLayout),
			c.TargetKm, string(c.Activity))
		if err != nil {
			return fmt.Errorf("failed to upsert challenge %s: %w", c.ID, err)
		}
	}
	return nil
}

// Memberships implements challenge.Repository.
func (s *Store) Memberships(ctx context.Context, userID shared.UserID) (map[string]struct{}, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT challenge_id FROM challenge_members WHERE user_id = ?`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Join implements challenge.Repository.
func (s *Store) Join(ctx context.Context, challengeID string, userID shared.UserID) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO challenge_members (challenge_id, user_id, joined_at) VALUES (?, ?, ?)`,
		challengeID, userID.String(), formatTime(time.Now()))
	if err != nil {
		switch {
		case isConstraint(err):
			return shared.ErrAlreadyJoined
		case isForeignKey(err):
			return shared.ErrChallengeNotFound
		}
		return fmt.Errorf("failed to join challenge: %w", err)
	}
	return nil
}

// Leave implements challenge.Repository.
func (s *Store) Leave(ctx context.Context, challengeID string, userID shared.UserID) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM challenge_members WHERE challenge_id = ? AND user_id = ?`, challengeID, userID.String())
	if err != nil {
		return fmt.Errorf("failed to leave challenge: %w", err)
	}
	return nil
}

func scanChallenge(row scanner) (*challenge.Challenge, error) {
	var (
		c                    challenge.Challenge
		start, end, activity string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &start, &end, &c.TargetKm, &activity); err != nil {
		return nil, err
	}
	var err error
	if c.StartDate, err = time.Parse(dateLayout, start); err != nil {
		return nil, err
	}
	if c.EndDate, err = time.Parse(dateLayout, end); err != nil {
		return nil, err
	}
	c.Activity = training.ActivityType(activity)
	return &c, nil
}
