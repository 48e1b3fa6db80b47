package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/followme/followme-hub/internal/domain/achievement"
	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// Store implements progression.UnitOfWork and progression.CatalogWriter.
// Outside WithinTx every call runs on the pool; inside, on the transaction.
type Store struct {
	db DB
	q  Querier
}

// NewStore creates a new Store.
func NewStore(db DB) *Store {
	return &Store{db: db, q: db}
}

// WithinTx implements progression.UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx progression.Store) error) error {
	return WithTx(ctx, s.db, DefaultTxOptions(), func(tx pgx.Tx) error {
		return fn(ctx, &Store{db: s.db, q: tx})
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress
// ─────────────────────────────────────────────────────────────────────────────

// LoadProgress implements progression.Repository.
func (s *Store) LoadProgress(ctx context.Context, userID shared.UserID) (*progression.UserProgress, error) {
	query := `
		SELECT p.cumulative_km, p.current_order, p.points, p.level, p.entry_count, p.version, p.updated_at,
			   COALESCE((SELECT array_agg(u.ord ORDER BY u.ord) FROM unlocked_destinations u WHERE u.user_id = p.user_id), '{}'),
			   COALESCE((SELECT array_agg(a.achievement_id ORDER BY a.achievement_id) FROM earned_achievements a WHERE a.user_id = p.user_id), '{}')
		FROM user_progress p
		WHERE p.user_id = $1
	`

	var (
		p        = progression.NewUserProgress(userID, progression.StartLevel)
		unlocked []int32
		earned   []string
	)
	err := s.q.QueryRow(ctx, query, userID.String()).Scan(
		&p.CumulativeKm,
		&p.CurrentOrder,
		&p.Points,
		&p.Level,
		&p.EntryCount,
		&p.Version,
		&p.UpdatedAt,
		&unlocked,
		&earned,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	for _, o := range unlocked {
		p.Unlocked[int(o)] = struct{}{}
	}
	for _, id := range earned {
		p.Achievements[id] = struct{}{}
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// ListStandings implements progression.StandingsReader.
func (s *Store) ListStandings(ctx context.Context) ([]progression.Standing, error) {
	rows, err := s.q.Query(ctx, `
		SELECT user_id, cumulative_km, points, level, updated_at
		FROM user_progress
		ORDER BY cumulative_km DESC, user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list standings: %w", err)
	}
	defer rows.Close()

	var out []progression.Standing
	for rows.Next() {
		var (
			st     progression.Standing
			userID string
		)
		if err := rows.Scan(&userID, &st.CumulativeKm, &st.Points, &st.Level, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		st.UserID = shared.UserID(userID)
		st.UpdatedAt = st.UpdatedAt.UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveProgress implements progression.Repository. Version 0 inserts; any
// other version updates only if the stored row still carries it.
func (s *Store) SaveProgress(ctx context.Context, p *progression.UserProgress) error {
	next := p.Version + 1
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	var query string
	if p.Version == 0 {
		query = `
			INSERT INTO user_progress (user_id, cumulative_km, current_order, points, level, entry_count, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id) DO NOTHING
		`
	} else {
		query = `
			UPDATE user_progress SET
				cumulative_km = $2,
				current_order = $3,
				points = $4,
				level = $5,
				entry_count = $6,
				version = $7,
				updated_at = $8
			WHERE user_id = $1 AND version = $9
		`
	}

	args := []interface{}{
		p.UserID.String(),
		p.CumulativeKm,
		p.CurrentOrder,
		p.Points,
		p.Level,
		p.EntryCount,
		next,
		updatedAt,
	}
	if p.Version != 0 {
		args = append(args, p.Version)
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("progression", "SaveProgress", shared.ErrConcurrentModification,
			fmt.Sprintf("progress of %s changed since version %d", p.UserID, p.Version))
	}

	if err := s.replaceUnlocked(ctx, p); err != nil {
		return err
	}
	if err := s.replaceAchievements(ctx, p); err != nil {
		return err
	}

	p.Version = next
	return nil
}

func (s *Store) replaceUnlocked(ctx context.Context, p *progression.UserProgress) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM unlocked_destinations WHERE user_id = $1`, p.UserID.String()); err != nil {
		return fmt.Errorf("failed to clear unlocked destinations: %w", err)
	}
	if len(p.Unlocked) == 0 {
		return nil
	}

	orders := make([]int32, 0, len(p.Unlocked))
	for _, o := range p.UnlockedOrders() {
		orders = append(orders, int32(o))
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO unlocked_destinations (user_id, ord) SELECT $1, unnest($2::int[])`,
		p.UserID.String(), orders)
	if err != nil {
		return fmt.Errorf("failed to store unlocked destinations: %w", err)
	}
	return nil
}

func (s *Store) replaceAchievements(ctx context.Context, p *progression.UserProgress) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM earned_achievements WHERE user_id = $1`, p.UserID.String()); err != nil {
		return fmt.Errorf("failed to clear achievements: %w", err)
	}
	if len(p.Achievements) == 0 {
		return nil
	}

	_, err := s.q.Exec(ctx,
		`INSERT INTO earned_achievements (user_id, achievement_id) SELECT $1, unnest($2::text[])`,
		p.UserID.String(), p.AchievementIDs())
	if err != nil {
		return fmt.Errorf("failed to store achievements: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Catalogs
// ─────────────────────────────────────────────────────────────────────────────

// LoadDestinations implements progression.Repository.
func (s *Store) LoadDestinations(ctx context.Context) ([]route.Destination, error) {
	rows, err := s.q.Query(ctx, `
		SELECT ord, name, country, threshold_km, facts, images
		FROM destinations
		ORDER BY ord
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load destinations: %w", err)
	}
	defer rows.Close()

	out := make([]route.Destination, 0)
	for rows.Next() {
		var d route.Destination
		if err := rows.Scan(&d.Order, &d.Name, &d.Country, &d.ThresholdKm, &d.Facts, &d.Images); err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LoadAchievements implements progression.Repository.
func (s *Store) LoadAchievements(ctx context.Context) ([]achievement.Achievement, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, name, description, rule_kind, threshold, activity
		FROM achievements
		ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load achievements: %w", err)
	}
	defer rows.Close()

	out := make([]achievement.Achievement, 0)
	for rows.Next() {
		var (
			a        achievement.Achievement
			kind     string
			activity string
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
	query := `
		INSERT INTO destinations (ord, name, country, threshold_km, facts, images)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ord) DO UPDATE SET
			name = EXCLUDED.name,
			country = EXCLUDED.country,
			threshold_km = EXCLUDED.threshold_km,
			facts = EXCLUDED.facts,
			images = EXCLUDED.images
	`
	for _, d := range destinations {
		facts, images := d.Facts, d.Images
		if facts == nil {
			facts = []string{}
		}
		if images == nil {
			images = []string{}
		}
		if _, err := s.q.Exec(ctx, query, d.Order, d.Name, d.Country, d.ThresholdKm, facts, images); err != nil {
			return fmt.Errorf("failed to upsert destination %d: %w", d.Order, err)
		}
	}
	return nil
}

// UpsertAchievements implements progression.CatalogWriter. The slice order
// becomes the catalog order.
func (s *Store) UpsertAchievements(ctx context.Context, achievements []achievement.Achievement) error {
	query := `
		INSERT INTO achievements (id, name, description, rule_kind, threshold, activity, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			rule_kind = EXCLUDED.rule_kind,
			threshold = EXCLUDED.threshold,
			activity = EXCLUDED.activity,
			position = EXCLUDED.position
	`
	for i, a := range achievements {
		_, err := s.q.Exec(ctx, query, a.ID, a.Name, a.Description, string(a.Rule.Kind), a.Rule.Threshold, string(a.Rule.Activity), i)
		if err != nil {
			return fmt.Errorf("failed to upsert achievement %s: %w", a.ID, err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Session log
// ─────────────────────────────────────────────────────────────────────────────

const entryColumns = `id, user_id, occurred_at, distance_km, activity, note`

// AppendEntry implements training.EntryStore.
func (s *Store) AppendEntry(ctx context.Context, e *training.TrainingEntry) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO training_entries (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID.String(), e.UserID.String(), e.Timestamp, e.DistanceKm, e.Activity.String(), e.Note)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("training", "Append", shared.ErrAlreadyExists,
				fmt.Sprintf("entry %s already exists", e.ID))
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// GetEntry implements training.EntryStore.
func (s *Store) GetEntry(ctx context.Context, id training.EntryID) (*training.TrainingEntry, error) {
	row := s.q.QueryRow(ctx, `SELECT `+entryColumns+` FROM training_entries WHERE id = $1`, id.String())
	e, err := scanEntry(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

// DeleteEntry implements training.EntryStore.
func (s *Store) DeleteEntry(ctx context.Context, id training.EntryID) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM training_entries WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrEntryNotFound
	}
	return nil
}

// LoadEntries implements progression.Repository.
func (s *Store) LoadEntries(ctx context.Context, userID shared.UserID) ([]training.TrainingEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM training_entries WHERE user_id = $1 ORDER BY occurred_at, id`,
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
		WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at <= $3
		ORDER BY occurred_at, id
	`, userID.String(), from, to)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...interface{}) ([]training.TrainingEntry, error) {
	rows, err := s.q.Query(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Postgres orders equal timestamps by id using the column collation.
	training.SortEntries(out)
	return out, nil
}

func scanEntry(row pgx.Row) (*training.TrainingEntry, error) {
	var (
		e                    training.TrainingEntry
		id, userID, activity string
	)
	if err := row.Scan(&id, &userID, &e.Timestamp, &e.DistanceKm, &activity, &e.Note); err != nil {
		return nil, err
	}
	e.ID = training.EntryID(id)
	e.UserID = shared.UserID(userID)
	e.Activity = training.ActivityType(activity)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
