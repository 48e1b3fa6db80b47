// Package memory implements every repository port in process memory. It backs
// tests and ephemeral runs (STORAGE_DRIVER=memory).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/followme/followme-hub/internal/domain/achievement"
	"github.com/followme/followme-hub/internal/domain/challenge"
	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// Store is a transactional in-memory store. Transactions run one at a time
// against a staged copy that replaces the live state on commit.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// WithinTx implements progression.UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx progression.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(ctx, staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// LoadProgress implements progression.Repository.
func (s *Store) LoadProgress(ctx context.Context, userID shared.UserID) (p *progression.UserProgress, err error) {
	s.read(func(st *state) { p, err = st.LoadProgress(ctx, userID) })
	return
}

// SaveProgress implements progression.Repository.
func (s *Store) SaveProgress(ctx context.Context, p *progression.UserProgress) error {
	return s.write(func(st *state) error { return st.SaveProgress(ctx, p) })
}

// LoadEntries implements progression.Repository.
func (s *Store) LoadEntries(ctx context.Context, userID shared.UserID) (out []training.TrainingEntry, err error) {
	s.read(func(st *state) { out, err = st.LoadEntries(ctx, userID) })
	return
}

// LoadDestinations implements progression.Repository.
func (s *Store) LoadDestinations(ctx context.Context) (out []route.Destination, err error) {
	s.read(func(st *state) { out, err = st.LoadDestinations(ctx) })
	return
}

// LoadAchievements implements progression.Repository.
func (s *Store) LoadAchievements(ctx context.Context) (out []achievement.Achievement, err error) {
	s.read(func(st *state) { out, err = st.LoadAchievements(ctx) })
	return
}

// AppendEntry implements training.EntryStore.
func (s *Store) AppendEntry(ctx context.Context, e *training.TrainingEntry) error {
	return s.write(func(st *state) error { return st.AppendEntry(ctx, e) })
}

// GetEntry implements training.EntryStore.
func (s *Store) GetEntry(ctx context.Context, id training.EntryID) (e *training.TrainingEntry, err error) {
	s.read(func(st *state) { e, err = st.GetEntry(ctx, id) })
	return
}

// DeleteEntry implements training.EntryStore.
func (s *Store) DeleteEntry(ctx context.Context, id training.EntryID) error {
	return s.write(func(st *state) error { return st.DeleteEntry(ctx, id) })
}

// ListEntries implements training.EntryStore.
func (s *Store) ListEntries(ctx context.Context, userID shared.UserID) ([]training.TrainingEntry, error) {
	return s.LoadEntries(ctx, userID)
}

// ListEntriesBetween implements training.EntryStore.
func (s *Store) ListEntriesBetween(ctx context.Context, userID shared.UserID, from, to time.Time) (out []training.TrainingEntry, err error) {
	s.read(func(st *state) { out, err = st.ListEntriesBetween(ctx, userID, from, to) })
	return
}

// UpsertDestinations implements progression.CatalogWriter.
func (s *Store) UpsertDestinations(_ context.Context, destinations []route.Destination) error {
	return s.write(func(st *state) error {
		byOrder := make(map[int]route.Destination, len(st.destinations)+len(destinations))
		for _, d := range st.destinations {
			byOrder[d.Order] = d
		}
		for _, d := range destinations {
			byOrder[d.Order] = d
		}
		st.destinations = st.destinations[:0]
		for _, d := range byOrder {
			st.destinations = append(st.destinations, d)
		}
		sort.Slice(st.destinations, func(i, j int) bool { return st.destinations[i].Order < st.destinations[j].Order })
		return nil
	})
}

// UpsertAchievements implements progression.CatalogWriter.
func (s *Store) UpsertAchievements(_ context.Context, achievements []achievement.Achievement) error {
	return s.write(func(st *state) error {
		for _, a := range achievements {
			replaced := false
			for i := range st.achievements {
				if st.achievements[i].ID == a.ID {
					st.achievements[i] = a
					replaced = true
				}
			}
			if !replaced {
				st.achievements = append(st.achievements, a)
			}
		}
		return nil
	})
}

// ListChallenges implements challenge.Repository.
func (s *Store) ListChallenges(_ context.Context) (out []challenge.Challenge, err error) {
	s.read(func(st *state) {
		for _, c := range st.challenges {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

// GetChallenge implements challenge.Repository.
func (s *Store) GetChallenge(_ context.Context, id string) (out *challenge.Challenge, err error) {
	s.read(func(st *state) {
		c, ok := st.challenges[id]
		if !ok {
			err = shared.ErrChallengeNotFound
			return
		}
		out = &c
	})
	return
}

// UpsertChallenges implements challenge.Repository.
func (s *Store) UpsertChallenges(_ context.Context, challenges []challenge.Challenge) error {
	return s.write(func(st *state) error {
		for _, c := range challenges {
			st.challenges[c.ID] = c
		}
		return nil
	})
}

// Memberships implements challenge.Repository.
func (s *Store) Memberships(_ context.Context, userID shared.UserID) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	s.read(func(st *state) {
		for id, members := range st.members {
			if _, ok := members[userID]; ok {
				out[id] = struct{}{}
			}
		}
	})
	return out, nil
}

// Join implements challenge.Repository.
func (s *Store) Join(_ context.Context, challengeID string, userID shared.UserID) error {
	return s.write(func(st *state) error {
		members := st.members[challengeID]
		if members == nil {
			members = make(map[shared.UserID]struct{})
			st.members[challengeID] = members
		}
		if _, ok := members[userID]; ok {
			return shared.NewDomainError("challenge", "Join", shared.ErrAlreadyExists, "membership exists")
		}
		members[userID] = struct{}{}
		return nil
	})
}

// Leave implements challenge.Repository.
func (s *Store) Leave(_ context.Context, challengeID string, userID shared.UserID) error {
	return s.write(func(st *state) error {
		delete(st.members[challengeID], userID)
		return nil
	})
}

// ListStandings implements progression.StandingsReader.
func (s *Store) ListStandings(_ context.Context) (out []progression.Standing, err error) {
	s.read(func(st *state) {
		out = make([]progression.Standing, 0, len(st.progress))
		for _, p := range st.progress {
			out = append(out, progression.Standing{
				UserID:       p.UserID,
				CumulativeKm: p.CumulativeKm,
				Points:       p.Points,
				Level:        p.Level,
				UpdatedAt:    p.UpdatedAt,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CumulativeKm != out[j].CumulativeKm {
			return out[i].CumulativeKm > out[j].CumulativeKm
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// ForceProgress overwrites stored progress without version checks. It exists
// to simulate corrupted records.
func (s *Store) ForceProgress(p *progression.UserProgress) {
	_ = s.write(func(st *state) error {
		st.progress[p.UserID] = p.Clone()
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

type state struct {
	progress     map[shared.UserID]*progression.UserProgress
	entries      map[training.EntryID]training.TrainingEntry
	destinations []route.Destination
	achievements []achievement.Achievement
	challenges   map[string]challenge.Challenge
	members      map[string]map[shared.UserID]struct{}
}

func newState() *state {
	return &state{
		progress:   make(map[shared.UserID]*progression.UserProgress),
		entries:    make(map[training.EntryID]training.TrainingEntry),
		challenges: make(map[string]challenge.Challenge),
		members:    make(map[string]map[shared.UserID]struct{}),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.progress {
		c.progress[k] = v.Clone()
	}
	for k, v := range st.entries {
		c.entries[k] = v
	}
	c.destinations = append([]route.Destination(nil), st.destinations...)
	c.achievements = append([]achievement.Achievement(nil), st.achievements...)
	for k, v := range st.challenges {
		c.challenges[k] = v
	}
	for id, members := range st.members {
		m := make(map[shared.UserID]struct{}, len(members))
		for u := range members {
			m[u] = struct{}{}
		}
		c.members[id] = m
	}
	return c
}

func (st *state) LoadProgress(_ context.Context, userID shared.UserID) (*progression.UserProgress, error) {
	p, ok := st.progress[userID]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return p.Clone(), nil
}

func (st *state) SaveProgress(_ context.Context, p *progression.UserProgress) error {
	var current int64
	if existing, ok := st.progress[p.UserID]; ok {
		current = existing.Version
	}
	if current != p.Version {
		return shared.NewDomainError("progression", "SaveProgress", shared.ErrConcurrentModification, "stale progress version")
	}
	p.Version++
	st.progress[p.UserID] = p.Clone()
	return nil
}

func (st *state) LoadEntries(ctx context.Context, userID shared.UserID) ([]training.TrainingEntry, error) {
	out := make([]training.TrainingEntry, 0)
	for _, e := range st.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	training.SortEntries(out)
	return out, nil
}

func (st *state) LoadDestinations(_ context.Context) ([]route.Destination, error) {
	return append([]route.Destination(nil), st.destinations...), nil
}

func (st *state) LoadAchievements(_ context.Context) ([]achievement.Achievement, error) {
	return append([]achievement.Achievement(nil), st.achievements...), nil
}

func (st *state) AppendEntry(_ context.Context, e *training.TrainingEntry) error {
	if _, ok := st.entries[e.ID]; ok {
		return shared.NewDomainError("training", "Append", shared.ErrAlreadyExists, "entry "+e.ID.String()+" already exists")
	}
	st.entries[e.ID] = *e
	return nil
}

func (st *state) GetEntry(_ context.Context, id training.EntryID) (*training.TrainingEntry, error) {
	e, ok := st.entries[id]
	if !ok {
		return nil, shared.ErrEntryNotFound
	}
	return &e, nil
}

func (st *state) DeleteEntry(_ context.Context, id training.EntryID) error {
	if _, ok := st.entries[id]; !ok {
		return shared.ErrEntryNotFound
	}
	delete(st.entries, id)
	return nil
}

func (st *state) ListEntries(ctx context.Context, userID shared.UserID) ([]training.TrainingEntry, error) {
	return st.LoadEntries(ctx, userID)
}

func (st *state) ListEntriesBetween(ctx context.Context, userID shared.UserID, from, to time.Time) ([]training.TrainingEntry, error) {
	all, _ := st.LoadEntries(ctx, userID)
	return training.Filter(all, func(e training.TrainingEntry) bool {
		return !e.Timestamp.Before(from) && !e.Timestamp.After(to)
	}), nil
}
