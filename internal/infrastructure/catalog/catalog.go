// Package catalog loads the static reference data (route, achievements and
// challenges) from YAML and seeds it into storage.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/followme/followme-hub/internal/domain/achievement"
	"github.com/followme/followme-hub/internal/domain/challenge"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

//go:embed default.yaml
var defaultYAML []byte

// Window names for challenges dated relative to the seeding day.
const (
	WindowNextWeekend = "next_weekend"
	WindowThisMonth   = "this_month"
	WindowNext3Days   = "next_3_days"
)

// ChallengeSpec is a challenge as written in the catalog file. Either
// StartDate and EndDate or Window must be set.
type ChallengeSpec struct {
	ID          string                `yaml:"id"`
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	StartDate   string                `yaml:"start_date"`
	EndDate     string                `yaml:"end_date"`
	Window      string                `yaml:"window"`
	TargetKm    float64               `yaml:"target_km"`
	Activity    training.ActivityType `yaml:"activity"`
}

// Catalog is the parsed reference data.
type Catalog struct {
	Destinations []route.Destination       `yaml:"destinations"`
	Achievements []achievement.Achievement `yaml:"achievements"`
	Challenges   []ChallengeSpec           `yaml:"challenges"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog file. An empty path selects the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog. Unknown fields are rejected.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, shared.WrapError("catalog", "Parse", shared.ErrValidation, "malformed catalog", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the route, the achievement rules and every challenge
// definition.
func (c *Catalog) Validate() error {
	if len(c.Destinations) == 0 {
		return shared.ErrEmptyRoute
	}
	if _, err := route.NewRoute(c.Destinations); err != nil {
		return err
	}
	if _, err := achievement.NewEngine(c.Achievements); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Challenges))
	for _, spec := range c.Challenges {
		if _, dup := seen[spec.ID]; dup {
			return shared.ValidationError("catalog", "Validate", "duplicate challenge id %s", spec.ID)
		}
		seen[spec.ID] = struct{}{}
		// Any fixed date works for validating the shape of a window.
		ch, err := spec.Resolve(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			return err
		}
		if err := ch.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ResolveChallenges turns every spec into a dated challenge relative to now.
func (c *Catalog) ResolveChallenges(now time.Time) ([]challenge.Challenge, error) {
	out := make([]challenge.Challenge, 0, len(c.Challenges))
	for _, spec := range c.Challenges {
		ch, err := spec.Resolve(now)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// Resolve dates the challenge. Fixed dates win over Window.
func (s ChallengeSpec) Resolve(now time.Time) (challenge.Challenge, error) {
	ch := challenge.Challenge{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		TargetKm:    s.TargetKm,
		Activity:    s.Activity,
	}

	if s.StartDate != "" || s.EndDate != "" {
		start, err := time.Parse(time.DateOnly, s.StartDate)
		if err != nil {
			return ch, shared.ValidationError("catalog", "Resolve", "challenge %s has bad start_date %q", s.ID, s.StartDate)
		}
		end, err := time.Parse(time.DateOnly, s.EndDate)
		if err != nil {
			return ch, shared.ValidationError("catalog", "Resolve", "challenge %s has bad end_date %q", s.ID, s.EndDate)
		}
		ch.StartDate, ch.EndDate = start, end
		return ch, nil
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch s.Window {
	case WindowNextWeekend:
		// The coming Friday; today when it is Friday.
		days := (int(time.Friday) - int(today.Weekday()) + 7) % 7
		ch.StartDate = today.AddDate(0, 0, days)
		ch.EndDate = ch.StartDate.AddDate(0, 0, 2)
	case WindowThisMonth:
		ch.StartDate = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		ch.EndDate = ch.StartDate.AddDate(0, 1, -1)
	case WindowNext3Days:
		ch.StartDate = today
		ch.EndDate = today.AddDate(0, 0, 2)
	default:
		return ch, shared.ValidationError("catalog", "Resolve", "challenge %s needs dates or a known window, got %q", s.ID, s.Window)
	}
	return ch, nil
}
