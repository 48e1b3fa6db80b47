package achievement

import (
	"github.com/followme/followme-hub/internal/domain/shared"
)

// Engine evaluates the static rule set.
type Engine struct {
	catalog []Achievement
}

// NewEngine validates the catalog. IDs must be unique.
func NewEngine(catalog []Achievement) (*Engine, error) {
	e := &Engine{catalog: make([]Achievement, 0, len(catalog))}
	seen := make(map[string]struct{}, len(catalog))
	for _, a := range catalog {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[a.ID]; dup {
			return nil, shared.ValidationError("achievement", "NewEngine", "duplicate achievement id %s", a.ID)
		}
		seen[a.ID] = struct{}{}
		e.catalog = append(e.catalog, a)
	}
	return e, nil
}

// Catalog returns the rule set in evaluation order.
func (e *Engine) Catalog() []Achievement {
	out := make([]Achievement, len(e.catalog))
	copy(out, e.catalog)
	return out
}

// Evaluate returns achievements satisfied by the snapshot that are not in
// earned, in catalog order.
func (e *Engine) Evaluate(s Snapshot, earned map[string]struct{}) []Achievement {
	var out []Achievement
	for _, a := range e.catalog {
		if _, ok := earned[a.ID]; ok {
			continue
		}
		if a.Rule.Satisfied(s) {
			out = append(out, a)
		}
	}
	return out
}
