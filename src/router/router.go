package router

import (
	"log/slog"
	"sort"

	"github.com/tokenscale/inference-gateway/src/models"
)

// ModelRouter resolves a complexity tier (plus an optional per-request
// override) to a concrete catalogue entry.
type ModelRouter struct {
	byID     map[string]models.ModelSpec
	defaults map[models.ComplexityTier]string
	log      *slog.Logger
}

func NewModelRouter() *ModelRouter {
	byID := make(map[string]models.ModelSpec, len(catalogue))
	for _, spec := range catalogue {
		byID[spec.ID] = spec
	}

	return &ModelRouter{
		byID:     byID,
		defaults: tierDefaults,
		log:      slog.Default().With("component", "router"),
	}
}

// Resolve picks the model for a request. A valid override wins
// unconditionally; an invalid override is the only failure mode and is
// reported before the request ever reaches the queue.
func (r *ModelRouter) Resolve(tier models.ComplexityTier, override string) (models.ModelSpec, error) {
	if override != "" {
		if spec, ok := r.byID[override]; ok {
			return spec, nil
		}
		return models.ModelSpec{}, &models.UnknownModelError{Model: override}
	}

	switch tier {
	case models.TierSimple, models.TierModerate, models.TierComplex, models.TierExtreme:
		return r.byID[r.defaults[tier]], nil
	default:
		r.log.Warn("unmapped complexity tier, using moderate default",
			"tier", int(tier))
		return r.byID[r.defaults[models.TierModerate]], nil
	}
}

// Lookup returns the catalogue entry for a model id.
func (r *ModelRouter) Lookup(id string) (models.ModelSpec, bool) {
	spec, ok := r.byID[id]
	return spec, ok
}

// Catalog returns all catalogue entries ordered by cost ascending.
func (r *ModelRouter) Catalog() []models.ModelSpec {
	specs := make([]models.ModelSpec, 0, len(r.byID))
	for _, spec := range r.byID {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].CostPerMTokens < specs[j].CostPerMTokens
	})
	return specs
}

// ModelIDs returns the catalogue ids ordered by cost ascending.
func (r *ModelRouter) ModelIDs() []string {
	specs := r.Catalog()
	ids := make([]string, len(specs))
	for i, spec := range specs {
		ids[i] = spec.ID
	}
	return ids
}

// Cheapest returns the lowest-cost catalogue entry, used by the health probe.
func (r *ModelRouter) Cheapest() models.ModelSpec {
	return r.Catalog()[0]
}
