package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenscale/inference-gateway/src/models"
)

func TestModelRouter_TierDefaults(t *testing.T) {
	r := NewModelRouter()

	cases := []struct {
		tier models.ComplexityTier
		want string
	}{
		{models.TierSimple, "llama-3.1-8b-instant"},
		{models.TierModerate, "llama-3.3-70b-versatile"},
		{models.TierComplex, "mixtral-8x7b-32768"},
		{models.TierExtreme, "llama-3.1-405b-reasoning"},
	}

	for _, tc := range cases {
		spec, err := r.Resolve(tc.tier, "")
		require.NoError(t, err)
		assert.Equal(t, tc.want, spec.ID)
		assert.NotEmpty(t, spec.Quantization)
	}
}

func TestModelRouter_OverrideWins(t *testing.T) {
	r := NewModelRouter()

	// A valid override beats the tier default regardless of tier.
	spec, err := r.Resolve(models.TierSimple, "llama-3.1-405b-reasoning")
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-405b-reasoning", spec.ID)
}

func TestModelRouter_UnknownOverride(t *testing.T) {
	r := NewModelRouter()

	_, err := r.Resolve(models.TierSimple, "gpt-12-ultra")
	require.Error(t, err)

	var unknownErr *models.UnknownModelError
	require.True(t, errors.As(err, &unknownErr))
	assert.Equal(t, "gpt-12-ultra", unknownErr.Model)
	assert.False(t, models.IsRetryable(err))
}

func TestModelRouter_UnmappedTierFallsBack(t *testing.T) {
	r := NewModelRouter()

	spec, err := r.Resolve(models.ComplexityTier(99), "")
	require.NoError(t, err)
	assert.Equal(t, "llama-3.3-70b-versatile", spec.ID, "unmapped tier uses the moderate default")
}

func TestModelRouter_Cheapest(t *testing.T) {
	r := NewModelRouter()

	assert.Equal(t, "llama-3.1-8b-instant", r.Cheapest().ID)
}

func TestModelRouter_CatalogOrderedByCost(t *testing.T) {
	r := NewModelRouter()

	specs := r.Catalog()
	require.Len(t, specs, 4)
	for i := 1; i < len(specs); i++ {
		assert.LessOrEqual(t, specs[i-1].CostPerMTokens, specs[i].CostPerMTokens)
	}

	ids := r.ModelIDs()
	assert.Equal(t, specs[0].ID, ids[0])
}
