package router

import (
	"github.com/tokenscale/inference-gateway/src/models"
)

// The serving catalogue is fixed at build time: one entry per deployed
// backend model, each pinned to the quantization it is served with.
var catalogue = []models.ModelSpec{
	{ID: "llama-3.1-8b-instant", Quantization: models.QuantINT8, CostPerMTokens: 0.10, MaxContext: 131072},
	{ID: "llama-3.3-70b-versatile", Quantization: models.QuantFP8, CostPerMTokens: 0.79, MaxContext: 131072},
	{ID: "mixtral-8x7b-32768", Quantization: models.QuantFP16, CostPerMTokens: 0.60, MaxContext: 32768},
	{ID: "llama-3.1-405b-reasoning", Quantization: models.QuantBF16, CostPerMTokens: 3.00, MaxContext: 131072},
}

// Exactly one default model per complexity tier.
var tierDefaults = map[models.ComplexityTier]string{
	models.TierSimple:   "llama-3.1-8b-instant",
	models.TierModerate: "llama-3.3-70b-versatile",
	models.TierComplex:  "mixtral-8x7b-32768",
	models.TierExtreme:  "llama-3.1-405b-reasoning",
}
