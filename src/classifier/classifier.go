package classifier

import (
	"fmt"
	"strings"

	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/models"
)

// Classifier estimates prompt complexity from an approximate token count.
// Classification is pure and deterministic: same prompt, same tier.
type Classifier struct {
	config *config.ClassifierConfig
}

func NewClassifier(cfg *config.ClassifierConfig) (*Classifier, error) {
	if cfg.SimpleThreshold <= 0 {
		return nil, fmt.Errorf("simple threshold must be positive, got %d", cfg.SimpleThreshold)
	}
	if cfg.ModerateThreshold <= cfg.SimpleThreshold {
		return nil, fmt.Errorf("moderate threshold %d must exceed simple threshold %d",
			cfg.ModerateThreshold, cfg.SimpleThreshold)
	}
	if cfg.ComplexThreshold <= cfg.ModerateThreshold {
		return nil, fmt.Errorf("complex threshold %d must exceed moderate threshold %d",
			cfg.ComplexThreshold, cfg.ModerateThreshold)
	}

	return &Classifier{config: cfg}, nil
}

// Classify maps a prompt to a tier by word count. Prompts at or below a
// threshold take the cheaper tier; an empty prompt is SIMPLE to favor latency.
func (c *Classifier) Classify(prompt string) models.ComplexityTier {
	tokens := ApproxTokens(prompt)

	switch {
	case tokens <= c.config.SimpleThreshold:
		return models.TierSimple
	case tokens <= c.config.ModerateThreshold:
		return models.TierModerate
	case tokens <= c.config.ComplexThreshold:
		return models.TierComplex
	default:
		return models.TierExtreme
	}
}

// ApproxTokens estimates token count as whitespace-separated words. Real
// tokenizers emit slightly more tokens than words; the thresholds absorb
// the difference.
func ApproxTokens(s string) int {
	return len(strings.Fields(s))
}
