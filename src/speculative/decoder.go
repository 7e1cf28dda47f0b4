package speculative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/tokenscale/inference-gateway/src/config"
)

// Decoder proposes a short run of tokens with a cheap draft model and
// verifies them against the target model in a single deterministic pass.
// Acceptance is strictly the longest common prefix, so using the decoder can
// change latency but never the text a request resolves with.
type Decoder struct {
	config *config.SpeculativeConfig
	draft  llms.Model
	target llms.Model
}

func NewDecoder(cfg *config.SpeculativeConfig, backend *config.BackendConfig) (*Decoder, error) {
	if cfg.DraftModel == "" {
		return nil, fmt.Errorf("draft model is required")
	}
	if cfg.Lookahead <= 0 {
		return nil, fmt.Errorf("lookahead must be positive, got %d", cfg.Lookahead)
	}

	token := backend.APIKey
	if token == "" {
		// vLLM-style endpoints ignore the bearer token but the client
		// constructor requires one.
		token = "not-needed"
	}

	draft, err := openai.New(
		openai.WithBaseURL(backend.Endpoint),
		openai.WithToken(token),
		openai.WithModel(cfg.DraftModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create draft client: %w", err)
	}

	// One shared target client; the model is set per verification call.
	target, err := openai.New(
		openai.WithBaseURL(backend.Endpoint),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create target client: %w", err)
	}

	return &Decoder{
		config: cfg,
		draft:  draft,
		target: target,
	}, nil
}

func (d *Decoder) Lookahead() int {
	return d.config.Lookahead
}

// Speculate generates at most Lookahead candidate tokens with the draft
// model at temperature zero. The target model only scopes the speculation;
// the draft is shared across targets.
func (d *Decoder) Speculate(ctx context.Context, prompt string, targetModel string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	out, err := llms.GenerateFromSinglePrompt(
		ctx,
		d.draft,
		prompt,
		llms.WithTemperature(0),
		llms.WithMaxTokens(d.config.Lookahead),
	)
	if err != nil {
		return nil, fmt.Errorf("draft generation for %s failed: %w", targetModel, err)
	}

	candidates := strings.Fields(out)
	if len(candidates) > d.config.Lookahead {
		candidates = candidates[:d.config.Lookahead]
	}
	return candidates, nil
}

// Verify runs one deterministic pass on the target model and accepts the
// longest common prefix of the candidates. Verification stops at the first
// mismatch: 0 <= acceptedCount <= len(candidates), always a strict prefix.
func (d *Decoder) Verify(ctx context.Context, prompt string, candidates []string, targetModel string) ([]string, int, error) {
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	out, err := llms.GenerateFromSinglePrompt(
		ctx,
		d.target,
		prompt,
		llms.WithModel(targetModel),
		llms.WithTemperature(0),
		llms.WithMaxTokens(len(candidates)),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("target verification on %s failed: %w", targetModel, err)
	}

	reference := strings.Fields(out)
	accepted := make([]string, 0, len(candidates))
	for i, candidate := range candidates {
		if i >= len(reference) || reference[i] != candidate {
			break
		}
		accepted = append(accepted, candidate)
	}
	return accepted, len(accepted), nil
}
