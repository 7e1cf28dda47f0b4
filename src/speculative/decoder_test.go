package speculative

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/tokenscale/inference-gateway/src/config"
)

// fakeModel stands in for a langchaingo client and records the call options
// it was invoked with.
type fakeModel struct {
	mu     sync.Mutex
	output string
	err    error
	calls  []llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.output}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func testDecoder(draft, target *fakeModel) *Decoder {
	return &Decoder{
		config: &config.SpeculativeConfig{
			Enabled:    true,
			DraftModel: "llama-3.1-8b-instant",
			Lookahead:  4,
			Timeout:    5 * time.Second,
		},
		draft:  draft,
		target: target,
	}
}

func TestNewDecoder_Validation(t *testing.T) {
	backend := &config.BackendConfig{Endpoint: "http://localhost:8000/v1"}

	_, err := NewDecoder(&config.SpeculativeConfig{Lookahead: 4}, backend)
	assert.Error(t, err, "missing draft model")

	_, err = NewDecoder(&config.SpeculativeConfig{DraftModel: "m", Lookahead: 0}, backend)
	assert.Error(t, err, "zero lookahead")
}

func TestDecoder_SpeculateTruncatesToLookahead(t *testing.T) {
	draft := &fakeModel{output: "one two three four five six"}
	d := testDecoder(draft, &fakeModel{})

	candidates, err := d.Speculate(context.Background(), "prompt", "mixtral-8x7b-32768")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three", "four"}, candidates)

	require.Len(t, draft.calls, 1)
	assert.Equal(t, 4, draft.calls[0].MaxTokens)
	assert.Zero(t, draft.calls[0].Temperature, "speculation must be deterministic")
}

func TestDecoder_SpeculateDraftFailure(t *testing.T) {
	draft := &fakeModel{err: errors.New("draft unavailable")}
	d := testDecoder(draft, &fakeModel{})

	_, err := d.Speculate(context.Background(), "prompt", "mixtral-8x7b-32768")
	assert.Error(t, err)
}

func TestDecoder_VerifyStrictPrefix(t *testing.T) {
	target := &fakeModel{output: "the cat slept quietly"}
	d := testDecoder(&fakeModel{}, target)

	candidates := []string{"the", "cat", "sat", "down"}
	accepted, count, err := d.Verify(context.Background(), "prompt", candidates, "mixtral-8x7b-32768")
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"the", "cat"}, accepted)

	require.Len(t, target.calls, 1)
	assert.Equal(t, "mixtral-8x7b-32768", target.calls[0].Model)
	assert.Equal(t, len(candidates), target.calls[0].MaxTokens)
}

func TestDecoder_VerifyFullAcceptance(t *testing.T) {
	target := &fakeModel{output: "four score and seven years"}
	d := testDecoder(&fakeModel{}, target)

	candidates := []string{"four", "score", "and", "seven"}
	accepted, count, err := d.Verify(context.Background(), "prompt", candidates, "m")
	require.NoError(t, err)
	assert.Equal(t, len(candidates), count)
	assert.Equal(t, candidates, accepted)
}

func TestDecoder_VerifyMismatchAtStart(t *testing.T) {
	target := &fakeModel{output: "completely different text"}
	d := testDecoder(&fakeModel{}, target)

	accepted, count, err := d.Verify(context.Background(), "prompt", []string{"the", "cat"}, "m")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, accepted)
}

func TestDecoder_VerifyNoCandidatesSkipsCall(t *testing.T) {
	target := &fakeModel{output: "anything"}
	d := testDecoder(&fakeModel{}, target)

	accepted, count, err := d.Verify(context.Background(), "prompt", nil, "m")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, accepted)
	assert.Empty(t, target.calls, "no verification pass without candidates")
}

func TestDecoder_VerifyTargetFailure(t *testing.T) {
	target := &fakeModel{err: errors.New("target overloaded")}
	d := testDecoder(&fakeModel{}, target)

	_, _, err := d.Verify(context.Background(), "prompt", []string{"a"}, "m")
	assert.Error(t, err)
}

// Acceptance must be a strict prefix of the candidates for any pair of
// draft/target outputs.
func TestDecoder_AcceptanceAlwaysStrictPrefix(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vocab := []string{"alpha", "beta", "gamma", "delta"}

	randWords := func(n int) []string {
		words := make([]string, n)
		for i := range words {
			words[i] = vocab[rng.Intn(len(vocab))]
		}
		return words
	}

	for i := 0; i < 200; i++ {
		candidates := randWords(1 + rng.Intn(4))
		reference := randWords(rng.Intn(6))

		target := &fakeModel{output: strings.Join(reference, " ")}
		d := testDecoder(&fakeModel{}, target)

		accepted, count, err := d.Verify(context.Background(), "prompt", candidates, "m")
		require.NoError(t, err)
		require.Equal(t, len(accepted), count)
		require.LessOrEqual(t, count, len(candidates))
		for j := range accepted {
			require.Equal(t, candidates[j], accepted[j], "accepted tokens must be a prefix of candidates")
		}
	}
}
