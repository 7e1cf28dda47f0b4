package models

import "time"

// ComplexityTier orders prompts by estimated generation cost. The router
// maps each tier to exactly one default backend model.
type ComplexityTier int

const (
	TierSimple ComplexityTier = iota
	TierModerate
	TierComplex
	TierExtreme
)

func (t ComplexityTier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierModerate:
		return "moderate"
	case TierComplex:
		return "complex"
	case TierExtreme:
		return "extreme"
	default:
		return "unknown"
	}
}

// Quantization schemes the catalogue models are served with.
const (
	QuantINT8 = "int8"
	QuantFP8  = "fp8"
	QuantFP16 = "fp16"
	QuantBF16 = "bf16"
)

type ModelSpec struct {
	ID             string  `json:"id"`
	Quantization   string  `json:"quantization"`
	CostPerMTokens float64 `json:"cost_per_mtokens"`
	MaxContext     int     `json:"max_context"`
}

type InferenceRequest struct {
	ID             string  `json:"id,omitempty"`
	Prompt         string  `json:"prompt" binding:"required"`
	MaxTokens      int     `json:"maxTokens,omitempty"`
	Temperature    float32 `json:"temperature,omitempty"`
	Stream         bool    `json:"stream,omitempty"`
	Priority       int     `json:"priority,omitempty"`
	ForcedModel    string  `json:"forcedModel,omitempty"`
	UseSpeculative *bool   `json:"useSpeculative,omitempty"`

	// Assigned exactly once at admission, before the request enters the queue.
	Tier         ComplexityTier `json:"-"`
	Model        string         `json:"-"`
	Quantization string         `json:"-"`
	Speculative  bool           `json:"-"`
	SubmittedAt  time.Time      `json:"-"`
}

// GenerateOptions mirrors the per-request knobs of the facade's
// GenerateWithOptions. A nil UseSpeculative defers to the configured default.
type GenerateOptions struct {
	MaxTokens      int
	Temperature    float32
	Stream         bool
	Priority       int
	ForcedModel    string
	UseSpeculative *bool
}

type TokenChunk struct {
	Content string `json:"content"`
}

// GenerateResult is the resolved outcome of a facade generate call. Exactly
// one of Stream and Text is populated, matching the request's streaming mode.
// For streaming results Err reports the terminal outcome once Stream closes;
// a mid-stream failure surfaces there after the partial tokens are drained.
type GenerateResult struct {
	Stream   <-chan TokenChunk
	Text     string
	Model    string
	Tier     ComplexityTier
	CacheHit bool
	Metrics  *InferenceMetrics
	Err      func() error
}

// GenerateResponse is the JSON body returned for non-streaming generate
// calls. Metric fields stay zero when the result was served from cache.
type GenerateResponse struct {
	Text            string    `json:"text"`
	Model           string    `json:"model"`
	Tier            string    `json:"tier"`
	CacheHit        bool      `json:"cacheHit"`
	OutputTokens    int       `json:"outputTokens,omitempty"`
	TTFTMs          float64   `json:"ttftMs,omitempty"`
	TotalMs         float64   `json:"totalMs,omitempty"`
	TokensPerSecond float64   `json:"tokensPerSecond,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type InferenceMetrics struct {
	RequestID       string         `json:"request_id"`
	Model           string         `json:"model"`
	Quantization    string         `json:"quantization"`
	Tier            ComplexityTier `json:"tier"`
	TTFT            time.Duration  `json:"ttft"`
	TotalLatency    time.Duration  `json:"total_latency"`
	TokensPerSecond float64        `json:"tokens_per_second"`
	OutputTokens    int            `json:"output_tokens"`
	BatchSize       int            `json:"batch_size"`
	CompletedAt     time.Time      `json:"completed_at"`
}

type PerformanceStats struct {
	AvgTTFT            float64        `json:"avgTTFT"`
	P95TTFT            float64        `json:"p95TTFT"`
	AvgTokensPerSecond float64        `json:"avgTokensPerSecond"`
	AvgLatency         float64        `json:"avgLatency"`
	P99Latency         float64        `json:"p99Latency"`
	RequestsProcessed  uint64         `json:"requestsProcessed"`
	ModelsUsed         []string       `json:"modelsUsed"`
	AvgBatchSize       float64        `json:"avgBatchSize"`
	QuantizationCounts map[string]int `json:"quantizationCounts"`
}

const (
	HealthStatusHealthy  = "healthy"
	HealthStatusDegraded = "degraded"
)

type HealthStatus struct {
	Status          string   `json:"status"`
	LatencyMs       float64  `json:"latencyMs"`
	ModelsAvailable []string `json:"modelsAvailable"`
	Error           string   `json:"error,omitempty"`
}

type CachedGeneration struct {
	Text      string         `json:"text"`
	Model     string         `json:"model"`
	Tier      ComplexityTier `json:"tier"`
	CreatedAt time.Time      `json:"created_at"`
}

// Terminal request outcomes as recorded by the audit log and event stream.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

type CompletionEvent struct {
	RequestID       string    `json:"request_id"`
	Model           string    `json:"model"`
	Quantization    string    `json:"quantization"`
	Tier            string    `json:"tier"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	TTFTMs          float64   `json:"ttft_ms"`
	TotalMs         float64   `json:"total_ms"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	OutputTokens    int       `json:"output_tokens"`
	BatchSize       int       `json:"batch_size"`
	Priority        int       `json:"priority"`
	CacheHit        bool      `json:"cache_hit,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type BackpressureReport struct {
	QueueDepth    int       `json:"queue_depth"`
	QueueCapacity int       `json:"queue_capacity"`
	InFlight      int       `json:"in_flight"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

type RequestRecord struct {
	RequestID       string    `json:"request_id"`
	Model           string    `json:"model"`
	Quantization    string    `json:"quantization"`
	Tier            string    `json:"tier"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	PromptTokens    int       `json:"prompt_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	TTFTMs          float64   `json:"ttft_ms"`
	TotalMs         float64   `json:"total_ms"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	BatchSize       int       `json:"batch_size"`
	Priority        int       `json:"priority"`
	CacheHit        bool      `json:"cache_hit,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
