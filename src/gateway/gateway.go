package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokenscale/inference-gateway/src/cache"
	"github.com/tokenscale/inference-gateway/src/classifier"
	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/events"
	"github.com/tokenscale/inference-gateway/src/executor"
	"github.com/tokenscale/inference-gateway/src/metrics"
	"github.com/tokenscale/inference-gateway/src/models"
	"github.com/tokenscale/inference-gateway/src/router"
	"github.com/tokenscale/inference-gateway/src/scheduler"
	"github.com/tokenscale/inference-gateway/src/speculative"
)

const (
	healthProbePrompt  = "ping"
	healthProbeTimeout = 10 * time.Second
)

// Gateway is the single entry point for inference. It classifies prompts,
// routes them to catalogue models, batches them through the scheduler and
// runs them against the backend. Optional sinks add result caching, event
// streaming and a durable audit trail.
type Gateway struct {
	config     *config.Config
	classifier *classifier.Classifier
	router     *router.ModelRouter
	recorder   *metrics.Recorder
	executor   *executor.Executor
	batcher    *scheduler.ContinuousBatcher

	cache  models.ResultCache
	events models.EventSink
	audit  models.AuditSink

	speculation  bool
	reporterWG   sync.WaitGroup
	reporterStop chan struct{}
	stopOnce     sync.Once

	log *slog.Logger
}

func NewGateway(cfg *config.Config) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	cls, err := classifier.NewClassifier(&cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	recorder, err := metrics.NewRecorder(&cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
	}

	exec, err := executor.NewExecutor(&cfg.Backend, recorder)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	g := &Gateway{
		config:       cfg,
		classifier:   cls,
		router:       router.NewModelRouter(),
		recorder:     recorder,
		executor:     exec,
		reporterStop: make(chan struct{}),
		log:          slog.Default().With("component", "gateway"),
	}

	if cfg.Speculative.Enabled {
		decoder, err := speculative.NewDecoder(&cfg.Speculative, &cfg.Backend)
		if err != nil {
			return nil, fmt.Errorf("failed to create speculative decoder: %w", err)
		}
		exec.SetDecoder(decoder)
		g.speculation = true
	}

	batcher, err := scheduler.NewContinuousBatcher(&cfg.Scheduler, exec)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	g.batcher = batcher

	return g, nil
}

// SetResultCache wires a response cache consulted for non-streaming requests.
// Call before Start.
func (g *Gateway) SetResultCache(c models.ResultCache) {
	g.cache = c
}

// SetEventSink wires the completion and backpressure event stream, shared
// with the executor for per-request terminal events. Call before Start.
func (g *Gateway) SetEventSink(sink models.EventSink) {
	g.events = sink
	g.executor.SetEventSink(sink)
}

// SetAuditSink wires the durable request log, shared with the executor.
// Call before Start.
func (g *Gateway) SetAuditSink(sink models.AuditSink) {
	g.audit = sink
	g.executor.SetAuditSink(sink)
}

// Start launches the scheduling loop and, when an event sink is wired, the
// periodic backpressure reporter.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.batcher.Start(); err != nil {
		return err
	}

	if g.events != nil && g.config.Events.ReportInterval > 0 {
		g.reporterWG.Add(1)
		go g.reportBackpressure(ctx)
	}

	g.log.Info("gateway started",
		"max_batch_size", g.config.Scheduler.MaxBatchSize,
		"queue_capacity", g.batcher.Capacity(),
		"speculative", g.speculation,
		"cache", g.cache != nil)
	return nil
}

// Stop halts the reporter and the scheduler. Queued requests resolve with a
// shutdown outcome; sink lifecycles belong to the caller that wired them.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() { close(g.reporterStop) })
	g.reporterWG.Wait()
	g.batcher.Stop()
	g.log.Info("gateway stopped")
}

// Submit admits a request and places it in the scheduling queue. The returned
// handle is the caller's view of the request lifecycle; the call itself never
// blocks on backend work.
func (g *Gateway) Submit(ctx context.Context, req *models.InferenceRequest) (*scheduler.Handle, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if ctx.Err() != nil {
		return nil, models.ErrCanceled
	}
	if err := g.admit(req); err != nil {
		return nil, err
	}
	return g.batcher.Enqueue(req)
}

// Generate runs a streaming generation for a prompt with default options and
// yields tokens as the backend produces them.
func (g *Gateway) Generate(ctx context.Context, prompt string) (<-chan models.TokenChunk, error) {
	res, err := g.GenerateWithOptions(ctx, prompt, &models.GenerateOptions{Stream: true})
	if err != nil {
		return nil, err
	}
	return res.Stream, nil
}

// GenerateWithOptions admits a request, consults the result cache for
// non-streaming calls and otherwise awaits the scheduled outcome. Streaming
// results return as soon as the first token is available.
func (g *Gateway) GenerateWithOptions(ctx context.Context, prompt string, opts *models.GenerateOptions) (*models.GenerateResult, error) {
	if opts == nil {
		opts = &models.GenerateOptions{}
	}
	if ctx.Err() != nil {
		return nil, models.ErrCanceled
	}

	req := &models.InferenceRequest{
		Prompt:         prompt,
		MaxTokens:      opts.MaxTokens,
		Temperature:    opts.Temperature,
		Stream:         opts.Stream,
		Priority:       opts.Priority,
		ForcedModel:    opts.ForcedModel,
		UseSpeculative: opts.UseSpeculative,
	}
	if err := g.admit(req); err != nil {
		return nil, err
	}

	var key string
	if !req.Stream && g.cache != nil {
		key = cache.Key(req.Model, req.Prompt, req.MaxTokens, req.Temperature)
		if gen := g.lookupCache(ctx, key, req); gen != nil {
			return &models.GenerateResult{
				Text:     gen.Text,
				Model:    gen.Model,
				Tier:     gen.Tier,
				CacheHit: true,
			}, nil
		}
	}

	handle, err := g.batcher.Enqueue(req)
	if err != nil {
		return nil, err
	}

	res, err := handle.Await(ctx)
	if err != nil {
		// A caller that walked away must not leave the request scheduled.
		if ctx.Err() != nil {
			handle.Cancel()
		}
		return nil, err
	}

	out := &models.GenerateResult{Model: req.Model, Tier: req.Tier}
	if req.Stream {
		out.Stream = res.Stream
		out.Err = handle.Err
		// Tie the stream to the caller's context so an abandoned consumer
		// tears down the backend call instead of blocking the producer.
		go func() {
			select {
			case <-ctx.Done():
				handle.Cancel()
			case <-handle.Done():
			}
		}()
		return out, nil
	}

	out.Text = res.Text
	out.Metrics = handle.Metrics()
	if key != "" {
		g.storeCache(ctx, key, req, res.Text)
	}
	return out, nil
}

// GetPerformanceStats returns aggregates over the rolling metrics window.
func (g *Gateway) GetPerformanceStats() *models.PerformanceStats {
	return g.recorder.Stats()
}

// HealthCheck runs a one-token probe against the cheapest catalogue model.
// A failed probe degrades the status; it never errors, so callers always get
// the catalogue and measured latency.
func (g *Gateway) HealthCheck(ctx context.Context) *models.HealthStatus {
	status := &models.HealthStatus{
		Status:          models.HealthStatusHealthy,
		ModelsAvailable: g.router.ModelIDs(),
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	noSpec := false
	probe := &models.InferenceRequest{
		Prompt:         healthProbePrompt,
		MaxTokens:      1,
		ForcedModel:    g.router.Cheapest().ID,
		UseSpeculative: &noSpec,
	}

	start := time.Now()
	handle, err := g.Submit(ctx, probe)
	if err == nil {
		if _, err = handle.Await(ctx); err != nil {
			handle.Cancel()
		}
	}
	status.LatencyMs = float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		status.Status = models.HealthStatusDegraded
		status.Error = err.Error()
		g.log.Warn("health probe failed", "model", probe.ForcedModel, "error", err)
	}
	return status
}

// admit validates, classifies and routes a request. Identity and routing
// fields are assigned exactly once, before the request enters the queue.
func (g *Gateway) admit(req *models.InferenceRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return models.ErrEmptyPrompt
	}

	if req.ID == "" {
		req.ID = "req_" + uuid.New().String()
	}

	req.Tier = g.classifier.Classify(req.Prompt)
	spec, err := g.router.Resolve(req.Tier, req.ForcedModel)
	if err != nil {
		return err
	}
	req.Model = spec.ID
	req.Quantization = spec.Quantization
	req.Speculative = g.speculativeFor(req)
	req.SubmittedAt = time.Now()

	return nil
}

// speculativeFor decides whether a request runs with speculative decoding.
// A per-request override wins over the configured default; streams never
// speculate and a missing draft decoder disables it regardless.
func (g *Gateway) speculativeFor(req *models.InferenceRequest) bool {
	want := g.speculation
	if req.UseSpeculative != nil {
		want = *req.UseSpeculative
	}
	return want && !req.Stream && g.speculation
}

// lookupCache returns a prior generation for the key, or nil on miss. A
// broken cache must not block generation, so errors degrade to a miss. Hits
// are reported to the sinks here because they never reach the executor.
func (g *Gateway) lookupCache(ctx context.Context, key string, req *models.InferenceRequest) *models.CachedGeneration {
	gen, err := g.cache.Get(ctx, key)
	if err != nil {
		g.log.Warn("cache lookup failed", "request_id", req.ID, "error", err)
		return nil
	}
	if gen == nil {
		return nil
	}

	g.log.Debug("cache hit", "request_id", req.ID, "model", gen.Model)
	g.reportCacheHit(req, gen)
	return gen
}

func (g *Gateway) storeCache(ctx context.Context, key string, req *models.InferenceRequest, text string) {
	gen := &models.CachedGeneration{
		Text:      text,
		Model:     req.Model,
		Tier:      req.Tier,
		CreatedAt: time.Now(),
	}
	if err := g.cache.Set(ctx, key, gen); err != nil {
		g.log.Warn("cache store failed", "request_id", req.ID, "error", err)
	}
}

// reportCacheHit emits the terminal event and audit row for a request served
// from cache. Latency fields stay zero; the flag distinguishes the rows.
func (g *Gateway) reportCacheHit(req *models.InferenceRequest, gen *models.CachedGeneration) {
	if g.events == nil && g.audit == nil {
		return
	}

	now := time.Now()
	outputTokens := classifier.ApproxTokens(gen.Text)

	if g.events != nil {
		ev := &models.CompletionEvent{
			RequestID:    req.ID,
			Model:        gen.Model,
			Quantization: req.Quantization,
			Tier:         req.Tier.String(),
			Status:       models.StatusCompleted,
			OutputTokens: outputTokens,
			Priority:     req.Priority,
			CacheHit:     true,
			Timestamp:    now,
		}
		if err := g.events.PublishCompletion(ev); err != nil {
			g.log.Warn("completion event publish failed", "request_id", req.ID, "error", err)
		}
	}

	if g.audit != nil {
		rec := &models.RequestRecord{
			RequestID:    req.ID,
			Model:        gen.Model,
			Quantization: req.Quantization,
			Tier:         req.Tier.String(),
			Status:       models.StatusCompleted,
			PromptTokens: classifier.ApproxTokens(req.Prompt),
			OutputTokens: outputTokens,
			Priority:     req.Priority,
			CacheHit:     true,
			CreatedAt:    now,
		}
		if err := g.audit.LogRequest(context.Background(), rec); err != nil {
			g.log.Warn("audit insert failed", "request_id", req.ID, "error", err)
		}
	}
}

func (g *Gateway) reportBackpressure(ctx context.Context) {
	defer g.reporterWG.Done()

	ticker := time.NewTicker(g.config.Events.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.reporterStop:
			return
		case <-ticker.C:
			depth, capacity := g.batcher.Depth(), g.batcher.Capacity()
			report := &models.BackpressureReport{
				QueueDepth:    depth,
				QueueCapacity: capacity,
				InFlight:      g.batcher.InFlight(),
				Status:        events.StatusFor(depth, capacity),
				Timestamp:     time.Now(),
			}
			if err := g.events.PublishBackpressure(report); err != nil {
				g.log.Warn("backpressure report publish failed", "error", err)
			}
		}
	}
}
