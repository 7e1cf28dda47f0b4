package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tokenscale/inference-gateway/src/classifier"
	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/metrics"
	"github.com/tokenscale/inference-gateway/src/models"
	"github.com/tokenscale/inference-gateway/src/scheduler"
	"github.com/tokenscale/inference-gateway/src/speculative"
)

// Executor drives chat-completion calls against the backend for dispatched
// batches. It implements scheduler.Dispatcher: Dispatch returns once every
// member's goroutine is launched, and every member's handle resolves no
// matter how its call ends.
type Executor struct {
	backend  *config.BackendConfig
	client   *openai.Client
	recorder *metrics.Recorder
	decoder  *speculative.Decoder
	events   models.EventSink
	audit    models.AuditSink
	log      *slog.Logger
}

func NewExecutor(cfg *config.BackendConfig, recorder *metrics.Recorder) (*Executor, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("backend endpoint is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("metrics recorder is required")
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	if cfg.Timeout > 0 {
		// Bounds time to response headers; streams stay open past it.
		transport.ResponseHeaderTimeout = cfg.Timeout
	}
	httpClient := &http.Client{Transport: transport}

	if cfg.OAuth.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		httpClient = cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, httpClient))
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "not-needed" // vLLM-style endpoints ignore the bearer token
	}
	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	clientCfg.HTTPClient = httpClient

	return &Executor{
		backend:  cfg,
		client:   openai.NewClientWithConfig(clientCfg),
		recorder: recorder,
		log:      slog.Default().With("component", "executor"),
	}, nil
}

// SetDecoder enables speculative decoding for non-streaming members that
// opted in.
func (e *Executor) SetDecoder(d *speculative.Decoder) {
	e.decoder = d
}

func (e *Executor) SetEventSink(sink models.EventSink) {
	e.events = sink
}

func (e *Executor) SetAuditSink(sink models.AuditSink) {
	e.audit = sink
}

// Dispatch groups members by resolved model and launches one goroutine per
// member. Arrival order is preserved inside each group; groups for different
// models never merge into one backend exchange.
func (e *Executor) Dispatch(ctx context.Context, batch *scheduler.Batch) {
	groups := groupByModel(batch.Members)
	e.log.Debug("dispatching batch",
		"batch_id", batch.ID,
		"members", len(batch.Members),
		"model_groups", len(groups))

	for _, group := range groups {
		size := len(group)
		for _, m := range group {
			go e.run(batch.ID, m, size)
		}
	}
}

func groupByModel(members []*scheduler.Member) [][]*scheduler.Member {
	index := make(map[string]int)
	var groups [][]*scheduler.Member
	for _, m := range members {
		i, ok := index[m.Req.Model]
		if !ok {
			i = len(groups)
			index[m.Req.Model] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

// run owns one member end to end: backend call, handle resolution, metrics,
// events, audit. A failing member never touches its batch siblings.
func (e *Executor) run(batchID string, m *scheduler.Member, groupSize int) {
	h, req := m.Handle, m.Req

	defer h.CloseStream()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("member execution panicked", "request_id", req.ID, "panic", r)
			h.Fail(&models.DispatchError{Model: req.Model, Err: fmt.Errorf("member panicked: %v", r)})
		}
	}()

	if h.Resolved() {
		return // canceled while the batch was forming
	}

	start := time.Now()
	anchor := req.SubmittedAt
	if anchor.IsZero() {
		anchor = start
	}

	var (
		text   string
		tokens int
		ttft   time.Duration
		err    error
	)
	if req.Stream {
		text, tokens, ttft, err = e.streamMember(h, req, start)
	} else {
		text, tokens, err = e.completeMember(h, req)
	}
	done := time.Now()

	im := &models.InferenceMetrics{
		RequestID:       req.ID,
		Model:           req.Model,
		Quantization:    req.Quantization,
		Tier:            req.Tier,
		TTFT:            ttft,
		TotalLatency:    done.Sub(anchor),
		TokensPerSecond: tokensPerSecond(tokens, done.Sub(start)),
		OutputTokens:    tokens,
		BatchSize:       groupSize,
		CompletedAt:     done,
	}

	if err != nil {
		h.Fail(classifyDispatchErr(req.Model, err))
		e.log.Warn("member failed",
			"request_id", req.ID,
			"model", req.Model,
			"batch_id", batchID,
			"error", err)
		e.report(req, im, h.Err())
		return
	}

	if !req.Stream {
		// The whole result arrives at once; first token time is response time.
		im.TTFT = done.Sub(start)
	}

	h.Complete(text, im)
	if terminal := h.Err(); terminal != nil {
		// Lost the race to a cancellation; the caller never saw this result.
		e.report(req, im, terminal)
		return
	}

	e.recorder.Record(im)
	e.report(req, im, nil)
	e.log.Debug("member completed",
		"request_id", req.ID,
		"model", req.Model,
		"output_tokens", tokens,
		"latency", im.TotalLatency.String())
}

// streamMember relays delta frames into the member's handle as they arrive.
// TTFT is measured from dispatch to the first delta. On mid-stream failure
// it returns what was streamed so far; the caller resolves the handle.
func (e *Executor) streamMember(h *scheduler.Handle, req *models.InferenceRequest, start time.Time) (string, int, time.Duration, error) {
	stream, err := e.client.CreateChatCompletionStream(h.Context(), e.wireRequest(req, true))
	if err != nil {
		return "", 0, 0, err
	}
	defer stream.Close()

	var out strings.Builder
	tokens := 0
	var ttft time.Duration

	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out.String(), tokens, ttft, err
		}
		if len(frame.Choices) == 0 {
			continue
		}
		delta := frame.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		if tokens == 0 {
			ttft = time.Since(start)
		}
		if err := h.Push(delta); err != nil {
			return out.String(), tokens, ttft, err
		}
		out.WriteString(delta)
		tokens++
	}
	return out.String(), tokens, ttft, nil
}

// completeMember issues one non-streaming call, optionally seeded by a
// speculative prefix. Usage counts win over the whitespace approximation.
func (e *Executor) completeMember(h *scheduler.Handle, req *models.InferenceRequest) (string, int, error) {
	ctx := h.Context()
	if e.backend.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.backend.Timeout)
		defer cancel()
	}

	prefix, accepted := "", 0
	if req.Speculative && e.decoder != nil {
		prefix, accepted = e.speculate(ctx, req)
	}

	wire := e.wireRequest(req, false)
	if accepted > 0 {
		wire.Messages = append(wire.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: prefix,
		})
		if wire.MaxTokens > 0 {
			wire.MaxTokens -= accepted
			if wire.MaxTokens < 1 {
				wire.MaxTokens = 1
			}
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, wire)
	if err != nil && accepted > 0 {
		// Speculation is advisory: retry once without the seeded prefix.
		e.log.Debug("continuation call failed, retrying plain",
			"request_id", req.ID, "error", err)
		prefix, accepted = "", 0
		resp, err = e.client.CreateChatCompletion(ctx, e.wireRequest(req, false))
	}
	if err != nil {
		return "", 0, err
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("backend returned no choices")
	}

	text := resp.Choices[0].Message.Content
	tokens := resp.Usage.CompletionTokens
	if accepted > 0 {
		text = joinContinuation(prefix, text)
		if tokens > 0 {
			tokens += accepted
		}
	}
	if tokens == 0 {
		tokens = classifier.ApproxTokens(text)
	}
	return text, tokens, nil
}

// speculate runs the draft/verify exchange. Any failure falls back to plain
// generation; the accepted prefix only ever shrinks the remainder call.
func (e *Executor) speculate(ctx context.Context, req *models.InferenceRequest) (string, int) {
	if req.MaxTokens > 0 && req.MaxTokens <= e.decoder.Lookahead() {
		return "", 0 // nothing left to save on a request this small
	}

	candidates, err := e.decoder.Speculate(ctx, req.Prompt, req.Model)
	if err != nil {
		e.log.Debug("draft pass failed, generating plain",
			"request_id", req.ID, "error", err)
		return "", 0
	}

	accepted, n, err := e.decoder.Verify(ctx, req.Prompt, candidates, req.Model)
	if err != nil {
		e.log.Debug("verify pass failed, generating plain",
			"request_id", req.ID, "error", err)
		return "", 0
	}
	if n == 0 {
		return "", 0
	}
	return strings.Join(accepted, " "), n
}

func (e *Executor) wireRequest(req *models.InferenceRequest, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// report emits the terminal outcome to the optional event and audit sinks.
// Both are best effort; sink errors are logged, never propagated.
func (e *Executor) report(req *models.InferenceRequest, im *models.InferenceMetrics, terminalErr error) {
	if e.events == nil && e.audit == nil {
		return
	}

	status := models.StatusCompleted
	errMsg := ""
	if terminalErr != nil {
		errMsg = terminalErr.Error()
		if errors.Is(terminalErr, models.ErrCanceled) || errors.Is(terminalErr, models.ErrShuttingDown) {
			status = models.StatusCanceled
		} else {
			status = models.StatusFailed
		}
	}

	ttftMs := float64(im.TTFT) / float64(time.Millisecond)
	totalMs := float64(im.TotalLatency) / float64(time.Millisecond)

	if e.events != nil {
		ev := &models.CompletionEvent{
			RequestID:       req.ID,
			Model:           req.Model,
			Quantization:    req.Quantization,
			Tier:            req.Tier.String(),
			Status:          status,
			Error:           errMsg,
			TTFTMs:          ttftMs,
			TotalMs:         totalMs,
			TokensPerSecond: im.TokensPerSecond,
			OutputTokens:    im.OutputTokens,
			BatchSize:       im.BatchSize,
			Priority:        req.Priority,
			Timestamp:       im.CompletedAt,
		}
		if err := e.events.PublishCompletion(ev); err != nil {
			e.log.Warn("completion event publish failed", "request_id", req.ID, "error", err)
		}
	}

	if e.audit != nil {
		rec := &models.RequestRecord{
			RequestID:       req.ID,
			Model:           req.Model,
			Quantization:    req.Quantization,
			Tier:            req.Tier.String(),
			Status:          status,
			Error:           errMsg,
			PromptTokens:    classifier.ApproxTokens(req.Prompt),
			OutputTokens:    im.OutputTokens,
			TTFTMs:          ttftMs,
			TotalMs:         totalMs,
			TokensPerSecond: im.TokensPerSecond,
			BatchSize:       im.BatchSize,
			Priority:        req.Priority,
			CreatedAt:       im.CompletedAt,
		}
		// The handle's context may already be canceled; the row still matters.
		if err := e.audit.LogRequest(context.Background(), rec); err != nil {
			e.log.Warn("audit insert failed", "request_id", req.ID, "error", err)
		}
	}
}

// classifyDispatchErr maps call failures onto the error taxonomy:
// cancellation stays non-retryable, everything else wraps as a retryable
// dispatch failure.
func classifyDispatchErr(model string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, models.ErrCanceled) {
		return models.ErrCanceled
	}
	return &models.DispatchError{Model: model, Err: err}
}

func joinContinuation(prefix, rest string) string {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return prefix
	}
	return prefix + " " + rest
}

func tokensPerSecond(tokens int, elapsed time.Duration) float64 {
	if tokens == 0 || elapsed <= 0 {
		return 0
	}
	return float64(tokens) / elapsed.Seconds()
}
