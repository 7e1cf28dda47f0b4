package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokenscale/inference-gateway/src/models"
)

const defaultRecentLimit = 50

type GatewayHandler struct {
	gateway models.Generator
	audit   models.AuditSink
	log     *slog.Logger
}

func NewGatewayHandler(gw models.Generator) *GatewayHandler {
	return &GatewayHandler{
		gateway: gw,
		log:     slog.Default().With("component", "handlers"),
	}
}

// SetAuditSink enables the recent-requests endpoint. Without a sink the
// endpoint answers 404.
func (h *GatewayHandler) SetAuditSink(sink models.AuditSink) {
	h.audit = sink
}

func (h *GatewayHandler) HandleGenerate(c *gin.Context) {
	var req models.InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := &models.GenerateOptions{
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		Stream:         req.Stream,
		Priority:       req.Priority,
		ForcedModel:    req.ForcedModel,
		UseSpeculative: req.UseSpeculative,
	}

	res, err := h.gateway.GenerateWithOptions(c.Request.Context(), req.Prompt, opts)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if res.Stream != nil {
		h.streamTokens(c, res)
		return
	}

	c.JSON(http.StatusOK, buildResponse(res))
}

// streamTokens relays token chunks as server-sent events. The [DONE]
// sentinel is written only when the stream ended cleanly; after a
// mid-stream failure the connection closes without it, which the client
// must treat as an aborted generation.
func (h *GatewayHandler) streamTokens(c *gin.Context, res *models.GenerateResult) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for chunk := range res.Stream {
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}

	if res.Err != nil {
		if err := res.Err(); err != nil {
			h.log.Warn("stream ended with error", "model", res.Model, "error", err)
			return
		}
	}

	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

func (h *GatewayHandler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.gateway.GetPerformanceStats())
}

func (h *GatewayHandler) HandleHealth(c *gin.Context) {
	status := h.gateway.HealthCheck(c.Request.Context())
	code := http.StatusOK
	if status.Status != models.HealthStatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// HandleRecentRequests returns the newest audit records, default 50.
func (h *GatewayHandler) HandleRecentRequests(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log not enabled"})
		return
	}

	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	recs, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": recs,
		"count":    len(recs),
	})
}

// writeError maps gateway errors onto HTTP statuses. Invalid input is the
// caller's fault, saturation and shutdown are capacity signals, a queue
// timeout means the deadline passed before dispatch, and dispatch failures
// point at the backend.
func (h *GatewayHandler) writeError(c *gin.Context, err error) {
	var unknownModel *models.UnknownModelError
	var dispatchErr *models.DispatchError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &unknownModel), errors.Is(err, models.ErrEmptyPrompt):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrQueueSaturated), errors.Is(err, models.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	case errors.Is(err, models.ErrQueueTimeout):
		status = http.StatusGatewayTimeout
	case errors.As(err, &dispatchErr):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{
		"error":     err.Error(),
		"retryable": models.IsRetryable(err),
	})
}

func buildResponse(res *models.GenerateResult) *models.GenerateResponse {
	out := &models.GenerateResponse{
		Text:      res.Text,
		Model:     res.Model,
		Tier:      res.Tier.String(),
		CacheHit:  res.CacheHit,
		Timestamp: time.Now(),
	}
	if m := res.Metrics; m != nil {
		out.OutputTokens = m.OutputTokens
		out.TTFTMs = float64(m.TTFT) / float64(time.Millisecond)
		out.TotalMs = float64(m.TotalLatency) / float64(time.Millisecond)
		out.TokensPerSecond = m.TokensPerSecond
	}
	return out
}
