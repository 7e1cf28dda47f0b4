package models

import (
	"context"
)

// ResultCache caches completed non-streaming generations
type ResultCache interface {
	Get(ctx context.Context, key string) (*CachedGeneration, error)
	Set(ctx context.Context, key string, gen *CachedGeneration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// EventSink publishes operational events for terminal request outcomes
// and periodic queue pressure reports
type EventSink interface {
	PublishCompletion(ev *CompletionEvent) error
	PublishBackpressure(report *BackpressureReport) error
	Close()
}

// AuditSink persists one record per terminal request outcome
type AuditSink interface {
	LogRequest(ctx context.Context, rec *RequestRecord) error
	Recent(ctx context.Context, limit int) ([]*RequestRecord, error)
	Close() error
}

// Generator is the facade surface the HTTP transport consumes
type Generator interface {
	GenerateWithOptions(ctx context.Context, prompt string, opts *GenerateOptions) (*GenerateResult, error)
	GetPerformanceStats() *PerformanceStats
	HealthCheck(ctx context.Context) *HealthStatus
}
