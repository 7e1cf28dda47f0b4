package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/tokenscale/inference-gateway/src/models"
)

// MockGenerator implements models.Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateWithOptions(ctx context.Context, prompt string, opts *models.GenerateOptions) (*models.GenerateResult, error) {
	args := m.Called(ctx, prompt, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GenerateResult), args.Error(1)
}

func (m *MockGenerator) GetPerformanceStats() *models.PerformanceStats {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.PerformanceStats)
}

func (m *MockGenerator) HealthCheck(ctx context.Context) *models.HealthStatus {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.HealthStatus)
}

// MockAuditSink implements models.AuditSink
type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) LogRequest(ctx context.Context, rec *models.RequestRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockAuditSink) Recent(ctx context.Context, limit int) ([]*models.RequestRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RequestRecord), args.Error(1)
}

func (m *MockAuditSink) Close() error {
	args := m.Called()
	return args.Error(0)
}
