package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(&config.AuditConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "requests.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord(id string) *models.RequestRecord {
	return &models.RequestRecord{
		RequestID:       id,
		Model:           "mixtral-8x7b-32768",
		Quantization:    models.QuantFP16,
		Tier:            "moderate",
		Status:          models.StatusCompleted,
		PromptTokens:    12,
		OutputTokens:    48,
		TTFTMs:          35.5,
		TotalMs:         820.25,
		TokensPerSecond: 58.5,
		BatchSize:       3,
		Priority:        1,
		CreatedAt:       time.Now(),
	}
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(nil)
	assert.Error(t, err)

	_, err = Open(&config.AuditConfig{})
	assert.Error(t, err)
}

func TestStore_LogAndReadBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("req-1")
	require.NoError(t, store.LogRequest(ctx, rec))

	got, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, rec.RequestID, got[0].RequestID)
	assert.Equal(t, rec.Model, got[0].Model)
	assert.Equal(t, rec.Quantization, got[0].Quantization)
	assert.Equal(t, rec.Tier, got[0].Tier)
	assert.Equal(t, rec.Status, got[0].Status)
	assert.Equal(t, rec.PromptTokens, got[0].PromptTokens)
	assert.Equal(t, rec.OutputTokens, got[0].OutputTokens)
	assert.InDelta(t, rec.TTFTMs, got[0].TTFTMs, 0.001)
	assert.InDelta(t, rec.TotalMs, got[0].TotalMs, 0.001)
	assert.InDelta(t, rec.TokensPerSecond, got[0].TokensPerSecond, 0.001)
	assert.Equal(t, rec.BatchSize, got[0].BatchSize)
	assert.Equal(t, rec.Priority, got[0].Priority)
	assert.WithinDuration(t, rec.CreatedAt, got[0].CreatedAt, time.Second)
}

func TestStore_RecordsFailures(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("req-err")
	rec.Status = models.StatusFailed
	rec.Error = "dispatch to model mixtral-8x7b-32768 failed: connection reset"
	require.NoError(t, store.LogRequest(ctx, rec))

	got, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.StatusFailed, got[0].Status)
	assert.Contains(t, got[0].Error, "connection reset")
}

func TestStore_RecentNewestFirstWithLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.LogRequest(ctx, sampleRecord(fmt.Sprintf("req-%d", i))))
	}

	got, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "req-5", got[0].RequestID)
	assert.Equal(t, "req-4", got[1].RequestID)
}

func TestStore_RecentEmpty(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.db")
	cfg := &config.AuditConfig{Enabled: true, Path: path}

	store, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, store.LogRequest(context.Background(), sampleRecord("req-1")))
	require.NoError(t, store.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "req-1", got[0].RequestID)
}
