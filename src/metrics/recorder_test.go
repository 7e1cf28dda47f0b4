package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/models"
)

func setupTestRecorder(t *testing.T, historySize int) *Recorder {
	t.Helper()
	r, err := NewRecorder(&config.MetricsConfig{HistorySize: historySize})
	require.NoError(t, err)
	return r
}

func sampleMetrics(id string, ttft, latency time.Duration) *models.InferenceMetrics {
	return &models.InferenceMetrics{
		RequestID:       id,
		Model:           "llama-3.3-70b-versatile",
		Quantization:    models.QuantFP8,
		Tier:            models.TierModerate,
		TTFT:            ttft,
		TotalLatency:    latency,
		TokensPerSecond: 40,
		OutputTokens:    20,
		BatchSize:       2,
		CompletedAt:     time.Now(),
	}
}

func TestNewRecorder_Validation(t *testing.T) {
	_, err := NewRecorder(nil)
	assert.Error(t, err)

	_, err = NewRecorder(&config.MetricsConfig{HistorySize: 0})
	assert.Error(t, err)

	_, err = NewRecorder(&config.MetricsConfig{HistorySize: -5})
	assert.Error(t, err)
}

func TestRecorder_EmptyStats(t *testing.T) {
	r := setupTestRecorder(t, 10)

	stats := r.Stats()
	assert.Zero(t, stats.AvgTTFT)
	assert.Zero(t, stats.P95TTFT)
	assert.Zero(t, stats.AvgTokensPerSecond)
	assert.Zero(t, stats.AvgLatency)
	assert.Zero(t, stats.P99Latency)
	assert.Zero(t, stats.RequestsProcessed)
	assert.Zero(t, stats.AvgBatchSize)
	assert.NotNil(t, stats.ModelsUsed)
	assert.Empty(t, stats.ModelsUsed)
	assert.NotNil(t, stats.QuantizationCounts)
	assert.Empty(t, stats.QuantizationCounts)
}

func TestRecorder_Averages(t *testing.T) {
	r := setupTestRecorder(t, 10)

	r.Record(sampleMetrics("a", 10*time.Millisecond, 100*time.Millisecond))
	r.Record(sampleMetrics("b", 30*time.Millisecond, 300*time.Millisecond))

	stats := r.Stats()
	assert.InDelta(t, 20.0, stats.AvgTTFT, 0.001)
	assert.InDelta(t, 200.0, stats.AvgLatency, 0.001)
	assert.InDelta(t, 40.0, stats.AvgTokensPerSecond, 0.001)
	assert.InDelta(t, 2.0, stats.AvgBatchSize, 0.001)
	assert.Equal(t, uint64(2), stats.RequestsProcessed)
}

func TestRecorder_Percentiles(t *testing.T) {
	r := setupTestRecorder(t, 200)

	for i := 1; i <= 100; i++ {
		d := time.Duration(i) * time.Millisecond
		r.Record(sampleMetrics(fmt.Sprintf("r%d", i), d, d))
	}

	stats := r.Stats()
	assert.InDelta(t, 95.0, stats.P95TTFT, 0.001)
	assert.InDelta(t, 99.0, stats.P99Latency, 0.001)
}

func TestRecorder_EvictionKeepsProcessedMonotonic(t *testing.T) {
	r := setupTestRecorder(t, 3)

	for i := 1; i <= 5; i++ {
		ttft := time.Duration(i*10) * time.Millisecond
		r.Record(sampleMetrics(fmt.Sprintf("r%d", i), ttft, ttft))
	}

	stats := r.Stats()
	// Window holds r3, r4, r5 (30/40/50ms); the counter still reports all 5.
	assert.Equal(t, uint64(5), stats.RequestsProcessed)
	assert.InDelta(t, 40.0, stats.AvgTTFT, 0.001)
}

func TestRecorder_ModelAndQuantizationDistribution(t *testing.T) {
	r := setupTestRecorder(t, 10)

	a := sampleMetrics("a", time.Millisecond, time.Millisecond)
	b := sampleMetrics("b", time.Millisecond, time.Millisecond)
	b.Model = "llama-3.1-8b-instant"
	b.Quantization = models.QuantINT8
	c := sampleMetrics("c", time.Millisecond, time.Millisecond)

	r.Record(a)
	r.Record(b)
	r.Record(c)

	stats := r.Stats()
	assert.Equal(t, []string{"llama-3.1-8b-instant", "llama-3.3-70b-versatile"}, stats.ModelsUsed)
	assert.Equal(t, 2, stats.QuantizationCounts[models.QuantFP8])
	assert.Equal(t, 1, stats.QuantizationCounts[models.QuantINT8])
}

func TestRecorder_ConcurrentRecord(t *testing.T) {
	r := setupTestRecorder(t, 64)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				r.Record(sampleMetrics(fmt.Sprintf("r%d-%d", i, j), time.Millisecond, time.Millisecond))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(200), r.Processed())
}

func BenchmarkRecorderStats(b *testing.B) {
	r, err := NewRecorder(&config.MetricsConfig{HistorySize: 1000})
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		r.Record(sampleMetrics(fmt.Sprintf("r%d", i), time.Duration(i)*time.Microsecond, time.Duration(i)*time.Microsecond))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Stats()
	}
}
