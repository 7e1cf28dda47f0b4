package metrics

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/models"
)

// Recorder keeps a fixed-capacity window of per-request metrics and
// aggregates it on demand. The processed counter is monotonic and survives
// eviction; everything else is computed over the window.
type Recorder struct {
	mu        sync.Mutex
	window    []*models.InferenceMetrics
	head      int
	count     int
	processed uint64
}

func NewRecorder(cfg *config.MetricsConfig) (*Recorder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("metrics config is required")
	}
	if cfg.HistorySize <= 0 {
		return nil, fmt.Errorf("history size must be positive, got %d", cfg.HistorySize)
	}
	return &Recorder{
		window: make([]*models.InferenceMetrics, cfg.HistorySize),
	}, nil
}

// Record adds one completed request to the window, evicting the oldest
// entry once capacity is reached.
func (r *Recorder) Record(m *models.InferenceMetrics) {
	if m == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.window[r.head] = m
	r.head = (r.head + 1) % len(r.window)
	if r.count < len(r.window) {
		r.count++
	}
	r.processed++
}

// Processed reports the total number of recorded requests, including ones
// evicted from the window.
func (r *Recorder) Processed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed
}

// Stats aggregates the current window. An empty window yields zero values,
// never an error.
func (r *Recorder) Stats() *models.PerformanceStats {
	snapshot, processed := r.snapshot()

	stats := &models.PerformanceStats{
		RequestsProcessed:  processed,
		ModelsUsed:         []string{},
		QuantizationCounts: map[string]int{},
	}
	if len(snapshot) == 0 {
		return stats
	}

	n := float64(len(snapshot))
	ttfts := make([]float64, 0, len(snapshot))
	latencies := make([]float64, 0, len(snapshot))
	seen := map[string]bool{}

	var ttftSum, tpsSum, latencySum, batchSum float64
	for _, m := range snapshot {
		ttftMs := durationMs(m.TTFT)
		latencyMs := durationMs(m.TotalLatency)

		ttfts = append(ttfts, ttftMs)
		latencies = append(latencies, latencyMs)
		ttftSum += ttftMs
		latencySum += latencyMs
		tpsSum += m.TokensPerSecond
		batchSum += float64(m.BatchSize)

		if !seen[m.Model] {
			seen[m.Model] = true
			stats.ModelsUsed = append(stats.ModelsUsed, m.Model)
		}
		if m.Quantization != "" {
			stats.QuantizationCounts[m.Quantization]++
		}
	}
	sort.Strings(stats.ModelsUsed)

	stats.AvgTTFT = ttftSum / n
	stats.AvgLatency = latencySum / n
	stats.AvgTokensPerSecond = tpsSum / n
	stats.AvgBatchSize = batchSum / n
	stats.P95TTFT = percentile(ttfts, 0.95)
	stats.P99Latency = percentile(latencies, 0.99)
	return stats
}

func (r *Recorder) snapshot() ([]*models.InferenceMetrics, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.InferenceMetrics, 0, r.count)
	for i := 0; i < r.count; i++ {
		// Oldest first: the slot after head holds the oldest entry once full.
		idx := i
		if r.count == len(r.window) {
			idx = (r.head + i) % len(r.window)
		}
		out = append(out, r.window[idx])
	}
	return out, r.processed
}

// percentile uses the nearest-rank method over a sorted copy.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
