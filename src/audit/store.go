package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/models"
)

// Store persists one row per terminal request outcome.
type Store struct {
	db *sql.DB
}

func Open(cfg *config.AuditConfig) (*Store, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("audit db path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS requests(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		request_id TEXT,
		model TEXT,
		quantization TEXT,
		tier TEXT,
		status TEXT,
		error TEXT,
		prompt_tokens INTEGER,
		output_tokens INTEGER,
		ttft_ms REAL,
		total_ms REAL,
		tokens_per_second REAL,
		batch_size INTEGER,
		priority INTEGER,
		cache_hit INTEGER
	)`); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) LogRequest(ctx context.Context, rec *models.RequestRecord) error {
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO requests(
		ts, request_id, model, quantization, tier, status, error,
		prompt_tokens, output_tokens, ttft_ms, total_ms, tokens_per_second,
		batch_size, priority, cache_hit)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		float64(ts.UnixNano())/1e9, rec.RequestID, rec.Model, rec.Quantization,
		rec.Tier, rec.Status, rec.Error, rec.PromptTokens, rec.OutputTokens,
		rec.TTFTMs, rec.TotalMs, rec.TokensPerSecond, rec.BatchSize, rec.Priority,
		rec.CacheHit)
	return err
}

// Recent returns the newest records first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*models.RequestRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `SELECT
		ts, request_id, model, quantization, tier, status, error,
		prompt_tokens, output_tokens, ttft_ms, total_ms, tokens_per_second,
		batch_size, priority, cache_hit
		FROM requests ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RequestRecord
	for rows.Next() {
		var rec models.RequestRecord
		var ts float64
		if err := rows.Scan(&ts, &rec.RequestID, &rec.Model, &rec.Quantization,
			&rec.Tier, &rec.Status, &rec.Error, &rec.PromptTokens, &rec.OutputTokens,
			&rec.TTFTMs, &rec.TotalMs, &rec.TokensPerSecond, &rec.BatchSize,
			&rec.Priority, &rec.CacheHit); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(0, int64(ts*1e9))
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
