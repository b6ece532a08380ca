// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package benchmark

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/teradata-labs/hermes/pkg/storage"
	"github.com/teradata-labs/hermes/pkg/types"
)

// rawCompressThreshold is the size above which raw evaluator responses
// are zstd-compressed before storage.
const rawCompressThreshold = 1024

// zstdMagic prefixes every zstd frame; used to detect compressed rows.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Store persists benchmark results.
type Store struct {
	db      *storage.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewStore creates a benchmark store and initialises its schema.
func NewStore(db *storage.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{db: db, encoder: encoder, decoder: decoder}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize benchmark schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS benchmark_results (
		id TEXT PRIMARY KEY,
		prompt_id TEXT NOT NULL,
		prompt_version TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		suite_id TEXT NOT NULL,
		overall_score REAL NOT NULL,
		dimension_scores TEXT, -- JSON object
		model_id TEXT NOT NULL DEFAULT '',
		model_version TEXT NOT NULL DEFAULT '',
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		token_usage TEXT,      -- JSON object
		baseline_score REAL,
		delta REAL,
		gate_passed INTEGER NOT NULL,
		gate_threshold REAL NOT NULL,
		is_regression INTEGER NOT NULL,
		executed_at TIMESTAMP NOT NULL,
		executor_id TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL DEFAULT 'production',
		error TEXT NOT NULL DEFAULT '',
		raw_response BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_benchmark_results_prompt
		ON benchmark_results(prompt_id, executed_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert persists one result. rawResponse (the evaluator's reply, for
// audit) is compressed when large; pass nil to skip.
func (s *Store) Insert(ctx context.Context, r *Result, rawResponse []byte) error {
	dims, err := json.Marshal(r.DimensionScores)
	if err != nil {
		return fmt.Errorf("failed to marshal dimension scores: %w", err)
	}
	tokens, err := json.Marshal(r.TokenUsage)
	if err != nil {
		return fmt.Errorf("failed to marshal token usage: %w", err)
	}

	raw := rawResponse
	if len(raw) > rawCompressThreshold {
		raw = s.encoder.EncodeAll(raw, nil)
	}

	query := s.db.Bind(`
		INSERT INTO benchmark_results (
			id, prompt_id, prompt_version, content_hash, suite_id,
			overall_score, dimension_scores, model_id, model_version,
			execution_time_ms, token_usage, baseline_score, delta,
			gate_passed, gate_threshold, is_regression,
			executed_at, executor_id, environment, error, raw_response
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.PromptID, r.PromptVersion, r.ContentHash, r.SuiteID,
		r.OverallScore, string(dims), r.ModelID, r.ModelVersion,
		r.ExecutionTimeMs, string(tokens), nullableFloat(r.BaselineScore), nullableFloat(r.Delta),
		r.GatePassed, r.GateThreshold, r.IsRegression,
		r.ExecutedAt, r.ExecutorID, r.Environment, r.Error, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to insert benchmark result: %w", err)
	}
	return nil
}

const resultColumns = `
	id, prompt_id, prompt_version, content_hash, suite_id,
	overall_score, dimension_scores, model_id, model_version,
	execution_time_ms, token_usage, baseline_score, delta,
	gate_passed, gate_threshold, is_regression,
	executed_at, executor_id, environment, error`

// Latest returns the most recent result for a prompt.
func (s *Store) Latest(ctx context.Context, promptID string) (*Result, error) {
	query := s.db.Bind(`
		SELECT` + resultColumns + `
		FROM benchmark_results WHERE prompt_id = ?
		ORDER BY executed_at DESC LIMIT 1`)

	r, err := scanResult(s.db.QueryRowContext(ctx, query, promptID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFoundf("no benchmark results for prompt %q", promptID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan benchmark result: %w", err)
	}
	return r, nil
}

// Recent returns the newest limit results for a prompt, newest first.
// When excludeSimulation is set, simulation-tagged results are filtered
// out; regression baselines must only see real runs.
func (s *Store) Recent(ctx context.Context, promptID string, limit int, excludeSimulation bool) ([]*Result, error) {
	query := `
		SELECT` + resultColumns + `
		FROM benchmark_results WHERE prompt_id = ?`
	args := []any{promptID}
	if excludeSimulation {
		query += ` AND environment != ?`
		args = append(args, types.EnvSimulation)
	}
	query += ` ORDER BY executed_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryResults(ctx, query, args...)
}

// Window returns all results for a prompt executed after the cutoff,
// oldest first (the order linear regression wants).
func (s *Store) Window(ctx context.Context, promptID string, since time.Time) ([]*Result, error) {
	query := `
		SELECT` + resultColumns + `
		FROM benchmark_results WHERE prompt_id = ? AND executed_at >= ?
		ORDER BY executed_at ASC`
	return s.queryResults(ctx, query, promptID, since)
}

// RawResponse returns the stored evaluator reply for a result,
// transparently decompressing.
func (s *Store) RawResponse(ctx context.Context, resultID string) ([]byte, error) {
	var raw []byte
	query := s.db.Bind(`SELECT raw_response FROM benchmark_results WHERE id = ?`)
	err := s.db.QueryRowContext(ctx, query, resultID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFoundf("benchmark result %q", resultID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read raw response: %w", err)
	}
	if len(raw) >= 4 && raw[0] == zstdMagic[0] && raw[1] == zstdMagic[1] &&
		raw[2] == zstdMagic[2] && raw[3] == zstdMagic[3] {
		return s.decoder.DecodeAll(raw, nil)
	}
	return raw, nil
}

// DeleteForPrompt removes every result for a prompt. Called when a
// prompt is hard-deleted.
func (s *Store) DeleteForPrompt(ctx context.Context, promptID string) error {
	query := s.db.Bind(`DELETE FROM benchmark_results WHERE prompt_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, promptID); err != nil {
		return fmt.Errorf("failed to delete benchmark results: %w", err)
	}
	return nil
}

func (s *Store) queryResults(ctx context.Context, query string, args ...any) ([]*Result, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query benchmark results: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		r, err := scanResult(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan benchmark result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanResult(scan func(dest ...any) error) (*Result, error) {
	var (
		r               Result
		dims, tokens    sql.NullString
		baseline, delta sql.NullFloat64
	)
	err := scan(
		&r.ID, &r.PromptID, &r.PromptVersion, &r.ContentHash, &r.SuiteID,
		&r.OverallScore, &dims, &r.ModelID, &r.ModelVersion,
		&r.ExecutionTimeMs, &tokens, &baseline, &delta,
		&r.GatePassed, &r.GateThreshold, &r.IsRegression,
		&r.ExecutedAt, &r.ExecutorID, &r.Environment, &r.Error,
	)
	if err != nil {
		return nil, err
	}
	if baseline.Valid {
		v := baseline.Float64
		r.BaselineScore = &v
	}
	if delta.Valid {
		v := delta.Float64
		r.Delta = &v
	}
	if dims.Valid && dims.String != "" && dims.String != "null" {
		if err := json.Unmarshal([]byte(dims.String), &r.DimensionScores); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dimension scores: %w", err)
		}
	}
	if tokens.Valid && tokens.String != "" && tokens.String != "null" {
		if err := json.Unmarshal([]byte(tokens.String), &r.TokenUsage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal token usage: %w", err)
		}
	}
	return &r, nil
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
