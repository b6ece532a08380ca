// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package experiments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teradata-labs/hermes/pkg/storage"
	"github.com/teradata-labs/hermes/pkg/types"
)

// Store persists experiments and their event streams. An experiment
// exclusively owns its events; deleting one cascades.
type Store struct {
	db *storage.DB
}

// NewStore creates an experiment store and initialises its schema.
func NewStore(db *storage.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize experiment schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		variants TEXT NOT NULL,  -- JSON array
		metrics TEXT,            -- JSON array
		strategy TEXT NOT NULL,
		epsilon REAL NOT NULL DEFAULT 0,
		ucb_constant REAL NOT NULL DEFAULT 0,
		traffic_percentage REAL NOT NULL,
		min_sample_size INTEGER NOT NULL,
		max_duration_days INTEGER NOT NULL,
		confidence_threshold REAL NOT NULL,
		auto_promote INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		ended_at TIMESTAMP,
		winner_variant_id TEXT NOT NULL DEFAULT '',
		result TEXT              -- JSON object
	);

	CREATE TABLE IF NOT EXISTS experiment_events (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		value REAL NOT NULL DEFAULT 0,
		metric_id TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_experiment_events_variant
		ON experiment_events(experiment_id, variant_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new experiment head.
func (s *Store) Create(ctx context.Context, e *Experiment) error {
	return s.write(ctx, e, true)
}

// Save replaces an experiment head.
func (s *Store) Save(ctx context.Context, e *Experiment) error {
	return s.write(ctx, e, false)
}

func (s *Store) write(ctx context.Context, e *Experiment, insert bool) error {
	variants, err := json.Marshal(e.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}
	metrics, err := json.Marshal(e.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	var result any
	if e.Result != nil {
		b, err := json.Marshal(e.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		result = string(b)
	}

	var query string
	args := []any{
		e.Name, e.Description, string(e.Status), string(variants), string(metrics),
		string(e.Strategy), e.Epsilon, e.UCBConstant, e.TrafficPercentage,
		e.MinSampleSize, e.MaxDurationDays, e.ConfidenceThreshold, e.AutoPromote,
		e.CreatedAt, nullTime(e.StartedAt), nullTime(e.EndedAt),
		e.WinnerVariantID, result,
	}
	if insert {
		query = s.db.Bind(`
			INSERT INTO experiments (
				name, description, status, variants, metrics,
				strategy, epsilon, ucb_constant, traffic_percentage,
				min_sample_size, max_duration_days, confidence_threshold, auto_promote,
				created_at, started_at, ended_at, winner_variant_id, result, id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	} else {
		query = s.db.Bind(`
			UPDATE experiments SET
				name = ?, description = ?, status = ?, variants = ?, metrics = ?,
				strategy = ?, epsilon = ?, ucb_constant = ?, traffic_percentage = ?,
				min_sample_size = ?, max_duration_days = ?, confidence_threshold = ?, auto_promote = ?,
				created_at = ?, started_at = ?, ended_at = ?, winner_variant_id = ?, result = ?
			WHERE id = ?`)
	}
	args = append(args, e.ID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to write experiment: %w", err)
	}
	if !insert {
		if n, _ := res.RowsAffected(); n == 0 {
			return types.NotFoundf("experiment %s", e.ID)
		}
	}
	return nil
}

const experimentColumns = `
	id, name, description, status, variants, metrics,
	strategy, epsilon, ucb_constant, traffic_percentage,
	min_sample_size, max_duration_days, confidence_threshold, auto_promote,
	created_at, started_at, ended_at, winner_variant_id, result`

// Get fetches one experiment by id.
func (s *Store) Get(ctx context.Context, id string) (*Experiment, error) {
	query := s.db.Bind(`SELECT` + experimentColumns + ` FROM experiments WHERE id = ?`)
	e, err := scanExperiment(s.db.QueryRowContext(ctx, query, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFoundf("experiment %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment: %w", err)
	}
	return e, nil
}

// List returns experiments, optionally filtered by status, newest first.
func (s *Store) List(ctx context.Context, status Status) ([]*Experiment, error) {
	query := `SELECT` + experimentColumns + ` FROM experiments`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, s.db.Bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var out []*Experiment
	for rows.Next() {
		e, err := scanExperiment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertEvent appends one event to an experiment's stream.
func (s *Store) InsertEvent(ctx context.Context, ev *Event) error {
	query := s.db.Bind(`
		INSERT INTO experiment_events (
			id, experiment_id, variant_id, user_id, event_type, value, metric_id, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.ExperimentID, ev.VariantID, ev.UserID,
		string(ev.Type), ev.Value, ev.MetricID, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert experiment event: %w", err)
	}
	return nil
}

// CountEvents returns the event total for one experiment.
func (s *Store) CountEvents(ctx context.Context, experimentID string) (int, error) {
	query := s.db.Bind(`SELECT COUNT(*) FROM experiment_events WHERE experiment_id = ?`)
	var n int
	if err := s.db.QueryRowContext(ctx, query, experimentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// LoadStats rebuilds per-variant tallies from the event stream. Used to
// warm the in-memory statistics when a running experiment is loaded
// after a restart.
func (s *Store) LoadStats(ctx context.Context, experimentID string) (map[string]*VariantStats, error) {
	query := s.db.Bind(`
		SELECT variant_id, event_type, value
		FROM experiment_events
		WHERE experiment_id = ?`)
	rows, err := s.db.QueryContext(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment events: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]*VariantStats)
	for rows.Next() {
		var variantID, eventType string
		var value float64
		if err := rows.Scan(&variantID, &eventType, &value); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		vs := stats[variantID]
		if vs == nil {
			vs = &VariantStats{}
			stats[variantID] = vs
		}
		switch EventType(eventType) {
		case EventImpression:
			vs.Impressions++
		case EventConversion:
			vs.Conversions++
			vs.TotalValue += value
		case EventCustom:
			vs.TotalValue += value
		}
	}
	return stats, rows.Err()
}

// Delete removes an experiment and its event stream.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.db.Bind(`DELETE FROM experiment_events WHERE experiment_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.db.Bind(`DELETE FROM experiments WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NotFoundf("experiment %s", id)
	}
	return tx.Commit()
}

func scanExperiment(scan func(dest ...any) error) (*Experiment, error) {
	var (
		e                  Experiment
		status, strategy   string
		variants, metrics  sql.NullString
		result             sql.NullString
		startedAt, endedAt sql.NullTime
	)
	err := scan(
		&e.ID, &e.Name, &e.Description, &status, &variants, &metrics,
		&strategy, &e.Epsilon, &e.UCBConstant, &e.TrafficPercentage,
		&e.MinSampleSize, &e.MaxDurationDays, &e.ConfidenceThreshold, &e.AutoPromote,
		&e.CreatedAt, &startedAt, &endedAt, &e.WinnerVariantID, &result,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.Strategy = Strategy(strategy)
	if variants.Valid && variants.String != "" {
		if err := json.Unmarshal([]byte(variants.String), &e.Variants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
		}
	}
	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &e.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		e.Result = &Result{}
		if err := json.Unmarshal([]byte(result.String), e.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		e.EndedAt = &t
	}
	return &e, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
