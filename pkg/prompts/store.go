// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package prompts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/hermes/pkg/storage"
	"github.com/teradata-labs/hermes/pkg/types"
)

// Store persists prompts and their version history.
type Store struct {
	db *storage.DB
}

// NewStore creates a prompt store and initialises its schema.
func NewStore(db *storage.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize prompt schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		tags TEXT,      -- JSON array
		content TEXT NOT NULL,
		variables TEXT, -- JSON object
		metadata TEXT,  -- JSON object
		version TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		state TEXT NOT NULL,
		last_deployed_at TIMESTAMP,
		owner_id TEXT NOT NULL DEFAULT '',
		owner_kind TEXT NOT NULL DEFAULT 'user',
		team_id TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'private',
		last_benchmark_score REAL,
		last_benchmark_at TIMESTAMP,
		external_path TEXT NOT NULL DEFAULT '',
		external_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_prompts_kind ON prompts(kind);
	CREATE INDEX IF NOT EXISTS idx_prompts_state ON prompts(state);

	CREATE TABLE IF NOT EXISTS prompt_versions (
		id TEXT PRIMARY KEY,
		prompt_id TEXT NOT NULL,
		version TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		diff TEXT,
		change_summary TEXT NOT NULL DEFAULT '',
		author_id TEXT NOT NULL DEFAULT '',
		variables TEXT, -- JSON object
		metadata TEXT,  -- JSON object
		created_at TIMESTAMP NOT NULL,
		UNIQUE (prompt_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_prompt_versions_prompt ON prompt_versions(prompt_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation detects unique-constraint failures across drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// Create inserts a new prompt head and its initial version atomically.
func (s *Store) Create(ctx context.Context, p *Prompt, v *PromptVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertHead(ctx, tx, p); err != nil {
		if isUniqueViolation(err) {
			return types.Conflictf("slug %q already taken", p.Slug)
		}
		return fmt.Errorf("failed to insert prompt: %w", err)
	}
	if err := s.insertVersion(ctx, tx, v); err != nil {
		return fmt.Errorf("failed to insert initial version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *Store) insertHead(ctx context.Context, tx *sql.Tx, p *Prompt) error {
	tags, variables, metadata, err := marshalPromptJSON(p.Tags, p.Variables, p.Metadata)
	if err != nil {
		return err
	}

	query := s.db.Bind(`
		INSERT INTO prompts (
			id, slug, name, kind, category, tags, content, variables, metadata,
			version, content_hash, state, last_deployed_at,
			owner_id, owner_kind, team_id, visibility,
			last_benchmark_score, last_benchmark_at,
			external_path, external_hash, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = tx.ExecContext(ctx, query,
		p.ID, p.Slug, p.Name, string(p.Kind), p.Category, tags, p.Content, variables, metadata,
		p.Version, p.ContentHash, string(p.State), nullTime(p.LastDeployedAt),
		p.OwnerID, string(p.OwnerKind), p.TeamID, string(p.Visibility),
		nullFloat(p.LastBenchmarkScore), nullTime(p.LastBenchmarkAt),
		p.ExternalPath, p.ExternalHash, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *Store) insertVersion(ctx context.Context, tx *sql.Tx, v *PromptVersion) error {
	variables, err := json.Marshal(v.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := s.db.Bind(`
		INSERT INTO prompt_versions (
			id, prompt_id, version, content, content_hash, diff,
			change_summary, author_id, variables, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = tx.ExecContext(ctx, query,
		v.ID, v.PromptID, v.Version, v.Content, v.ContentHash, v.Diff,
		v.ChangeSummary, v.AuthorID, string(variables), string(metadata), v.CreatedAt,
	)
	return err
}

const promptColumns = `
	id, slug, name, kind, category, tags, content, variables, metadata,
	version, content_hash, state, last_deployed_at,
	owner_id, owner_kind, team_id, visibility,
	last_benchmark_score, last_benchmark_at,
	external_path, external_hash, created_at, updated_at`

// GetByID fetches a prompt head by id.
func (s *Store) GetByID(ctx context.Context, id string) (*Prompt, error) {
	query := s.db.Bind(`SELECT` + promptColumns + ` FROM prompts WHERE id = ?`)
	return s.scanOne(s.db.QueryRowContext(ctx, query, id), id)
}

// GetByRef fetches a prompt head by id or slug.
func (s *Store) GetByRef(ctx context.Context, ref string) (*Prompt, error) {
	query := s.db.Bind(`SELECT` + promptColumns + ` FROM prompts WHERE id = ? OR slug = ?`)
	return s.scanOne(s.db.QueryRowContext(ctx, query, ref, ref), ref)
}

func (s *Store) scanOne(row *sql.Row, ref string) (*Prompt, error) {
	p, err := scanPrompt(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFoundf("prompt %q", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan prompt: %w", err)
	}
	return p, nil
}

// List returns a page of prompts matching the filter plus the total count.
func (s *Store) List(ctx context.Context, f Filter) (*Page, error) {
	where, args := buildFilter(f)

	var total int
	countQuery := s.db.Bind("SELECT COUNT(*) FROM prompts" + where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count prompts: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	pageQuery := s.db.Bind("SELECT" + promptColumns + " FROM prompts" + where +
		" ORDER BY updated_at DESC LIMIT ? OFFSET ?")
	rows, err := s.db.QueryContext(ctx, pageQuery, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	page := &Page{Total: total, Limit: limit, Offset: offset}
	for rows.Next() {
		p, err := scanPrompt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		page.Prompts = append(page.Prompts, p)
	}
	return page, rows.Err()
}

func buildFilter(f Filter) (string, []any) {
	var clauses []string
	var args []any

	if f.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(f.State))
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.TeamID != "" {
		clauses = append(clauses, "team_id = ?")
		args = append(args, f.TeamID)
	}
	if f.Visibility != "" {
		clauses = append(clauses, "visibility = ?")
		args = append(args, string(f.Visibility))
	}
	if f.Search != "" {
		clauses = append(clauses, "(slug LIKE ? OR name LIKE ? OR content LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// SaveHead persists all mutable head fields of a prompt.
func (s *Store) SaveHead(ctx context.Context, p *Prompt) error {
	return s.saveHead(ctx, s.db.DB, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) saveHead(ctx context.Context, ex execer, p *Prompt) error {
	tags, variables, metadata, err := marshalPromptJSON(p.Tags, p.Variables, p.Metadata)
	if err != nil {
		return err
	}

	query := s.db.Bind(`
		UPDATE prompts SET
			name = ?, kind = ?, category = ?, tags = ?, content = ?,
			variables = ?, metadata = ?, version = ?, content_hash = ?,
			state = ?, last_deployed_at = ?,
			owner_id = ?, owner_kind = ?, team_id = ?, visibility = ?,
			last_benchmark_score = ?, last_benchmark_at = ?,
			external_path = ?, external_hash = ?, updated_at = ?
		WHERE id = ?`)

	res, err := ex.ExecContext(ctx, query,
		p.Name, string(p.Kind), p.Category, tags, p.Content,
		variables, metadata, p.Version, p.ContentHash,
		string(p.State), nullTime(p.LastDeployedAt),
		p.OwnerID, string(p.OwnerKind), p.TeamID, string(p.Visibility),
		nullFloat(p.LastBenchmarkScore), nullTime(p.LastBenchmarkAt),
		p.ExternalPath, p.ExternalHash, p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update prompt: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFoundf("prompt %q", p.ID)
	}
	return nil
}

// SaveHeadWithVersion updates the head and appends a version atomically.
// This is the write path for every content-changing update.
func (s *Store) SaveHeadWithVersion(ctx context.Context, p *Prompt, v *PromptVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveHead(ctx, tx, p); err != nil {
		return err
	}
	if err := s.insertVersion(ctx, tx, v); err != nil {
		if isUniqueViolation(err) {
			return types.Conflictf("version %s already exists for prompt %q", v.Version, p.ID)
		}
		return fmt.Errorf("failed to insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetVersion fetches one version of a prompt.
func (s *Store) GetVersion(ctx context.Context, promptID, version string) (*PromptVersion, error) {
	query := s.db.Bind(`
		SELECT id, prompt_id, version, content, content_hash, diff,
		       change_summary, author_id, variables, metadata, created_at
		FROM prompt_versions WHERE prompt_id = ? AND version = ?`)

	v, err := scanVersion(s.db.QueryRowContext(ctx, query, promptID, version).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFoundf("version %s of prompt %q", version, promptID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}
	return v, nil
}

// ListVersions returns a prompt's versions, newest first.
// limit <= 0 returns the full history.
func (s *Store) ListVersions(ctx context.Context, promptID string, limit int) ([]*PromptVersion, error) {
	query := `
		SELECT id, prompt_id, version, content, content_hash, diff,
		       change_summary, author_id, variables, metadata, created_at
		FROM prompt_versions WHERE prompt_id = ?
		ORDER BY created_at DESC`
	args := []any{promptID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*PromptVersion
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// CountVersions returns the number of versions recorded for a prompt.
func (s *Store) CountVersions(ctx context.Context, promptID string) (int, error) {
	var n int
	query := s.db.Bind("SELECT COUNT(*) FROM prompt_versions WHERE prompt_id = ?")
	if err := s.db.QueryRowContext(ctx, query, promptID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return n, nil
}

// DeleteHard removes a prompt and its entire version history.
func (s *Store) DeleteHard(ctx context.Context, promptID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.db.Bind("DELETE FROM prompt_versions WHERE prompt_id = ?"), promptID); err != nil {
		return fmt.Errorf("failed to delete versions: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.db.Bind("DELETE FROM prompts WHERE id = ?"), promptID)
	if err != nil {
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFoundf("prompt %q", promptID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// UpdateScoreCache records the advisory benchmark caches on the head.
func (s *Store) UpdateScoreCache(ctx context.Context, promptID string, score float64, at time.Time) error {
	query := s.db.Bind(`
		UPDATE prompts SET last_benchmark_score = ?, last_benchmark_at = ?, updated_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, score, at, time.Now().UTC(), promptID)
	if err != nil {
		return fmt.Errorf("failed to update score cache: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFoundf("prompt %q", promptID)
	}
	return nil
}

// UpdateExternalRef records the external sync linkage on the head.
func (s *Store) UpdateExternalRef(ctx context.Context, promptID, path, hash string) error {
	query := s.db.Bind(`
		UPDATE prompts SET external_path = ?, external_hash = ?, updated_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, path, hash, time.Now().UTC(), promptID)
	if err != nil {
		return fmt.Errorf("failed to update external ref: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFoundf("prompt %q", promptID)
	}
	return nil
}

// ============================================================================
// Scan helpers
// ============================================================================

func marshalPromptJSON(tags []string, variables map[string]VariableSpec, metadata map[string]any) (string, string, string, error) {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal variables: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(tagsJSON), string(variablesJSON), string(metadataJSON), nil
}

func scanPrompt(scan func(dest ...any) error) (*Prompt, error) {
	var (
		p                              Prompt
		kind, state, ownerKind, vis    string
		tags, variables, metadata      sql.NullString
		deployedAt, benchAt            sql.NullTime
		benchScore                     sql.NullFloat64
	)

	err := scan(
		&p.ID, &p.Slug, &p.Name, &kind, &p.Category, &tags, &p.Content, &variables, &metadata,
		&p.Version, &p.ContentHash, &state, &deployedAt,
		&p.OwnerID, &ownerKind, &p.TeamID, &vis,
		&benchScore, &benchAt,
		&p.ExternalPath, &p.ExternalHash, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Kind = Kind(kind)
	p.State = State(state)
	p.OwnerKind = OwnerKind(ownerKind)
	p.Visibility = Visibility(vis)
	if deployedAt.Valid {
		t := deployedAt.Time
		p.LastDeployedAt = &t
	}
	if benchAt.Valid {
		t := benchAt.Time
		p.LastBenchmarkAt = &t
	}
	if benchScore.Valid {
		v := benchScore.Float64
		p.LastBenchmarkScore = &v
	}
	if err := unmarshalJSON(tags, &p.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(variables, &p.Variables); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &p.Metadata); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanVersion(scan func(dest ...any) error) (*PromptVersion, error) {
	var (
		v                   PromptVersion
		diff                sql.NullString
		variables, metadata sql.NullString
	)
	err := scan(
		&v.ID, &v.PromptID, &v.Version, &v.Content, &v.ContentHash, &diff,
		&v.ChangeSummary, &v.AuthorID, &variables, &metadata, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Diff = diff.String
	if err := unmarshalJSON(variables, &v.Variables); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &v.Metadata); err != nil {
		return nil, err
	}
	return &v, nil
}

func unmarshalJSON(src sql.NullString, dst any) error {
	if !src.Valid || src.String == "" || src.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(src.String), dst); err != nil {
		return fmt.Errorf("failed to unmarshal stored JSON: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
