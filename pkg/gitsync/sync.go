// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/hermes/pkg/notify"
	"github.com/teradata-labs/hermes/pkg/prompts"
	"github.com/teradata-labs/hermes/pkg/types"
)

// Action is the per-file outcome of a sync pass.
type Action string

// Sync actions.
const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionSkipped   Action = "skipped"
	ActionExported  Action = "exported"
)

// FileResult reports what happened to one file during a sync pass.
type FileResult struct {
	Path   string `json:"path"`
	Slug   string `json:"slug,omitempty"`
	Action Action `json:"action"`
	Error  string `json:"error,omitempty"`
}

// Config wires a syncer's dependencies.
type Config struct {
	Prompts  *prompts.Service
	Notifier notify.Notifier // nil for NopNotifier
	Logger   *zap.Logger

	// Author is recorded on prompt changes made by imports. Defaults
	// to "gitsync".
	Author string
}

// Syncer imports and exports markdown prompt files.
type Syncer struct {
	prompts  *prompts.Service
	notifier notify.Notifier
	logger   *zap.Logger
	author   string
}

// NewSyncer creates a syncer.
func NewSyncer(cfg Config) (*Syncer, error) {
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompt service is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	author := cfg.Author
	if author == "" {
		author = "gitsync"
	}
	return &Syncer{
		prompts:  cfg.Prompts,
		notifier: notifier,
		logger:   cfg.Logger.Named("gitsync"),
		author:   author,
	}, nil
}

// Export writes every non-archived prompt to dir as <slug>.md and
// records the sync linkage on each head.
func (s *Syncer) Export(ctx context.Context, dir string) ([]FileResult, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	var results []FileResult
	const pageSize = 200
	for offset := 0; ; offset += pageSize {
		page, err := s.prompts.List(ctx, prompts.Filter{Limit: pageSize, Offset: offset})
		if err != nil {
			return results, err
		}
		for _, p := range page.Prompts {
			if p.State == prompts.StateArchived {
				continue
			}
			results = append(results, s.exportPrompt(ctx, p, dir))
		}
		if offset+pageSize >= page.Total {
			break
		}
	}

	s.logger.Info("Export complete",
		zap.String("dir", dir),
		zap.Int("files", len(results)))
	return results, nil
}

func (s *Syncer) exportPrompt(ctx context.Context, p *prompts.Prompt, dir string) FileResult {
	path := filepath.Join(dir, p.Slug+".md")
	res := FileResult{Path: path, Slug: p.Slug, Action: ActionExported}

	data, err := Encode(p)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		res.Error = err.Error()
		return res
	}
	if err := s.prompts.UpdateExternalRef(ctx, p.ID, path, p.ContentHash); err != nil {
		res.Error = err.Error()
	}
	return res
}

// Import upserts prompts from every .md file in dir. Files whose
// stored linkage shows divergence on both sides are skipped with a
// sync-conflict notification; one bad file never aborts the pass.
func (s *Syncer) Import(ctx context.Context, dir string) ([]FileResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	results := make([]FileResult, 0, len(paths))
	for _, path := range paths {
		results = append(results, s.importFile(ctx, path))
	}

	s.logger.Info("Import complete",
		zap.String("dir", dir),
		zap.Int("files", len(results)))
	return results, nil
}

// importFile upserts a single markdown file.
func (s *Syncer) importFile(ctx context.Context, path string) FileResult {
	res := FileResult{Path: path}

	data, err := os.ReadFile(path) // #nosec G304 -- the path comes from the operator-configured sync directory
	if err != nil {
		res.Error = err.Error()
		return res
	}
	doc, err := Decode(data)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Slug = doc.Slug
	incoming := prompts.Fingerprint(doc.Content)

	p, err := s.prompts.Get(ctx, doc.Slug)
	switch {
	case errors.Is(err, types.ErrNotFound):
		return s.createFromFile(ctx, doc, path, incoming, res)
	case err != nil:
		res.Error = err.Error()
		return res
	}

	if incoming == p.ContentHash {
		// Content converged; just refresh the linkage.
		if p.ExternalPath != path || p.ExternalHash != incoming {
			if err := s.prompts.UpdateExternalRef(ctx, p.ID, path, incoming); err != nil {
				res.Error = err.Error()
				return res
			}
		}
		res.Action = ActionUnchanged
		return res
	}

	// The stored fingerprint is what both sides last agreed on. When
	// it matches neither the file nor the head, both moved since.
	if p.ExternalHash != "" && p.ExternalHash != incoming && p.ExternalHash != p.ContentHash {
		s.reportConflict(ctx, p, doc, path)
		res.Action = ActionSkipped
		res.Error = "conflict: prompt and file both changed since last sync"
		return res
	}

	updated, err := s.applyFile(ctx, p, doc, path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if err := s.prompts.UpdateExternalRef(ctx, updated.ID, path, incoming); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Action = ActionUpdated
	return res
}

func (s *Syncer) createFromFile(ctx context.Context, doc *Document, path, incoming string, res FileResult) FileResult {
	name := doc.Name
	if name == "" {
		name = doc.Slug
	}
	p, err := s.prompts.Create(ctx, prompts.CreateRequest{
		Slug:      doc.Slug,
		Name:      name,
		Kind:      doc.Kind,
		Content:   doc.Content,
		Category:  doc.Category,
		Tags:      doc.Tags,
		OwnerID:   s.author,
		OwnerKind: prompts.OwnerSystem,
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if err := s.prompts.UpdateExternalRef(ctx, p.ID, path, incoming); err != nil {
		res.Error = err.Error()
		return res
	}
	s.logger.Info("Prompt created from file",
		zap.String("slug", doc.Slug),
		zap.String("path", path))
	res.Action = ActionCreated
	return res
}

func (s *Syncer) applyFile(ctx context.Context, p *prompts.Prompt, doc *Document, path string) (*prompts.Prompt, error) {
	req := prompts.UpdateRequest{
		Ref:           p.ID,
		Content:       &doc.Content,
		Tags:          doc.Tags,
		ChangeSummary: "Sync from " + filepath.Base(path),
		Author:        s.author,
	}
	if doc.Name != "" && doc.Name != p.Name {
		req.Name = &doc.Name
	}
	if doc.Category != p.Category {
		req.Category = &doc.Category
	}
	return s.prompts.Update(ctx, req)
}

func (s *Syncer) reportConflict(ctx context.Context, p *prompts.Prompt, doc *Document, path string) {
	similarity := prompts.Similarity(p.Content, doc.Content)
	s.logger.Warn("Sync conflict",
		zap.String("slug", p.Slug),
		zap.String("path", path),
		zap.Float64("similarity", similarity))
	s.notifier.Send(ctx, notify.Notification{
		ID:       uuid.NewString(),
		Type:     notify.TypeSyncConflict,
		Title:    notify.TitleFor(notify.TypeSyncConflict),
		Body:     fmt.Sprintf("Prompt %q and %s both changed since the last sync", p.Slug, filepath.Base(path)),
		Priority: notify.PriorityHigh,
		Data: map[string]any{
			"promptId":   p.ID,
			"slug":       p.Slug,
			"path":       path,
			"similarity": similarity,
		},
	})
}
