// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package prompts

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/hermes/internal/csync"
	"github.com/teradata-labs/hermes/internal/pubsub"
	"github.com/teradata-labs/hermes/pkg/types"
)

// slugPattern accepts lowercase alphanumerics separated by single hyphens.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// validTransitions encodes the prompt lifecycle state machine:
// draft → review → staged → deployed → archived, with review allowed to
// return to draft. Archived is terminal; soft delete forces archived
// from any state.
var validTransitions = map[State][]State{
	StateDraft:    {StateReview},
	StateReview:   {StateStaged, StateDraft},
	StateStaged:   {StateDeployed},
	StateDeployed: {StateArchived},
	StateArchived: {},
}

func canTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Service is the prompt store's public surface. All mutations go through
// the versioning protocol; writes to the same prompt are serialised by a
// per-prompt lock so a reader observes either the state before or after
// a version bump, never a partial state.
type Service struct {
	store  *Store
	locks  *csync.LockMap[string]
	broker *pubsub.Broker[ChangeEvent]
	logger *zap.Logger
}

// NewService creates the prompt service over an initialised store.
func NewService(store *Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		locks:  csync.NewLockMap[string](),
		broker: pubsub.NewBroker[ChangeEvent](),
		logger: logger,
	}, nil
}

// Subscribe registers for change events (created, updated, deleted).
// The benchmark orchestrator and the sync exporter are the standing
// subscribers.
func (s *Service) Subscribe(buffer int) (<-chan pubsub.Event[ChangeEvent], func()) {
	return s.broker.Subscribe(buffer)
}

// Shutdown closes the change-event broker.
func (s *Service) Shutdown() {
	s.broker.Shutdown()
}

// CreateRequest holds the fields of a new prompt.
type CreateRequest struct {
	Slug     string
	Name     string
	Kind     Kind
	Content  string
	Category string
	Tags     []string

	Variables map[string]VariableSpec
	Metadata  map[string]any

	OwnerID    string
	OwnerKind  OwnerKind
	TeamID     string
	Visibility Visibility
}

// Create inserts a new prompt at version 1.0.0 with one initial
// PromptVersion.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Prompt, error) {
	if !slugPattern.MatchString(req.Slug) {
		return nil, types.Invalidf("slug %q is not a valid slug", req.Slug)
	}
	if req.Name == "" {
		return nil, types.Invalidf("name is required")
	}
	if !ValidKind(req.Kind) {
		return nil, types.Invalidf("unknown prompt kind %q", req.Kind)
	}
	if req.Content == "" {
		return nil, types.Invalidf("content is required")
	}
	if err := validateVariableSpecs(req.Variables); err != nil {
		return nil, err
	}

	ownerKind := req.OwnerKind
	if ownerKind == "" {
		ownerKind = OwnerUser
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = VisibilityPrivate
	}

	now := time.Now().UTC()
	p := &Prompt{
		ID:          uuid.New().String(),
		Slug:        req.Slug,
		Name:        req.Name,
		Kind:        req.Kind,
		Category:    req.Category,
		Tags:        req.Tags,
		Content:     req.Content,
		Variables:   req.Variables,
		Metadata:    req.Metadata,
		Version:     InitialVersion.String(),
		ContentHash: Fingerprint(req.Content),
		State:       StateDraft,
		OwnerID:     req.OwnerID,
		OwnerKind:   ownerKind,
		TeamID:      req.TeamID,
		Visibility:  visibility,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	v := &PromptVersion{
		ID:            uuid.New().String(),
		PromptID:      p.ID,
		Version:       p.Version,
		Content:       p.Content,
		ContentHash:   p.ContentHash,
		ChangeSummary: "Initial version",
		AuthorID:      req.OwnerID,
		Variables:     req.Variables,
		Metadata:      req.Metadata,
		CreatedAt:     now,
	}

	if err := s.store.Create(ctx, p, v); err != nil {
		return nil, err
	}

	s.logger.Info("Created prompt",
		zap.String("prompt_id", p.ID),
		zap.String("slug", p.Slug),
		zap.String("hash", ShortFingerprint(p.ContentHash)))

	s.broker.Publish(pubsub.NewCreatedEvent(ChangeEvent{
		PromptID:      p.ID,
		Slug:          p.Slug,
		Kind:          p.Kind,
		Version:       p.Version,
		ContentHash:   p.ContentHash,
		ChangeSummary: v.ChangeSummary,
		Author:        req.OwnerID,
	}))
	return p, nil
}

// Get fetches a prompt head by id or slug.
func (s *Service) Get(ctx context.Context, ref string) (*Prompt, error) {
	return s.store.GetByRef(ctx, ref)
}

// GetVersion fetches a specific historical version of a prompt.
func (s *Service) GetVersion(ctx context.Context, ref, version string) (*PromptVersion, error) {
	p, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.store.GetVersion(ctx, p.ID, version)
}

// List returns a filtered page of prompts and the total match count.
func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	return s.store.List(ctx, f)
}

// History returns a prompt's versions, newest first.
func (s *Service) History(ctx context.Context, ref string, limit int) ([]*PromptVersion, error) {
	p, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, p.ID, limit)
}

// UpdateRequest carries a partial update. Nil pointers leave the field
// untouched; a content change bumps the version per Bump (patch by
// default) and appends a PromptVersion.
type UpdateRequest struct {
	Ref string

	Name       *string
	Category   *string
	Tags       []string
	Content    *string
	Variables  map[string]VariableSpec
	Metadata   map[string]any
	Visibility *Visibility

	ChangeSummary string
	Author        string
	Bump          BumpKind
}

// Update applies a partial update to a prompt head. When the content
// fingerprint changes, the version is bumped and a new PromptVersion is
// appended atomically with the head write; metadata-only updates bump
// nothing.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*Prompt, error) {
	p, err := s.store.GetByRef(ctx, req.Ref)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(p.ID)
	defer s.locks.Unlock(p.ID)

	// Re-read under the lock so concurrent updates serialise cleanly.
	p, err = s.store.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, types.Invalidf("name cannot be empty")
		}
		p.Name = *req.Name
	}
	if req.Category != nil {
		p.Category = *req.Category
	}
	if req.Tags != nil {
		p.Tags = req.Tags
	}
	if req.Variables != nil {
		if err := validateVariableSpecs(req.Variables); err != nil {
			return nil, err
		}
		p.Variables = req.Variables
	}
	if req.Metadata != nil {
		p.Metadata = req.Metadata
	}
	if req.Visibility != nil {
		p.Visibility = *req.Visibility
	}

	now := time.Now().UTC()
	p.UpdatedAt = now

	if req.Content == nil || Fingerprint(*req.Content) == p.ContentHash {
		// Metadata-only update: no version is created.
		if req.Content != nil {
			p.Content = *req.Content
		}
		if err := s.store.SaveHead(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	return s.appendVersion(ctx, p, *req.Content, req.ChangeSummary, req.Author, req.Bump, false)
}

// appendVersion performs the content-changing write path: bump the
// version, record the unified diff against the prior head, persist head
// and version atomically, and publish the change event. Callers must
// hold the prompt lock.
func (s *Service) appendVersion(ctx context.Context, p *Prompt, content, summary, author string, bump BumpKind, rollback bool) (*Prompt, error) {
	current, err := ParseVersion(p.Version)
	if err != nil {
		return nil, types.Invalidf("prompt %q has malformed version %q", p.ID, p.Version)
	}
	next := bump.Bump(current)

	diff, err := UnifiedDiff(p.Content, content,
		fmt.Sprintf("%s v%s", p.Slug, p.Version),
		fmt.Sprintf("%s v%s", p.Slug, next.String()))
	if err != nil {
		return nil, err
	}

	previousVersion := p.Version
	now := time.Now().UTC()
	p.Content = content
	p.ContentHash = Fingerprint(content)
	p.Version = next.String()
	p.UpdatedAt = now

	if summary == "" {
		summary = fmt.Sprintf("Content update (%s)", ShortFingerprint(p.ContentHash))
	}

	v := &PromptVersion{
		ID:            uuid.New().String(),
		PromptID:      p.ID,
		Version:       p.Version,
		Content:       content,
		ContentHash:   p.ContentHash,
		Diff:          diff,
		ChangeSummary: summary,
		AuthorID:      author,
		Variables:     p.Variables,
		Metadata:      p.Metadata,
		CreatedAt:     now,
	}

	if err := s.store.SaveHeadWithVersion(ctx, p, v); err != nil {
		return nil, err
	}

	s.logger.Info("Created prompt version",
		zap.String("prompt_id", p.ID),
		zap.String("slug", p.Slug),
		zap.String("version", p.Version),
		zap.Bool("rollback", rollback))

	s.broker.Publish(pubsub.NewUpdatedEvent(ChangeEvent{
		PromptID:        p.ID,
		Slug:            p.Slug,
		Kind:            p.Kind,
		Version:         p.Version,
		PreviousVersion: previousVersion,
		ContentHash:     p.ContentHash,
		ChangeSummary:   summary,
		Author:          author,
		Rollback:        rollback,
	}))
	return p, nil
}

// Rollback appends a new version whose content equals the target
// version's content. History is never rewritten; the diff records the
// delta from the prior head. Rolling back to content identical to the
// head is a no-op returning the head unchanged.
func (s *Service) Rollback(ctx context.Context, ref, targetVersion, author string) (*Prompt, error) {
	p, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(p.ID)
	defer s.locks.Unlock(p.ID)

	p, err = s.store.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	target, err := s.store.GetVersion(ctx, p.ID, targetVersion)
	if err != nil {
		return nil, err
	}
	if target.ContentHash == p.ContentHash {
		return p, nil
	}

	summary := fmt.Sprintf("Rollback to v%s", target.Version)
	return s.appendVersion(ctx, p, target.Content, summary, author, BumpPatch, true)
}

// Diff produces the unified diff between two stored versions of a prompt.
func (s *Service) Diff(ctx context.Context, ref, versionA, versionB string) (string, error) {
	p, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return "", err
	}
	va, err := s.store.GetVersion(ctx, p.ID, versionA)
	if err != nil {
		return "", err
	}
	vb, err := s.store.GetVersion(ctx, p.ID, versionB)
	if err != nil {
		return "", err
	}
	return UnifiedDiff(va.Content, vb.Content,
		fmt.Sprintf("%s v%s", p.Slug, va.Version),
		fmt.Sprintf("%s v%s", p.Slug, vb.Version))
}

// Transition moves a prompt to the next lifecycle state, validating the
// state machine. Deploy transitions stamp LastDeployedAt; the quality
// gate check before deployment is the caller's responsibility.
func (s *Service) Transition(ctx context.Context, ref string, next State) (*Prompt, error) {
	p, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(p.ID)
	defer s.locks.Unlock(p.ID)

	p, err = s.store.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	if !canTransition(p.State, next) {
		return nil, types.Invalidf("cannot transition prompt %q from %s to %s", p.Slug, p.State, next)
	}
	return s.setState(ctx, p, next)
}

// MarkDeployed promotes a prompt directly to the deployed state. This is
// the promotion path used by the experiment controller when a winning
// variant is rolled out; it bypasses the staged step but still refuses
// archived prompts.
func (s *Service) MarkDeployed(ctx context.Context, ref string) (*Prompt, error) {
	p, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(p.ID)
	defer s.locks.Unlock(p.ID)

	p, err = s.store.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if p.State == StateArchived {
		return nil, types.Policyf("cannot deploy archived prompt %q", p.Slug)
	}
	return s.setState(ctx, p, StateDeployed)
}

func (s *Service) setState(ctx context.Context, p *Prompt, next State) (*Prompt, error) {
	now := time.Now().UTC()
	p.State = next
	p.UpdatedAt = now
	if next == StateDeployed {
		p.LastDeployedAt = &now
	}
	if err := s.store.SaveHead(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("Prompt state changed",
		zap.String("prompt_id", p.ID),
		zap.String("slug", p.Slug),
		zap.String("state", string(next)))
	return p, nil
}

// Delete archives a prompt (soft) or removes it and its version history
// (hard). A deleted event is published either way; the benchmark store
// cascades its results on hard deletes via that event.
func (s *Service) Delete(ctx context.Context, ref string, hard bool) error {
	p, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return err
	}

	s.locks.Lock(p.ID)
	defer s.locks.Unlock(p.ID)

	if hard {
		if err := s.store.DeleteHard(ctx, p.ID); err != nil {
			return err
		}
	} else {
		p, err = s.store.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		p.State = StateArchived
		p.UpdatedAt = time.Now().UTC()
		if err := s.store.SaveHead(ctx, p); err != nil {
			return err
		}
	}

	s.logger.Info("Deleted prompt",
		zap.String("prompt_id", p.ID),
		zap.String("slug", p.Slug),
		zap.Bool("hard", hard))

	s.broker.Publish(pubsub.NewDeletedEvent(ChangeEvent{
		PromptID:    p.ID,
		Slug:        p.Slug,
		Kind:        p.Kind,
		Version:     p.Version,
		ContentHash: p.ContentHash,
	}))
	return nil
}

// UpdateScoreCache records the advisory benchmark caches on the head.
// Called by the benchmark orchestrator after persisting a result.
func (s *Service) UpdateScoreCache(ctx context.Context, promptID string, score float64, at time.Time) error {
	return s.store.UpdateScoreCache(ctx, promptID, score, at)
}

// UpdateExternalRef records the markdown sync linkage on the head.
func (s *Service) UpdateExternalRef(ctx context.Context, promptID, path, hash string) error {
	return s.store.UpdateExternalRef(ctx, promptID, path, hash)
}
