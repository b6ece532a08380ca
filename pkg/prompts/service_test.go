// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package prompts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/hermes/internal/pubsub"
	"github.com/teradata-labs/hermes/pkg/storage"
	"github.com/teradata-labs/hermes/pkg/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "hermes.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)

	svc, err := NewService(store, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)
	return svc
}

func createTestPrompt(t *testing.T, svc *Service, slug, content string) *Prompt {
	t.Helper()
	p, err := svc.Create(context.Background(), CreateRequest{
		Slug:    slug,
		Name:    "Test " + slug,
		Kind:    KindAgentSystem,
		Content: content,
		OwnerID: "user-1",
	})
	require.NoError(t, err)
	return p
}

func TestCreate(t *testing.T) {
	svc := newTestService(t)
	p := createTestPrompt(t, svc, "t1", "A")

	assert.Equal(t, "1.0.0", p.Version)
	assert.Equal(t, StateDraft, p.State)

	sum := sha256.Sum256([]byte("A"))
	assert.Equal(t, hex.EncodeToString(sum[:]), p.ContentHash)

	history, err := svc.History(context.Background(), p.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "A", history[0].Content)
	assert.Equal(t, p.ContentHash, history[0].ContentHash)
	assert.Empty(t, history[0].Diff)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Slug: "Bad Slug!", Name: "x", Kind: KindAgentSystem, Content: "A"})
	assert.ErrorIs(t, err, types.ErrInvalid)

	_, err = svc.Create(ctx, CreateRequest{Slug: "ok", Name: "x", Kind: "nonsense", Content: "A"})
	assert.ErrorIs(t, err, types.ErrInvalid)

	_, err = svc.Create(ctx, CreateRequest{Slug: "ok", Name: "x", Kind: KindAgentSystem})
	assert.ErrorIs(t, err, types.ErrInvalid)
}

func TestCreateSlugTaken(t *testing.T) {
	svc := newTestService(t)
	createTestPrompt(t, svc, "dup", "A")

	_, err := svc.Create(context.Background(), CreateRequest{
		Slug: "dup", Name: "other", Kind: KindAgentSystem, Content: "B",
	})
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestGetBySlugAndID(t *testing.T) {
	svc := newTestService(t)
	p := createTestPrompt(t, svc, "lookup", "A")

	byID, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byID.ID)

	bySlug, err := svc.Get(context.Background(), "lookup")
	require.NoError(t, err)
	assert.Equal(t, p.ID, bySlug.ID)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// Version bump on content change: create at 1.0.0, update to new content
// giving 1.0.1 and a diff, then an identical update which must not create
// a version.
func TestContentUpdateBumpsPatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "t1", "A")

	content := "B"
	updated, err := svc.Update(ctx, UpdateRequest{Ref: p.ID, Content: &content, Author: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", updated.Version)
	assert.Equal(t, Fingerprint("B"), updated.ContentHash)

	history, err := svc.History(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	diff, err := svc.Diff(ctx, p.ID, "1.0.0", "1.0.1")
	require.NoError(t, err)
	assert.Contains(t, diff, "-A")
	assert.Contains(t, diff, "+B")

	// Identical content: no new version.
	same := "B"
	again, err := svc.Update(ctx, UpdateRequest{Ref: p.ID, Content: &same})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", again.Version)

	history, err = svc.History(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMetadataOnlyUpdateBumpsNothing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "meta", "A")

	name := "Renamed"
	updated, err := svc.Update(ctx, UpdateRequest{
		Ref:      p.ID,
		Name:     &name,
		Metadata: map[string]any{"team": "search"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", updated.Version)
	assert.Equal(t, "Renamed", updated.Name)

	history, err := svc.History(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestExplicitMinorAndMajorBumps(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "bumps", "A")

	c1 := "B"
	updated, err := svc.Update(ctx, UpdateRequest{Ref: p.ID, Content: &c1, Bump: BumpMinor})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", updated.Version)

	c2 := "C"
	updated, err = svc.Update(ctx, UpdateRequest{Ref: p.ID, Content: &c2, Bump: BumpMajor})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", updated.Version)
}

// Semver across a prompt's history must be strictly monotonic.
func TestHistoryIsMonotonic(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "mono", "v0")

	contents := []string{"v1", "v2", "v3", "v4"}
	for _, c := range contents {
		c := c
		_, err := svc.Update(ctx, UpdateRequest{Ref: p.ID, Content: &c})
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 5)

	// history is newest first
	for i := 0; i < len(history)-1; i++ {
		newer, err := ParseVersion(history[i].Version)
		require.NoError(t, err)
		older, err := ParseVersion(history[i+1].Version)
		require.NoError(t, err)
		assert.Equal(t, 1, newer.Compare(older))
		assert.Equal(t, Fingerprint(history[i].Content), history[i].ContentHash)
	}
}

func TestRollback(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "rb", "original")

	c := "changed"
	_, err := svc.Update(ctx, UpdateRequest{Ref: p.ID, Content: &c})
	require.NoError(t, err)

	rolled, err := svc.Rollback(ctx, p.ID, "1.0.0", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", rolled.Version)
	assert.Equal(t, "original", rolled.Content)
	assert.Equal(t, Fingerprint("original"), rolled.ContentHash)

	history, err := svc.History(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "Rollback to v1.0.0", history[0].ChangeSummary)
}

func TestRollbackToHeadContentIsNoop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "rbnoop", "A")

	rolled, err := svc.Rollback(ctx, p.ID, "1.0.0", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", rolled.Version)

	history, err := svc.History(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRollbackMissingTarget(t *testing.T) {
	svc := newTestService(t)
	p := createTestPrompt(t, svc, "rbmiss", "A")

	_, err := svc.Rollback(context.Background(), p.ID, "9.9.9", "user-1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStateMachine(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "states", "A")

	// draft → deployed is not allowed
	_, err := svc.Transition(ctx, p.ID, StateDeployed)
	assert.ErrorIs(t, err, types.ErrInvalid)

	for _, next := range []State{StateReview, StateStaged, StateDeployed} {
		p, err = svc.Transition(ctx, p.ID, next)
		require.NoError(t, err)
		assert.Equal(t, next, p.State)
	}
	assert.NotNil(t, p.LastDeployedAt)

	p, err = svc.Transition(ctx, p.ID, StateArchived)
	require.NoError(t, err)

	// archived is terminal
	_, err = svc.Transition(ctx, p.ID, StateDraft)
	assert.ErrorIs(t, err, types.ErrInvalid)
}

func TestReviewReturnsToDraft(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "back", "A")

	p, err := svc.Transition(ctx, p.ID, StateReview)
	require.NoError(t, err)
	p, err = svc.Transition(ctx, p.ID, StateDraft)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, p.State)
}

func TestMarkDeployed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "promote", "A")

	deployed, err := svc.MarkDeployed(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDeployed, deployed.State)
	assert.NotNil(t, deployed.LastDeployedAt)

	require.NoError(t, svc.Delete(ctx, p.ID, false))
	_, err = svc.MarkDeployed(ctx, p.ID)
	assert.ErrorIs(t, err, types.ErrPolicy)
}

func TestSoftDeleteArchives(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "soft", "A")

	require.NoError(t, svc.Delete(ctx, p.ID, false))

	archived, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateArchived, archived.State)
}

func TestHardDeleteCascades(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "hard", "A")

	c := "B"
	_, err := svc.Update(ctx, UpdateRequest{Ref: p.ID, Content: &c})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, p.ID, true))

	_, err = svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	versions, err := svc.store.ListVersions(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestListFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	createTestPrompt(t, svc, "alpha", "agent alpha content")
	createTestPrompt(t, svc, "beta", "agent beta content")
	_, err := svc.Create(ctx, CreateRequest{
		Slug: "gamma", Name: "Gamma", Kind: KindUserTemplate, Content: "template", OwnerID: "user-2",
	})
	require.NoError(t, err)

	page, err := svc.List(ctx, Filter{Kind: KindAgentSystem})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = svc.List(ctx, Filter{Search: "beta"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "beta", page.Prompts[0].Slug)

	page, err = svc.List(ctx, Filter{OwnerID: "user-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	// paging
	page, err = svc.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Prompts, 2)
}

func TestChangeEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	events, cancel := svc.Subscribe(8)
	defer cancel()

	p := createTestPrompt(t, svc, "events", "A")
	c := "B"
	_, err := svc.Update(ctx, UpdateRequest{Ref: p.ID, Content: &c, ChangeSummary: "tweak"})
	require.NoError(t, err)
	_, err = svc.Rollback(ctx, p.ID, "1.0.0", "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, p.ID, false))

	var got []pubsub.Event[ChangeEvent]
	for len(got) < 4 {
		ev, ok := <-events
		require.True(t, ok)
		got = append(got, ev)
	}

	assert.Equal(t, pubsub.CreatedEvent, got[0].Type)
	assert.Equal(t, pubsub.UpdatedEvent, got[1].Type)
	assert.Equal(t, "tweak", got[1].Payload.ChangeSummary)
	assert.Equal(t, pubsub.UpdatedEvent, got[2].Type)
	assert.True(t, got[2].Payload.Rollback)
	assert.Equal(t, pubsub.DeletedEvent, got[3].Type)
}

// Concurrent content updates must serialise: every update lands as its
// own version and the final history is linear.
func TestConcurrentUpdatesSerialise(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPrompt(t, svc, "race", "base")

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			content := "content-" + string(rune('a'+n))
			_, err := svc.Update(ctx, UpdateRequest{Ref: p.ID, Content: &content})
			if err != nil && !errors.Is(err, types.ErrConflict) {
				t.Errorf("unexpected update error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, writers+1)

	head, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(head.Content), head.ContentHash)
	assert.Equal(t, head.Version, history[0].Version)
}
