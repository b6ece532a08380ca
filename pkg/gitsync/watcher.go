// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package gitsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/hermes/pkg/notify"
)

// WatcherConfig configures live re-import of a sync directory.
type WatcherConfig struct {
	Dir        string
	DebounceMs int // default 500
	Logger     *zap.Logger
}

// Watcher re-imports markdown files as they change on disk. Rapid
// successive writes to the same file (editor auto-save) collapse into
// one import per debounce window.
type Watcher struct {
	syncer  *Syncer
	watcher *fsnotify.Watcher
	dir     string
	logger  *zap.Logger

	debounce       time.Duration
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex

	inflight sync.WaitGroup
}

// NewWatcher creates a watcher over the sync directory.
func NewWatcher(syncer *Syncer, cfg WatcherConfig) (*Watcher, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("sync directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create sync directory: %w", err)
	}
	if cfg.DebounceMs <= 0 {
		cfg.DebounceMs = 500
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		syncer:         syncer,
		watcher:        fsw,
		dir:            cfg.Dir,
		logger:         logger.Named("gitsync.watcher"),
		debounce:       time.Duration(cfg.DebounceMs) * time.Millisecond,
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Start begins watching. The loop runs until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("Sync watcher started",
		zap.String("dir", w.dir),
		zap.Duration("debounce", w.debounce))
	go w.watchLoop(ctx)
	return nil
}

// Stop halts the watcher and waits for pending debounced imports.
func (w *Watcher) Stop() error {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	<-w.doneCh

	w.debounceMu.Lock()
	for path, timer := range w.debounceTimers {
		if timer.Stop() {
			w.inflight.Done()
		}
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()
	w.inflight.Wait()

	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			w.logger.Info("Sync watcher context cancelled")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Sync watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if timer, ok := w.debounceTimers[event.Name]; ok {
		if timer.Stop() {
			w.inflight.Done()
		}
	}
	w.inflight.Add(1)
	w.debounceTimers[event.Name] = time.AfterFunc(w.debounce, func() {
		defer w.inflight.Done()
		w.processFile(ctx, event.Name)
		w.debounceMu.Lock()
		delete(w.debounceTimers, event.Name)
		w.debounceMu.Unlock()
	})
}

func (w *Watcher) processFile(ctx context.Context, path string) {
	res := w.syncer.importFile(ctx, path)
	if res.Error != "" {
		w.logger.Warn("File import failed",
			zap.String("path", path),
			zap.String("action", string(res.Action)),
			zap.String("error", res.Error))
		return
	}
	w.logger.Info("File imported",
		zap.String("path", path),
		zap.String("slug", res.Slug),
		zap.String("action", string(res.Action)))

	if res.Action == ActionUnchanged {
		return
	}
	w.syncer.notifier.Send(ctx, notify.Notification{
		ID:       uuid.NewString(),
		Type:     notify.TypeSyncComplete,
		Title:    notify.TitleFor(notify.TypeSyncComplete),
		Body:     fmt.Sprintf("Prompt %q %s from %s", res.Slug, res.Action, filepath.Base(path)),
		Priority: notify.PriorityLow,
		Data: map[string]any{
			"slug":   res.Slug,
			"path":   path,
			"action": string(res.Action),
		},
	})
}
