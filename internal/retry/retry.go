// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package retry implements bounded exponential backoff for calls to the
// external evaluator, critique, and notification services. Only
// transient failures are retried; after the attempts are exhausted the
// last error is wrapped as degraded so callers can distinguish "remote
// is down" from "remote said no".
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/hermes/pkg/types"
)

// Config tunes the backoff schedule.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultConfig returns the platform-wide retry policy: 3 attempts,
// 1s initial backoff doubling up to 8s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 8 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	return c
}

// Do runs fn until it succeeds, fails permanently, or the attempts run
// out. Non-transient errors are returned as-is on the first occurrence;
// transient errors after the last attempt are wrapped as ErrDegraded.
// The context deadline is honoured between attempts.
func Do(ctx context.Context, cfg Config, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, types.ErrTransient) {
			return err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Warn("Transient failure, backing off",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %v: %w", op, cfg.MaxAttempts, lastErr, types.ErrDegraded)
}
