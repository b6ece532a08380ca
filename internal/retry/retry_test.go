// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/hermes/pkg/types"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, Multiplier: 2}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), zaptest.NewLogger(t), "op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), zaptest.NewLogger(t), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &types.HTTPError{StatusCode: 503, Message: "unavailable"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoDegradesAfterExhaustion(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), zaptest.NewLogger(t), "op", func(context.Context) error {
		calls++
		return &types.HTTPError{StatusCode: 500, Message: "boom"}
	})
	assert.ErrorIs(t, err, types.ErrDegraded)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), fastConfig(), zaptest.NewLogger(t), "op", func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 3, InitialBackoff: time.Minute}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, zaptest.NewLogger(t), "op", func(context.Context) error {
		return &types.HTTPError{StatusCode: 502, Message: "bad gateway"}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
