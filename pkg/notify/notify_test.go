// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/hermes/internal/retry"
)

func TestTitleFor(t *testing.T) {
	assert.Equal(t, "Benchmark Regression", TitleFor(TypeBenchmarkRegression))
	assert.Equal(t, "Gate Failed", TitleFor(TypeGateFailed))
	assert.Equal(t, "Deployment Complete", TitleFor(TypeDeploymentComplete))
}

func TestSendFillsDefaults(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/notifications", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewHTTPNotifier(HTTPConfig{Endpoint: srv.URL, Logger: zaptest.NewLogger(t)})
	n.Send(context.Background(), Notification{
		Type: TypeGatePassed,
		Body: "prompt t1 passed all gates",
	})

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "Gate Passed", got.Title)
	assert.Equal(t, PriorityNormal, got.Priority)
}

func TestSendDropsOnPersistentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(HTTPConfig{
		Endpoint: srv.URL,
		Retry:    retry.Config{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		Logger:   zaptest.NewLogger(t),
	})

	// Must not panic or block; the drop is silent to the caller.
	n.Send(context.Background(), Notification{Type: TypeBenchmarkComplete})
	assert.Equal(t, int32(2), calls.Load())
}
