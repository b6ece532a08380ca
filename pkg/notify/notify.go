// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package notify delivers platform notifications to the external bus
// (Beeper). Delivery is best-effort: a notification that cannot be
// delivered after retries is logged and dropped, never surfaced to the
// caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/teradata-labs/hermes/internal/retry"
	"github.com/teradata-labs/hermes/pkg/types"
)

// Type enumerates the platform's notification types.
type Type string

// Notification types.
const (
	TypeBenchmarkComplete   Type = "benchmark-complete"
	TypeBenchmarkRegression Type = "benchmark-regression"
	TypeGateFailed          Type = "gate-failed"
	TypeGatePassed          Type = "gate-passed"
	TypeDeploymentStarted   Type = "deployment-started"
	TypeDeploymentComplete  Type = "deployment-complete"
	TypeDeploymentFailed    Type = "deployment-failed"
	TypeSyncComplete        Type = "sync-complete"
	TypeSyncConflict        Type = "sync-conflict"
	TypeSuggestionReady     Type = "suggestion-ready"
)

// Priority orders notifications for the receiving bus.
type Priority string

// Priorities.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Action is a link the receiving client can render as a button.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Notification is the single wire shape posted to the bus.
type Notification struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Type       Type           `json:"type"`
	Priority   Priority       `json:"priority"`
	Channels   []string       `json:"channels,omitempty"`
	Recipients []string       `json:"recipients,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Link       string         `json:"link,omitempty"`
	Actions    []Action       `json:"actions,omitempty"`
}

// Notifier delivers notifications. Send never returns an error; failed
// deliveries are the notifier's problem, not the caller's.
type Notifier interface {
	Send(ctx context.Context, n Notification)
}

// titleCaser renders "benchmark-regression" as "Benchmark Regression".
var titleCaser = cases.Title(language.English)

// TitleFor builds a humanised default title for a notification type.
func TitleFor(t Type) string {
	return titleCaser.String(strings.ReplaceAll(string(t), "-", " "))
}

// HTTPConfig holds configuration for the remote notifier.
type HTTPConfig struct {
	Endpoint string        // Default: http://localhost:8092
	APIKey   string        // Optional bearer token
	Timeout  time.Duration // Default: 30s
	Retry    retry.Config
	Logger   *zap.Logger
}

// HTTPNotifier posts notifications to the bus.
type HTTPNotifier struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	retryCfg   retry.Config
	logger     *zap.Logger
}

// NewHTTPNotifier creates a remote notifier.
func NewHTTPNotifier(cfg HTTPConfig) *HTTPNotifier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8092"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPNotifier{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryCfg:   cfg.Retry,
		logger:     logger,
	}
}

// Send posts the notification, retrying transient failures. Permanent
// failures and exhausted retries are logged and the notification is
// dropped.
func (n *HTTPNotifier) Send(ctx context.Context, notification Notification) {
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if notification.Title == "" {
		notification.Title = TitleFor(notification.Type)
	}
	if notification.Priority == "" {
		notification.Priority = PriorityNormal
	}

	err := retry.Do(ctx, n.retryCfg, n.logger, "notify.send", func(ctx context.Context) error {
		return n.post(ctx, notification)
	})
	if err != nil {
		n.logger.Warn("Dropped notification",
			zap.String("notification_id", notification.ID),
			zap.String("type", string(notification.Type)),
			zap.Error(err))
	}
}

func (n *HTTPNotifier) post(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+"/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification bus unreachable: %v: %w", err, types.ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &types.HTTPError{StatusCode: resp.StatusCode, Message: "notification rejected"}
	}
	return nil
}

// NopNotifier discards all notifications. Used when the bus is not
// configured and in tests.
type NopNotifier struct{}

// Send implements Notifier.
func (NopNotifier) Send(context.Context, Notification) {}
