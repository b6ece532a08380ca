// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/teradata-labs/hermes/internal/retry"
	"github.com/teradata-labs/hermes/pkg/types"
)

// HTTPConfig holds configuration for the remote evaluator client.
type HTTPConfig struct {
	Endpoint string        // Default: http://localhost:8090
	APIKey   string        // Optional bearer token
	Timeout  time.Duration // Default: 60s
	Retry    retry.Config
	Logger   *zap.Logger
}

// HTTPClient calls the evaluator service over HTTP with bounded retries
// and a circuit breaker. An open circuit short-circuits to ErrDegraded
// instead of hammering a dead service.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	retryCfg   retry.Config
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewHTTPClient creates a remote evaluator client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8090"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "evaluator",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Evaluator circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &HTTPClient{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryCfg:   cfg.Retry,
		breaker:    breaker,
		logger:     logger,
	}
}

// Run executes one benchmark evaluation against the remote service.
func (c *HTTPClient) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	var resp *RunResponse
	err := retry.Do(ctx, c.retryCfg, c.logger, "evaluator.run", func(ctx context.Context) error {
		result, err := c.breaker.Execute(func() (any, error) {
			return c.post(ctx, "/benchmarks/run", req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return fmt.Errorf("evaluator circuit open: %w", types.ErrDegraded)
			}
			return err
		}
		resp = result.(*RunResponse)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) (*RunResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("evaluator unreachable: %v: %w", err, types.ErrTransient)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v: %w", err, types.ErrTransient)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &types.HTTPError{StatusCode: httpResp.StatusCode, Message: string(raw)}
	}

	var resp RunResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode evaluator response: %w", err)
	}
	if resp.Environment == "" {
		resp.Environment = types.EnvProduction
	}
	return &resp, nil
}
