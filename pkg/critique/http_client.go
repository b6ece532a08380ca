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

package critique

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/hermes/internal/csync"
	"github.com/teradata-labs/hermes/internal/retry"
	"github.com/teradata-labs/hermes/pkg/types"
)

// HTTPConfig holds configuration for the remote critique client.
type HTTPConfig struct {
	Endpoint string        // Default: http://localhost:8091
	APIKey   string        // Optional bearer token
	Timeout  time.Duration // Default: 120s (deep analysis is slow)
	Retry    retry.Config
	Logger   *zap.Logger
}

// HTTPClient calls the critique service over HTTP. Suggestions returned
// by Analyze are cached by id so GetSuggestion usually answers locally.
type HTTPClient struct {
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	retryCfg    retry.Config
	suggestions *csync.Map[string, Suggestion]
	logger      *zap.Logger
}

// NewHTTPClient creates a remote critique client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8091"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retryCfg:    cfg.Retry,
		suggestions: csync.NewMap[string, Suggestion](),
		logger:      logger,
	}
}

// Analyze critiques the prompt via POST /analyze.
func (c *HTTPClient) Analyze(ctx context.Context, req *AnalyzeRequest) (*Analysis, error) {
	if req.AnalysisDepth == "" {
		req.AnalysisDepth = DepthStandard
	}

	var analysis Analysis
	err := retry.Do(ctx, c.retryCfg, c.logger, "critique.analyze", func(ctx context.Context) error {
		return c.roundTrip(ctx, http.MethodPost, "/analyze", req, &analysis)
	})
	if err != nil {
		return nil, err
	}

	for _, s := range analysis.Suggestions {
		c.suggestions.Set(s.ID, s)
	}
	return &analysis, nil
}

// ApplySuggestion rewrites content via POST /apply-suggestion.
func (c *HTTPClient) ApplySuggestion(ctx context.Context, content string, s Suggestion) (string, error) {
	payload := struct {
		PromptContent string     `json:"prompt_content"`
		Suggestion    Suggestion `json:"suggestion"`
	}{PromptContent: content, Suggestion: s}

	var resp struct {
		ModifiedContent string `json:"modified_content"`
	}
	err := retry.Do(ctx, c.retryCfg, c.logger, "critique.apply", func(ctx context.Context) error {
		return c.roundTrip(ctx, http.MethodPost, "/apply-suggestion", payload, &resp)
	})
	if err != nil {
		return "", err
	}
	if resp.ModifiedContent == "" {
		return "", types.Invalidf("critique returned empty modified content for suggestion %s", s.ID)
	}
	return resp.ModifiedContent, nil
}

// GetSuggestion fetches a suggestion, answering from the cache when the
// id was seen in a prior Analyze.
func (c *HTTPClient) GetSuggestion(ctx context.Context, id string) (*Suggestion, error) {
	if s, ok := c.suggestions.Get(id); ok {
		return &s, nil
	}

	var s Suggestion
	err := retry.Do(ctx, c.retryCfg, c.logger, "critique.suggestion", func(ctx context.Context) error {
		return c.roundTrip(ctx, http.MethodGet, "/suggestions/"+url.PathEscape(id), nil, &s)
	})
	if err != nil {
		return nil, err
	}
	c.suggestions.Set(s.ID, s)
	return &s, nil
}

// History lists past analyses via GET /history/{promptId}.
func (c *HTTPClient) History(ctx context.Context, promptID string) ([]*Analysis, error) {
	var analyses []*Analysis
	err := retry.Do(ctx, c.retryCfg, c.logger, "critique.history", func(ctx context.Context) error {
		return c.roundTrip(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), nil, &analyses)
	})
	if err != nil {
		return nil, err
	}
	return analyses, nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("critique unreachable: %v: %w", err, types.ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %v: %w", err, types.ErrTransient)
	}
	if resp.StatusCode != http.StatusOK {
		return &types.HTTPError{StatusCode: resp.StatusCode, Message: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode critique response: %w", err)
	}
	return nil
}
