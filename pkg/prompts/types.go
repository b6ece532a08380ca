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

// Package prompts implements the prompt store: content-addressed,
// versioned storage of prompt documents with a linear history.
//
// Key behaviors:
//   - Content changes bump the patch version and append an immutable
//     PromptVersion carrying a unified diff against the prior head.
//   - Metadata-only updates never create versions.
//   - Rollback appends a new version equal to the target's content;
//     history is never rewritten.
//   - Lifecycle transitions follow a fixed state machine.
//   - Writes to the same prompt are serialised by a per-prompt lock.
package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Kind classifies what a prompt is for.
type Kind string

// Prompt kinds.
const (
	KindAgentSystem     Kind = "agent-system"
	KindUserTemplate    Kind = "user-template"
	KindToolDefinition  Kind = "tool-definition"
	KindInstructionSpec Kind = "instruction-spec"
)

// ValidKind reports whether k is a recognised prompt kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindAgentSystem, KindUserTemplate, KindToolDefinition, KindInstructionSpec:
		return true
	}
	return false
}

// State is a prompt's lifecycle state.
type State string

// Lifecycle states. Transitions are validated by the service; see
// validTransitions in service.go.
const (
	StateDraft    State = "draft"
	StateReview   State = "review"
	StateStaged   State = "staged"
	StateDeployed State = "deployed"
	StateArchived State = "archived"
)

// OwnerKind identifies what kind of principal owns a prompt.
type OwnerKind string

// Owner kinds.
const (
	OwnerUser   OwnerKind = "user"
	OwnerAgent  OwnerKind = "agent"
	OwnerSystem OwnerKind = "system"
)

// Visibility controls who can see a prompt.
type Visibility string

// Visibility levels.
const (
	VisibilityPrivate Visibility = "private"
	VisibilityTeam    Visibility = "team"
	VisibilityOrg     Visibility = "org"
	VisibilityPublic  Visibility = "public"
)

// VariableSpec describes one template variable of a prompt. The fields
// translate to a JSON Schema document used to validate values at render
// time.
type VariableSpec struct {
	// Type is the JSON Schema type ("string", "number", "integer",
	// "boolean", "array", "object").
	Type string `json:"type"`

	// Description documents the variable for authors.
	Description string `json:"description,omitempty"`

	// Required marks the variable as mandatory at render time.
	Required bool `json:"required,omitempty"`

	// Default is substituted when the variable is optional and absent.
	Default any `json:"default,omitempty"`

	// Pattern constrains string values (JSON Schema "pattern").
	Pattern string `json:"pattern,omitempty"`

	// Enum constrains values to a fixed set.
	Enum []any `json:"enum,omitempty"`
}

// Prompt is the canonical, mutable head of a versioned document.
type Prompt struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Category string `json:"category,omitempty"`

	Tags      []string                `json:"tags,omitempty"`
	Content   string                  `json:"content"`
	Variables map[string]VariableSpec `json:"variables,omitempty"`
	Metadata  map[string]any          `json:"metadata,omitempty"`

	// Version is the current semantic version ("M.m.p").
	Version string `json:"version"`

	// ContentHash is the hex SHA-256 of Content.
	ContentHash string `json:"contentHash"`

	State          State      `json:"state"`
	LastDeployedAt *time.Time `json:"lastDeployedAt,omitempty"`

	OwnerID    string     `json:"ownerId"`
	OwnerKind  OwnerKind  `json:"ownerKind"`
	TeamID     string     `json:"teamId,omitempty"`
	Visibility Visibility `json:"visibility"`

	// Score caches reflect the most recent benchmarked version. They are
	// advisory; the authoritative record is the benchmark result store.
	LastBenchmarkScore *float64   `json:"lastBenchmarkScore,omitempty"`
	LastBenchmarkAt    *time.Time `json:"lastBenchmarkAt,omitempty"`

	// External sync linkage (markdown source path and its content hash).
	ExternalPath string `json:"externalPath,omitempty"`
	ExternalHash string `json:"externalHash,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AutoBenchmarkEnabled reports whether content changes should trigger an
// automatic benchmark. Disabled by setting metadata autoBenchmark=false.
func (p *Prompt) AutoBenchmarkEnabled() bool {
	if p.Metadata == nil {
		return true
	}
	if v, ok := p.Metadata["autoBenchmark"]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return true
}

// PromptVersion is an immutable historical snapshot of a prompt.
type PromptVersion struct {
	ID       string `json:"id"`
	PromptID string `json:"promptId"`
	Version  string `json:"version"`

	Content     string `json:"content"`
	ContentHash string `json:"contentHash"`

	// Diff is a unified diff against the prior version; empty for the
	// initial version.
	Diff string `json:"diff,omitempty"`

	ChangeSummary string `json:"changeSummary,omitempty"`
	AuthorID      string `json:"authorId,omitempty"`

	Variables map[string]VariableSpec `json:"variables,omitempty"`
	Metadata  map[string]any          `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ChangeEvent is published on the service broker whenever a content
// change produces a new version. Subscribers drive auto-benchmarks and
// the external sync exporter.
type ChangeEvent struct {
	PromptID        string
	Slug            string
	Kind            Kind
	Version         string
	PreviousVersion string
	ContentHash     string
	ChangeSummary   string
	Author          string
	Rollback        bool
}

// Filter narrows a List call. Zero-valued fields are ignored.
type Filter struct {
	Kind       Kind
	State      State
	Category   string
	OwnerID    string
	TeamID     string
	Visibility Visibility

	// Search matches a substring of slug, name, or content.
	Search string

	Limit  int
	Offset int
}

// Page is one page of a List result.
type Page struct {
	Prompts []*Prompt `json:"prompts"`
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}

// Fingerprint returns the hex-encoded SHA-256 of text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ShortFingerprint returns the first 8 hex characters of a fingerprint,
// used in logs and change summaries.
func ShortFingerprint(fingerprint string) string {
	if len(fingerprint) <= 8 {
		return fingerprint
	}
	return fingerprint[:8]
}
