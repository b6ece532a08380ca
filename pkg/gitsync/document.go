// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package gitsync round-trips prompts to and from markdown files with
// YAML frontmatter, the interchange form used by external prompt
// repositories. Import and export are upserts keyed by slug; a file
// and the stored head that have both diverged since the last sync is a
// conflict and is never silently merged.
package gitsync

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/hermes/pkg/prompts"
	"github.com/teradata-labs/hermes/pkg/types"
)

const frontmatterDelimiter = "---\n"

// frontmatter is the YAML header of a synced markdown file.
type frontmatter struct {
	Name     string   `yaml:"name"`
	Slug     string   `yaml:"slug"`
	Type     string   `yaml:"type"`
	Version  string   `yaml:"version"`
	Category string   `yaml:"category,omitempty"`
	Tags     []string `yaml:"tags,omitempty,flow"`
}

// Document is a decoded markdown prompt file.
type Document struct {
	Name     string
	Slug     string
	Kind     prompts.Kind
	Version  string
	Category string
	Tags     []string

	// Content is the markdown body, byte-for-byte. Encode and Decode
	// preserve it exactly so that content fingerprints survive a round
	// trip.
	Content string
}

// Encode renders a prompt head as markdown with YAML frontmatter.
func Encode(p *prompts.Prompt) ([]byte, error) {
	fm := frontmatter{
		Name:     p.Name,
		Slug:     p.Slug,
		Type:     string(p.Kind),
		Version:  p.Version,
		Category: p.Category,
		Tags:     p.Tags,
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, types.Invalidf("failed to encode frontmatter for %q: %v", p.Slug, err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontmatterDelimiter)
	buf.Write(header)
	buf.WriteString("---\n\n")
	buf.WriteString(p.Content)
	return buf.Bytes(), nil
}

// Decode parses a markdown prompt file. The body is returned verbatim,
// minus the single blank line separating it from the frontmatter.
func Decode(data []byte) (*Document, error) {
	s := string(data)
	if !strings.HasPrefix(s, frontmatterDelimiter) {
		return nil, types.Invalidf("file has no YAML frontmatter")
	}
	rest := s[len(frontmatterDelimiter):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return nil, types.Invalidf("unterminated YAML frontmatter")
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return nil, types.Invalidf("malformed frontmatter: %v", err)
	}
	if fm.Slug == "" {
		return nil, types.Invalidf("frontmatter has no slug")
	}
	kind := prompts.Kind(fm.Type)
	if !prompts.ValidKind(kind) {
		return nil, types.Invalidf("frontmatter has unknown type %q", fm.Type)
	}

	// One blank line conventionally separates the frontmatter from the
	// body; anything beyond it belongs to the content.
	body := rest[end+len("\n---\n"):]
	body = strings.TrimPrefix(body, "\n")
	if body == "" {
		return nil, types.Invalidf("file has no content body")
	}

	return &Document{
		Name:     fm.Name,
		Slug:     fm.Slug,
		Kind:     kind,
		Version:  fm.Version,
		Category: fm.Category,
		Tags:     fm.Tags,
		Content:  body,
	}, nil
}
