// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsAreDistinct(t *testing.T) {
	kinds := []error{ErrNotFound, ErrInvalid, ErrConflict, ErrTransient, ErrDegraded, ErrPolicy}
	for i, a := range kinds {
		for j, b := range kinds {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
		}
	}
}

func TestWrappingPreservesKind(t *testing.T) {
	err := NotFoundf("prompt %q", "greeting")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "greeting")

	err = Invalidf("bad slug %q", "x y")
	assert.True(t, errors.Is(err, ErrInvalid))

	err = Conflictf("slug %q taken", "greeting")
	assert.True(t, errors.Is(err, ErrConflict))

	err = Policyf("rollback target %s missing", "1.0.3")
	assert.True(t, errors.Is(err, ErrPolicy))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, errors.Is(wrapped, ErrPolicy))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTransient))
	assert.True(t, IsRetryable(ErrConflict))
	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(ErrInvalid))
	assert.False(t, IsRetryable(ErrDegraded))
}

func TestHTTPErrorKindMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   error
	}{
		{404, ErrNotFound},
		{408, ErrTransient},
		{429, ErrTransient},
		{500, ErrTransient},
		{502, ErrTransient},
		{503, ErrTransient},
		{400, ErrInvalid},
		{422, ErrInvalid},
	}
	for _, tc := range cases {
		err := &HTTPError{StatusCode: tc.status, Message: "boom"}
		assert.True(t, errors.Is(err, tc.kind), "status %d should map to %v", tc.status, tc.kind)
	}

	err := &HTTPError{StatusCode: 503, Message: "unavailable"}
	assert.False(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "HTTP 503")
}
