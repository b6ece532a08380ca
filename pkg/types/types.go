// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the hermes platform.
// This package breaks import cycles by providing the error kinds and
// environment tags that every component depends on.
package types

import (
	"errors"
	"fmt"
)

// ============================================================================
// Error kinds
// ============================================================================

// The platform distinguishes errors by kind, not by concrete type.
// Callers match with errors.Is and wrap with fmt.Errorf("...: %w", err).
var (
	// ErrNotFound means the referenced entity does not exist. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrInvalid means the input failed validation. Never retried.
	ErrInvalid = errors.New("invalid")

	// ErrConflict means a concurrent mutation lost a race or a unique
	// constraint (slug) was violated. Callers may retry.
	ErrConflict = errors.New("conflict")

	// ErrTransient means a transport failure to an external service.
	// Retried with bounded exponential backoff before degrading.
	ErrTransient = errors.New("transient")

	// ErrDegraded means an external dependency stayed unavailable after
	// retries were exhausted.
	ErrDegraded = errors.New("degraded")

	// ErrPolicy means the operation violates a policy rule, such as
	// rolling back to a version that does not exist.
	ErrPolicy = errors.New("policy violation")
)

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Invalidf wraps ErrInvalid with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalid)...)
}

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// Policyf wraps ErrPolicy with a formatted message.
func Policyf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrPolicy)...)
}

// IsRetryable reports whether the error kind permits a retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}

// ============================================================================
// HTTP errors
// ============================================================================

// HTTPError carries the status code of a failed call to an external
// service so retry logic can distinguish transient failures.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Is maps status classes onto error kinds: 404 behaves as ErrNotFound,
// 408/429/5xx as ErrTransient, remaining 4xx as ErrInvalid.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == 404
	case ErrTransient:
		return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
	case ErrInvalid:
		return e.StatusCode >= 400 && e.StatusCode < 500 &&
			e.StatusCode != 404 && e.StatusCode != 408 && e.StatusCode != 429
	}
	return false
}

// ============================================================================
// Environments
// ============================================================================

// Environment tags a benchmark result with where it was produced.
// Simulation results are excluded from regression baselines.
const (
	EnvProduction = "production"
	EnvSimulation = "simulation"
)
