// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package experiments

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFloat01(t *testing.T) {
	// Stable output, unit range.
	first := toFloat01("u-42:e-1")
	for range 10 {
		assert.Equal(t, first, toFloat01("u-42:e-1"))
	}
	assert.GreaterOrEqual(t, first, 0.0)
	assert.Less(t, first, 1.0)

	// Roughly uniform over many users.
	var sum float64
	const n = 10000
	for i := range n {
		sum += toFloat01("user-" + strconv.Itoa(i) + ":exp")
	}
	assert.InDelta(t, 0.5, sum/n, 0.02)
}

func TestChiSquare(t *testing.T) {
	// 100/1000 vs 150/1000: chi-square ≈ 11.43, p ≈ 0.0007.
	p := chiSquare(100, 1000, 150, 1000)
	assert.InDelta(t, 0.0007, p, 0.0005)

	// Identical distributions are not significant.
	p = chiSquare(100, 1000, 100, 1000)
	assert.Equal(t, 1.0, p)

	// Empty margins degrade to p=1 rather than NaN.
	assert.Equal(t, 1.0, chiSquare(0, 0, 0, 0))
	assert.Equal(t, 1.0, chiSquare(0, 100, 0, 100))
}

func TestSampleBeta(t *testing.T) {
	rng := rand.New(rand.NewSource(1)) // #nosec G404 -- fixed seed for a deterministic test

	// Mean of Beta(a,b) is a/(a+b).
	var sum float64
	const n = 5000
	for range n {
		s := sampleBeta(rng, 151, 851)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		sum += s
	}
	assert.InDelta(t, 151.0/1002.0, sum/n, 0.01)

	// Shape < 1 path.
	s := sampleBeta(rng, 0.5, 0.5)
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
}
