// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package experiments

import (
	"crypto/md5" // #nosec G501 -- deterministic traffic bucketing, not a credential hash
	"encoding/binary"
	"math"
	"math/rand"
)

// toFloat01 maps an input string to [0,1) by taking the first 8 bytes
// of its MD5 digest as a big-endian uint64. Assignment must be stable
// across processes and languages, so the hash function is fixed.
func toFloat01(input string) float64 {
	sum := md5.Sum([]byte(input)) // #nosec G401 -- deterministic traffic bucketing, not security-sensitive
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / (1 << 64)
}

// chiSquare runs Pearson's test on the 2x2 conversion table
// (control vs treatment, converted vs not) and returns the p-value of
// the chi-square(1df) upper tail. Returns p=1 when any margin is zero.
func chiSquare(controlConv, controlImp, treatConv, treatImp int) float64 {
	a := float64(controlConv)
	b := float64(controlImp - controlConv)
	c := float64(treatConv)
	d := float64(treatImp - treatConv)

	n := a + b + c + d
	denom := (a + b) * (c + d) * (a + c) * (b + d)
	if denom == 0 {
		return 1
	}
	x := n * (a*d - b*c) * (a*d - b*c) / denom

	// Upper tail of chi-square with one degree of freedom.
	return math.Erfc(math.Sqrt(x / 2))
}

// sampleBeta draws from Beta(a,b) as Ga/(Ga+Gb).
func sampleBeta(rng *rand.Rand, a, b float64) float64 {
	ga := sampleGamma(rng, a)
	gb := sampleGamma(rng, b)
	if ga+gb == 0 {
		return 0.5
	}
	return ga / (ga + gb)
}

// sampleGamma draws from Gamma(shape,1) using Marsaglia-Tsang, with the
// standard boost for shape < 1.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
