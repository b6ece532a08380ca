// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package benchmark

import (
	"context"
	"time"
)

// slopeBand classifies slopes within ±this band as stable.
const slopeBand = 0.1

// Trends aggregates a prompt's score trajectory over the window:
// linear-regression slope and direction, 7- and 30-day rolling averages
// with first-to-last deltas, and per-dimension averages.
func (o *Orchestrator) Trends(ctx context.Context, promptRef string, windowDays int) (*Trend, error) {
	if windowDays <= 0 {
		windowDays = 30
	}

	p, err := o.prompts.Get(ctx, promptRef)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	since := now.AddDate(0, 0, -windowDays)
	results, err := o.store.Window(ctx, p.ID, since)
	if err != nil {
		return nil, err
	}

	trend := &Trend{
		PromptID:   p.ID,
		WindowDays: windowDays,
		Samples:    len(results),
		Direction:  TrendStable,
	}
	if len(results) == 0 {
		return trend, nil
	}

	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.OverallScore
	}

	trend.Slope = regressionSlope(scores)
	switch {
	case trend.Slope > slopeBand:
		trend.Direction = TrendImproving
	case trend.Slope < -slopeBand:
		trend.Direction = TrendDeclining
	}

	trend.Avg7Day, trend.Delta7Day = rollingWindow(results, now.AddDate(0, 0, -7))
	trend.Avg30Day, trend.Delta30Day = rollingWindow(results, now.AddDate(0, 0, -30))
	trend.DimensionAverages = dimensionAverages(results)
	return trend, nil
}

// regressionSlope fits overall scores against their run index by least
// squares and returns the per-run slope.
func regressionSlope(scores []float64) float64 {
	n := float64(len(scores))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range scores {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// rollingWindow returns the mean score of results at or after the
// cutoff and the first-to-last delta inside that span. results must be
// ordered oldest first.
func rollingWindow(results []*Result, cutoff time.Time) (avg, delta float64) {
	var sum float64
	var inWindow []*Result
	for _, r := range results {
		if r.ExecutedAt.Before(cutoff) {
			continue
		}
		inWindow = append(inWindow, r)
		sum += r.OverallScore
	}
	if len(inWindow) == 0 {
		return 0, 0
	}
	avg = sum / float64(len(inWindow))
	delta = inWindow[len(inWindow)-1].OverallScore - inWindow[0].OverallScore
	return avg, delta
}

func dimensionAverages(results []*Result) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range results {
		for dim, score := range r.DimensionScores {
			sums[dim] += score
			counts[dim]++
		}
	}
	if len(sums) == 0 {
		return nil
	}
	avgs := make(map[string]float64, len(sums))
	for dim, sum := range sums {
		avgs[dim] = sum / float64(counts[dim])
	}
	return avgs
}
