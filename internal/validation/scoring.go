// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

package validation

import "github.com/subnetval/subnet-validator/internal/types"

// minerCounts tracks one miner's per-epoch order counts.
type minerCounts struct {
	total     int
	validated int
}

// ComputeScoresFromResults counts, per miner, how many of its orders
// validated successfully within an epoch window. When filterUserAddress
// is non-empty, orders whose user address does not match it are
// excluded from both counts before scoring, per spec.md §4.6.
func ComputeScoresFromResults(results []types.ValidationResult, filterUserAddress string) map[string]int {
	counts := map[string]*minerCounts{}
	for _, r := range results {
		if filterUserAddress != "" && r.UserAddress != filterUserAddress {
			continue
		}
		c, ok := counts[r.MinerID]
		if !ok {
			c = &minerCounts{}
			counts[r.MinerID] = c
		}
		c.total++
		if r.Success {
			c.validated++
		}
	}

	scores := make(map[string]int, len(counts))
	for miner, c := range counts {
		scores[miner] = c.validated
	}
	return scores
}

// NormalizeScoresToWeights implements spec.md §4.6's normalization
// branches, in order:
//  1. no miners + creator configured -> {creator: 1.0}
//  2. no miners, no creator -> {}
//  3. miners exist but total score is 0 -> equal weight per miner
//  4. otherwise -> proportional to score
//
// and then, if burnPercentage > 0 and a creator is configured, blends
// burnPercentage into the creator's weight, scaling every other miner
// by (1 - burnPercentage).
func NormalizeScoresToWeights(scores map[string]int, creatorMinerID string, burnPercentage float64) map[string]float64 {
	weights := baseWeights(scores, creatorMinerID)
	return applyBurnBlend(weights, creatorMinerID, burnPercentage)
}

func baseWeights(scores map[string]int, creatorMinerID string) map[string]float64 {
	if len(scores) == 0 {
		if creatorMinerID != "" {
			return map[string]float64{creatorMinerID: 1.0}
		}
		return map[string]float64{}
	}

	total := 0
	for _, s := range scores {
		total += s
	}

	weights := make(map[string]float64, len(scores))
	if total == 0 {
		equal := 1.0 / float64(len(scores))
		for miner := range scores {
			weights[miner] = equal
		}
		return weights
	}

	for miner, s := range scores {
		weights[miner] = float64(s) / float64(total)
	}
	return weights
}

func applyBurnBlend(weights map[string]float64, creatorMinerID string, burnPercentage float64) map[string]float64 {
	if burnPercentage <= 0 || creatorMinerID == "" {
		return weights
	}
	if len(weights) == 0 {
		return map[string]float64{creatorMinerID: 1.0}
	}

	blended := make(map[string]float64, len(weights)+1)
	for miner, w := range weights {
		blended[miner] = w * (1 - burnPercentage)
	}
	blended[creatorMinerID] += burnPercentage
	return blended
}
