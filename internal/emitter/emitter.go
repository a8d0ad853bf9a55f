// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

// Package emitter turns a validator's computed miner weight map into a
// subnet-valid (uids, weights) extrinsic and submits it on-chain.
package emitter

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

const (
	u16Max                   = 65535
	defaultMinAllowedWeights = 8
	defaultMaxWeightsRatio   = 0.1
	defaultVersionKey        = uint64(6)
	defaultExcludeQuantile   = uint16(0)
	paddingWeight            = 1e-5
)

// ChainParams is the subset of on-chain subnet hyperparameters the
// emitter consults. A failed query for any of them falls back to the
// defaults named in spec.md §4.7.
type ChainParams interface {
	MinAllowedWeights(ctx context.Context, netuid uint16) (int, error)
	MaxWeightsLimitRatio(ctx context.Context, netuid uint16) (float64, error)
	ExcludeQuantile(ctx context.Context, netuid uint16) (uint16, error)
	WeightsVersionKey(ctx context.Context, netuid uint16) (uint64, error)
	UIDForHotkey(ctx context.Context, netuid uint16, hotkey string) (uint16, bool, error)
	SetWeights(ctx context.Context, netuid uint16, uids []uint16, weights []uint16, versionKey uint64) error
}

// Emitter submits normalized weight vectors to the chain.
type Emitter struct {
	chain  ChainParams
	netuid uint16
}

// New builds an Emitter.
func New(chain ChainParams, netuid uint16) *Emitter {
	return &Emitter{chain: chain, netuid: netuid}
}

// ProcessWeightsForNetuid implements spec.md §4.7's four-branch
// algorithm, returning the ordered hotkeys and their final (pre-U16
// scaling) normalized weights.
func ProcessWeightsForNetuid(nodes []string, weights map[string]float64, minAllowedWeights int, maxWeightsLimit float64, excludeQuantile uint16) ([]string, []float64) {
	nonZero := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if weights[n] > 0 {
			nonZero = append(nonZero, n)
		}
	}

	if len(nonZero) == 0 || len(nodes) < minAllowedWeights {
		uniform := 1.0 / float64(len(nodes))
		out := make([]float64, len(nodes))
		for i := range out {
			out[i] = uniform
		}
		return nodes, out
	}

	if len(nonZero) < minAllowedWeights {
		padded := make(map[string]float64, len(nodes))
		for _, n := range nodes {
			padded[n] = paddingWeight
		}
		for _, n := range nonZero {
			padded[n] += weights[n]
		}
		return normalizeMaxWeight(nodes, padded, maxWeightsLimit)
	}

	q := math.Min(
		float64(excludeQuantile)/float64(u16Max),
		float64(len(nonZero)-minAllowedWeights)/float64(len(nonZero)),
	)
	threshold := quantileValue(nonZero, weights, q)

	kept := make(map[string]float64, len(nonZero))
	for _, n := range nonZero {
		if weights[n] >= threshold {
			kept[n] = weights[n]
		}
	}
	keptNodes := make([]string, 0, len(kept))
	for n := range kept {
		keptNodes = append(keptNodes, n)
	}
	sort.Strings(keptNodes)
	return normalizeMaxWeight(keptNodes, kept, maxWeightsLimit)
}

func quantileValue(nodes []string, weights map[string]float64, q float64) float64 {
	if len(nodes) == 0 {
		return 0
	}
	values := make([]float64, len(nodes))
	for i, n := range nodes {
		values[i] = weights[n]
	}
	sort.Float64s(values)
	idx := int(q * float64(len(values)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

// normalizeMaxWeight implements spec.md §4.7's normalize-under-cap: if
// the naive normalization already satisfies the per-entry cap L, just
// normalize; otherwise binary-search a clip cutoff c such that clipping
// every w > c to c and renormalizing yields max == L exactly.
func normalizeMaxWeight(nodes []string, weights map[string]float64, limit float64) ([]string, []float64) {
	sort.Strings(nodes)
	total := 0.0
	for _, n := range nodes {
		total += weights[n]
	}

	// When n*limit < 1 even a uniform split breaches the cap, and the
	// binary search below never converges away from cutoff==0, degenerating
	// to an all-zero vector; at n*limit == 1 the uniform split is the only
	// one that meets the cap. Either way, return uniform directly.
	if total == 0 || float64(len(nodes))*limit <= 1 {
		uniform := 1.0 / float64(len(nodes))
		out := make([]float64, len(nodes))
		for i := range out {
			out[i] = uniform
		}
		return nodes, out
	}

	naive := make([]float64, len(nodes))
	maxNaive := 0.0
	for i, n := range nodes {
		naive[i] = weights[n] / total
		if naive[i] > maxNaive {
			maxNaive = naive[i]
		}
	}
	if maxNaive <= limit {
		return nodes, naive
	}

	lo, hi := 0.0, total
	for i := 0; i < 60; i++ {
		mid := (lo + hi) / 2
		clippedSum := 0.0
		for _, n := range nodes {
			w := weights[n]
			if w > mid {
				w = mid
			}
			clippedSum += w
		}
		if clippedSum == 0 {
			lo = mid
			continue
		}
		maxShare := mid / clippedSum
		if maxShare > limit {
			hi = mid
		} else {
			lo = mid
		}
	}
	cutoff := lo

	out := make([]float64, len(nodes))
	sum := 0.0
	for i, n := range nodes {
		w := weights[n]
		if w > cutoff {
			w = cutoff
		}
		out[i] = w
		sum += w
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return nodes, out
}

// scaleToU16 converts a [0,1] normalized weight into its U16_MAX-scaled
// on-chain representation, clamping with uint256 arithmetic so a
// rounding artifact above 1.0 can never overflow the destination uint16.
func scaleToU16(normalized float64) uint16 {
	scaled := uint256.NewInt(uint64(normalized * u16Max))
	limit := uint256.NewInt(u16Max)
	if scaled.Gt(limit) {
		scaled = limit
	}
	return uint16(scaled.Uint64())
}

// Submit resolves hotkeys to on-chain UIDs, processes the weight map
// through the subnet's constraints, and calls set_weights.
func (e *Emitter) Submit(ctx context.Context, validatorHotkey string, weights map[string]float64) error {
	minAllowed, err := e.chain.MinAllowedWeights(ctx, e.netuid)
	if err != nil {
		log.Warn("emitter: MinAllowedWeights query failed, using default", "error", err)
		minAllowed = defaultMinAllowedWeights
	}
	maxLimit, err := e.chain.MaxWeightsLimitRatio(ctx, e.netuid)
	if err != nil {
		log.Warn("emitter: MaxWeightsLimit query failed, using default", "error", err)
		maxLimit = defaultMaxWeightsRatio
	}
	versionKey, err := e.chain.WeightsVersionKey(ctx, e.netuid)
	if err != nil {
		log.Warn("emitter: WeightsVersionKey query failed, using default", "error", err)
		versionKey = defaultVersionKey
	}
	excludeQuantile, err := e.chain.ExcludeQuantile(ctx, e.netuid)
	if err != nil {
		log.Warn("emitter: ExcludeQuantile query failed, using default", "error", err)
		excludeQuantile = defaultExcludeQuantile
	}

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		log.Warn("emitter: input weights do not sum to 1.0", "sum", sum)
	}

	nodes := make([]string, 0, len(weights))
	for n := range weights {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	orderedNodes, normalized := ProcessWeightsForNetuid(nodes, weights, minAllowed, maxLimit, excludeQuantile)

	uids := make([]uint16, 0, len(orderedNodes))
	scaled := make([]uint16, 0, len(orderedNodes))
	for i, hotkey := range orderedNodes {
		uid, ok, err := e.chain.UIDForHotkey(ctx, e.netuid, hotkey)
		if err != nil {
			return fmt.Errorf("resolve uid for %s: %w", hotkey, err)
		}
		if !ok {
			log.Warn("emitter: hotkey has no on-chain uid, skipping", "hotkey", hotkey)
			continue
		}
		uids = append(uids, uid)
		scaled = append(scaled, scaleToU16(normalized[i]))
	}

	if len(uids) == 0 {
		return fmt.Errorf("no hotkeys in the weight map resolved to a uid")
	}

	_, ok, err := e.chain.UIDForHotkey(ctx, e.netuid, validatorHotkey)
	if err != nil {
		return fmt.Errorf("resolve validator uid: %w", err)
	}
	if !ok {
		return fmt.Errorf("validator hotkey %s has no on-chain uid, aborting weight submission", validatorHotkey)
	}

	if err := e.chain.SetWeights(ctx, e.netuid, uids, scaled, versionKey); err != nil {
		return fmt.Errorf("set_weights extrinsic: %w", err)
	}
	log.Info("⚖️  emitter: weights submitted on-chain", "netuid", e.netuid, "count", len(uids))
	return nil
}
