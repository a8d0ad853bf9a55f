// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.

package emitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeChainParams struct {
	minAllowed      int
	maxLimitRatio   float64
	excludeQuantile uint16
	versionKey      uint64
	uids            map[string]uint16
	setCalls        int
	lastUIDs        []uint16
	lastWeights     []uint16
}

func (f *fakeChainParams) MinAllowedWeights(ctx context.Context, netuid uint16) (int, error) {
	return f.minAllowed, nil
}
func (f *fakeChainParams) MaxWeightsLimitRatio(ctx context.Context, netuid uint16) (float64, error) {
	return f.maxLimitRatio, nil
}
func (f *fakeChainParams) ExcludeQuantile(ctx context.Context, netuid uint16) (uint16, error) {
	return f.excludeQuantile, nil
}
func (f *fakeChainParams) WeightsVersionKey(ctx context.Context, netuid uint16) (uint64, error) {
	return f.versionKey, nil
}
func (f *fakeChainParams) UIDForHotkey(ctx context.Context, netuid uint16, hotkey string) (uint16, bool, error) {
	uid, ok := f.uids[hotkey]
	return uid, ok, nil
}
func (f *fakeChainParams) SetWeights(ctx context.Context, netuid uint16, uids []uint16, weights []uint16, versionKey uint64) error {
	f.setCalls++
	f.lastUIDs = uids
	f.lastWeights = weights
	return nil
}

func TestProcessWeightsForNetuidUniformWhenBelowMinAllowed(t *testing.T) {
	nodes := []string{"A", "B", "C"}
	weights := map[string]float64{"A": 0.5, "B": 0.5}
	keys, out := ProcessWeightsForNetuid(nodes, weights, 8, 0.5, 0)
	require.Equal(t, nodes, keys)
	for _, w := range out {
		require.InDelta(t, 1.0/3.0, w, 1e-9)
	}
}

func TestProcessWeightsForNetuidUniformWhenAllZero(t *testing.T) {
	nodes := []string{"A", "B"}
	keys, out := ProcessWeightsForNetuid(nodes, map[string]float64{}, 1, 0.5, 0)
	require.Equal(t, nodes, keys)
	require.InDelta(t, 0.5, out[0], 1e-9)
	require.InDelta(t, 0.5, out[1], 1e-9)
}

func TestProcessWeightsForNetuidPadsBelowMinAllowed(t *testing.T) {
	nodes := []string{"A", "B", "C", "D"}
	weights := map[string]float64{"A": 0.9, "B": 0.1}
	keys, out := ProcessWeightsForNetuid(nodes, weights, 3, 0.9, 0)
	require.ElementsMatch(t, nodes, keys)
	sum := 0.0
	for _, w := range out {
		sum += w
	}
	require.InDelta(t, 1.0, sum, 1e-6)
}

func TestNormalizeMaxWeightCapsShare(t *testing.T) {
	nodes := []string{"A", "B", "C"}
	weights := map[string]float64{"A": 0.9, "B": 0.05, "C": 0.05}
	keys, out := normalizeMaxWeight(nodes, weights, 0.5)
	require.Equal(t, nodes, keys)
	maxShare := 0.0
	sum := 0.0
	for _, w := range out {
		sum += w
		if w > maxShare {
			maxShare = w
		}
	}
	require.InDelta(t, 1.0, sum, 1e-6)
	require.LessOrEqual(t, maxShare, 0.5+1e-6)
}

func TestSubmitResolvesUIDsAndCallsSetWeights(t *testing.T) {
	chain := &fakeChainParams{
		minAllowed:      1,
		maxLimitRatio:   1.0,
		excludeQuantile: 0,
		versionKey:      6,
		uids:            map[string]uint16{"validator": 0, "A": 1, "B": 2},
	}
	e := New(chain, 7)
	err := e.Submit(context.Background(), "validator", map[string]float64{"A": 0.6, "B": 0.4})
	require.NoError(t, err)
	require.Equal(t, 1, chain.setCalls)
	require.Len(t, chain.lastUIDs, 2)
	require.Len(t, chain.lastWeights, 2)
}

func TestSubmitFailsWhenValidatorUnregistered(t *testing.T) {
	chain := &fakeChainParams{
		minAllowed:    1,
		maxLimitRatio: 1.0,
		versionKey:    6,
		uids:          map[string]uint16{"A": 1},
	}
	e := New(chain, 7)
	err := e.Submit(context.Background(), "unknown-validator", map[string]float64{"A": 1.0})
	require.Error(t, err)
	require.Equal(t, 0, chain.setCalls)
}
