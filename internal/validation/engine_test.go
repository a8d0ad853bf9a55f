// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.

package validation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/subnetval/subnet-validator/internal/aggregator"
	"github.com/subnetval/subnet-validator/internal/types"
)

type fakeAggregator struct {
	mu            sync.Mutex
	orders        []types.Order
	healthy       bool
	submitCalls   int
	lastSubmitted aggregator.WeightSubmission
}

func (f *fakeAggregator) FetchPendingOrders(ctx context.Context, validatorID string) []types.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders
}

func (f *fakeAggregator) SubmitValidation(ctx context.Context, orderID, validatorID string, success bool, notes string) bool {
	return true
}

func (f *fakeAggregator) FetchHealth(ctx context.Context) *types.HealthDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return nil
	}
	doc := &types.HealthDoc{Status: "healthy"}
	doc.Storage.Healthy = true
	return doc
}

func (f *fakeAggregator) SubmitWeights(ctx context.Context, sub aggregator.WeightSubmission) *types.SubmissionReceipt {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	f.lastSubmitted = sub
	return &types.SubmissionReceipt{WeightSubmissionID: "sub-1"}
}

func newTestEngine(agg AggregatorClient, creator string) *Engine {
	return NewEngine(Config{
		AggregatorClient:  agg,
		ValidatorID:       "validator-1",
		BurnPercentage:    0,
		CreatorMinerID:    creator,
		MaxConcurrentSims: 4,
		PollInterval:      time.Millisecond,
		HistoryRetention:  time.Hour,
	})
}

func TestComputeWeightsForEpochHappyPath(t *testing.T) {
	agg := &fakeAggregator{healthy: true}
	e := newTestEngine(agg, "")
	e.setHealthy(true)

	results := []types.ValidationResult{
		{MinerID: "A", Success: true, Timestamp: time.Now()},
		{MinerID: "A", Success: true, Timestamp: time.Now()},
		{MinerID: "B", Success: true, Timestamp: time.Now()},
	}
	epoch := e.ComputeWeightsForEpoch("epoch-1", time.Now(), time.Now(), results)
	require.InDelta(t, 2.0/3.0, epoch.Weights["A"], 1e-9)
	require.InDelta(t, 1.0/3.0, epoch.Weights["B"], 1e-9)
	require.False(t, epoch.Stats.BurnFallback)
}

func TestComputeWeightsForEpochBurnBlend(t *testing.T) {
	agg := &fakeAggregator{healthy: true}
	e := NewEngine(Config{
		AggregatorClient: agg,
		ValidatorID:      "validator-1",
		BurnPercentage:   0.1,
		CreatorMinerID:   "C",
		HistoryRetention: time.Hour,
	})
	e.setHealthy(true)

	results := []types.ValidationResult{
		{MinerID: "A", Success: true, Timestamp: time.Now()},
		{MinerID: "B", Success: true, Timestamp: time.Now()},
	}
	epoch := e.ComputeWeightsForEpoch("epoch-1", time.Now(), time.Now(), results)
	require.InDelta(t, 0.45, epoch.Weights["A"], 1e-9)
	require.InDelta(t, 0.45, epoch.Weights["B"], 1e-9)
	require.InDelta(t, 0.1, epoch.Weights["C"], 1e-9)
}

func TestComputeWeightsForEpochAggregatorUnhealthy(t *testing.T) {
	agg := &fakeAggregator{healthy: false}
	e := newTestEngine(agg, "C")
	e.setHealthy(false)

	results := []types.ValidationResult{
		{MinerID: "A", Success: true, Timestamp: time.Now()},
	}
	epoch := e.ComputeWeightsForEpoch("epoch-1", time.Now(), time.Now(), results)
	require.Equal(t, map[string]float64{"C": 1.0}, epoch.Weights)
	require.True(t, epoch.Stats.BurnFallback)
	require.Equal(t, "aggregator_unhealthy", epoch.Stats.Error)
}

func TestComputeWeightsForEpochNoMinersNoCreator(t *testing.T) {
	agg := &fakeAggregator{healthy: true}
	e := newTestEngine(agg, "")
	e.setHealthy(true)

	epoch := e.ComputeWeightsForEpoch("epoch-1", time.Now(), time.Now(), nil)
	require.Empty(t, epoch.Weights)
}

func TestProcessEpochResultsSubmitsWeightsOnce(t *testing.T) {
	agg := &fakeAggregator{healthy: true}
	e := newTestEngine(agg, "")
	e.setHealthy(true)

	epoch := e.ComputeWeightsForEpoch("epoch-1", time.Now(), time.Now(), []types.ValidationResult{
		{MinerID: "A", Success: true, Timestamp: time.Now()},
	})

	e.ProcessEpochResults(context.Background(), epoch, nil)
	e.ProcessEpochResults(context.Background(), epoch, nil)

	agg.mu.Lock()
	defer agg.mu.Unlock()
	require.Equal(t, 1, agg.submitCalls)
}

func TestProcessEpochResultsInvokesCallbacks(t *testing.T) {
	agg := &fakeAggregator{healthy: true}
	e := newTestEngine(agg, "")
	e.setHealthy(true)

	var called int
	e.AddWeightCallback(func(weights map[string]float64, epoch types.EpochResult) bool {
		called++
		return true
	})
	e.AddWeightCallback(func(weights map[string]float64, epoch types.EpochResult) bool {
		return false
	})

	epoch := e.ComputeWeightsForEpoch("epoch-1", time.Now(), time.Now(), nil)
	successes := e.ProcessEpochResults(context.Background(), epoch, nil)
	require.Equal(t, 1, called)
	require.Equal(t, 1, successes)
}

func TestGetResultsForWindowReflectsHistory(t *testing.T) {
	agg := &fakeAggregator{healthy: true}
	e := newTestEngine(agg, "")
	base := time.Now().Add(-10 * time.Minute)
	e.history.Append(types.ValidationResult{OrderID: "a", Timestamp: base})
	e.history.Append(types.ValidationResult{OrderID: "b", Timestamp: base.Add(time.Minute)})

	results := e.GetResultsForWindow(base, base.Add(time.Minute))
	require.Len(t, results, 1)
	require.Equal(t, "a", results[0].OrderID)
}
