// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.
//
// The subnet-validator library is distributed in the hope that it will be
// useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.

// Package validation is the validator's central coordinator: it owns the
// background validation loop, the bounded-retention result history, and
// the per-epoch scoring/normalization/submission pipeline that turns
// simulated order outcomes into a signed weight vector.
package validation

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethereum/go-ethereum/log"
	"github.com/subnetval/subnet-validator/internal/aggregator"
	"github.com/subnetval/subnet-validator/internal/signer"
	"github.com/subnetval/subnet-validator/internal/types"
)

const submittedEpochsCacheSize = 4096

// AggregatorClient is the subset of *aggregator.Client the engine needs.
// An interface here, rather than the concrete type, is what makes
// engine_test.go able to run without an HTTP server.
type AggregatorClient interface {
	FetchPendingOrders(ctx context.Context, validatorID string) []types.Order
	SubmitValidation(ctx context.Context, orderID, validatorID string, success bool, notes string) bool
	FetchHealth(ctx context.Context) *types.HealthDoc
	SubmitWeights(ctx context.Context, sub aggregator.WeightSubmission) *types.SubmissionReceipt
}

// Simulator is the subset of the container worker pool the engine needs
// to run one order's quote through a simulation.
type Simulator interface {
	Simulate(ctx context.Context, order types.Order) (success bool, notes string, executionTimeS float64, err error)
}

// WeightCallback is invoked once per processed epoch, after the
// aggregator submission attempt, with the final weight vector and the
// full epoch result. It returns whether it handled the epoch
// successfully; the engine counts successes but never aborts on a
// callback failure.
type WeightCallback func(weights map[string]float64, epoch types.EpochResult) bool

// Engine is the Validation Engine described in spec.md §4.6: the single
// coordinator that runs the background order-validation loop and, on
// demand from the chain-aligned wrapper, scores and submits an epoch.
type Engine struct {
	aggregatorClient AggregatorClient
	simulator        Simulator

	validatorID       string
	signingKey        signer.Signer
	burnPercentage    float64
	creatorMinerID    string
	maxConcurrentSims int
	pollInterval      time.Duration
	heartbeat         func()
	filterUserAddress string

	history *History

	callbacksMu sync.Mutex
	callbacks   []WeightCallback

	submittedEpochs *lru.Cache[string, struct{}]

	healthMu      sync.Mutex
	lastHealthy   bool
	lastHealthAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config bundles Engine's construction-time parameters, mirroring
// spec.md §4.6's constructor input list.
type Config struct {
	AggregatorClient  AggregatorClient
	Simulator         Simulator
	ValidatorID       string
	SigningKey        signer.Signer
	BurnPercentage    float64
	CreatorMinerID    string
	MaxConcurrentSims int
	PollInterval      time.Duration
	HistoryRetention  time.Duration
	Heartbeat         func()
	FilterUserAddress string
}

// NewEngine builds an Engine from a Config.
func NewEngine(cfg Config) *Engine {
	submitted, err := lru.New[string, struct{}](submittedEpochsCacheSize)
	if err != nil {
		// Only possible with a non-positive size, which the constant above rules out.
		panic(err)
	}
	if cfg.Heartbeat == nil {
		cfg.Heartbeat = func() {}
	}
	return &Engine{
		aggregatorClient:  cfg.AggregatorClient,
		simulator:         cfg.Simulator,
		validatorID:       cfg.ValidatorID,
		signingKey:        cfg.SigningKey,
		burnPercentage:    cfg.BurnPercentage,
		creatorMinerID:    cfg.CreatorMinerID,
		maxConcurrentSims: cfg.MaxConcurrentSims,
		pollInterval:      cfg.PollInterval,
		heartbeat:         cfg.Heartbeat,
		filterUserAddress: cfg.FilterUserAddress,
		history:           NewHistory(cfg.HistoryRetention),
		submittedEpochs:   submitted,
	}
}

// AddWeightCallback registers a post-compute hook.
func (e *Engine) AddWeightCallback(cb WeightCallback) {
	e.callbacksMu.Lock()
	defer e.callbacksMu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// StartContinuousValidation launches the background validation loop.
func (e *Engine) StartContinuousValidation(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.backgroundLoop()
	log.Info("🚦 validation engine: continuous validation started", "pollInterval", e.pollInterval)
}

// StopContinuousValidation requests the background loop to stop and
// waits for the in-flight tick to finish.
func (e *Engine) StopContinuousValidation() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
	log.Info("🛑 validation engine: continuous validation stopped")
}

// GetResultsForWindow returns every history entry in [from, to).
func (e *Engine) GetResultsForWindow(from, to time.Time) []types.ValidationResult {
	return e.history.Window(from, to)
}

// isAggregatorHealthy reports the last health probe's outcome. Before
// the first probe completes, it is treated as unhealthy so the very
// first epoch never submits weights it cannot trust.
func (e *Engine) isAggregatorHealthy() bool {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	return e.lastHealthy
}

func (e *Engine) setHealthy(h bool) {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	e.lastHealthy = h
	e.lastHealthAt = time.Now()
}

// ComputeWeightsForEpoch implements spec.md §4.6's scoring pipeline,
// including the top-level burn-fallback short-circuit.
func (e *Engine) ComputeWeightsForEpoch(epochKey string, startTime, endTime time.Time, results []types.ValidationResult) types.EpochResult {
	epoch := types.EpochResult{
		EpochKey:          epochKey,
		StartTime:         startTime,
		EndTime:           endTime,
		ValidationResults: results,
	}

	if !e.isAggregatorHealthy() {
		weights := map[string]float64{}
		if e.creatorMinerID != "" {
			weights[e.creatorMinerID] = 1.0
		}
		epoch.Weights = weights
		epoch.Stats = types.EpochStats{
			TotalSimulations: len(results),
			TotalMiners:      0,
			BurnPercentage:   e.burnPercentage,
			BurnFallback:     true,
			Error:            "aggregator_unhealthy",
		}
		return epoch
	}

	scores := ComputeScoresFromResults(results, e.filterUserAddress)
	weights := NormalizeScoresToWeights(scores, e.creatorMinerID, e.burnPercentage)

	// ValidMiners counts every miner that produced a score entry, matching
	// the ground-truth aggregator's valid_miners := len(scores) — it is
	// not a count of miners with a positive score.
	epoch.Weights = weights
	epoch.Stats = types.EpochStats{
		TotalSimulations: len(results),
		ValidMiners:      len(scores),
		TotalMiners:      len(scores),
		BurnPercentage:   e.burnPercentage,
	}
	return epoch
}

// ProcessEpochResults submits the epoch's weights to the aggregator
// (idempotently, per epoch key) and fans the result out to every
// registered callback, returning how many callbacks reported success.
func (e *Engine) ProcessEpochResults(ctx context.Context, epoch types.EpochResult, blockNumber *int64) int {
	e.submitWeightsToAggregator(ctx, epoch, blockNumber)

	e.callbacksMu.Lock()
	callbacks := append([]WeightCallback(nil), e.callbacks...)
	e.callbacksMu.Unlock()

	successes := 0
	for _, cb := range callbacks {
		if cb(epoch.Weights, epoch) {
			successes++
		}
	}
	return successes
}

func (e *Engine) submitWeightsToAggregator(ctx context.Context, epoch types.EpochResult, blockNumber *int64) {
	if _, already := e.submittedEpochs.Get(epoch.EpochKey); already {
		log.Debug("validation engine: epoch already submitted, skipping", "epochKey", epoch.EpochKey)
		return
	}
	e.submittedEpochs.Add(epoch.EpochKey, struct{}{})

	weightsSum := 0.0
	for _, w := range epoch.Weights {
		weightsSum += w
	}

	payload := aggregator.CanonicalWeightsPayload(
		e.validatorID, epoch.EpochKey, epoch.EndTime, blockNumber,
		epoch.Weights, epoch.Stats.TotalSimulations, epoch.Stats.ValidMiners, epoch.Stats.TotalMiners,
		epoch.Stats.BurnPercentage,
	)

	var sig [64]byte
	var sigType signer.Type
	if e.signingKey != nil {
		s, typ, err := e.signingKey.Sign([]byte(payload))
		if err != nil {
			log.Warn("validation engine: failed to sign weight submission", "epochKey", epoch.EpochKey, "error", err)
			return
		}
		sig, sigType = s, typ
	} else {
		s, typ, _ := signer.Placeholder{}.Sign([]byte(payload))
		sig, sigType = s, typ
	}

	receipt := e.aggregatorClient.SubmitWeights(ctx, aggregator.WeightSubmission{
		ValidatorID:   e.validatorID,
		EpochKey:      epoch.EpochKey,
		Weights:       epoch.Weights,
		Stats:         epoch.Stats,
		WeightsSum:    weightsSum,
		Timestamp:     epoch.EndTime,
		BlockNumber:   blockNumber,
		Signature:     sig,
		SignatureType: sigType,
	})
	if receipt == nil {
		log.Warn("validation engine: weight submission did not land", "epochKey", epoch.EpochKey)
		return
	}
	log.Info("📤 validation engine: weights submitted", "epochKey", epoch.EpochKey, "submissionId", receipt.WeightSubmissionID)
}

// RunEpoch marks the current epoch, waits for the background loop to
// accumulate results for the given duration, then scores and processes
// it. It is unused by the chain-aligned top-level loop (spec.md §4.8),
// which drives epoch boundaries from the chain instead, but is kept as
// a standalone entry point for non-chain-aligned deployments.
func (e *Engine) RunEpoch(ctx context.Context, epochKey string, duration time.Duration) types.EpochResult {
	start := time.Now()
	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}
	end := time.Now()

	results := e.GetResultsForWindow(start, end)
	epoch := e.ComputeWeightsForEpoch(epochKey, start, end, results)
	e.ProcessEpochResults(ctx, epoch, nil)
	return epoch
}
