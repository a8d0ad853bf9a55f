// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

// Package bittensor wires the Window Planner, Validation Engine,
// Metagraph Manager, Onchain Weight Emitter, and State Store into the
// chain-aligned top-level loop described in spec.md §4.8.
package bittensor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/subnetval/subnet-validator/internal/emitter"
	"github.com/subnetval/subnet-validator/internal/metagraph"
	"github.com/subnetval/subnet-validator/internal/state"
	"github.com/subnetval/subnet-validator/internal/types"
	"github.com/subnetval/subnet-validator/internal/validation"
	"github.com/subnetval/subnet-validator/internal/window"
)

// Engine is the subset of *validation.Engine the wrapper drives.
type Engine interface {
	AddWeightCallback(cb validation.WeightCallback)
	StartContinuousValidation(ctx context.Context)
	StopContinuousValidation()
	GetResultsForWindow(from, to time.Time) []types.ValidationResult
	ComputeWeightsForEpoch(epochKey string, startTime, endTime time.Time, results []types.ValidationResult) types.EpochResult
	ProcessEpochResults(ctx context.Context, epoch types.EpochResult, blockNumber *int64) int
}

// Planner is the subset of *window.Planner the wrapper drives.
type Planner interface {
	PreviousFinalizedEpoch(ctx context.Context, lastProcessedEpoch int64) (window.Window, bool, error)
}

// MetagraphManager is the subset of *metagraph.Manager the wrapper
// drives.
type MetagraphManager interface {
	Snapshot(ctx context.Context, force bool) (types.MetagraphSnapshot, error)
}

// Emitter is the subset of *emitter.Emitter the wrapper drives.
type Emitter interface {
	Submit(ctx context.Context, validatorHotkey string, weights map[string]float64) error
}

// ChainHeight reports the current block, used to record LastWeightBlock
// after a successful on-chain emission.
type ChainHeight interface {
	CurrentBlock(ctx context.Context) (uint64, error)
}

// Wrapper owns the chain-aligned loop: ask the planner for the next
// finalized window, score it, submit it, commit it.
type Wrapper struct {
	engine      Engine
	planner     Planner
	metagraph   MetagraphManager
	emitter     Emitter
	chainHeight ChainHeight
	store       *state.Store

	validatorHotkey string
	pollSeconds     time.Duration
}

// Config bundles Wrapper's construction-time parameters.
type Config struct {
	Engine          Engine
	Planner         Planner
	Metagraph       MetagraphManager
	Emitter         Emitter
	ChainHeight     ChainHeight
	Store           *state.Store
	ValidatorHotkey string
	PollSeconds     time.Duration
}

// New builds a Wrapper and registers its on-chain weight callback on
// the engine.
func New(cfg Config) *Wrapper {
	w := &Wrapper{
		engine:          cfg.Engine,
		planner:         cfg.Planner,
		metagraph:       cfg.Metagraph,
		emitter:         cfg.Emitter,
		chainHeight:     cfg.ChainHeight,
		store:           cfg.Store,
		validatorHotkey: cfg.ValidatorHotkey,
		pollSeconds:     cfg.PollSeconds,
	}
	w.engine.AddWeightCallback(w.onChainWeightCallback)
	return w
}

// Run starts continuous validation and loops until ctx is cancelled.
func (w *Wrapper) Run(ctx context.Context) {
	w.engine.StartContinuousValidation(ctx)
	defer w.engine.StopContinuousValidation()

	log.Info("🔗 bittensor wrapper: chain-aligned loop starting")
	for {
		select {
		case <-ctx.Done():
			log.Info("🔗 bittensor wrapper: loop exiting on cancellation")
			return
		default:
		}

		w.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollSeconds):
		}
	}
}

func (w *Wrapper) tick(ctx context.Context) {
	lastEpoch, _, _ := w.store.Watermark()

	win, ready, err := w.planner.PreviousFinalizedEpoch(ctx, lastEpoch)
	if err != nil {
		log.Warn("bittensor wrapper: window planner error, will retry", "error", err)
		return
	}
	if !ready {
		return
	}

	epochKey := fmt.Sprintf("epoch-%d-%s", win.EpochIndex, win.ToTS.UTC().Format(time.RFC3339))
	results := w.engine.GetResultsForWindow(win.FromTS, win.ToTS)
	epoch := w.engine.ComputeWeightsForEpoch(epochKey, win.FromTS, win.ToTS, results)

	successes := w.engine.ProcessEpochResults(ctx, epoch, nil)
	log.Info("📊 bittensor wrapper: epoch processed", "epochKey", epochKey, "weights", len(epoch.Weights), "callbacksOk", successes)

	if err := w.store.CommitEpoch(win.EpochIndex, win.ToTS, epoch.Weights); err != nil {
		log.Warn("bittensor wrapper: failed to commit epoch watermark", "epochKey", epochKey, "error", err)
	}
}

// onChainWeightCallback is the Validation Engine's registered
// post-compute hook: it refreshes the metagraph, refuses to emit
// without a validator permit, filters weights to known hotkeys, and
// hands the result to the Onchain Weight Emitter.
func (w *Wrapper) onChainWeightCallback(weights map[string]float64, epoch types.EpochResult) bool {
	ctx := context.Background()

	snap, err := w.metagraph.Snapshot(ctx, true)
	if err != nil {
		log.Warn("bittensor wrapper: metagraph refresh failed, using cached snapshot", "error", err)
	}
	if !snap.ValidatorPermit {
		log.Warn("bittensor wrapper: refusing to emit weights, no validator permit", "epochKey", epoch.EpochKey)
		return false
	}

	known := metagraph.KnownHotkeys(snap)
	filtered := make(map[string]float64, len(weights))
	for hotkey, weight := range weights {
		if !known.Contains(hotkey) {
			log.Warn("bittensor wrapper: dropping unknown hotkey from weight emission", "hotkey", hotkey, "epochKey", epoch.EpochKey)
			continue
		}
		filtered[hotkey] = weight
	}

	if err := w.emitter.Submit(ctx, w.validatorHotkey, filtered); err != nil {
		log.Warn("bittensor wrapper: weight emission failed", "epochKey", epoch.EpochKey, "error", err)
		return false
	}

	if w.chainHeight != nil {
		if block, err := w.chainHeight.CurrentBlock(ctx); err == nil {
			blockI64 := int64(block)
			if err := w.store.SetLastWeightBlock(blockI64); err != nil {
				log.Warn("bittensor wrapper: failed to persist last weight block", "error", err)
			}
		}
	}
	return true
}
