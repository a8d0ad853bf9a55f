// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

package validation

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/subnetval/subnet-validator/internal/types"
)

const healthProbeInterval = 30 * time.Second

// backgroundLoop is the single long-running task described in spec.md
// §4.6: not parallel with itself, it probes aggregator health on a
// fixed cadence and, every tick, fans pending orders out to bounded
// concurrent simulations before sleeping.
func (e *Engine) backgroundLoop() {
	defer e.wg.Done()

	var lastHealthProbe time.Time
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		if time.Since(lastHealthProbe) >= healthProbeInterval {
			e.probeHealth()
			lastHealthProbe = time.Now()
		}

		orders := e.aggregatorClient.FetchPendingOrders(e.ctx, e.validatorID)
		e.validateOrders(orders)
		e.heartbeat()

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(e.pollInterval):
		}
	}
}

func (e *Engine) probeHealth() {
	doc := e.aggregatorClient.FetchHealth(e.ctx)
	healthy := doc.Healthy()
	e.setHealthy(healthy)
	if !healthy {
		log.Warn("validation engine: aggregator reports unhealthy", "doc", doc)
	}
}

// validateOrders runs validateSingleOrder for every order concurrently,
// bounded by maxConcurrentSims, and waits for all of them to finish
// before the background loop sleeps.
func (e *Engine) validateOrders(orders []types.Order) {
	if len(orders) == 0 {
		return
	}

	limit := e.maxConcurrentSims
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for _, order := range orders {
		order := order
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.validateSingleOrder(order)
		}()
	}
	wg.Wait()
}

// validateSingleOrder implements spec.md §4.6's per-order flow. Any
// failure along the way is captured in the ValidationResult rather than
// propagated as an error — one bad order never aborts the tick.
func (e *Engine) validateSingleOrder(order types.Order) {
	result := types.ValidationResult{
		OrderID:     order.OrderID,
		SolverID:    order.SolverID,
		MinerID:     order.MinerID,
		UserAddress: order.UserAddress(),
		Timestamp:   time.Now(),
	}

	if order.SolverID == "" || order.MinerID == "" {
		result.Success = false
		result.ErrorMessage = "missing solver_id or miner_id"
		e.history.Append(result)
		return
	}

	success, notes, executionTimeS, err := e.simulator.Simulate(e.ctx, order)
	if err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()
	} else {
		result.Success = success
		result.ErrorMessage = notes
	}
	result.ExecutionTimeS = executionTimeS

	e.aggregatorClient.SubmitValidation(e.ctx, order.OrderID, e.validatorID, result.Success, notes)
	e.history.Append(result)
}
