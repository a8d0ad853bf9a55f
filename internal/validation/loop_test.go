// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.

package validation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/subnetval/subnet-validator/internal/types"
)

type fakeSimulator struct {
	success bool
	notes   string
	err     error
}

func (f *fakeSimulator) Simulate(ctx context.Context, order types.Order) (bool, string, float64, error) {
	if f.err != nil {
		return false, "", 0, f.err
	}
	return f.success, f.notes, 0.5, nil
}

func newLoopTestEngine(agg AggregatorClient, sim Simulator) *Engine {
	e := newTestEngine(agg, "")
	e.simulator = sim
	e.ctx = context.Background()
	return e
}

func TestValidateSingleOrderMissingMinerID(t *testing.T) {
	agg := &fakeAggregator{healthy: true}
	e := newLoopTestEngine(agg, &fakeSimulator{success: true})

	e.validateSingleOrder(types.Order{OrderID: "o1", SolverID: "s1", MinerID: ""})
	require.Equal(t, 1, e.history.Len())
	results := e.history.Window(time.Unix(0, 0), time.Now().Add(time.Hour))
	require.False(t, results[0].Success)
	require.Contains(t, results[0].ErrorMessage, "missing")
}

func TestValidateSingleOrderSuccess(t *testing.T) {
	agg := &fakeAggregator{healthy: true}
	e := newLoopTestEngine(agg, &fakeSimulator{success: true, notes: "ok"})

	quote, _ := json.Marshal(map[string]interface{}{"settlement": map[string]string{"user_address": "0xuser"}})
	e.validateSingleOrder(types.Order{OrderID: "o1", SolverID: "s1", MinerID: "m1", QuoteDetails: quote})

	results := e.history.Window(time.Unix(0, 0), time.Now().Add(time.Hour))
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Equal(t, "0xuser", results[0].UserAddress)
}

func TestValidateOrdersRunsAllConcurrently(t *testing.T) {
	agg := &fakeAggregator{healthy: true}
	e := newLoopTestEngine(agg, &fakeSimulator{success: true})
	e.maxConcurrentSims = 2

	orders := make([]types.Order, 10)
	for i := range orders {
		orders[i] = types.Order{OrderID: "o", SolverID: "s", MinerID: "m"}
	}
	e.validateOrders(orders)
	require.Equal(t, 10, e.history.Len())
}
