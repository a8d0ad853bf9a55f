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

// Package window computes the chain-aligned epoch boundaries the
// Validation Engine scores against. It reads the subnet's Tempo and the
// current block height from substrate storage and derives the most
// recently finalized, not-yet-processed epoch window.
package window

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Error is returned when block timestamps cannot be resolved after
// retrying; the caller (the top-level loop) must retry on its own next
// tick rather than guess at a window.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("window planner: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ChainReader is the subset of a substrate client the planner needs.
// It is an interface so the planner can be tested without a live chain;
// the production implementation wraps
// github.com/centrifuge/go-substrate-rpc-client/v4.
type ChainReader interface {
	Tempo(ctx context.Context, netuid uint16) (uint64, error)
	CurrentBlock(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, block uint64) (time.Time, error)
}

// Window is a finalized, previous epoch ready to be scored.
type Window struct {
	EpochIndex int64
	FromTS     time.Time
	ToTS       time.Time
}

// Planner computes the previous finalized epoch window for a subnet.
type Planner struct {
	chain               ChainReader
	netuid              uint16
	finalizationBuffer  uint64
	timestampRetries    int
	timestampRetryDelay time.Duration
}

// New builds a Planner.
func New(chain ChainReader, netuid uint16, finalizationBuffer uint64) *Planner {
	return &Planner{
		chain:               chain,
		netuid:              netuid,
		finalizationBuffer:  finalizationBuffer,
		timestampRetries:    3,
		timestampRetryDelay: time.Second,
	}
}

// PreviousFinalizedEpoch returns the previous epoch's window if it is
// ready (current_block - end_block >= finalization buffer) and strictly
// newer than lastProcessedEpoch. A zero Window and ok=false means "not
// ready yet, try again later" — this is not an error.
func (p *Planner) PreviousFinalizedEpoch(ctx context.Context, lastProcessedEpoch int64) (Window, bool, error) {
	tempo, err := p.chain.Tempo(ctx, p.netuid)
	if err != nil {
		return Window{}, false, fmt.Errorf("window planner: read tempo: %w", err)
	}
	if tempo == 0 {
		return Window{}, false, fmt.Errorf("window planner: tempo is zero for netuid %d", p.netuid)
	}

	current, err := p.chain.CurrentBlock(ctx)
	if err != nil {
		return Window{}, false, fmt.Errorf("window planner: read current block: %w", err)
	}

	curEpoch := current / tempo
	if curEpoch == 0 {
		return Window{}, false, nil
	}
	prevEpoch := curEpoch - 1
	startBlock := prevEpoch * tempo
	endBlock := curEpoch*tempo - 1

	if current-endBlock < p.finalizationBuffer {
		return Window{}, false, nil
	}
	if int64(prevEpoch) <= lastProcessedEpoch {
		return Window{}, false, nil
	}

	fromTS, err := p.blockTimestampWithRetry(ctx, startBlock)
	if err != nil {
		return Window{}, false, &Error{err}
	}
	toTS, err := p.blockTimestampWithRetry(ctx, endBlock)
	if err != nil {
		return Window{}, false, &Error{err}
	}

	return Window{
		EpochIndex: int64(prevEpoch),
		FromTS:     fromTS,
		ToTS:       toTS,
	}, true, nil
}

func (p *Planner) blockTimestampWithRetry(ctx context.Context, block uint64) (time.Time, error) {
	var lastErr error
	for attempt := 0; attempt <= p.timestampRetries; attempt++ {
		ts, err := p.chain.BlockTimestamp(ctx, block)
		if err == nil {
			return ts, nil
		}
		lastErr = err
		log.Debug("window planner: timestamp lookup failed, retrying", "block", block, "attempt", attempt, "error", err)
		if attempt < p.timestampRetries {
			select {
			case <-ctx.Done():
				return time.Time{}, ctx.Err()
			case <-time.After(p.timestampRetryDelay):
			}
		}
	}
	return time.Time{}, errors.Join(errors.New("exhausted retries resolving block timestamp"), lastErr)
}
