// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.

package window

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	tempo       uint64
	current     uint64
	timestamps  map[uint64]time.Time
	tsErrBlocks map[uint64]int // remaining failures before success
}

func (f *fakeChain) Tempo(ctx context.Context, netuid uint16) (uint64, error) { return f.tempo, nil }
func (f *fakeChain) CurrentBlock(ctx context.Context) (uint64, error)         { return f.current, nil }
func (f *fakeChain) BlockTimestamp(ctx context.Context, block uint64) (time.Time, error) {
	if f.tsErrBlocks != nil && f.tsErrBlocks[block] > 0 {
		f.tsErrBlocks[block]--
		return time.Time{}, errors.New("timestamp unavailable")
	}
	ts, ok := f.timestamps[block]
	if !ok {
		return time.Time{}, errors.New("no timestamp")
	}
	return ts, nil
}

func TestPreviousFinalizedEpochReady(t *testing.T) {
	chain := &fakeChain{
		tempo:   100,
		current: 250, // curEpoch=2, prevEpoch spans [100,199]
		timestamps: map[uint64]time.Time{
			100: time.Unix(1000, 0),
			199: time.Unix(2000, 0),
		},
	}
	p := New(chain, 1, 10)
	win, ok, err := p.PreviousFinalizedEpoch(context.Background(), -1)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, win.EpochIndex)
	require.Equal(t, time.Unix(1000, 0), win.FromTS)
	require.Equal(t, time.Unix(2000, 0), win.ToTS)
}

func TestPreviousFinalizedEpochNotReadyFinalizationBuffer(t *testing.T) {
	chain := &fakeChain{tempo: 100, current: 205}
	p := New(chain, 1, 10)
	_, ok, err := p.PreviousFinalizedEpoch(context.Background(), -1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPreviousFinalizedEpochAlreadyProcessed(t *testing.T) {
	chain := &fakeChain{tempo: 100, current: 250, timestamps: map[uint64]time.Time{100: {}, 199: {}}}
	p := New(chain, 1, 10)
	_, ok, err := p.PreviousFinalizedEpoch(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPreviousFinalizedEpochTimestampRetrySucceeds(t *testing.T) {
	chain := &fakeChain{
		tempo:       100,
		current:     250,
		timestamps:  map[uint64]time.Time{100: time.Unix(1000, 0), 199: time.Unix(2000, 0)},
		tsErrBlocks: map[uint64]int{100: 2},
	}
	p := New(chain, 1, 10)
	p.timestampRetryDelay = time.Millisecond
	win, ok, err := p.PreviousFinalizedEpoch(context.Background(), -1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Unix(1000, 0), win.FromTS)
}

func TestPreviousFinalizedEpochTimestampExhaustsRetries(t *testing.T) {
	chain := &fakeChain{tempo: 100, current: 250, tsErrBlocks: map[uint64]int{100: 99}}
	p := New(chain, 1, 10)
	p.timestampRetryDelay = time.Millisecond
	_, _, err := p.PreviousFinalizedEpoch(context.Background(), -1)
	require.Error(t, err)
	var wpErr *Error
	require.ErrorAs(t, err, &wpErr)
}
