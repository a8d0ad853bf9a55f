// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.

package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileStartsFresh(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "state.json"))
	_, _, ok := s.Watermark()
	require.False(t, ok)
}

func TestCommitEpochAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := Open(path)

	ts := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CommitEpoch(5, ts, map[string]float64{"A": 0.5}))

	reloaded := Open(path)
	idx, got, ok := reloaded.Watermark()
	require.True(t, ok)
	require.EqualValues(t, 5, idx)
	require.Equal(t, ts, got.UTC())

	require.FileExists(t, path)
}

func TestCommitEpochMonotonicity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := Open(path)

	require.NoError(t, s.CommitEpoch(5, time.Now(), nil))
	err := s.CommitEpoch(5, time.Now(), nil)
	require.Error(t, err)
	err = s.CommitEpoch(4, time.Now(), nil)
	require.Error(t, err)
	require.NoError(t, s.CommitEpoch(6, time.Now(), nil))
}

func TestSaveWritesBackupOnSecondWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := Open(path)
	require.NoError(t, s.CommitEpoch(1, time.Now(), nil))
	require.NoError(t, s.CommitEpoch(2, time.Now(), nil))
	require.FileExists(t, path+".backup")
}

func TestSetLastWeightBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := Open(path)
	require.NoError(t, s.SetLastWeightBlock(100))
	block, ok := s.LastWeightBlock()
	require.True(t, ok)
	require.EqualValues(t, 100, block)
}
