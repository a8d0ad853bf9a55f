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

// Package state persists the single small document the validator needs
// to survive a restart: which epoch it last processed, the watermark up
// to which history has been scored, the most recent per-miner scores,
// and the last block at which it emitted weights on-chain. It is the
// only durable state in the system — validation results themselves are
// never persisted (spec.md §1 Non-goals).
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/subnetval/subnet-validator/internal/types"
)

// Store is a single-writer, mutex-guarded JSON document on disk.
type Store struct {
	mu   sync.Mutex
	path string
	rec  types.StateRecord
}

// Open loads the state file at path, falling back to an empty record on
// any read or parse failure — a corrupt or missing state file is not
// fatal, it just means the validator starts from scratch.
func Open(path string) *Store {
	s := &Store{
		path: path,
		rec:  types.StateRecord{LastScores: map[string]float64{}},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("state: failed to read state file, starting fresh", "path", path, "error", err)
		}
		return s
	}
	var rec types.StateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn("state: failed to parse state file, starting fresh", "path", path, "error", err)
		return s
	}
	if rec.LastScores == nil {
		rec.LastScores = map[string]float64{}
	}
	s.rec = rec
	return s
}

// Watermark returns the last committed (epoch index, to-timestamp)
// pair, if any.
func (s *Store) Watermark() (epochIndex int64, toTS time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.LastEpochIndex == nil || s.rec.WatermarkToTS == nil {
		return 0, time.Time{}, false
	}
	return *s.rec.LastEpochIndex, *s.rec.WatermarkToTS, true
}

// LastWeightBlock returns the block number of the last successful
// on-chain weight emission, if any.
func (s *Store) LastWeightBlock() (block int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.LastWeightBlock == nil {
		return 0, false
	}
	return *s.rec.LastWeightBlock, true
}

// CommitEpoch persists a new (strictly greater) epoch index, its
// to-timestamp watermark, and the scores that produced it. It refuses
// to move the watermark backwards, preserving the monotonicity
// invariant even if called out of order.
func (s *Store) CommitEpoch(epochIndex int64, toTS time.Time, scores map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.LastEpochIndex != nil && epochIndex <= *s.rec.LastEpochIndex {
		return fmt.Errorf("state: epoch index %d is not strictly greater than last committed %d", epochIndex, *s.rec.LastEpochIndex)
	}

	s.rec.LastEpochIndex = &epochIndex
	s.rec.WatermarkToTS = &toTS
	s.rec.LastScores = scores
	s.rec.LastSavedAt = float64(time.Now().Unix())
	return s.saveLocked()
}

// SetLastWeightBlock records the block at which weights were last
// emitted on-chain.
func (s *Store) SetLastWeightBlock(block int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.LastWeightBlock = &block
	s.rec.LastSavedAt = float64(time.Now().Unix())
	return s.saveLocked()
}

// saveLocked writes a backup of the existing file, then atomically
// replaces it via write-temp-then-rename. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state: mkdir: %w", err)
	}

	if existing, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".backup", existing, 0o644); err != nil {
			log.Warn("state: failed to write backup", "path", s.path, "error", err)
		}
	}

	encoded, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}
