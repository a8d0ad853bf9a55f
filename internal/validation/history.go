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

	"github.com/subnetval/subnet-validator/internal/types"
)

// History is the retention-bounded, append-only sequence of validation
// results the Validation Engine scores epochs from. Entries are ordered
// by wall-clock append time, which is the order they arrive in, not the
// order their simulations were dispatched in.
type History struct {
	mu        sync.Mutex
	retention time.Duration
	entries   []types.ValidationResult
}

// NewHistory builds a History with the given retention window.
func NewHistory(retention time.Duration) *History {
	return &History{retention: retention}
}

// Append adds a result and prunes anything older than now-retention.
func (h *History) Append(result types.ValidationResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, result)
	h.pruneLocked(time.Now())
}

func (h *History) pruneLocked(now time.Time) {
	cutoff := now.Add(-h.retention)
	i := 0
	for i < len(h.entries) && h.entries[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		h.entries = append([]types.ValidationResult(nil), h.entries[i:]...)
	}
}

// Window returns a copy of every entry with timestamp in [from, to).
func (h *History) Window(from, to time.Time) []types.ValidationResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]types.ValidationResult, 0)
	for _, e := range h.entries {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the current number of retained entries, for metrics/tests.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
