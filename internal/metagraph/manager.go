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

// Package metagraph caches the subnet's membership snapshot (hotkey to
// UID, and whether this validator currently holds a validator permit),
// refreshing it from the chain no more than once every few blocks.
package metagraph

import (
	"context"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"
	"github.com/subnetval/subnet-validator/internal/types"
)

const defaultInvalidateEvery = uint64(5)

// Error wraps a substrate query failure. The Manager still returns its
// last cached snapshot on this error; callers decide whether a stale
// snapshot is acceptable for the operation at hand.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("metagraph sync: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ChainReader is the subset of a substrate client the Manager needs.
type ChainReader interface {
	CurrentBlock(ctx context.Context) (uint64, error)
	Metagraph(ctx context.Context, netuid uint16) (uidForHotkey map[string]uint16, err error)
	ValidatorPermit(ctx context.Context, netuid uint16, uid uint16) (bool, error)
}

// Manager owns the cached MetagraphSnapshot for one subnet and wallet
// hotkey.
type Manager struct {
	mu sync.Mutex

	chain          ChainReader
	netuid         uint16
	walletHotkey   string
	invalidateEvery uint64

	lastBlock uint64
	snapshot  types.MetagraphSnapshot
	hasSnapshot bool
}

// New builds a Manager.
func New(chain ChainReader, netuid uint16, walletHotkey string) *Manager {
	return &Manager{
		chain:           chain,
		netuid:          netuid,
		walletHotkey:    walletHotkey,
		invalidateEvery: defaultInvalidateEvery,
	}
}

// Snapshot returns the current cached snapshot, refreshing first if
// stale or forced.
func (m *Manager) Snapshot(ctx context.Context, force bool) (types.MetagraphSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.chain.CurrentBlock(ctx)
	if err != nil {
		if m.hasSnapshot {
			log.Warn("metagraph: current block query failed, using cached snapshot", "error", err)
			return m.snapshot, &Error{err}
		}
		return types.MetagraphSnapshot{}, &Error{err}
	}

	if !force && m.hasSnapshot && current-m.lastBlock < m.invalidateEvery {
		return m.snapshot, nil
	}

	snap, err := m.refresh(ctx, current)
	if err != nil {
		if m.hasSnapshot {
			log.Warn("metagraph: refresh failed, using cached snapshot", "error", err)
			return m.snapshot, &Error{err}
		}
		return types.MetagraphSnapshot{}, &Error{err}
	}

	m.snapshot = snap
	m.lastBlock = current
	m.hasSnapshot = true
	return snap, nil
}

func (m *Manager) refresh(ctx context.Context, atBlock uint64) (types.MetagraphSnapshot, error) {
	uidForHotkey, err := m.chain.Metagraph(ctx, m.netuid)
	if err != nil {
		return types.MetagraphSnapshot{}, fmt.Errorf("fetch metagraph: %w", err)
	}

	snap := types.MetagraphSnapshot{
		UIDForHotkey: uidForHotkey,
		Size:         len(uidForHotkey),
		AtBlock:      atBlock,
	}

	uid, present := uidForHotkey[m.walletHotkey]
	if !present {
		log.Warn("metagraph: wallet hotkey not registered on subnet", "hotkey", m.walletHotkey)
		return snap, nil
	}

	permit, err := m.chain.ValidatorPermit(ctx, m.netuid, uid)
	if err != nil {
		return types.MetagraphSnapshot{}, fmt.Errorf("fetch validator permit: %w", err)
	}
	snap.ValidatorUID = &uid
	snap.ValidatorPermit = permit
	if !permit {
		log.Warn("metagraph: wallet hotkey lacks a validator permit", "hotkey", m.walletHotkey, "uid", uid)
	}
	return snap, nil
}

// KnownHotkeys returns the set of hotkeys present in a snapshot, used
// by the on-chain weight callback to filter out unknown entries before
// emitting.
func KnownHotkeys(snap types.MetagraphSnapshot) mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	for hotkey := range snap.UIDForHotkey {
		s.Add(hotkey)
	}
	return s
}
