// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

package window

import (
	"context"
	"fmt"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// SubstrateChain adapts a live gsrpc connection to the ChainReader
// interface the Planner depends on.
type SubstrateChain struct {
	api *gsrpc.SubstrateAPI
}

// DialSubstrate connects to a substrate RPC endpoint.
func DialSubstrate(url string) (*SubstrateChain, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, fmt.Errorf("dial substrate %s: %w", url, err)
	}
	return &SubstrateChain{api: api}, nil
}

// Tempo reads SubtensorModule::Tempo(netuid).
func (s *SubstrateChain) Tempo(ctx context.Context, netuid uint16) (uint64, error) {
	meta, err := s.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return 0, fmt.Errorf("fetch metadata: %w", err)
	}
	argBytes, err := scale.Marshal(types.U16(netuid))
	if err != nil {
		return 0, fmt.Errorf("encode netuid: %w", err)
	}
	key, err := types.CreateStorageKey(meta, "SubtensorModule", "Tempo", argBytes)
	if err != nil {
		return 0, fmt.Errorf("build Tempo storage key: %w", err)
	}
	var tempo types.U16
	ok, err := s.api.RPC.State.GetStorageLatest(key, &tempo)
	if err != nil {
		return 0, fmt.Errorf("read Tempo: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("Tempo not set for netuid %d", netuid)
	}
	return uint64(tempo), nil
}

// CurrentBlock returns the chain's current block height.
func (s *SubstrateChain) CurrentBlock(ctx context.Context) (uint64, error) {
	header, err := s.api.RPC.Chain.GetHeaderLatest()
	if err != nil {
		return 0, fmt.Errorf("fetch latest header: %w", err)
	}
	return uint64(header.Number), nil
}

// BlockTimestamp reads Timestamp::Now at the given block's hash.
func (s *SubstrateChain) BlockTimestamp(ctx context.Context, block uint64) (time.Time, error) {
	hash, err := s.api.RPC.Chain.GetBlockHash(block)
	if err != nil {
		return time.Time{}, fmt.Errorf("block hash for %d: %w", block, err)
	}
	meta, err := s.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch metadata: %w", err)
	}
	key, err := types.CreateStorageKey(meta, "Timestamp", "Now")
	if err != nil {
		return time.Time{}, fmt.Errorf("build Timestamp storage key: %w", err)
	}
	var ms types.U64
	ok, err := s.api.RPC.State.GetStorage(key, &ms, hash)
	if err != nil {
		return time.Time{}, fmt.Errorf("read Timestamp at block %d: %w", block, err)
	}
	if !ok {
		return time.Time{}, fmt.Errorf("no Timestamp at block %d", block)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}
