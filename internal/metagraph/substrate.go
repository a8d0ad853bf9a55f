// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

package metagraph

import (
	"context"
	"encoding/hex"
	"fmt"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// SubstrateChain adapts a live gsrpc connection to the ChainReader
// interface the Manager depends on.
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

// CurrentBlock returns the chain's current block height.
func (s *SubstrateChain) CurrentBlock(ctx context.Context) (uint64, error) {
	header, err := s.api.RPC.Chain.GetHeaderLatest()
	if err != nil {
		return 0, fmt.Errorf("fetch latest header: %w", err)
	}
	return uint64(header.Number), nil
}

func netuidBytes(netuid uint16) ([]byte, error) {
	return scale.Marshal(types.U16(netuid))
}

// Metagraph walks SubtensorModule::Keys(netuid, *) to build the
// hotkey-to-UID map for the subnet. The subnet's member count is
// bounded by SubtensorModule::SubnetworkN, which is read first so the
// walk never guesses at how many UIDs exist.
func (s *SubstrateChain) Metagraph(ctx context.Context, netuid uint16) (map[string]uint16, error) {
	meta, err := s.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	argBytes, err := netuidBytes(netuid)
	if err != nil {
		return nil, fmt.Errorf("encode netuid: %w", err)
	}

	countKey, err := types.CreateStorageKey(meta, "SubtensorModule", "SubnetworkN", argBytes)
	if err != nil {
		return nil, fmt.Errorf("build SubnetworkN storage key: %w", err)
	}
	var count types.U16
	ok, err := s.api.RPC.State.GetStorageLatest(countKey, &count)
	if err != nil {
		return nil, fmt.Errorf("read SubnetworkN: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("SubnetworkN not set for netuid %d", netuid)
	}

	result := make(map[string]uint16, count)
	for uid := uint16(0); uid < uint16(count); uid++ {
		uidBytes, err := netuidBytes(uid)
		if err != nil {
			return nil, fmt.Errorf("encode uid %d: %w", uid, err)
		}
		key, err := types.CreateStorageKey(meta, "SubtensorModule", "Keys", argBytes, uidBytes)
		if err != nil {
			return nil, fmt.Errorf("build Keys storage key for uid %d: %w", uid, err)
		}
		var accountID types.AccountID
		ok, err := s.api.RPC.State.GetStorageLatest(key, &accountID)
		if err != nil {
			return nil, fmt.Errorf("read Keys for uid %d: %w", uid, err)
		}
		if !ok {
			continue
		}
		result["0x"+hex.EncodeToString(accountID[:])] = uid
	}
	return result, nil
}

// ValidatorPermit reads SubtensorModule::ValidatorPermit(netuid) and
// returns this uid's bit.
func (s *SubstrateChain) ValidatorPermit(ctx context.Context, netuid uint16, uid uint16) (bool, error) {
	meta, err := s.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return false, fmt.Errorf("fetch metadata: %w", err)
	}
	argBytes, err := netuidBytes(netuid)
	if err != nil {
		return false, fmt.Errorf("encode netuid: %w", err)
	}
	key, err := types.CreateStorageKey(meta, "SubtensorModule", "ValidatorPermit", argBytes)
	if err != nil {
		return false, fmt.Errorf("build ValidatorPermit storage key: %w", err)
	}
	var permits []bool
	ok, err := s.api.RPC.State.GetStorageLatest(key, &permits)
	if err != nil {
		return false, fmt.Errorf("read ValidatorPermit: %w", err)
	}
	if !ok || int(uid) >= len(permits) {
		return false, nil
	}
	return permits[uid], nil
}
