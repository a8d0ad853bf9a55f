// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.
//
// The subnet-validator library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.

package emitter

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	gsrpcsignature "github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// SubstrateChainParams implements ChainParams against a live subtensor
// chain connection, and also owns signing/submitting the set_weights
// extrinsic with the validator's keypair.
type SubstrateChainParams struct {
	api     *gsrpc.SubstrateAPI
	keyring gsrpcsignature.KeyringPair
}

// NewSubstrateChainParams wraps a dialed substrate connection.
func NewSubstrateChainParams(api *gsrpc.SubstrateAPI, keyring gsrpcsignature.KeyringPair) *SubstrateChainParams {
	return &SubstrateChainParams{api: api, keyring: keyring}
}

// DialSubstrate connects to a substrate RPC endpoint and builds the
// validator's signing keyring from its sr25519 seed or mnemonic.
func DialSubstrate(url, seedOrMnemonic string) (*gsrpc.SubstrateAPI, gsrpcsignature.KeyringPair, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, gsrpcsignature.KeyringPair{}, fmt.Errorf("dial substrate %s: %w", url, err)
	}
	keyring, err := gsrpcsignature.KeyringPairFromSecret(seedOrMnemonic, 42)
	if err != nil {
		return nil, gsrpcsignature.KeyringPair{}, fmt.Errorf("build keyring: %w", err)
	}
	return api, keyring, nil
}

func netuidBytes(netuid uint16) ([]byte, error) {
	return scale.Marshal(types.U16(netuid))
}

func (s *SubstrateChainParams) storageU16(pallet, item string, netuid uint16, out *types.U16) (bool, error) {
	meta, err := s.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return false, fmt.Errorf("fetch metadata: %w", err)
	}
	argBytes, err := netuidBytes(netuid)
	if err != nil {
		return false, fmt.Errorf("encode netuid: %w", err)
	}
	key, err := types.CreateStorageKey(meta, pallet, item, argBytes)
	if err != nil {
		return false, fmt.Errorf("build %s.%s storage key: %w", pallet, item, err)
	}
	return s.api.RPC.State.GetStorageLatest(key, out)
}

// MinAllowedWeights implements ChainParams.
func (s *SubstrateChainParams) MinAllowedWeights(ctx context.Context, netuid uint16) (int, error) {
	var v types.U16
	ok, err := s.storageU16("SubtensorModule", "MinAllowedWeights", netuid, &v)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("MinAllowedWeights not set for netuid %d", netuid)
	}
	return int(v), nil
}

// MaxWeightsLimitRatio implements ChainParams, expressing the raw
// U16-valued MaxWeightsLimit as a [0,1] ratio of U16_MAX.
func (s *SubstrateChainParams) MaxWeightsLimitRatio(ctx context.Context, netuid uint16) (float64, error) {
	var v types.U16
	ok, err := s.storageU16("SubtensorModule", "MaxWeightsLimit", netuid, &v)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("MaxWeightsLimit not set for netuid %d", netuid)
	}
	return float64(v) / float64(u16Max), nil
}

// ExcludeQuantile implements ChainParams.
func (s *SubstrateChainParams) ExcludeQuantile(ctx context.Context, netuid uint16) (uint16, error) {
	var v types.U16
	ok, err := s.storageU16("SubtensorModule", "WeightsExcludeQuantile", netuid, &v)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("ExcludeQuantile not set for netuid %d", netuid)
	}
	return uint16(v), nil
}

// WeightsVersionKey implements ChainParams.
func (s *SubstrateChainParams) WeightsVersionKey(ctx context.Context, netuid uint16) (uint64, error) {
	var v types.U64
	ok, err := s.storageU16WideKey("SubtensorModule", "WeightsVersionKey", netuid, &v)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("WeightsVersionKey not set for netuid %d", netuid)
	}
	return uint64(v), nil
}

func (s *SubstrateChainParams) storageU16WideKey(pallet, item string, netuid uint16, out *types.U64) (bool, error) {
	meta, err := s.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return false, fmt.Errorf("fetch metadata: %w", err)
	}
	argBytes, err := netuidBytes(netuid)
	if err != nil {
		return false, fmt.Errorf("encode netuid: %w", err)
	}
	key, err := types.CreateStorageKey(meta, pallet, item, argBytes)
	if err != nil {
		return false, fmt.Errorf("build %s.%s storage key: %w", pallet, item, err)
	}
	return s.api.RPC.State.GetStorageLatest(key, out)
}

// UIDForHotkey implements ChainParams. hotkey is the "0x"-prefixed hex
// account ID string the metagraph package produces.
func (s *SubstrateChainParams) UIDForHotkey(ctx context.Context, netuid uint16, hotkey string) (uint16, bool, error) {
	meta, err := s.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return 0, false, fmt.Errorf("fetch metadata: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(hotkey, "0x"))
	if err != nil {
		return 0, false, fmt.Errorf("decode hotkey %s: %w", hotkey, err)
	}
	accountID := types.NewAccountID(raw)
	argBytes, err := netuidBytes(netuid)
	if err != nil {
		return 0, false, fmt.Errorf("encode netuid: %w", err)
	}
	key, err := types.CreateStorageKey(meta, "SubtensorModule", "Uids", argBytes, accountID[:])
	if err != nil {
		return 0, false, fmt.Errorf("build Uids storage key: %w", err)
	}
	var uid types.U16
	ok, err := s.api.RPC.State.GetStorageLatest(key, &uid)
	if err != nil {
		return 0, false, fmt.Errorf("read uid for %s: %w", hotkey, err)
	}
	if !ok {
		return 0, false, nil
	}
	return uint16(uid), true, nil
}

// SetWeights builds and submits the SubtensorModule.set_weights
// extrinsic, signed with the validator's keyring.
func (s *SubstrateChainParams) SetWeights(ctx context.Context, netuid uint16, uids []uint16, weights []uint16, versionKey uint64) error {
	meta, err := s.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}

	scaleUIDs := make([]types.U16, len(uids))
	for i, u := range uids {
		scaleUIDs[i] = types.U16(u)
	}
	scaleWeights := make([]types.U16, len(weights))
	for i, w := range weights {
		scaleWeights[i] = types.U16(w)
	}

	call, err := types.NewCall(meta, "SubtensorModule.set_weights",
		types.U16(netuid), scaleUIDs, scaleWeights, types.U64(versionKey))
	if err != nil {
		return fmt.Errorf("build set_weights call: %w", err)
	}

	ext := types.NewExtrinsic(call)
	genesisHash, err := s.api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return fmt.Errorf("fetch genesis hash: %w", err)
	}
	rv, err := s.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return fmt.Errorf("fetch runtime version: %w", err)
	}
	key, err := types.CreateStorageKey(meta, "System", "Account", s.keyring.PublicKey)
	if err != nil {
		return fmt.Errorf("build account storage key: %w", err)
	}
	var accountInfo types.AccountInfo
	if _, err := s.api.RPC.State.GetStorageLatest(key, &accountInfo); err != nil {
		return fmt.Errorf("read account info: %w", err)
	}

	options := types.SignatureOptions{
		BlockHash:          genesisHash,
		Era:                types.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        genesisHash,
		Nonce:              types.NewUCompactFromUInt(uint64(accountInfo.Nonce)),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}

	if err := ext.Sign(s.keyring, options); err != nil {
		return fmt.Errorf("sign set_weights extrinsic: %w", err)
	}

	_, err = s.api.RPC.Author.SubmitExtrinsic(ext)
	if err != nil {
		return fmt.Errorf("submit set_weights extrinsic: %w", err)
	}
	return nil
}
