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

// Package signer abstracts over the signature schemes the aggregator
// accepts for a weight submission: the validator's own sr25519 hotkey,
// an ed25519 miner-style key, or — in test/no-key configurations — a
// deterministic placeholder the production aggregator is expected to
// reject. The canonical payload construction in the aggregator package
// is identical regardless of which Signer is used; that construction is
// the conformance surface with the aggregator's own verification.
package signer

import (
	"crypto/sha256"
	"fmt"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	"golang.org/x/crypto/ed25519"
)

// Type names the signature scheme, sent to the aggregator as
// signatureType so it knows which public key to verify against.
type Type string

const (
	TypeSr25519     Type = "sr25519"
	TypeEd25519     Type = "ed25519"
	TypePlaceholder Type = "placeholder"
)

// Signer produces a 64-byte signature over an arbitrary payload.
type Signer interface {
	Sign(payload []byte) (sig [64]byte, typ Type, err error)
}

// Sr25519Signer signs with the validator's Bittensor-style hotkey. It is
// the scheme the on-chain metagraph associates with a validator's UID.
type Sr25519Signer struct {
	key *schnorrkel.MiniSecretKey
}

// NewSr25519Signer builds a signer from a 32-byte sr25519 mini secret
// key seed.
func NewSr25519Signer(seed [32]byte) (*Sr25519Signer, error) {
	key, err := schnorrkel.NewMiniSecretKeyFromRaw(seed)
	if err != nil {
		return nil, fmt.Errorf("sr25519 key from seed: %w", err)
	}
	return &Sr25519Signer{key: key}, nil
}

// Sign implements Signer. It expands the mini secret key the same way
// the substrate runtime does (Ed25519-style expansion of an sr25519
// key) so the resulting signature verifies against the hotkey's
// on-chain sr25519 public key.
func (s *Sr25519Signer) Sign(payload []byte) ([64]byte, Type, error) {
	var out [64]byte
	secret := s.key.ExpandEd25519()
	transcript := schnorrkel.NewSigningContext([]byte("substrate"), payload)
	sig, err := secret.Sign(transcript)
	if err != nil {
		return out, TypeSr25519, fmt.Errorf("sr25519 sign: %w", err)
	}
	encoded := sig.Encode()
	copy(out[:], encoded[:])
	return out, TypeSr25519, nil
}

// Ed25519Signer signs with a miner-style ed25519 seed.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer builds a signer from a 32-byte ed25519 seed.
func NewEd25519Signer(seed [32]byte) *Ed25519Signer {
	return &Ed25519Signer{priv: ed25519.NewKeyFromSeed(seed[:])}
}

// Sign implements Signer.
func (s *Ed25519Signer) Sign(payload []byte) ([64]byte, Type, error) {
	var out [64]byte
	sig := ed25519.Sign(s.priv, payload)
	copy(out[:], sig)
	return out, TypeEd25519, nil
}

// Placeholder signs with SHA-256 of the payload, zero-padded to 64
// bytes. It is deterministic so tests can assert on it, and is only
// ever used when no real keypair is configured. Production deployments
// must not rely on it — the aggregator is expected to reject it.
type Placeholder struct{}

// Sign implements Signer.
func (Placeholder) Sign(payload []byte) ([64]byte, Type, error) {
	var out [64]byte
	digest := sha256.Sum256(payload)
	copy(out[:], digest[:])
	return out, TypePlaceholder, nil
}
