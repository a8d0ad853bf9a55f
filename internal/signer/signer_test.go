// Copyright 2024 The subnet-validator Authors
// This file is part of the subnet-validator library.

package signer

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlaceholderDeterministic(t *testing.T) {
	p := Placeholder{}
	sig1, typ, err := p.Sign([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, TypePlaceholder, typ)
	sig2, _, _ := p.Sign([]byte("hello"))
	require.Equal(t, sig1, sig2)

	sig3, _, _ := p.Sign([]byte("different"))
	require.NotEqual(t, sig1, sig3)
}

func TestEd25519SignerVerifies(t *testing.T) {
	var seed [32]byte
	copy(seed[:], []byte("0123456789abcdef0123456789abcdef"))
	s := NewEd25519Signer(seed)
	sig, typ, err := s.Sign([]byte("payload"))
	require.NoError(t, err)
	require.Equal(t, TypeEd25519, typ)
	require.True(t, ed25519.Verify(s.priv.Public().(ed25519.PublicKey), []byte("payload"), sig[:]))
}

func TestSr25519SignerProducesSignature(t *testing.T) {
	var seed [32]byte
	copy(seed[:], []byte("0123456789abcdef0123456789abcdef"))
	s, err := NewSr25519Signer(seed)
	require.NoError(t, err)
	sig, typ, err := s.Sign([]byte("payload"))
	require.NoError(t, err)
	require.Equal(t, TypeSr25519, typ)
	require.NotEqual(t, [64]byte{}, sig)
}
