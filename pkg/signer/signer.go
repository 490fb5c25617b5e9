// Copyright 2026 The Proofwork Authors
// This file is part of the Proofwork library.
//
// The Proofwork library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Proofwork library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Proofwork library. If not, see <http://www.gnu.org/licenses/>.

// Package signer models the payout broadcaster's signing capability as a
// small interface instead of a process-wide singleton, per design note §9
// ("Singletons (payout signer, nonce allocator): model as capability
// interfaces passed in; tests inject fakes"). Two implementations are
// provided: a local ecdsa key (for development and single-operator
// deployments) and a KMS-backed stub that documents the contract a real
// KMS client must satisfy.
package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/proofwork/proofwork/internal/apperr"
)

// Signer produces a signature over a serialized unsigned transaction. It
// never exposes the private key material.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID int64) (*types.Transaction, error)
}

// Local wraps an in-process ecdsa.PrivateKey. Suitable for a single-operator
// deployment or local development; production deployments should prefer a
// KMS-backed Signer that never materializes the key in process memory.
type Local struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocal derives a Local signer from a raw private key hex string (no
// leading "0x"), matching go-ethereum's crypto.HexToECDSA shape.
func NewLocal(hexKey string) (*Local, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.ValidationFailure, "signer_bad_key", "could not parse local signer private key", err)
	}
	return &Local{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (l *Local) Address() common.Address { return l.addr }

func (l *Local) SignTx(ctx context.Context, tx *types.Transaction, chainID int64) (*types.Transaction, error) {
	signer := types.NewLondonSigner(big.NewInt(chainID))
	signed, err := types.SignTx(tx, signer, l.key)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "signer_sign_failed", "could not sign transaction", err)
	}
	return signed, nil
}

// KMS is the shape a cloud-KMS-backed Signer implementation must satisfy;
// SignTx delegates to a remote signing API keyed by the KMS key id and never
// holds key material locally. Proofwork ships the interface and a thin
// adapter; wiring a concrete cloud SDK is an operator deployment decision
// (spec.md §1 lists "infrastructure provisioning" out of scope).
type KMS struct {
	addr   common.Address
	signFn func(ctx context.Context, digest [32]byte) ([]byte, error)
}

// NewKMS constructs a KMS-backed Signer around an operator-supplied sign
// callback (typically a thin wrapper over a cloud KMS asymmetric-sign API).
func NewKMS(addr common.Address, signFn func(ctx context.Context, digest [32]byte) ([]byte, error)) *KMS {
	return &KMS{addr: addr, signFn: signFn}
}

func (k *KMS) Address() common.Address { return k.addr }

func (k *KMS) SignTx(ctx context.Context, tx *types.Transaction, chainID int64) (*types.Transaction, error) {
	signer := types.NewLondonSigner(big.NewInt(chainID))
	hash := signer.Hash(tx)
	sig, err := k.signFn(ctx, hash)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "kms_sign_failed", "KMS signing request failed", err)
	}
	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "kms_sign_apply_failed", "could not apply KMS signature", err)
	}
	return signed, nil
}
