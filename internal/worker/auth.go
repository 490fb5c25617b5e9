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

package worker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
)

// Authenticator checks a worker bearer token against its stored HMAC hash.
// Token wire format is "<tokenPrefix>.<secret>"; the prefix is an
// unauthenticated lookup key (so the store doesn't need a full table scan),
// the secret is what's actually HMAC'd against the worker's pepper version.
// Hashing, not stdlib-bypassing comparison, is the right tool here: there's
// no domain library in the corpus for "compare a bearer token to a stored
// HMAC", so crypto/hmac+crypto/sha256 is used directly (DESIGN.md).
type Authenticator struct {
	store   store.Store
	peppers []string
}

func NewAuthenticator(st store.Store, peppers []string) *Authenticator {
	return &Authenticator{store: st, peppers: peppers}
}

// Authenticate parses "<prefix>.<secret>" out of bearerToken, looks up the
// worker by prefix, and requires the secret's HMAC under the worker's
// pepper version to match the stored hash exactly (constant-time compare).
func (a *Authenticator) Authenticate(ctx context.Context, bearerToken string) (*model.Worker, error) {
	prefix, secret, ok := strings.Cut(bearerToken, ".")
	if !ok || prefix == "" || secret == "" {
		return nil, apperr.New(apperr.ValidationFailure, "malformed_bearer_token", "bearer token must be \"<prefix>.<secret>\"")
	}

	var w *model.Worker
	err := a.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.GetWorkerByTokenPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		w = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	if w.Disabled {
		return nil, apperr.New(apperr.Conflict, "worker_disabled", "worker is disabled")
	}

	pepper, err := a.pepperFor(w.PepperVersion)
	if err != nil {
		return nil, err
	}
	key, err := workerKey(pepper, w.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "pepper_derivation_failed", "could not derive worker key from pepper", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(secret))
	if !hmac.Equal(mac.Sum(nil), w.TokenHMAC) {
		return nil, apperr.New(apperr.Conflict, "bearer_token_invalid", "bearer token does not match worker's credentials")
	}
	return w, nil
}

func (a *Authenticator) pepperFor(version int) (string, error) {
	if version < 1 || version > len(a.peppers) {
		return "", apperr.New(apperr.Transient, "pepper_version_unavailable", "worker's pepper version is not configured on this process")
	}
	return a.peppers[version-1], nil
}

// workerKey derives a per-worker HMAC key from the process-wide pepper via
// HKDF-SHA256, keyed to workerID so a leaked hash for one worker doesn't
// expose the raw pepper shared by every other worker on that version.
func workerKey(pepper, workerID string) ([]byte, error) {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, []byte(pepper), nil, []byte("proofwork-worker-token:"+workerID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
