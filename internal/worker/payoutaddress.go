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

// Package worker manages the Worker entity's payout-address verification:
// issuing the challenge message a worker signs with its payout wallet, and
// recording a verified (chain, address) pair once the signature checks out.
// Claim/lease/submission handling for the Job Queue and Verification
// Coordinator's entities live in their own packages; this package owns only
// the worker identity/payout-address concern.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/log"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
)

var logger = log.NewModuleLogger(log.Worker)

type Manager struct {
	store store.Store
}

func New(st store.Store) *Manager {
	return &Manager{store: st}
}

// Message returns the text a worker signs with its payout wallet to prove
// ownership of address, per spec.md §6
// "POST /api/worker/payout-address/message".
func Message(workerID string) string {
	return fmt.Sprintf("Proofwork payout address verification\nworker: %s", workerID)
}

// VerifyAndSet checks that sig recovers to address over Message(workerID),
// then records the worker's verified payout chain/address and unblocks any
// payouts that were only waiting on a missing payout address, rescheduling
// their payout.requested event. Returns the number of payouts unblocked.
func (m *Manager) VerifyAndSet(ctx context.Context, workerID, chain, address string, sig []byte) (int, error) {
	if err := verifySignature(Message(workerID), address, sig); err != nil {
		return 0, err
	}

	var unblocked int
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetWorkerPayoutAddress(ctx, workerID, chain, address); err != nil {
			return err
		}
		blocked, err := tx.FindBlockedPayoutsForWorker(ctx, workerID, model.BlockedWorkerPayoutAddrMissing)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, p := range blocked {
			if err := tx.MarkPayout(ctx, p.ID, model.PayoutPending, model.BlockedNone, p.ProviderRef); err != nil {
				return err
			}
			if err := tx.ScheduleOutbox(ctx, "payout.requested", "payout:"+p.ID,
				mustJSON(map[string]string{"payout_id": p.ID}), now); err != nil {
				return err
			}
		}
		unblocked = len(blocked)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if unblocked > 0 {
		logger.Info("unblocked payouts after payout address verification", "worker_id", workerID, "count", unblocked)
	}
	return unblocked, nil
}

// verifySignature recovers the signer of message's personal-sign digest
// from sig and requires it to match address exactly (case-insensitively,
// matching go-ethereum's checksum-agnostic hex comparison).
func verifySignature(message, address string, sig []byte) error {
	if len(sig) != 65 {
		return apperr.New(apperr.ValidationFailure, "bad_signature_length", "signature must be 65 bytes (r || s || v)")
	}
	prefixed := []byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message))
	hash := crypto.Keccak256(prefixed)

	sigCopy := append([]byte(nil), sig...)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, sigCopy)
	if err != nil {
		return apperr.Wrap(apperr.ValidationFailure, "signature_recovery_failed", "could not recover signer from signature", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), address) {
		return apperr.New(apperr.Conflict, "payout_address_mismatch", "signature does not match the claimed payout address")
	}
	return nil
}

func mustJSON(v map[string]string) []byte {
	b, _ := json.Marshal(v)
	return b
}
