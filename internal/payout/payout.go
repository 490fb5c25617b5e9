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

// Package payout implements the fee-split, broadcast and confirmation
// engine described in spec.md §4.5: given a payout.requested event, it
// loads the payout row, computes the platform/Proofwork fee split, and
// drives either an off-chain or an on-chain Provider to move funds,
// persisting a PayoutTransfer per leg and scheduling confirmation.
package payout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/log"
	"github.com/proofwork/proofwork/internal/metrics"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
)

var logger = log.NewModuleLogger(log.Payout)

// Split is the result of computing a payout's fee legs, per spec.md §4.5
// step 2: platformFeeCents = floor(gross*platformFeeBps/10000), capped
// Proofwork fee, net = gross - platformFee - proofworkFee.
type Split struct {
	GrossCents        model.Cents
	PlatformFeeCents  model.Cents
	ProofworkFeeCents model.Cents
	NetCents          model.Cents
}

// ComputeSplit applies the spec's fee-split arithmetic. platformFeeBps is
// zero-forced when wallet is empty (no platform wallet configured means no
// platform fee is charged); proofworkFeeBps is capped by maxProofworkFeeBps.
func ComputeSplit(gross model.Cents, platformFeeBps model.BasisPoints, platformWallet string, proofworkFeeBps, maxProofworkFeeBps model.BasisPoints) (Split, error) {
	if platformWallet == "" {
		platformFeeBps = 0
	}
	if proofworkFeeBps > maxProofworkFeeBps {
		proofworkFeeBps = maxProofworkFeeBps
	}
	platformFee := model.Cents(int64(gross) * int64(platformFeeBps) / 10000)
	proofworkFee := model.Cents(int64(gross) * int64(proofworkFeeBps) / 10000)
	net := gross - platformFee - proofworkFee
	if net <= 0 {
		return Split{}, apperr.New(apperr.ValidationFailure, "payout_net_not_positive", "fee split leaves a non-positive net amount")
	}
	return Split{GrossCents: gross, PlatformFeeCents: platformFee, ProofworkFeeCents: proofworkFee, NetCents: net}, nil
}

// FeeSettings collects the org/platform fee configuration a Split needs.
type FeeSettings struct {
	PlatformFeeBps     model.BasisPoints
	PlatformFeeWallet  string
	ProofworkFeeBps    model.BasisPoints
	MaxProofworkFeeBps model.BasisPoints
	ProofworkFeeWallet string
}

// Provider executes the money movement for one payout once its split has
// been computed and persisted. Off-chain and on-chain implementations
// satisfy this with very different mechanics (a single HTTP call vs. a
// signed broadcast + async confirmation) but share the same contract: it
// must be safe to call Execute twice for the same payout (idempotent by
// construction via the transfer rows it writes).
type Provider interface {
	// Execute moves funds for p according to split, persisting whatever
	// provider-specific transfer/receipt bookkeeping it needs inside tx.
	// Returns the provider reference (tx hash or external id) and whether
	// confirmation is required before the payout may be marked paid.
	Execute(ctx context.Context, tx store.Tx, p *model.Payout, split Split) (providerRef string, needsConfirmation bool, err error)

	// Confirm polls for the terminal state of a previously-broadcast
	// payout (on-chain: receipt lookup; off-chain: typically a no-op
	// returning true immediately since Execute already waited for a
	// synchronous provider response).
	Confirm(ctx context.Context, tx store.Tx, p *model.Payout) (confirmed bool, reverted bool, err error)

	// Name identifies the provider for the Payout.Provider column.
	Name() string
}

// Engine drives the payout.requested / payout.confirm.requested outbox
// handlers.
type Engine struct {
	store    store.Store
	provider Provider
	fees     func(ctx context.Context, tx store.Tx, p *model.Payout) (FeeSettings, error)
	confirmDelay time.Duration
}

// New builds an Engine. feeSettings resolves the org's fee configuration
// for a given payout (looked up via the payout's submission -> job ->
// bounty -> org chain in the caller; kept as a callback here so the engine
// stays agnostic of how that join is performed).
func New(st store.Store, provider Provider, feeSettings func(ctx context.Context, tx store.Tx, p *model.Payout) (FeeSettings, error)) *Engine {
	return &Engine{store: st, provider: provider, fees: feeSettings, confirmDelay: 30 * time.Second}
}

// payoutRequestedPayload is the JSON shape carried by the `payout.requested`
// topic. verification.Coordinator.onPass schedules the first delivery with
// the submission/job/worker triple, since the Payout row doesn't exist yet;
// internal/dispute reschedules a later delivery (on cancel or uphold) with
// just payout_id, since by then the row already exists. Proofwork keys the
// Payout row by submission id (a payout is 1:1 with the submission that
// earned it), matching the outbox idempotency key "payout:"+submissionId.
type payoutRequestedPayload struct {
	PayoutID     string `json:"payout_id"`
	SubmissionID string `json:"submission_id"`
	JobID        string `json:"job_id"`
	WorkerID     string `json:"worker_id"`
}

// EnsureInitiated idempotently creates the Payout row for a
// `payout.requested` event's (submission, job, worker) triple, computing
// gross from the job's bounty reward. Safe to call on every delivery of
// the same event: CreatePayout is a no-op once the row exists.
func (e *Engine) EnsureInitiated(ctx context.Context, tx store.Tx, payload []byte) (string, error) {
	var req payoutRequestedPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", apperr.Wrap(apperr.ValidationFailure, "payout_payload_invalid", "could not decode payout.requested payload", err)
	}
	if req.PayoutID != "" {
		return req.PayoutID, nil
	}
	job, err := tx.GetJobForUpdate(ctx, req.JobID)
	if err != nil {
		return "", err
	}
	bounty, err := tx.GetBounty(ctx, job.BountyID)
	if err != nil {
		return "", err
	}
	p := &model.Payout{
		ID:           req.SubmissionID,
		SubmissionID: req.SubmissionID,
		WorkerID:     req.WorkerID,
		GrossCents:   bounty.RewardPerProofCents,
		State:        model.PayoutPending,
	}
	if err := tx.CreatePayout(ctx, p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// HandlePayoutRequested implements spec.md §4.5 steps 1-4 as the
// `payout.requested` outbox handler. payload is the raw outbox event
// payload; the payout row is created idempotently from it before the
// split is computed.
func (e *Engine) HandlePayoutRequested(ctx context.Context, rawPayload []byte) error {
	var payoutID string
	if err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		id, err := e.EnsureInitiated(ctx, tx, rawPayload)
		if err != nil {
			return err
		}
		payoutID = id
		return nil
	}); err != nil {
		return err
	}
	return e.handlePayoutRequested(ctx, payoutID)
}

func (e *Engine) handlePayoutRequested(ctx context.Context, payoutID string) error {
	return e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPayoutForUpdate(ctx, payoutID)
		if err != nil {
			return err
		}
		if p.State == model.PayoutPaid || p.State == model.PayoutRefunded {
			logger.Debug("payout already terminal, no-op", "payout_id", payoutID, "state", p.State)
			return nil
		}
		if p.BlockedReason == model.BlockedWorkerPayoutAddrMissing || p.BlockedReason == model.BlockedDisputeOpen {
			logger.Info("payout blocked, no-op", "payout_id", payoutID, "blocked_reason", p.BlockedReason)
			return nil
		}

		fees, err := e.fees(ctx, tx, p)
		if err != nil {
			return err
		}
		split, err := ComputeSplit(p.GrossCents, fees.PlatformFeeBps, fees.PlatformFeeWallet, fees.ProofworkFeeBps, fees.MaxProofworkFeeBps)
		if err != nil {
			if markErr := tx.MarkPayout(ctx, p.ID, model.PayoutFailed, model.BlockedNone, ""); markErr != nil {
				return markErr
			}
			metrics.PayoutFailed.Inc(1)
			return err
		}
		p.PlatformFeeCents = split.PlatformFeeCents
		p.PlatformFeeWallet = fees.PlatformFeeWallet
		p.ProofworkFeeCents = split.ProofworkFeeCents
		p.ProofworkFeeWallet = fees.ProofworkFeeWallet
		p.NetCents = split.NetCents
		p.Provider = e.provider.Name()

		providerRef, needsConfirmation, err := e.provider.Execute(ctx, tx, p, split)
		if err != nil {
			return err
		}

		if needsConfirmation {
			if err := tx.MarkPayout(ctx, p.ID, model.PayoutPending, model.BlockedNone, providerRef); err != nil {
				return err
			}
			return tx.ScheduleOutbox(ctx, "payout.confirm.requested", "payout_confirm:"+p.ID,
				mustJSON(map[string]string{"payout_id": p.ID}), time.Now().Add(e.confirmDelay))
		}

		if err := tx.MarkPayout(ctx, p.ID, model.PayoutPaid, model.BlockedNone, providerRef); err != nil {
			return err
		}
		metrics.PayoutPaid.Inc(1)
		return nil
	})
}

// HandlePayoutConfirmRequested implements spec.md §4.5 step 5 as the
// `payout.confirm.requested` outbox handler. A pending receipt is
// surfaced as a Transient error so the outbox's own backoff re-polls;
// this function never sleeps or loops internally.
func (e *Engine) HandlePayoutConfirmRequested(ctx context.Context, payoutID string) error {
	return e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPayoutForUpdate(ctx, payoutID)
		if err != nil {
			return err
		}
		if p.State == model.PayoutPaid || p.State == model.PayoutRefunded || p.State == model.PayoutFailed {
			return nil
		}
		confirmed, reverted, err := e.provider.Confirm(ctx, tx, p)
		if err != nil {
			return err
		}
		if reverted {
			if err := tx.MarkTransfersState(ctx, p.ID, model.TransferFailed); err != nil {
				return err
			}
			if err := tx.MarkPayout(ctx, p.ID, model.PayoutFailed, model.BlockedNone, ""); err != nil {
				return err
			}
			metrics.PayoutFailed.Inc(1)
			return nil
		}
		if !confirmed {
			return apperr.New(apperr.Transient, "payout_confirmation_pending", "payout transaction not yet confirmed")
		}
		if err := tx.MarkTransfersState(ctx, p.ID, model.TransferConfirmed); err != nil {
			return err
		}
		if err := tx.MarkPayout(ctx, p.ID, model.PayoutPaid, model.BlockedNone, ""); err != nil {
			return err
		}
		metrics.PayoutPaid.Inc(1)
		return nil
	})
}

func mustJSON(v map[string]string) []byte {
	b, _ := json.Marshal(v)
	return b
}
