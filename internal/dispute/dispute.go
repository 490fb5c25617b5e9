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

// Package dispute implements the buyer dispute and auto-refund workflow of
// spec.md §4.7: opening a dispute pre-empts a payout's pending execution,
// cancelling or upholding releases it again, and resolving (by an admin or
// by the auto-refund timer) credits the buyer org and marks the payout
// refunded.
package dispute

import (
	"context"
	"encoding/json"
	"time"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/log"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
)

var logger = log.NewModuleLogger(log.Dispute)

// Manager drives dispute open/cancel/resolve and the auto-refund outbox
// handler.
type Manager struct {
	store store.Store
}

func New(st store.Store) *Manager {
	return &Manager{store: st}
}

// Open records a new dispute and pre-empts the payout's pending execution,
// per spec.md §4.7. Fails with ValidationFailure if the payout's hold
// window has already elapsed.
func (m *Manager) Open(ctx context.Context, bountyID, payoutID string) (*model.Dispute, error) {
	var created *model.Dispute
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPayoutForUpdate(ctx, payoutID)
		if err != nil {
			return err
		}
		if p.HoldUntil == nil || !p.HoldUntil.After(time.Now()) {
			return apperr.New(apperr.ValidationFailure, "dispute_window_closed", "payout hold window has already elapsed")
		}

		d := &model.Dispute{BountyID: bountyID, PayoutID: payoutID, State: model.DisputeOpen}
		if err := tx.CreateDispute(ctx, d); err != nil {
			return err
		}
		if err := tx.MarkPayout(ctx, p.ID, p.State, model.BlockedDisputeOpen, p.ProviderRef); err != nil {
			return err
		}
		if err := tx.MarkOutboxSentByIdempotencyKey(ctx, "payout.requested", "payout:"+p.ID); err != nil {
			return err
		}
		if err := tx.ScheduleOutbox(ctx, "dispute.auto_refund.requested", "dispute:auto_refund:"+d.ID,
			mustJSON(map[string]string{"dispute_id": d.ID}), *p.HoldUntil); err != nil {
			return err
		}
		created = d
		return nil
	})
	return created, err
}

// Cancel clears the payout block and reschedules its execution at
// max(now, hold_until), per spec.md §4.7.
func (m *Manager) Cancel(ctx context.Context, disputeID string) error {
	return m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDisputeForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.State != model.DisputeOpen {
			logger.Debug("dispute already resolved, no-op", "dispute_id", disputeID, "state", d.State)
			return nil
		}
		p, err := tx.GetPayoutForUpdate(ctx, d.PayoutID)
		if err != nil {
			return err
		}
		if err := tx.SetDisputeState(ctx, disputeID, model.DisputeCancelled); err != nil {
			return err
		}
		if err := tx.MarkPayout(ctx, p.ID, p.State, model.BlockedNone, p.ProviderRef); err != nil {
			return err
		}
		availableAt := time.Now()
		if p.HoldUntil != nil && p.HoldUntil.After(availableAt) {
			availableAt = *p.HoldUntil
		}
		return tx.ScheduleOutbox(ctx, "payout.requested", "payout:"+p.ID,
			mustJSON(map[string]string{"payout_id": p.ID}), availableAt)
	})
}

// ResolveUphold clears the payout block in the worker's favor and
// reschedules payout execution immediately.
func (m *Manager) ResolveUphold(ctx context.Context, disputeID string) error {
	return m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDisputeForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.State != model.DisputeOpen {
			return nil
		}
		p, err := tx.GetPayoutForUpdate(ctx, d.PayoutID)
		if err != nil {
			return err
		}
		if err := tx.SetDisputeState(ctx, disputeID, model.DisputeResolvedUphold); err != nil {
			return err
		}
		if err := tx.MarkPayout(ctx, p.ID, p.State, model.BlockedNone, p.ProviderRef); err != nil {
			return err
		}
		return tx.ScheduleOutbox(ctx, "payout.requested", "payout:"+p.ID,
			mustJSON(map[string]string{"payout_id": p.ID}), time.Now())
	})
}

// ResolveRefund performs the worker-loses refund: credits the buyer org by
// gross - proofworkFee, marks the payout refunded, and marks the
// submission reversed.
func (m *Manager) ResolveRefund(ctx context.Context, disputeID string) error {
	return m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return m.refund(ctx, tx, disputeID, model.DisputeResolvedRefund)
	})
}

// HandleAutoRefundRequested is the `dispute.auto_refund.requested` outbox
// handler: it performs the same refund as an admin resolve, idempotent by
// dispute state so redelivery after a cancel/uphold is a no-op.
func (m *Manager) HandleAutoRefundRequested(ctx context.Context, disputeID string) error {
	return m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDisputeForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.State != model.DisputeOpen {
			logger.Debug("auto-refund fired on non-open dispute, no-op", "dispute_id", disputeID, "state", d.State)
			return nil
		}
		return m.refund(ctx, tx, disputeID, model.DisputeResolvedRefund)
	})
}

func (m *Manager) refund(ctx context.Context, tx store.Tx, disputeID string, resolution model.DisputeState) error {
	d, err := tx.GetDisputeForUpdate(ctx, disputeID)
	if err != nil {
		return err
	}
	if d.State != model.DisputeOpen {
		logger.Debug("dispute already resolved, refund no-op", "dispute_id", disputeID, "state", d.State)
		return nil
	}
	p, err := tx.GetPayoutForUpdate(ctx, d.PayoutID)
	if err != nil {
		return err
	}
	if p.State == model.PayoutRefunded {
		return tx.SetDisputeState(ctx, disputeID, resolution)
	}
	b, err := tx.GetBounty(ctx, d.BountyID)
	if err != nil {
		return err
	}
	refundCents := p.GrossCents - p.ProofworkFeeCents
	if err := tx.CreditOrgBalance(ctx, b.OrgID, refundCents); err != nil {
		return err
	}
	if err := tx.MarkPayout(ctx, p.ID, model.PayoutRefunded, model.BlockedNone, p.ProviderRef); err != nil {
		return err
	}
	if err := tx.SetSubmissionPayoutStatus(ctx, p.SubmissionID, "reversed"); err != nil {
		return err
	}
	return tx.SetDisputeState(ctx, disputeID, resolution)
}

func mustJSON(v map[string]string) []byte {
	b, _ := json.Marshal(v)
	return b
}
