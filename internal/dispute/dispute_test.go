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

package dispute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store/storetest"
)

func TestOpenRejectsClosedHoldWindow(t *testing.T) {
	fake := storetest.New()
	past := time.Now().Add(-time.Hour)
	fake.PutPayout(&model.Payout{ID: "payout1", State: model.PayoutPending, HoldUntil: &past})
	mgr := New(fake)

	_, err := mgr.Open(context.Background(), "bounty1", "payout1")
	require.Error(t, err)
}

func TestOpenBlocksPayoutAndPreemptsOutbox(t *testing.T) {
	fake := storetest.New()
	hold := time.Now().Add(time.Hour)
	fake.PutPayout(&model.Payout{ID: "payout1", State: model.PayoutPending, HoldUntil: &hold})
	mgr := New(fake)

	d, err := mgr.Open(context.Background(), "bounty1", "payout1")
	require.NoError(t, err)
	assert.Equal(t, model.DisputeOpen, d.State)

	p := fake.GetPayoutSnapshot("payout1")
	assert.Equal(t, model.BlockedDisputeOpen, p.BlockedReason)

	events := fake.OutboxSnapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "dispute.auto_refund.requested", events[0].Topic)
}

func TestCancelReschedulesPayout(t *testing.T) {
	fake := storetest.New()
	hold := time.Now().Add(time.Hour)
	fake.PutPayout(&model.Payout{ID: "payout1", State: model.PayoutPending, HoldUntil: &hold})
	mgr := New(fake)

	d, err := mgr.Open(context.Background(), "bounty1", "payout1")
	require.NoError(t, err)

	require.NoError(t, mgr.Cancel(context.Background(), d.ID))

	p := fake.GetPayoutSnapshot("payout1")
	assert.Equal(t, model.BlockedNone, p.BlockedReason)

	events := fake.OutboxSnapshot()
	var sawReschedule bool
	for _, e := range events {
		if e.Topic == "payout.requested" {
			sawReschedule = true
		}
	}
	assert.True(t, sawReschedule)
}

func TestResolveRefundCreditsOrgAndMarksReversed(t *testing.T) {
	fake := storetest.New()
	hold := time.Now().Add(time.Hour)
	fake.PutOrg(&model.Org{ID: "org1", BillingBalance: 0})
	fake.PutBounty(&model.Bounty{ID: "bounty1", OrgID: "org1"})
	fake.PutPayout(&model.Payout{ID: "payout1", State: model.PayoutPending, HoldUntil: &hold, GrossCents: 10000, ProofworkFeeCents: 100, SubmissionID: "sub1"})
	fake.PutSubmission(&model.Submission{ID: "sub1", State: model.SubmissionPassed})
	mgr := New(fake)

	d, err := mgr.Open(context.Background(), "bounty1", "payout1")
	require.NoError(t, err)

	require.NoError(t, mgr.ResolveRefund(context.Background(), d.ID))

	org := fake.GetOrgSnapshot("org1")
	assert.Equal(t, model.Cents(9900), org.BillingBalance)

	p := fake.GetPayoutSnapshot("payout1")
	assert.Equal(t, model.PayoutRefunded, p.State)
}

func TestHandleAutoRefundRequestedIsIdempotent(t *testing.T) {
	fake := storetest.New()
	hold := time.Now().Add(time.Hour)
	fake.PutOrg(&model.Org{ID: "org1"})
	fake.PutBounty(&model.Bounty{ID: "bounty1", OrgID: "org1"})
	fake.PutPayout(&model.Payout{ID: "payout1", State: model.PayoutPending, HoldUntil: &hold, GrossCents: 10000, SubmissionID: "sub1"})
	fake.PutSubmission(&model.Submission{ID: "sub1", State: model.SubmissionPassed})
	mgr := New(fake)

	d, err := mgr.Open(context.Background(), "bounty1", "payout1")
	require.NoError(t, err)

	require.NoError(t, mgr.HandleAutoRefundRequested(context.Background(), d.ID))
	require.NoError(t, mgr.HandleAutoRefundRequested(context.Background(), d.ID))

	org := fake.GetOrgSnapshot("org1")
	assert.Equal(t, model.Cents(10000), org.BillingBalance)
}
