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

package payout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
	"github.com/proofwork/proofwork/internal/store/storetest"
)

func TestComputeSplit(t *testing.T) {
	split, err := ComputeSplit(10000, 500, "0xplatform", 100, 500)
	require.NoError(t, err)
	assert.Equal(t, model.Cents(500), split.PlatformFeeCents)
	assert.Equal(t, model.Cents(100), split.ProofworkFeeCents)
	assert.Equal(t, model.Cents(9400), split.NetCents)
}

func TestComputeSplitNoPlatformWallet(t *testing.T) {
	split, err := ComputeSplit(10000, 500, "", 100, 500)
	require.NoError(t, err)
	assert.Equal(t, model.Cents(0), split.PlatformFeeCents)
	assert.Equal(t, model.Cents(9900), split.NetCents)
}

func TestComputeSplitCapsProofworkFee(t *testing.T) {
	split, err := ComputeSplit(10000, 0, "", 9000, 500)
	require.NoError(t, err)
	assert.Equal(t, model.Cents(500), split.ProofworkFeeCents)
}

func TestComputeSplitRejectsNonPositiveNet(t *testing.T) {
	_, err := ComputeSplit(100, 5000, "0xplatform", 5000, 5000)
	require.Error(t, err)
}

type fakeProvider struct {
	name              string
	needsConfirmation bool
	executed          int
	confirmed         bool
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Execute(ctx context.Context, tx store.Tx, po *model.Payout, split Split) (string, bool, error) {
	p.executed++
	return "ref-" + po.ID, p.needsConfirmation, nil
}

func (p *fakeProvider) Confirm(ctx context.Context, tx store.Tx, po *model.Payout) (bool, bool, error) {
	return p.confirmed, false, nil
}

func fixedFees(bps model.BasisPoints, wallet string, pwBps, maxPwBps model.BasisPoints) func(ctx context.Context, tx store.Tx, p *model.Payout) (FeeSettings, error) {
	return func(ctx context.Context, tx store.Tx, p *model.Payout) (FeeSettings, error) {
		return FeeSettings{PlatformFeeBps: bps, PlatformFeeWallet: wallet, ProofworkFeeBps: pwBps, MaxProofworkFeeBps: maxPwBps}, nil
	}
}

func TestHandlePayoutRequestedOffchainPaysImmediately(t *testing.T) {
	fake := storetest.New()
	fake.PutOrg(&model.Org{ID: "org1"})
	fake.PutBounty(&model.Bounty{ID: "bounty1", OrgID: "org1", RewardPerProofCents: 10000, RequiredProofs: 1})
	fake.PutJob(&model.Job{ID: "job1", BountyID: "bounty1", State: model.JobDone})
	fake.PutWorker(&model.Worker{ID: "worker1"})

	provider := &fakeProvider{name: "offchain"}
	engine := New(fake, provider, fixedFees(500, "0xplatform", 100, 500))

	payload := mustJSON(map[string]string{"submission_id": "sub1", "job_id": "job1", "worker_id": "worker1"})
	require.NoError(t, engine.HandlePayoutRequested(context.Background(), payload))

	p := fake.GetPayoutSnapshot("sub1")
	assert.Equal(t, model.PayoutPaid, p.State)
	assert.Equal(t, model.Cents(9400), p.NetCents)
	assert.Equal(t, 1, provider.executed)

	// Redelivery is idempotent: already-terminal payout is a no-op, the
	// provider is not invoked again.
	require.NoError(t, engine.HandlePayoutRequested(context.Background(), payload))
	assert.Equal(t, 1, provider.executed)
}

func TestHandlePayoutRequestedOnchainSchedulesConfirmation(t *testing.T) {
	fake := storetest.New()
	fake.PutOrg(&model.Org{ID: "org1"})
	fake.PutBounty(&model.Bounty{ID: "bounty1", OrgID: "org1", RewardPerProofCents: 10000, RequiredProofs: 1})
	fake.PutJob(&model.Job{ID: "job1", BountyID: "bounty1", State: model.JobDone})
	fake.PutWorker(&model.Worker{ID: "worker1"})

	provider := &fakeProvider{name: "onchain", needsConfirmation: true}
	engine := New(fake, provider, fixedFees(0, "", 100, 500))

	payload := mustJSON(map[string]string{"submission_id": "sub1", "job_id": "job1", "worker_id": "worker1"})
	require.NoError(t, engine.HandlePayoutRequested(context.Background(), payload))

	p := fake.GetPayoutSnapshot("sub1")
	assert.Equal(t, model.PayoutPending, p.State)

	events := fake.OutboxSnapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "payout.confirm.requested", events[0].Topic)
}

func TestHandlePayoutConfirmRequestedPending(t *testing.T) {
	fake := storetest.New()
	fake.PutPayout(&model.Payout{ID: "sub1", State: model.PayoutPending})
	provider := &fakeProvider{name: "onchain", confirmed: false}
	engine := New(fake, provider, fixedFees(0, "", 0, 0))

	err := engine.HandlePayoutConfirmRequested(context.Background(), "sub1")
	require.Error(t, err)

	p := fake.GetPayoutSnapshot("sub1")
	assert.Equal(t, model.PayoutPending, p.State)
}

func TestHandlePayoutConfirmRequestedConfirmed(t *testing.T) {
	fake := storetest.New()
	fake.PutPayout(&model.Payout{ID: "sub1", State: model.PayoutPending})
	provider := &fakeProvider{name: "onchain", confirmed: true}
	engine := New(fake, provider, fixedFees(0, "", 0, 0))

	require.NoError(t, engine.HandlePayoutConfirmRequested(context.Background(), "sub1"))

	p := fake.GetPayoutSnapshot("sub1")
	assert.Equal(t, model.PayoutPaid, p.State)
}

func TestHandlePayoutRequestedBlockedIsNoOp(t *testing.T) {
	fake := storetest.New()
	fake.PutPayout(&model.Payout{ID: "sub1", State: model.PayoutPending, BlockedReason: model.BlockedDisputeOpen, SubmissionID: "sub1"})
	provider := &fakeProvider{name: "offchain"}
	engine := New(fake, provider, fixedFees(0, "", 0, 0))

	payload := mustJSON(map[string]string{"payout_id": "sub1"})
	require.NoError(t, engine.HandlePayoutRequested(context.Background(), payload))
	assert.Equal(t, 0, provider.executed)
}
