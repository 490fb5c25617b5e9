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
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
	"github.com/proofwork/proofwork/internal/store/storetest"
)

func sign(t *testing.T, message string) ([]byte, string) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(priv.PublicKey).Hex()

	prefixed := []byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message))
	hash := crypto.Keccak256(prefixed)
	sig, err := crypto.Sign(hash, priv)
	require.NoError(t, err)
	sig[64] += 27
	return sig, addr
}

func TestVerifyAndSetAcceptsValidSignature(t *testing.T) {
	fake := storetest.New()
	fake.PutWorker(&model.Worker{ID: "worker1"})
	m := New(fake)

	sig, addr := sign(t, Message("worker1"))
	unblocked, err := m.VerifyAndSet(context.Background(), "worker1", "base", addr, sig)
	require.NoError(t, err)
	assert.Equal(t, 0, unblocked)
}

func TestVerifyAndSetRejectsWrongSignature(t *testing.T) {
	fake := storetest.New()
	fake.PutWorker(&model.Worker{ID: "worker1"})
	m := New(fake)

	sig, _ := sign(t, Message("worker1"))
	_, err := m.VerifyAndSet(context.Background(), "worker1", "base", "0x0000000000000000000000000000000000000000", sig)
	require.Error(t, err)
}

func TestVerifyAndSetUnblocksPendingPayouts(t *testing.T) {
	fake := storetest.New()
	fake.PutWorker(&model.Worker{ID: "worker1"})
	require.NoError(t, fake.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreatePayout(ctx, &model.Payout{
			ID: "payout1", SubmissionID: "sub1", WorkerID: "worker1",
			GrossCents: 1000, NetCents: 900, State: model.PayoutPending,
			BlockedReason: model.BlockedWorkerPayoutAddrMissing,
		})
	}))

	m := New(fake)
	sig, addr := sign(t, Message("worker1"))
	unblocked, err := m.VerifyAndSet(context.Background(), "worker1", "base", addr, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, unblocked)

	events := fake.OutboxSnapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "payout.requested", events[0].Topic)
}
