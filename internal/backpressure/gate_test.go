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

package backpressure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofwork/proofwork/internal/store"
	"github.com/proofwork/proofwork/internal/store/storetest"
)

func TestEvaluateNotPausedByDefault(t *testing.T) {
	fake := storetest.New()
	gate := New(fake, nil, Thresholds{MaxVerifierBacklogAgeSec: 300, MaxOutboxPendingAgeSec: 120, MaxArtifactScanBacklogAgeSec: 900})

	sig, err := gate.Evaluate(context.Background())
	require.NoError(t, err)
	assert.False(t, sig.Paused)
}

func TestEvaluateHonorsUniversalPauseToggle(t *testing.T) {
	fake := storetest.New()
	require.NoError(t, fake.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.SetHotSetting(ctx, "UNIVERSAL_WORKER_PAUSE", "true")
	}))
	gate := New(fake, nil, Thresholds{})

	sig, err := gate.Evaluate(context.Background())
	require.NoError(t, err)
	assert.True(t, sig.Paused)
	assert.Equal(t, "universal_worker_pause", sig.Reason)
}
