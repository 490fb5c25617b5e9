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

package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofwork/proofwork/internal/store/storetest"
)

type fakeScanner struct{ clean bool }

func (s fakeScanner) Scan(ctx context.Context, artifactID string) (bool, error) { return s.clean, nil }

func TestRecordUploadSchedulesScan(t *testing.T) {
	fake := storetest.New()
	l := New(fake, fakeScanner{clean: true})

	require.NoError(t, l.RecordUpload(context.Background(), "art1", "worker1"))

	events := fake.OutboxSnapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "artifact.scan.requested", events[0].Topic)
}

func TestHandleScanRequestedClean(t *testing.T) {
	fake := storetest.New()
	l := New(fake, fakeScanner{clean: true})
	require.NoError(t, l.RecordUpload(context.Background(), "art1", "worker1"))

	require.NoError(t, l.HandleScanRequested(context.Background(), mustJSON(map[string]string{"artifact_id": "art1"})))
	require.NoError(t, l.RequireClean(context.Background(), "art1"))
}

func TestHandleScanRequestedQuarantined(t *testing.T) {
	fake := storetest.New()
	l := New(fake, fakeScanner{clean: false})
	require.NoError(t, l.RecordUpload(context.Background(), "art1", "worker1"))

	require.NoError(t, l.HandleScanRequested(context.Background(), mustJSON(map[string]string{"artifact_id": "art1"})))
	err := l.RequireClean(context.Background(), "art1")
	require.Error(t, err)
}
