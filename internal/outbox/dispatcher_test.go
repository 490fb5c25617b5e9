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

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
	"github.com/proofwork/proofwork/internal/store/storetest"
)

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{7, 60 * time.Second}, // 2^6=64, clamped to 60
		{11, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, c := range cases {
		if got := backoff(c.attempts); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestDispatcherSendsToHandlerAndMarksSent(t *testing.T) {
	fake := storetest.New()
	fake.PutOrg(&model.Org{ID: "org-1"})

	ctx := context.Background()
	_ = fake.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.ScheduleOutbox(ctx, "job.submitted", "sub-1", []byte(`{"job_id":"j-1"}`), time.Now())
	})

	d := New(fake, Config{
		MaxAttempts:  3,
		LockTTL:      time.Minute,
		PollInterval: time.Hour, // we call pollOnce directly, no ticking needed
		BatchSize:    10,
		Concurrency:  2,
		WorkerID:     "test-worker",
	})

	var received *model.OutboxEvent
	done := make(chan struct{}, 1)
	d.Register("job.submitted", func(ctx context.Context, ev *model.OutboxEvent) error {
		received = ev
		done <- struct{}{}
		return nil
	})

	d.pollOnce()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	if received == nil || received.Topic != "job.submitted" {
		t.Fatalf("handler received unexpected event: %+v", received)
	}

	sent := fake.OutboxSnapshot()
	if len(sent) != 1 || sent[0].State != model.OutboxSent {
		t.Fatalf("expected outbox row to be sent, got %+v", sent)
	}
}

func TestDispatcherDeadlettersPermanentFailure(t *testing.T) {
	fake := storetest.New()
	ctx := context.Background()
	_ = fake.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.ScheduleOutbox(ctx, "payout.requested", "payout:p-1", json.RawMessage(`{}`), time.Now())
	})

	d := New(fake, Config{MaxAttempts: 3, LockTTL: time.Minute, PollInterval: time.Hour, BatchSize: 10, Concurrency: 1})
	d.Register("payout.requested", func(ctx context.Context, ev *model.OutboxEvent) error {
		return apperr.New(apperr.PermanentBusiness, "worker_payout_address_missing", "worker has no verified payout address")
	})

	d.pollOnce()

	rows := fake.OutboxSnapshot()
	if len(rows) != 1 || rows[0].State != model.OutboxDeadletter {
		t.Fatalf("expected row deadlettered, got %+v", rows)
	}
}

func TestDispatcherReschedulesTransientFailure(t *testing.T) {
	fake := storetest.New()
	ctx := context.Background()
	_ = fake.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.ScheduleOutbox(ctx, "verification.requested", "verify:v-1", json.RawMessage(`{}`), time.Now())
	})

	d := New(fake, Config{MaxAttempts: 5, LockTTL: time.Minute, PollInterval: time.Hour, BatchSize: 10, Concurrency: 1})
	d.Register("verification.requested", func(ctx context.Context, ev *model.OutboxEvent) error {
		return apperr.Wrap(apperr.Transient, "gateway_unreachable", "verification gateway did not respond", errors.New("dial tcp: timeout"))
	})

	d.pollOnce()

	rows := fake.OutboxSnapshot()
	if len(rows) != 1 {
		t.Fatalf("expected 1 outbox row, got %d", len(rows))
	}
	if rows[0].State != model.OutboxPending {
		t.Fatalf("expected row rescheduled to pending, got %v", rows[0].State)
	}
	if rows[0].Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", rows[0].Attempts)
	}
	if !rows[0].AvailableAt.After(time.Now()) {
		t.Fatalf("expected available_at pushed into the future, got %v", rows[0].AvailableAt)
	}
}
