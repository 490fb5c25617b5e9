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

package jobqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
	"github.com/proofwork/proofwork/internal/store/storetest"
)

func descriptorFor(tags ...string) json.RawMessage {
	raw, _ := json.Marshal(map[string]interface{}{
		"schema_version":  "v1",
		"type":            "web_task",
		"capability_tags": tags,
	})
	return raw
}

func TestNextFiltersByCapability(t *testing.T) {
	fake := storetest.New()
	fake.PutJob(&model.Job{ID: "j-browser", State: model.JobOpen, TaskDescriptor: descriptorFor("browser"), CreatedAt: time.Now()})
	fake.PutJob(&model.Job{ID: "j-ffmpeg", State: model.JobOpen, TaskDescriptor: descriptorFor("ffmpeg"), CreatedAt: time.Now()})

	q := New(fake)
	jobs, err := q.Next(context.Background(), NextFilter{WorkerCaps: []string{"browser", "http"}, Limit: 10})
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j-browser" {
		t.Fatalf("expected only j-browser, got %+v", jobs)
	}
}

func TestNextFiltersByTagAndReward(t *testing.T) {
	fake := storetest.New()
	fake.PutBounty(&model.Bounty{ID: "b-cheap", RequiredProofs: 1, RewardPerProofCents: 50})
	fake.PutBounty(&model.Bounty{ID: "b-rich", RequiredProofs: 1, RewardPerProofCents: 500})
	fake.PutJob(&model.Job{ID: "j-cheap", BountyID: "b-cheap", State: model.JobOpen, TaskDescriptor: descriptorFor("browser"), CreatedAt: time.Now()})
	fake.PutJob(&model.Job{ID: "j-rich", BountyID: "b-rich", State: model.JobOpen, TaskDescriptor: descriptorFor("browser", "http"), CreatedAt: time.Now()})

	q := New(fake)
	jobs, err := q.Next(context.Background(), NextFilter{
		WorkerCaps:     []string{"browser", "http"},
		RequireTag:     "http",
		MinRewardCents: 100,
		Limit:          10,
	})
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j-rich" {
		t.Fatalf("expected only j-rich, got %+v", jobs)
	}
}

func TestCanaryPercentFromHotSettingsReadsStoredValue(t *testing.T) {
	fake := storetest.New()
	err := fake.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetHotSetting(ctx, "CANARY_PERCENT", "25"); err != nil {
			return err
		}
		percent, err := canaryPercentFromHotSettings(ctx, tx)
		if err != nil {
			return err
		}
		if percent != 25 {
			t.Fatalf("expected 25, got %d", percent)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
}

func TestCanaryPercentFromHotSettingsDefaultsOnMalformedValue(t *testing.T) {
	fake := storetest.New()
	err := fake.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetHotSetting(ctx, "CANARY_PERCENT", "not-a-number"); err != nil {
			return err
		}
		percent, err := canaryPercentFromHotSettings(ctx, tx)
		if err != nil {
			return err
		}
		if percent != 0 {
			t.Fatalf("expected malformed value to default to 0, got %d", percent)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
}

func TestNextExcludesStaleJobs(t *testing.T) {
	fake := storetest.New()
	past := time.Now().Add(-time.Hour)
	fake.PutJob(&model.Job{ID: "j-stale", State: model.JobOpen, TaskDescriptor: descriptorFor(), FreshnessDeadline: &past, CreatedAt: time.Now()})

	q := New(fake)
	jobs, err := q.Next(context.Background(), NextFilter{Limit: 10})
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected stale job excluded, got %+v", jobs)
	}
}

func TestClaimExactlyOneWinner(t *testing.T) {
	fake := storetest.New()
	fake.PutJob(&model.Job{ID: "j-1", State: model.JobOpen, TaskDescriptor: descriptorFor(), CreatedAt: time.Now()})

	q := New(fake)
	const n = 10
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Claim(context.Background(), "j-1", workerName(i), 60)
			results[i] = err
		}()
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case err == apperr.ErrLostRace:
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d (losses=%d)", wins, losses)
	}
	if losses != n-1 {
		t.Fatalf("expected %d losers, got %d", n-1, losses)
	}
}

func TestClaimStaleJobRejected(t *testing.T) {
	fake := storetest.New()
	past := time.Now().Add(-time.Minute)
	fake.PutJob(&model.Job{ID: "j-stale", State: model.JobOpen, TaskDescriptor: descriptorFor(), FreshnessDeadline: &past, CreatedAt: time.Now()})

	q := New(fake)
	_, err := q.Claim(context.Background(), "j-stale", "worker-1", 60)
	if err != apperr.ErrStaleJob {
		t.Fatalf("expected ErrStaleJob, got %v", err)
	}
}

func TestReapExpiredLeasesReopensJob(t *testing.T) {
	fake := storetest.New()
	expired := time.Now().Add(-time.Minute)
	fake.PutJob(&model.Job{ID: "j-1", State: model.JobClaimed, ClaimHolder: "worker-1", LeaseExpiresAt: &expired, TaskDescriptor: descriptorFor(), CreatedAt: time.Now()})

	q := New(fake)
	n, err := q.ReapExpiredLeases(context.Background())
	if err != nil {
		t.Fatalf("ReapExpiredLeases returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 lease reaped, got %d", n)
	}
	job := fake.GetJobSnapshot("j-1")
	if job.State != model.JobOpen || job.ClaimHolder != "" {
		t.Fatalf("expected job reopened, got %+v", job)
	}
}

func workerName(i int) string {
	return "worker-" + string(rune('a'+i))
}
