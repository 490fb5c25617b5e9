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

package verification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store/storetest"
)

// stubGateway returns a fixed RunResult without making any network call.
type stubGateway struct {
	result *RunResult
	err    error
}

func (g *stubGateway) Run(ctx context.Context, verificationID, submissionID string, attemptNo int, jobSpec, submission json.RawMessage) (*RunResult, error) {
	return g.result, g.err
}

func seedSubmission(fake *storetest.Fake, id, jobID string) {
	fake.PutJob(&model.Job{ID: jobID, BountyID: "b-1", State: model.JobClaimed, CreatedAt: time.Now()})
	fake.PutBounty(&model.Bounty{ID: "b-1", RequiredProofs: 1})
}

func TestClaimIsIdempotent(t *testing.T) {
	fake := storetest.New()
	seedSubmission(fake, "sub-1", "job-1")
	fake.PutSubmission(&model.Submission{ID: "sub-1", JobID: "job-1", State: model.SubmissionPending})

	c := New(fake, 3, "reopen", nil)
	req := ClaimRequest{SubmissionID: "sub-1", AttemptNumber: 0, IdempotencyKey: "claim-key-1", ClaimTTL: time.Minute}

	first, err := c.Claim(context.Background(), req)
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	second, err := c.Claim(context.Background(), req)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if first.VerificationID != second.VerificationID || first.ClaimToken != second.ClaimToken {
		t.Fatalf("expected idempotent replay, got %+v vs %+v", first, second)
	}
}

func TestVerdictPassMarksJobDoneWhenProofsMet(t *testing.T) {
	fake := storetest.New()
	seedSubmission(fake, "sub-1", "job-1")
	fake.PutSubmission(&model.Submission{ID: "sub-1", JobID: "job-1", WorkerID: "w-1", State: model.SubmissionPending})

	c := New(fake, 3, "reopen", nil)
	claim, err := c.Claim(context.Background(), ClaimRequest{SubmissionID: "sub-1", AttemptNumber: 0, IdempotencyKey: "claim-key-1", ClaimTTL: time.Minute})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	err = c.Verdict(context.Background(), VerdictRequest{
		VerificationID: claim.VerificationID,
		ClaimToken:     claim.ClaimToken,
		Verdict:        model.VerdictPass,
		Scorecard:      &model.Scorecard{QualityScore: 90},
	})
	if err != nil {
		t.Fatalf("verdict failed: %v", err)
	}

	job := fake.GetJobSnapshot("job-1")
	if job.State != model.JobDone {
		t.Fatalf("expected job done, got %v", job.State)
	}
}

func TestVerdictWrongClaimTokenRejected(t *testing.T) {
	fake := storetest.New()
	seedSubmission(fake, "sub-1", "job-1")
	fake.PutSubmission(&model.Submission{ID: "sub-1", JobID: "job-1", State: model.SubmissionPending})

	c := New(fake, 3, "reopen", nil)
	claim, err := c.Claim(context.Background(), ClaimRequest{SubmissionID: "sub-1", AttemptNumber: 0, IdempotencyKey: "claim-key-1", ClaimTTL: time.Minute})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	err = c.Verdict(context.Background(), VerdictRequest{
		VerificationID: claim.VerificationID,
		ClaimToken:     "wrong-token",
		Verdict:        model.VerdictPass,
	})
	if err == nil {
		t.Fatal("expected error for mismatched claim token")
	}
}

func TestHandleVerificationRequestedDrivesClaimRunVerdict(t *testing.T) {
	fake := storetest.New()
	seedSubmission(fake, "sub-1", "job-1")
	fake.PutSubmission(&model.Submission{ID: "sub-1", JobID: "job-1", WorkerID: "w-1", State: model.SubmissionPending})

	gw := &stubGateway{result: &RunResult{Verdict: model.VerdictPass, Scorecard: &model.Scorecard{QualityScore: 95}}}
	c := New(fake, 3, "reopen", gw)

	payload, _ := json.Marshal(map[string]interface{}{"submission_id": "sub-1", "attempt_number": 0})
	if err := c.HandleVerificationRequested(context.Background(), payload); err != nil {
		t.Fatalf("HandleVerificationRequested failed: %v", err)
	}

	job := fake.GetJobSnapshot("job-1")
	if job.State != model.JobDone {
		t.Fatalf("expected job done after passing verdict, got %v", job.State)
	}
}

func TestHandleVerificationRequestedWithoutGatewayFails(t *testing.T) {
	fake := storetest.New()
	seedSubmission(fake, "sub-1", "job-1")
	fake.PutSubmission(&model.Submission{ID: "sub-1", JobID: "job-1", State: model.SubmissionPending})

	c := New(fake, 3, "reopen", nil)
	payload, _ := json.Marshal(map[string]interface{}{"submission_id": "sub-1", "attempt_number": 0})
	if err := c.HandleVerificationRequested(context.Background(), payload); err == nil {
		t.Fatal("expected error when no gateway is configured")
	}
}
