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

// Package verification runs the three-step claim/run/verdict handshake
// between an untrusted verification worker and the store: Claim issues an
// opaque, server-generated claim token under a submission row lock; Verdict
// accepts the worker's result only if that token still matches and has not
// expired, then drives the submission and job state machines forward.
package verification

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	gouuid "github.com/hashicorp/go-uuid"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/log"
	"github.com/proofwork/proofwork/internal/metrics"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
)

var logger = log.NewModuleLogger(log.Verification)

type Coordinator struct {
	store       store.Store
	maxAttempts int
	// exhaustPolicy is "reopen" or "close"; see DESIGN.md Open Question
	// decision #2. Governs inconclusive verdicts after attempt exhaustion.
	exhaustPolicy string
	gateway       Gateway
}

func New(st store.Store, maxAttempts int, exhaustPolicy string, gateway Gateway) *Coordinator {
	return &Coordinator{store: st, maxAttempts: maxAttempts, exhaustPolicy: exhaustPolicy, gateway: gateway}
}

// SubmitRequest is the worker's evidence posting against a claimed job.
type SubmitRequest struct {
	JobID          string
	WorkerID       string
	Manifest       json.RawMessage
	ArtifactIndex  []model.ArtifactRef
	AttemptNumber  int
	IdempotencyKey string
}

// Submit records a worker's submission against a job it holds the lease on,
// transitions the job to submitted, and schedules the first
// verification.requested event, all in one transaction. Idempotent: a
// replayed IdempotencyKey returns the original submission unchanged and
// does not reschedule verification.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*model.Submission, error) {
	var out *model.Submission
	err := c.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetJobSubmitted(ctx, req.JobID, req.WorkerID); err != nil {
			return err
		}
		sub, created, err := tx.WriteSubmission(ctx, &model.Submission{
			JobID:         req.JobID,
			WorkerID:      req.WorkerID,
			Manifest:      req.Manifest,
			ArtifactIndex: req.ArtifactIndex,
			AttemptNumber: req.AttemptNumber,
			State:         model.SubmissionPending,
		}, req.IdempotencyKey)
		if err != nil {
			return err
		}
		out = sub
		if !created {
			return nil
		}
		if err := tx.SetJobSubmitted(ctx, req.JobID, req.WorkerID); err != nil {
			return err
		}
		metrics.SubmissionsWritten.Inc(1)
		return tx.ScheduleOutbox(ctx, "verification.requested", sub.ID+":"+itoa(sub.AttemptNumber), mustJSON(map[string]interface{}{
			"submission_id":  sub.ID,
			"attempt_number": sub.AttemptNumber,
		}), time.Now())
	})
	return out, err
}

// ClaimRequest is the worker's claim posting.
type ClaimRequest struct {
	SubmissionID   string
	AttemptNumber  int
	IdempotencyKey string
	ClaimTTL       time.Duration
}

// ClaimResponse echoes the claim token and the submission the verification
// worker needs to run the gateway check. It does not carry the job's task
// descriptor; HandleVerificationRequested loads that separately.
type ClaimResponse struct {
	VerificationID string
	ClaimToken     string
	ClaimExpiry    time.Time
	Submission     *model.Submission
}

// Claim issues a fresh verification claim, or replays the prior claim
// payload unchanged when idempotencyKey has already been used.
func (c *Coordinator) Claim(ctx context.Context, req ClaimRequest) (*ClaimResponse, error) {
	var resp *ClaimResponse
	err := c.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sub, err := tx.GetSubmissionForUpdate(ctx, req.SubmissionID)
		if err != nil {
			return err
		}
		if sub.State != model.SubmissionPending && sub.State != model.SubmissionVerifying {
			return apperr.New(apperr.Conflict, "submission_not_claimable", "submission is not pending or verifying")
		}
		if req.AttemptNumber != sub.AttemptNumber {
			return apperr.New(apperr.Conflict, "stale_attempt", "attempt number does not match submission's current attempt")
		}

		token, err := newClaimToken()
		if err != nil {
			return apperr.Wrap(apperr.Transient, "claim_token_generation_failed", "could not generate claim token", err)
		}
		now := time.Now()
		ttl := req.ClaimTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		v := &model.Verification{
			SubmissionID:  req.SubmissionID,
			AttemptNumber: req.AttemptNumber,
			ClaimToken:    token,
			ClaimExpiry:   now.Add(ttl),
		}
		created, isFresh, err := tx.OpenVerification(ctx, v, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if isFresh {
			if err := tx.SetSubmissionState(ctx, sub.ID, model.SubmissionVerifying); err != nil {
				return err
			}
			metrics.VerificationClaimed.Inc(1)
		}
		resp = &ClaimResponse{
			VerificationID: created.ID,
			ClaimToken:     created.ClaimToken,
			ClaimExpiry:    created.ClaimExpiry,
			Submission:     sub,
		}
		return nil
	})
	return resp, err
}

// VerdictRequest is the worker's verdict posting after running the
// verification gateway.
type VerdictRequest struct {
	VerificationID string
	ClaimToken     string
	Verdict        model.Verdict
	Scorecard      *model.Scorecard
	RunMetadata    []byte
}

// Verdict validates the claim token and expiry, persists the result, and
// advances the submission/job state machine: passed closes out the job (and
// schedules the payout) once the bounty's required proof count is met;
// failed or inconclusive re-enqueues another attempt while budget remains;
// an exhausted inconclusive attempt falls back to c.exhaustPolicy.
func (c *Coordinator) Verdict(ctx context.Context, req VerdictRequest) error {
	return c.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		v, err := tx.GetVerificationByClaimToken(ctx, req.VerificationID, req.ClaimToken)
		if err != nil {
			return err
		}
		if time.Now().After(v.ClaimExpiry) {
			return apperr.New(apperr.Conflict, "claim_expired", "verification claim has expired")
		}
		if err := tx.PostVerdict(ctx, v.ID, req.Verdict, req.Scorecard, req.RunMetadata); err != nil {
			return err
		}
		metrics.VerificationVerdicts.Inc(1)

		sub, err := tx.GetSubmissionForUpdate(ctx, v.SubmissionID)
		if err != nil {
			return err
		}

		switch req.Verdict {
		case model.VerdictPass:
			return c.onPass(ctx, tx, sub)
		case model.VerdictFail, model.VerdictInconclusive:
			return c.onFailOrInconclusive(ctx, tx, sub, req.Verdict, v.AttemptNumber)
		default:
			return apperr.New(apperr.ValidationFailure, "unknown_verdict", "verdict must be pass, fail or inconclusive")
		}
	})
}

func (c *Coordinator) onPass(ctx context.Context, tx store.Tx, sub *model.Submission) error {
	if err := tx.SetSubmissionState(ctx, sub.ID, model.SubmissionPassed); err != nil {
		return err
	}
	job, err := tx.GetJobForUpdate(ctx, sub.JobID)
	if err != nil {
		return err
	}
	bounty, err := tx.GetBounty(ctx, job.BountyID)
	if err != nil {
		return err
	}
	passed, err := tx.CountPassedSubmissionsForBounty(ctx, bounty.ID)
	if err != nil {
		return err
	}
	if passed < bounty.RequiredProofs {
		logger.Info("submission passed, required proof count not yet met", "job_id", job.ID, "passed", passed, "required", bounty.RequiredProofs)
		return nil
	}
	verdict := model.VerdictPass
	if err := tx.MarkJobDone(ctx, job.ID, verdict); err != nil {
		return err
	}
	availableAt := time.Now()
	if bounty.DisputeWindowSec > 0 {
		availableAt = availableAt.Add(time.Duration(bounty.DisputeWindowSec) * time.Second)
	}
	return tx.ScheduleOutbox(ctx, "payout.requested", "payout:"+sub.ID, mustJSON(map[string]string{
		"submission_id": sub.ID,
		"job_id":        job.ID,
		"worker_id":     sub.WorkerID,
	}), availableAt)
}

func (c *Coordinator) onFailOrInconclusive(ctx context.Context, tx store.Tx, sub *model.Submission, verdict model.Verdict, attemptNumber int) error {
	if attemptNumber < c.maxAttempts {
		nextAttempt := attemptNumber + 1
		state := model.SubmissionFailed
		if verdict == model.VerdictInconclusive {
			state = model.SubmissionInconclusive
		}
		if err := tx.SetSubmissionState(ctx, sub.ID, state); err != nil {
			return err
		}
		return tx.ScheduleOutbox(ctx, "verification.requested", sub.ID+":"+itoa(nextAttempt), mustJSON(map[string]interface{}{
			"submission_id":  sub.ID,
			"attempt_number": nextAttempt,
		}), time.Now())
	}

	if verdict == model.VerdictInconclusive && c.exhaustPolicy == "reopen" {
		if err := tx.SetSubmissionState(ctx, sub.ID, model.SubmissionInconclusive); err != nil {
			return err
		}
		logger.Info("inconclusive verdict exhausted attempts, reopening job", "submission_id", sub.ID)
		return tx.ReopenJob(ctx, sub.JobID)
	}
	return tx.SetSubmissionState(ctx, sub.ID, model.SubmissionFailed)
}

// verificationRequestedPayload is the verification.requested outbox event
// body scheduled by Submit and onFailOrInconclusive.
type verificationRequestedPayload struct {
	SubmissionID  string `json:"submission_id"`
	AttemptNumber int    `json:"attempt_number"`
}

// HandleVerificationRequested drains a verification.requested outbox event:
// it claims the verification, posts it to the verifier gateway, and records
// the gateway's verdict. Claim and Verdict each run in their own store
// transaction; the gateway call in between holds no lock, since it's an
// external round trip that can take as long as the browser harness needs.
func (c *Coordinator) HandleVerificationRequested(ctx context.Context, payload []byte) error {
	if c.gateway == nil {
		return apperr.New(apperr.PermanentBusiness, "verification_gateway_unconfigured", "no verifier gateway client configured")
	}
	var req verificationRequestedPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperr.Wrap(apperr.ValidationFailure, "verification_requested_payload_invalid", "could not decode verification.requested payload", err)
	}

	claim, err := c.Claim(ctx, ClaimRequest{
		SubmissionID:   req.SubmissionID,
		AttemptNumber:  req.AttemptNumber,
		IdempotencyKey: req.SubmissionID + ":" + itoa(req.AttemptNumber) + ":claim",
	})
	if err != nil {
		return err
	}

	var jobSpec json.RawMessage
	err = c.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		job, err := tx.GetJobForUpdate(ctx, claim.Submission.JobID)
		if err != nil {
			return err
		}
		jobSpec = job.TaskDescriptor
		return nil
	})
	if err != nil {
		return err
	}

	submission := mustJSON(map[string]interface{}{
		"manifest":      claim.Submission.Manifest,
		"artifactIndex": claim.Submission.ArtifactIndex,
		"attemptNumber": claim.Submission.AttemptNumber,
	})

	result, err := c.gateway.Run(ctx, claim.VerificationID, req.SubmissionID, req.AttemptNumber, jobSpec, submission)
	if err != nil {
		return err
	}

	return c.Verdict(ctx, VerdictRequest{
		VerificationID: claim.VerificationID,
		ClaimToken:     claim.ClaimToken,
		Verdict:        result.Verdict,
		Scorecard:      result.Scorecard,
		RunMetadata:    result.RunMetadata,
	})
}

// newClaimToken returns a base64-encoded 128-bit random claim token, per
// the opaque server-generated claim token requirement.
func newClaimToken() (string, error) {
	b, err := gouuid.GenerateRandomBytes(16)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
