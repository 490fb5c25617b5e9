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

// Package store defines the transactional persistence contract used by
// every engine package: begin/commit/rollback, row-level locking on named
// entities, idempotent unique-key inserts and conditional updates keyed on
// expected prior state. Every side-effect-producing operation elsewhere in
// the engine runs inside a Store transaction that both mutates domain
// state and inserts the outbox row that triggers the external side effect.
package store

import (
	"context"
	"time"

	"github.com/proofwork/proofwork/internal/model"
)

// Store opens transactions. The concrete implementation (mysql.go) wraps a
// *gorm.DB; storetest.Fake wraps an in-memory map for unit tests that don't
// need a real database.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside a transaction. Every method
// here corresponds 1:1 to an operation named in the component design.
type Tx interface {
	// Outbox
	ScheduleOutbox(ctx context.Context, topic, idempotencyKey string, payload []byte, availableAt time.Time) error
	ClaimOpenOutbox(ctx context.Context, topics []string, workerID string, limit int, lockTTL time.Duration) ([]*model.OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id int64) error
	RescheduleOutbox(ctx context.Context, id int64, lastError string, delay time.Duration) error
	MarkOutboxDead(ctx context.Context, id int64, lastError string) error
	GetOutboxForPayout(ctx context.Context, payoutID string) (*model.OutboxEvent, error)
	MarkOutboxSentByIdempotencyKey(ctx context.Context, topic, idempotencyKey string) error
	OutboxPendingOlderThan(ctx context.Context, age time.Duration) (int, error)

	// VerifierBacklog reports how many submissions are stuck in "verifying"
	// and the age in seconds of the oldest one, for the backpressure gate.
	VerifierBacklog(ctx context.Context) (count int, oldestAgeSec int64, err error)

	// ArtifactScanBacklogAge reports the age in seconds of the oldest
	// artifact still in "scanning", or 0 if none are pending.
	ArtifactScanBacklogAge(ctx context.Context) (oldestAgeSec int64, err error)

	// Bounty / Org
	GetOrg(ctx context.Context, id string) (*model.Org, error)
	GetBounty(ctx context.Context, id string) (*model.Bounty, error)
	CreditOrgBalance(ctx context.Context, orgID string, amount model.Cents) error
	CountPassedSubmissionsForBounty(ctx context.Context, bountyID string) (int, error)

	// Job queue
	FindClaimableJobs(ctx context.Context, filter JobFilter, limit int) ([]*model.Job, error)
	GetJobForUpdate(ctx context.Context, jobID string) (*model.Job, error)
	ClaimJobForWorker(ctx context.Context, jobID, workerID string, leaseSec int64) (*model.Job, error)
	ReapExpiredLeases(ctx context.Context, now time.Time) (int, error)
	MarkJobDone(ctx context.Context, jobID string, verdict model.Verdict) error
	ReopenJob(ctx context.Context, jobID string) error
	SetJobSubmitted(ctx context.Context, jobID, workerID string) error

	// Submission / Verification
	WriteSubmission(ctx context.Context, sub *model.Submission, idempotencyKey string) (*model.Submission, bool, error)
	GetSubmissionForUpdate(ctx context.Context, submissionID string) (*model.Submission, error)
	OpenVerification(ctx context.Context, v *model.Verification, idempotencyKey string) (*model.Verification, bool, error)
	GetVerificationByClaimToken(ctx context.Context, verificationID, claimToken string) (*model.Verification, error)
	PostVerdict(ctx context.Context, verificationID string, verdict model.Verdict, sc *model.Scorecard, runMeta []byte) error
	SetSubmissionState(ctx context.Context, submissionID string, state model.SubmissionState) error
	SetSubmissionPayoutStatus(ctx context.Context, submissionID, payoutStatus string) error

	// Worker
	GetWorker(ctx context.Context, workerID string) (*model.Worker, error)
	GetWorkerByTokenPrefix(ctx context.Context, prefix string) (*model.Worker, error)
	SetWorkerPayoutAddress(ctx context.Context, workerID, chain, address string) error
	FindBlockedPayoutsForWorker(ctx context.Context, workerID string, reason model.BlockedReason) ([]*model.Payout, error)

	// Payout
	CreatePayout(ctx context.Context, p *model.Payout) error
	GetPayoutForUpdate(ctx context.Context, payoutID string) (*model.Payout, error)
	MarkPayout(ctx context.Context, payoutID string, state model.PayoutState, blocked model.BlockedReason, providerRef string) error
	SetPayoutHold(ctx context.Context, payoutID string, holdUntil time.Time) error

	// Nonce / transfers
	AllocateNonce(ctx context.Context, chainID int64, from string, reconcile func(stored uint64) (uint64, error)) (uint64, error)
	UpsertTransfer(ctx context.Context, t *model.PayoutTransfer) error
	GetTransfersForPayout(ctx context.Context, payoutID string) ([]*model.PayoutTransfer, error)
	MarkTransfersState(ctx context.Context, payoutID string, state model.TransferState) error

	// Dispute
	CreateDispute(ctx context.Context, d *model.Dispute) error
	GetDisputeForUpdate(ctx context.Context, disputeID string) (*model.Dispute, error)
	SetDisputeState(ctx context.Context, disputeID string, state model.DisputeState) error

	// Hot settings (design note §9: "hot toggles... small state table with
	// per-row versioning")
	GetHotSetting(ctx context.Context, key string) (value string, version int64, err error)
	SetHotSetting(ctx context.Context, key, value string) error

	// Artifact lifecycle
	CreateArtifactUpload(ctx context.Context, artifactID, uploaderID string) error
	SetArtifactState(ctx context.Context, artifactID, state string) error
	GetArtifactState(ctx context.Context, artifactID string) (string, error)
}

// JobFilter narrows FindClaimableJobs, mirroring the next() query
// parameters from the external interfaces section.
type JobFilter struct {
	WorkerCaps        []string
	RequireTag        string
	MinRewardCents    model.Cents
	RequireTaskType   string
	CanaryPercent     int
	Now               time.Time
}
