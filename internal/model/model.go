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

// Package model holds the entities of the job lifecycle and settlement
// engine described in the data model spec: Org, Bounty, Job, Worker,
// Submission, Verification, Payout, PayoutTransfer, Dispute, OutboxEvent
// and CryptoNonce.
package model

import (
	"encoding/json"
	"time"

	uuid "github.com/satori/go.uuid"
)

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewV4().String()
}

// Cents is an integer amount of US-cent-equivalent currency units.
type Cents int64

// BasisPoints is an integer in [0, 10000].
type BasisPoints int

type Org struct {
	ID               string
	BillingBalance   Cents
	PlatformFeeBps   BasisPoints
	PlatformFeeWallet string // empty if unset
	CreatedAt        time.Time
}

type BountyState string

const (
	BountyDraft     BountyState = "draft"
	BountyPublished BountyState = "published"
	BountyClosed    BountyState = "closed"
)

type Bounty struct {
	ID                      string
	OrgID                   string
	RewardPerProofCents     Cents
	RequiredProofs          int
	AllowedOrigins          []string
	RequiredFingerprintCls  []string
	DisputeWindowSec        int64
	TaskDescriptor          json.RawMessage // validated at ingress, opaque at rest
	State                   BountyState
	CreatedAt               time.Time
}

type JobState string

const (
	JobOpen      JobState = "open"
	JobClaimed   JobState = "claimed"
	JobSubmitted JobState = "submitted"
	JobDone      JobState = "done"
	JobCancelled JobState = "cancelled"
)

type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInconclusive Verdict = "inconclusive"
)

type Job struct {
	ID                string
	BountyID          string
	TaskDescriptor    json.RawMessage
	State             JobState
	ClaimHolder       string // worker id, empty if none
	LeaseExpiresAt    *time.Time
	FreshnessDeadline *time.Time
	FinalVerdict      *Verdict
	CreatedAt         time.Time
}

// Stale reports whether the job has passed its freshness deadline.
func (j *Job) Stale(now time.Time) bool {
	return j.FreshnessDeadline != nil && now.After(*j.FreshnessDeadline)
}

// Claimable reports whether a claim attempt on j may succeed right now,
// ignoring the row lock itself (callers must still hold it).
func (j *Job) Claimable(now time.Time) bool {
	if j.Stale(now) {
		return false
	}
	if j.State == JobOpen {
		return true
	}
	if j.State == JobClaimed && j.LeaseExpiresAt != nil && now.After(*j.LeaseExpiresAt) {
		return true
	}
	return false
}

type Worker struct {
	ID                 string
	TokenPrefix        string
	TokenHMAC          []byte
	PepperVersion      int
	CapabilityTags     []string
	PayoutChain        string
	PayoutAddress      string
	PayoutVerifiedAt   *time.Time
	Disabled           bool
}

type SubmissionState string

const (
	SubmissionPending    SubmissionState = "pending"
	SubmissionVerifying  SubmissionState = "verifying"
	SubmissionPassed     SubmissionState = "passed"
	SubmissionFailed     SubmissionState = "failed"
	SubmissionInconclusive SubmissionState = "inconclusive"
)

type ArtifactRef struct {
	ID    string
	Kind  string
	Label string
}

type Submission struct {
	ID            string
	JobID         string
	WorkerID      string
	Manifest      json.RawMessage
	ArtifactIndex []ArtifactRef
	AttemptNumber int
	State         SubmissionState
	PayoutStatus  string // "", "reversed"
	CreatedAt     time.Time
}

type Scorecard struct {
	Repro         float64
	Evidence      float64
	Accuracy      float64
	Novelty       float64
	Traceability  float64
	QualityScore  float64 // 0..100
}

type Verification struct {
	ID            string
	SubmissionID  string
	AttemptNumber int
	ClaimToken    string
	ClaimExpiry   time.Time
	Verdict       *Verdict
	Scorecard     *Scorecard
	RunMetadata   json.RawMessage
	CreatedAt     time.Time
	FinishedAt    *time.Time
}

type PayoutState string

const (
	PayoutPending  PayoutState = "pending"
	PayoutPaid     PayoutState = "paid"
	PayoutFailed   PayoutState = "failed"
	PayoutRefunded PayoutState = "refunded"
)

type BlockedReason string

const (
	BlockedNone                   BlockedReason = ""
	BlockedWorkerPayoutAddrMissing BlockedReason = "worker_payout_address_missing"
	BlockedDisputeOpen            BlockedReason = "dispute_open"
	BlockedInsufficientFunds      BlockedReason = "insufficient_funds"
)

type Payout struct {
	ID                string
	SubmissionID      string
	WorkerID          string
	GrossCents        Cents
	NetCents          Cents
	PlatformFeeCents  Cents
	PlatformFeeBps    BasisPoints
	PlatformFeeWallet string
	ProofworkFeeCents Cents
	ProofworkFeeBps   BasisPoints
	ProofworkFeeWallet string
	Provider          string
	ProviderRef       string
	State             PayoutState
	BlockedReason     BlockedReason
	HoldUntil         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type TransferKind string

const (
	TransferNet          TransferKind = "net"
	TransferPlatformFee  TransferKind = "platform_fee"
	TransferProofworkFee TransferKind = "proofwork_fee"
)

type TransferState string

const (
	TransferBroadcast TransferState = "broadcast"
	TransferConfirmed TransferState = "confirmed"
	TransferFailed    TransferState = "failed"
)

type PayoutTransfer struct {
	ID        string
	PayoutID  string
	Kind      TransferKind
	From      string
	To        string
	TokenID   string
	Amount    string // token base units, decimal string (big.Int)
	TxHash    string
	Nonce     uint64
	State     TransferState
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DisputeState string

const (
	DisputeOpen            DisputeState = "open"
	DisputeResolvedRefund  DisputeState = "resolved_refund"
	DisputeResolvedUphold  DisputeState = "resolved_uphold"
	DisputeCancelled       DisputeState = "cancelled"
)

type Dispute struct {
	ID         string
	BountyID   string
	PayoutID   string
	State      DisputeState
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

type OutboxState string

const (
	OutboxPending    OutboxState = "pending"
	OutboxProcessing OutboxState = "processing"
	OutboxSent       OutboxState = "sent"
	OutboxDeadletter OutboxState = "deadletter"
)

type OutboxEvent struct {
	ID             int64
	Topic          string
	IdempotencyKey string
	Payload        json.RawMessage
	State          OutboxState
	Attempts       int
	AvailableAt    time.Time
	LockedAt       *time.Time
	LockedBy       string
	LastError      string
	CreatedAt      time.Time
	SentAt         *time.Time
}

// CryptoNonce tracks the next nonce to use for (chainID, fromAddress).
type CryptoNonce struct {
	ChainID     int64
	FromAddress string
	NextNonce   uint64
}
