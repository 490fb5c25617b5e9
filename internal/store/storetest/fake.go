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

// Package storetest provides an in-memory store.Store used by unit tests
// across outbox, jobqueue, verification, payout and dispute. It enforces
// the same "one transaction at a time" discipline as a real row-locked
// database by holding a single mutex for the lifetime of each WithTx call,
// which is sufficient to exercise the concurrency invariants in the
// testable properties section (exactly one of two concurrent claims wins).
package storetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
)

type Fake struct {
	mu sync.Mutex

	orgs          map[string]*model.Org
	bounties      map[string]*model.Bounty
	jobs          map[string]*model.Job
	workers       map[string]*model.Worker
	submissions   map[string]*model.Submission
	subIdempotent map[string]string // idempotencyKey -> submissionID
	verifications map[string]*model.Verification
	payouts       map[string]*model.Payout
	transfers     map[string][]*model.PayoutTransfer
	disputes      map[string]*model.Dispute
	nonces        map[string]uint64
	outbox        map[int64]*model.OutboxEvent
	outboxByKey   map[string]int64 // topic+":"+key -> id
	hotSettings   map[string]hotSetting
	artifacts     map[string]string
	artifactCreatedAt map[string]time.Time
	nextOutboxID  int64
}

type hotSetting struct {
	value   string
	version int64
}

func New() *Fake {
	return &Fake{
		orgs:          map[string]*model.Org{},
		bounties:      map[string]*model.Bounty{},
		jobs:          map[string]*model.Job{},
		workers:       map[string]*model.Worker{},
		submissions:   map[string]*model.Submission{},
		subIdempotent: map[string]string{},
		verifications: map[string]*model.Verification{},
		payouts:       map[string]*model.Payout{},
		transfers:     map[string][]*model.PayoutTransfer{},
		disputes:      map[string]*model.Dispute{},
		nonces:        map[string]uint64{},
		outbox:        map[int64]*model.OutboxEvent{},
		outboxByKey:   map[string]int64{},
		hotSettings:   map[string]hotSetting{},
		artifacts:     map[string]string{},
		artifactCreatedAt: map[string]time.Time{},
	}
}

// --- Store ---

func (f *Fake) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx, (*fakeTx)(f))
}

// Seed helpers for tests to populate state outside a transaction.
func (f *Fake) PutOrg(o *model.Org)           { f.mu.Lock(); defer f.mu.Unlock(); f.orgs[o.ID] = o }
func (f *Fake) PutBounty(b *model.Bounty)     { f.mu.Lock(); defer f.mu.Unlock(); f.bounties[b.ID] = b }
func (f *Fake) PutJob(j *model.Job)           { f.mu.Lock(); defer f.mu.Unlock(); f.jobs[j.ID] = j }
func (f *Fake) PutWorker(w *model.Worker)     { f.mu.Lock(); defer f.mu.Unlock(); f.workers[w.ID] = w }
func (f *Fake) PutPayout(p *model.Payout)     { f.mu.Lock(); defer f.mu.Unlock(); f.payouts[p.ID] = p }
func (f *Fake) PutSubmission(s *model.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions[s.ID] = s
}
func (f *Fake) GetJobSnapshot(id string) *model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := *f.jobs[id]
	return &j
}
func (f *Fake) GetOrgSnapshot(id string) *model.Org {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := *f.orgs[id]
	return &o
}
func (f *Fake) GetPayoutSnapshot(id string) *model.Payout {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := *f.payouts[id]
	return &p
}
func (f *Fake) TransfersSnapshot(payoutID string) []*model.PayoutTransfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.PayoutTransfer(nil), f.transfers[payoutID]...)
}
func (f *Fake) OutboxSnapshot() []*model.OutboxEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.OutboxEvent, 0, len(f.outbox))
	for _, e := range f.outbox {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// fakeTx implements store.Tx over *Fake while the caller already holds
// f.mu (taken by WithTx for the duration of the callback).
type fakeTx Fake

func (f *Fake) tx() *fakeTx { return (*fakeTx)(f) }

func (t *fakeTx) f() *Fake { return (*Fake)(t) }

// --- Outbox ---

func (t *fakeTx) ScheduleOutbox(ctx context.Context, topic, idempotencyKey string, payload []byte, availableAt time.Time) error {
	f := t.f()
	key := topic + ":" + idempotencyKey
	if _, exists := f.outboxByKey[key]; exists {
		return nil // ON CONFLICT DO NOTHING
	}
	f.nextOutboxID++
	id := f.nextOutboxID
	f.outbox[id] = &model.OutboxEvent{
		ID: id, Topic: topic, IdempotencyKey: idempotencyKey,
		Payload: payload, State: model.OutboxPending,
		AvailableAt: availableAt, CreatedAt: time.Now(),
	}
	f.outboxByKey[key] = id
	return nil
}

func (t *fakeTx) ClaimOpenOutbox(ctx context.Context, topics []string, workerID string, limit int, lockTTL time.Duration) ([]*model.OutboxEvent, error) {
	f := t.f()
	now := time.Now()
	topicSet := map[string]bool{}
	for _, tp := range topics {
		topicSet[tp] = true
	}
	// Release stale processing locks.
	for _, e := range f.outbox {
		if e.State == model.OutboxProcessing && e.LockedAt != nil && now.Sub(*e.LockedAt) > lockTTL {
			e.State = model.OutboxPending
			e.LockedAt = nil
			e.LockedBy = ""
		}
	}
	ids := make([]int64, 0, len(f.outbox))
	for id, e := range f.outbox {
		if e.State == model.OutboxPending && !e.AvailableAt.After(now) && (len(topicSet) == 0 || topicSet[e.Topic]) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	claimed := make([]*model.OutboxEvent, 0, len(ids))
	for _, id := range ids {
		e := f.outbox[id]
		e.State = model.OutboxProcessing
		e.LockedAt = &now
		e.LockedBy = workerID
		e.Attempts++
		cp := *e
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (t *fakeTx) MarkOutboxSent(ctx context.Context, id int64) error {
	f := t.f()
	e, ok := f.outbox[id]
	if !ok {
		return apperr.New(apperr.Conflict, "outbox_not_found", "no such outbox row")
	}
	now := time.Now()
	e.State = model.OutboxSent
	e.SentAt = &now
	return nil
}

func (t *fakeTx) RescheduleOutbox(ctx context.Context, id int64, lastError string, delay time.Duration) error {
	f := t.f()
	e, ok := f.outbox[id]
	if !ok {
		return apperr.New(apperr.Conflict, "outbox_not_found", "no such outbox row")
	}
	e.State = model.OutboxPending
	e.LastError = lastError
	e.AvailableAt = time.Now().Add(delay)
	e.LockedAt = nil
	e.LockedBy = ""
	return nil
}

func (t *fakeTx) MarkOutboxDead(ctx context.Context, id int64, lastError string) error {
	f := t.f()
	e, ok := f.outbox[id]
	if !ok {
		return apperr.New(apperr.Conflict, "outbox_not_found", "no such outbox row")
	}
	e.State = model.OutboxDeadletter
	e.LastError = lastError
	return nil
}

func (t *fakeTx) GetOutboxForPayout(ctx context.Context, payoutID string) (*model.OutboxEvent, error) {
	f := t.f()
	id, ok := f.outboxByKey["payout.requested:payout:"+payoutID]
	if !ok {
		return nil, nil
	}
	e := f.outbox[id]
	cp := *e
	return &cp, nil
}

func (t *fakeTx) MarkOutboxSentByIdempotencyKey(ctx context.Context, topic, idempotencyKey string) error {
	f := t.f()
	id, ok := f.outboxByKey[topic+":"+idempotencyKey]
	if !ok {
		return nil
	}
	return t.MarkOutboxSent(ctx, id)
}

func (t *fakeTx) OutboxPendingOlderThan(ctx context.Context, age time.Duration) (int, error) {
	f := t.f()
	cutoff := time.Now().Add(-age)
	n := 0
	for _, e := range f.outbox {
		if e.State == model.OutboxPending && e.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) VerifierBacklog(ctx context.Context) (int, int64, error) {
	f := t.f()
	now := time.Now()
	count := 0
	var oldestAgeSec int64
	for _, v := range f.verifications {
		if v.FinishedAt != nil {
			continue
		}
		count++
		age := int64(now.Sub(v.CreatedAt).Seconds())
		if age > oldestAgeSec {
			oldestAgeSec = age
		}
	}
	return count, oldestAgeSec, nil
}

func (t *fakeTx) ArtifactScanBacklogAge(ctx context.Context) (int64, error) {
	f := t.f()
	now := time.Now()
	var oldestAgeSec int64
	for id, state := range f.artifacts {
		if state != "scanning" {
			continue
		}
		age := int64(now.Sub(f.artifactCreatedAt[id]).Seconds())
		if age > oldestAgeSec {
			oldestAgeSec = age
		}
	}
	return oldestAgeSec, nil
}

// --- Org / Bounty ---

func (t *fakeTx) GetOrg(ctx context.Context, id string) (*model.Org, error) {
	f := t.f()
	o, ok := f.orgs[id]
	if !ok {
		return nil, apperr.New(apperr.Conflict, "org_not_found", "no such org")
	}
	cp := *o
	return &cp, nil
}

func (t *fakeTx) GetBounty(ctx context.Context, id string) (*model.Bounty, error) {
	f := t.f()
	b, ok := f.bounties[id]
	if !ok {
		return nil, apperr.New(apperr.Conflict, "bounty_not_found", "no such bounty")
	}
	cp := *b
	return &cp, nil
}

func (t *fakeTx) CreditOrgBalance(ctx context.Context, orgID string, amount model.Cents) error {
	f := t.f()
	o, ok := f.orgs[orgID]
	if !ok {
		return apperr.New(apperr.Conflict, "org_not_found", "no such org")
	}
	o.BillingBalance += amount
	return nil
}

func (t *fakeTx) CountPassedSubmissionsForBounty(ctx context.Context, bountyID string) (int, error) {
	f := t.f()
	n := 0
	for _, s := range f.submissions {
		if s.State != model.SubmissionPassed {
			continue
		}
		j, ok := f.jobs[s.JobID]
		if ok && j.BountyID == bountyID {
			n++
		}
	}
	return n, nil
}

// --- Job queue ---

func (t *fakeTx) FindClaimableJobs(ctx context.Context, filter store.JobFilter, limit int) ([]*model.Job, error) {
	f := t.f()
	out := make([]*model.Job, 0, limit)
	ids := make([]string, 0, len(f.jobs))
	for id := range f.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		j := f.jobs[id]
		if !j.Claimable(filter.Now) {
			continue
		}
		if !jobMatchesFilter(j, f.bounties[j.BountyID], filter) {
			continue
		}
		out = append(out, j)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// jobMatchesFilter mirrors the SQL predicates mysqlTx.FindClaimableJobs
// applies: required capability tag and task type read from the job's own
// descriptor, minimum reward read from the owning bounty.
func jobMatchesFilter(j *model.Job, bounty *model.Bounty, filter store.JobFilter) bool {
	var d struct {
		Type           string   `json:"type"`
		CapabilityTags []string `json:"capability_tags"`
	}
	if filter.RequireTag != "" || filter.RequireTaskType != "" {
		_ = json.Unmarshal(j.TaskDescriptor, &d)
	}
	if filter.RequireTag != "" {
		found := false
		for _, t := range d.CapabilityTags {
			if t == filter.RequireTag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.RequireTaskType != "" && d.Type != filter.RequireTaskType {
		return false
	}
	if filter.MinRewardCents > 0 && (bounty == nil || bounty.RewardPerProofCents < filter.MinRewardCents) {
		return false
	}
	return true
}

func (t *fakeTx) GetJobForUpdate(ctx context.Context, jobID string) (*model.Job, error) {
	f := t.f()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, apperr.New(apperr.Conflict, "job_not_found", "no such job")
	}
	cp := *j
	return &cp, nil
}

func (t *fakeTx) ClaimJobForWorker(ctx context.Context, jobID, workerID string, leaseSec int64) (*model.Job, error) {
	f := t.f()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, apperr.New(apperr.Conflict, "job_not_found", "no such job")
	}
	now := time.Now()
	if j.Stale(now) {
		return nil, apperr.ErrStaleJob
	}
	if !j.Claimable(now) {
		return nil, apperr.ErrLostRace
	}
	expiry := now.Add(time.Duration(leaseSec) * time.Second)
	j.State = model.JobClaimed
	j.ClaimHolder = workerID
	j.LeaseExpiresAt = &expiry
	cp := *j
	return &cp, nil
}

func (t *fakeTx) ReapExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	f := t.f()
	n := 0
	for _, j := range f.jobs {
		if j.State == model.JobClaimed && j.LeaseExpiresAt != nil && now.After(*j.LeaseExpiresAt) {
			j.State = model.JobOpen
			j.ClaimHolder = ""
			j.LeaseExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) MarkJobDone(ctx context.Context, jobID string, verdict model.Verdict) error {
	f := t.f()
	j, ok := f.jobs[jobID]
	if !ok {
		return apperr.New(apperr.Conflict, "job_not_found", "no such job")
	}
	j.State = model.JobDone
	j.FinalVerdict = &verdict
	return nil
}

func (t *fakeTx) SetJobSubmitted(ctx context.Context, jobID, workerID string) error {
	f := t.f()
	j, ok := f.jobs[jobID]
	if !ok {
		return apperr.New(apperr.Conflict, "job_not_found", "no such job")
	}
	if j.State != model.JobClaimed || j.ClaimHolder != workerID {
		return apperr.ErrLostRace
	}
	j.State = model.JobSubmitted
	return nil
}

func (t *fakeTx) ReopenJob(ctx context.Context, jobID string) error {
	f := t.f()
	j, ok := f.jobs[jobID]
	if !ok {
		return apperr.New(apperr.Conflict, "job_not_found", "no such job")
	}
	j.State = model.JobOpen
	j.ClaimHolder = ""
	j.LeaseExpiresAt = nil
	return nil
}

// --- Submission / Verification ---

func (t *fakeTx) WriteSubmission(ctx context.Context, sub *model.Submission, idempotencyKey string) (*model.Submission, bool, error) {
	f := t.f()
	if existingID, ok := f.subIdempotent[idempotencyKey]; ok {
		existing := f.submissions[existingID]
		cp := *existing
		return &cp, false, nil
	}
	if sub.ID == "" {
		sub.ID = model.NewID()
	}
	sub.CreatedAt = time.Now()
	cp := *sub
	f.submissions[sub.ID] = &cp
	f.subIdempotent[idempotencyKey] = sub.ID
	out := cp
	return &out, true, nil
}

func (t *fakeTx) GetSubmissionForUpdate(ctx context.Context, submissionID string) (*model.Submission, error) {
	f := t.f()
	s, ok := f.submissions[submissionID]
	if !ok {
		return nil, apperr.New(apperr.Conflict, "submission_not_found", "no such submission")
	}
	cp := *s
	return &cp, nil
}

func (t *fakeTx) OpenVerification(ctx context.Context, v *model.Verification, idempotencyKey string) (*model.Verification, bool, error) {
	f := t.f()
	key := "verify:" + idempotencyKey
	if existingID, ok := f.outboxByKey[key]; ok {
		// reuse outboxByKey map as a general idempotency index keyed by a
		// distinct prefix; value holds an index into verifications by id
		// stored as string in LockedBy for simplicity of this test double.
		_ = existingID
	}
	for _, existing := range f.verifications {
		if existing.SubmissionID == v.SubmissionID && existing.AttemptNumber == v.AttemptNumber {
			cp := *existing
			return &cp, false, nil
		}
	}
	if v.ID == "" {
		v.ID = model.NewID()
	}
	v.CreatedAt = time.Now()
	cp := *v
	f.verifications[v.ID] = &cp
	out := cp
	return &out, true, nil
}

func (t *fakeTx) GetVerificationByClaimToken(ctx context.Context, verificationID, claimToken string) (*model.Verification, error) {
	f := t.f()
	v, ok := f.verifications[verificationID]
	if !ok || v.ClaimToken != claimToken {
		return nil, apperr.New(apperr.Conflict, "verification_claim_mismatch", "claim token does not match")
	}
	cp := *v
	return &cp, nil
}

func (t *fakeTx) PostVerdict(ctx context.Context, verificationID string, verdict model.Verdict, sc *model.Scorecard, runMeta []byte) error {
	f := t.f()
	v, ok := f.verifications[verificationID]
	if !ok {
		return apperr.New(apperr.Conflict, "verification_not_found", "no such verification")
	}
	now := time.Now()
	v.Verdict = &verdict
	v.Scorecard = sc
	v.RunMetadata = runMeta
	v.FinishedAt = &now
	return nil
}

func (t *fakeTx) SetSubmissionState(ctx context.Context, submissionID string, state model.SubmissionState) error {
	f := t.f()
	s, ok := f.submissions[submissionID]
	if !ok {
		return apperr.New(apperr.Conflict, "submission_not_found", "no such submission")
	}
	s.State = state
	return nil
}

func (t *fakeTx) SetSubmissionPayoutStatus(ctx context.Context, submissionID, payoutStatus string) error {
	f := t.f()
	s, ok := f.submissions[submissionID]
	if !ok {
		return apperr.New(apperr.Conflict, "submission_not_found", "no such submission")
	}
	s.PayoutStatus = payoutStatus
	return nil
}

// --- Worker ---

func (t *fakeTx) GetWorker(ctx context.Context, workerID string) (*model.Worker, error) {
	f := t.f()
	w, ok := f.workers[workerID]
	if !ok {
		return nil, apperr.New(apperr.Conflict, "worker_not_found", "no such worker")
	}
	cp := *w
	return &cp, nil
}

func (t *fakeTx) GetWorkerByTokenPrefix(ctx context.Context, prefix string) (*model.Worker, error) {
	f := t.f()
	for _, w := range f.workers {
		if w.TokenPrefix == prefix {
			cp := *w
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.Conflict, "worker_not_found", "no such worker")
}

func (t *fakeTx) SetWorkerPayoutAddress(ctx context.Context, workerID, chain, address string) error {
	f := t.f()
	w, ok := f.workers[workerID]
	if !ok {
		return apperr.New(apperr.Conflict, "worker_not_found", "no such worker")
	}
	now := time.Now()
	w.PayoutChain = chain
	w.PayoutAddress = address
	w.PayoutVerifiedAt = &now
	return nil
}

func (t *fakeTx) FindBlockedPayoutsForWorker(ctx context.Context, workerID string, reason model.BlockedReason) ([]*model.Payout, error) {
	f := t.f()
	var out []*model.Payout
	for _, p := range f.payouts {
		if p.WorkerID == workerID && p.BlockedReason == reason {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Payout ---

func (t *fakeTx) CreatePayout(ctx context.Context, p *model.Payout) error {
	f := t.f()
	if p.ID == "" {
		p.ID = model.NewID()
	}
	if _, exists := f.payouts[p.ID]; exists {
		return nil // ON DUPLICATE KEY UPDATE id = id
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	f.payouts[p.ID] = &cp
	return nil
}

func (t *fakeTx) GetPayoutForUpdate(ctx context.Context, payoutID string) (*model.Payout, error) {
	f := t.f()
	p, ok := f.payouts[payoutID]
	if !ok {
		return nil, apperr.New(apperr.Conflict, "payout_not_found", "no such payout")
	}
	cp := *p
	return &cp, nil
}

func (t *fakeTx) MarkPayout(ctx context.Context, payoutID string, state model.PayoutState, blocked model.BlockedReason, providerRef string) error {
	f := t.f()
	p, ok := f.payouts[payoutID]
	if !ok {
		return apperr.New(apperr.Conflict, "payout_not_found", "no such payout")
	}
	p.State = state
	p.BlockedReason = blocked
	if providerRef != "" {
		p.ProviderRef = providerRef
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (t *fakeTx) SetPayoutHold(ctx context.Context, payoutID string, holdUntil time.Time) error {
	f := t.f()
	p, ok := f.payouts[payoutID]
	if !ok {
		return apperr.New(apperr.Conflict, "payout_not_found", "no such payout")
	}
	p.HoldUntil = &holdUntil
	return nil
}

// --- Nonce / transfers ---

func (t *fakeTx) AllocateNonce(ctx context.Context, chainID int64, from string, reconcile func(stored uint64) (uint64, error)) (uint64, error) {
	f := t.f()
	key := from
	stored := f.nonces[key]
	next, err := reconcile(stored)
	if err != nil {
		return 0, err
	}
	f.nonces[key] = next + 1
	return next, nil
}

func (t *fakeTx) UpsertTransfer(ctx context.Context, tr *model.PayoutTransfer) error {
	f := t.f()
	list := f.transfers[tr.PayoutID]
	for i, existing := range list {
		if existing.Kind == tr.Kind {
			cp := *tr
			cp.UpdatedAt = time.Now()
			list[i] = &cp
			return nil
		}
	}
	if tr.ID == "" {
		tr.ID = model.NewID()
	}
	tr.CreatedAt = time.Now()
	tr.UpdatedAt = tr.CreatedAt
	cp := *tr
	f.transfers[tr.PayoutID] = append(list, &cp)
	return nil
}

func (t *fakeTx) GetTransfersForPayout(ctx context.Context, payoutID string) ([]*model.PayoutTransfer, error) {
	f := t.f()
	return append([]*model.PayoutTransfer(nil), f.transfers[payoutID]...), nil
}

func (t *fakeTx) MarkTransfersState(ctx context.Context, payoutID string, state model.TransferState) error {
	f := t.f()
	for _, tr := range f.transfers[payoutID] {
		tr.State = state
		tr.UpdatedAt = time.Now()
	}
	return nil
}

// --- Dispute ---

func (t *fakeTx) CreateDispute(ctx context.Context, d *model.Dispute) error {
	f := t.f()
	if d.ID == "" {
		d.ID = model.NewID()
	}
	d.CreatedAt = time.Now()
	cp := *d
	f.disputes[d.ID] = &cp
	return nil
}

func (t *fakeTx) GetDisputeForUpdate(ctx context.Context, disputeID string) (*model.Dispute, error) {
	f := t.f()
	d, ok := f.disputes[disputeID]
	if !ok {
		return nil, apperr.New(apperr.Conflict, "dispute_not_found", "no such dispute")
	}
	cp := *d
	return &cp, nil
}

func (t *fakeTx) SetDisputeState(ctx context.Context, disputeID string, state model.DisputeState) error {
	f := t.f()
	d, ok := f.disputes[disputeID]
	if !ok {
		return apperr.New(apperr.Conflict, "dispute_not_found", "no such dispute")
	}
	d.State = state
	now := time.Now()
	if state != model.DisputeOpen {
		d.ResolvedAt = &now
	}
	return nil
}

// --- Hot settings ---

func (t *fakeTx) GetHotSetting(ctx context.Context, key string) (string, int64, error) {
	f := t.f()
	hs, ok := f.hotSettings[key]
	if !ok {
		return "", 0, nil
	}
	return hs.value, hs.version, nil
}

func (t *fakeTx) SetHotSetting(ctx context.Context, key, value string) error {
	f := t.f()
	hs := f.hotSettings[key]
	hs.value = value
	hs.version++
	f.hotSettings[key] = hs
	return nil
}

// --- Artifact ---

func (t *fakeTx) CreateArtifactUpload(ctx context.Context, artifactID, uploaderID string) error {
	f := t.f()
	f.artifacts[artifactID] = "uploaded"
	f.artifactCreatedAt[artifactID] = time.Now()
	return nil
}

func (t *fakeTx) SetArtifactState(ctx context.Context, artifactID, state string) error {
	f := t.f()
	f.artifacts[artifactID] = state
	return nil
}

func (t *fakeTx) GetArtifactState(ctx context.Context, artifactID string) (string, error) {
	f := t.f()
	s, ok := f.artifacts[artifactID]
	if !ok {
		return "", apperr.New(apperr.Conflict, "artifact_not_found", "no such artifact")
	}
	return s, nil
}

var _ store.Store = (*Fake)(nil)
var _ store.Tx = (*fakeTx)(nil)
