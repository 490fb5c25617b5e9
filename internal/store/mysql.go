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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/log"
	"github.com/proofwork/proofwork/internal/model"
)

var logger = log.NewModuleLogger(log.Store)

// MySQLStore is a thin wrapper over *gorm.DB. The bulk-CRUD entities (Org,
// Bounty, Worker, Dispute) go through gorm's query builder; the lock-precise
// hot paths (outbox claim, job claim, nonce allocation) drop to hand-written
// SQL via Exec/Raw so the exact row-locking clause is visible and auditable.
type MySQLStore struct {
	db *gorm.DB
}

// Open dials MySQL via the go-sql-driver/mysql DSN and returns a ready
// MySQLStore. Callers should arrange for db.SetMaxOpenConns /
// SetConnMaxLifetime on the pool via Raw("SET ...") or gorm.DB.DB() as
// operational needs dictate; defaults are left to the driver.
func Open(dsn string) (*MySQLStore, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "mysql_open_failed", "could not open mysql connection", err)
	}
	db.SetLogger(gormLogAdapter{})
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	gtx := s.db.BeginTx(ctx, nil)
	if gtx.Error != nil {
		return apperr.Wrap(apperr.Transient, "mysql_begin_failed", "could not begin transaction", gtx.Error)
	}
	mtx := &mysqlTx{db: gtx}
	if err := fn(ctx, mtx); err != nil {
		if rerr := gtx.Rollback().Error; rerr != nil {
			logger.Warn("rollback failed", "cause", err, "rollback_error", rerr)
		}
		return err
	}
	if err := gtx.Commit().Error; err != nil {
		return apperr.Wrap(apperr.Transient, "mysql_commit_failed", "could not commit transaction", err)
	}
	return nil
}

type mysqlTx struct {
	db *gorm.DB
}

// gormLogAdapter routes gorm's internal logging through the module logger
// instead of gorm's default stdlib-log writer.
type gormLogAdapter struct{}

func (gormLogAdapter) Print(v ...interface{}) {
	logger.Debug("gorm", "entry", v)
}

// --- Outbox ---

func (t *mysqlTx) ScheduleOutbox(ctx context.Context, topic, idempotencyKey string, payload []byte, availableAt time.Time) error {
	err := t.db.Exec(
		`INSERT INTO outbox_events (topic, idempotency_key, payload, state, attempts, available_at, created_at)
		 VALUES (?, ?, ?, 'pending', 0, ?, NOW())
		 ON DUPLICATE KEY UPDATE id = id`,
		topic, idempotencyKey, payload, availableAt,
	).Error
	if err != nil {
		return apperr.Wrap(apperr.Transient, "outbox_schedule_failed", "could not schedule outbox event", err)
	}
	return nil
}

func (t *mysqlTx) ClaimOpenOutbox(ctx context.Context, topics []string, workerID string, limit int, lockTTL time.Duration) ([]*model.OutboxEvent, error) {
	if _, err := t.releaseStaleOutboxLocks(lockTTL); err != nil {
		return nil, err
	}

	placeholders := ""
	args := make([]interface{}, 0, len(topics)+2)
	for i, tp := range topics {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, tp)
	}
	args = append(args, limit)

	whereTopic := ""
	if len(topics) > 0 {
		whereTopic = "AND topic IN (" + placeholders + ")"
	}

	var rows []outboxRow
	q := `SELECT id, topic, idempotency_key, payload, state, attempts, available_at,
	             locked_at, locked_by, last_error, created_at, sent_at
	      FROM outbox_events
	      WHERE state = 'pending' AND available_at <= NOW() ` + whereTopic + `
	      ORDER BY id ASC LIMIT ? FOR UPDATE SKIP LOCKED`
	if err := t.db.Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Transient, "outbox_claim_query_failed", "could not query claimable outbox rows", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	if err := t.db.Exec(
		`UPDATE outbox_events SET state = 'processing', locked_at = NOW(), locked_by = ?, attempts = attempts + 1
		 WHERE id IN (`+inClausePlaceholders(len(ids))+`)`,
		append([]interface{}{workerID}, int64SliceToArgs(ids)...)...,
	).Error; err != nil {
		return nil, apperr.Wrap(apperr.Transient, "outbox_claim_update_failed", "could not mark outbox rows processing", err)
	}

	out := make([]*model.OutboxEvent, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
		out[i].State = model.OutboxProcessing
		out[i].Attempts++
	}
	return out, nil
}

func (t *mysqlTx) releaseStaleOutboxLocks(lockTTL time.Duration) (int64, error) {
	res := t.db.Exec(
		`UPDATE outbox_events SET state = 'pending', locked_at = NULL, locked_by = ''
		 WHERE state = 'processing' AND locked_at IS NOT NULL AND locked_at < NOW() - INTERVAL ? SECOND`,
		int64(lockTTL.Seconds()),
	)
	if res.Error != nil {
		return 0, apperr.Wrap(apperr.Transient, "outbox_release_stale_failed", "could not release stale outbox locks", res.Error)
	}
	return res.RowsAffected, nil
}

func (t *mysqlTx) MarkOutboxSent(ctx context.Context, id int64) error {
	res := t.db.Exec(`UPDATE outbox_events SET state = 'sent', sent_at = NOW() WHERE id = ?`, id)
	return wrapRowsAffected(res, "outbox_not_found", "no such outbox row")
}

func (t *mysqlTx) RescheduleOutbox(ctx context.Context, id int64, lastError string, delay time.Duration) error {
	res := t.db.Exec(
		`UPDATE outbox_events SET state = 'pending', last_error = ?, available_at = NOW() + INTERVAL ? SECOND,
		 locked_at = NULL, locked_by = '' WHERE id = ?`,
		lastError, int64(delay.Seconds()), id,
	)
	return wrapRowsAffected(res, "outbox_not_found", "no such outbox row")
}

func (t *mysqlTx) MarkOutboxDead(ctx context.Context, id int64, lastError string) error {
	res := t.db.Exec(`UPDATE outbox_events SET state = 'deadletter', last_error = ? WHERE id = ?`, lastError, id)
	return wrapRowsAffected(res, "outbox_not_found", "no such outbox row")
}

func (t *mysqlTx) GetOutboxForPayout(ctx context.Context, payoutID string) (*model.OutboxEvent, error) {
	var r outboxRow
	err := t.db.Raw(
		`SELECT id, topic, idempotency_key, payload, state, attempts, available_at,
		        locked_at, locked_by, last_error, created_at, sent_at
		 FROM outbox_events WHERE topic = 'payout.requested' AND idempotency_key = ? LIMIT 1`,
		"payout:"+payoutID,
	).Scan(&r).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "outbox_lookup_failed", "could not look up payout outbox row", err)
	}
	return r.toModel(), nil
}

func (t *mysqlTx) MarkOutboxSentByIdempotencyKey(ctx context.Context, topic, idempotencyKey string) error {
	res := t.db.Exec(`UPDATE outbox_events SET state = 'sent', sent_at = NOW() WHERE topic = ? AND idempotency_key = ?`, topic, idempotencyKey)
	if res.Error != nil {
		return apperr.Wrap(apperr.Transient, "outbox_mark_sent_failed", "could not mark outbox row sent", res.Error)
	}
	return nil
}

func (t *mysqlTx) OutboxPendingOlderThan(ctx context.Context, age time.Duration) (int, error) {
	var count int
	err := t.db.Raw(
		`SELECT COUNT(*) FROM outbox_events WHERE state = 'pending' AND created_at < NOW() - INTERVAL ? SECOND`,
		int64(age.Seconds()),
	).Row().Scan(&count)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "outbox_age_query_failed", "could not count aged outbox rows", err)
	}
	return count, nil
}

func (t *mysqlTx) VerifierBacklog(ctx context.Context) (int, int64, error) {
	var count int
	var oldestAgeSec sql.NullInt64
	err := t.db.Raw(
		`SELECT COUNT(*), MAX(TIMESTAMPDIFF(SECOND, created_at, NOW()))
		 FROM verifications WHERE finished_at IS NULL`,
	).Row().Scan(&count, &oldestAgeSec)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.Transient, "verifier_backlog_query_failed", "could not query verifier backlog", err)
	}
	return count, oldestAgeSec.Int64, nil
}

func (t *mysqlTx) ArtifactScanBacklogAge(ctx context.Context) (int64, error) {
	var oldestAgeSec sql.NullInt64
	err := t.db.Raw(
		`SELECT MAX(TIMESTAMPDIFF(SECOND, created_at, NOW()))
		 FROM artifact_states WHERE state = 'scanning'`,
	).Row().Scan(&oldestAgeSec)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "artifact_backlog_query_failed", "could not query artifact scan backlog", err)
	}
	return oldestAgeSec.Int64, nil
}

type outboxRow struct {
	ID             int64
	Topic          string
	IdempotencyKey string
	Payload        []byte
	State          string
	Attempts       int
	AvailableAt    time.Time
	LockedAt       *time.Time
	LockedBy       sql.NullString
	LastError      sql.NullString
	CreatedAt      time.Time
	SentAt         *time.Time
}

func (r outboxRow) toModel() *model.OutboxEvent {
	return &model.OutboxEvent{
		ID:             r.ID,
		Topic:          r.Topic,
		IdempotencyKey: r.IdempotencyKey,
		Payload:        json.RawMessage(r.Payload),
		State:          model.OutboxState(r.State),
		Attempts:       r.Attempts,
		AvailableAt:    r.AvailableAt,
		LockedAt:       r.LockedAt,
		LockedBy:       r.LockedBy.String,
		LastError:      r.LastError.String,
		CreatedAt:      r.CreatedAt,
		SentAt:         r.SentAt,
	}
}

// --- Org / Bounty ---

func (t *mysqlTx) GetOrg(ctx context.Context, id string) (*model.Org, error) {
	var row struct {
		ID                string
		BillingBalance    int64
		PlatformFeeBps    int
		PlatformFeeWallet sql.NullString
		CreatedAt         time.Time
	}
	if err := t.db.Table("orgs").Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.New(apperr.Conflict, "org_not_found", "no such org")
		}
		return nil, apperr.Wrap(apperr.Transient, "org_lookup_failed", "could not look up org", err)
	}
	return &model.Org{
		ID: row.ID, BillingBalance: model.Cents(row.BillingBalance),
		PlatformFeeBps: model.BasisPoints(row.PlatformFeeBps), PlatformFeeWallet: row.PlatformFeeWallet.String,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (t *mysqlTx) GetBounty(ctx context.Context, id string) (*model.Bounty, error) {
	var row struct {
		ID                     string
		OrgID                  string
		RewardPerProofCents    int64
		RequiredProofs         int
		AllowedOrigins         string
		RequiredFingerprintCls string
		DisputeWindowSec       int64
		TaskDescriptor         []byte
		State                  string
		CreatedAt              time.Time
	}
	if err := t.db.Table("bounties").Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.New(apperr.Conflict, "bounty_not_found", "no such bounty")
		}
		return nil, apperr.Wrap(apperr.Transient, "bounty_lookup_failed", "could not look up bounty", err)
	}
	b := &model.Bounty{
		ID: row.ID, OrgID: row.OrgID, RewardPerProofCents: model.Cents(row.RewardPerProofCents),
		RequiredProofs: row.RequiredProofs, DisputeWindowSec: row.DisputeWindowSec,
		TaskDescriptor: json.RawMessage(row.TaskDescriptor), State: model.BountyState(row.State),
		CreatedAt: row.CreatedAt,
	}
	_ = json.Unmarshal([]byte(row.AllowedOrigins), &b.AllowedOrigins)
	_ = json.Unmarshal([]byte(row.RequiredFingerprintCls), &b.RequiredFingerprintCls)
	return b, nil
}

func (t *mysqlTx) CreditOrgBalance(ctx context.Context, orgID string, amount model.Cents) error {
	res := t.db.Exec(`UPDATE orgs SET billing_balance = billing_balance + ? WHERE id = ?`, int64(amount), orgID)
	return wrapRowsAffected(res, "org_not_found", "no such org")
}

func (t *mysqlTx) CountPassedSubmissionsForBounty(ctx context.Context, bountyID string) (int, error) {
	var count int
	err := t.db.Raw(
		`SELECT COUNT(*) FROM submissions s JOIN jobs j ON j.id = s.job_id
		 WHERE j.bounty_id = ? AND s.state = 'passed'`, bountyID,
	).Row().Scan(&count)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "passed_submission_count_failed", "could not count passed submissions", err)
	}
	return count, nil
}

// --- Job queue ---

// FindClaimableJobs applies the next() query's SQL-level predicates: a
// required capability tag and task type are checked against the job's own
// descriptor JSON, and a minimum reward is checked against the owning
// bounty's per-proof reward. CanaryPercent is deliberately not a SQL
// predicate: jobqueue.Queue.Next applies it as a post-fetch hash partition
// so the same overfetch batch can be canary-filtered without a second
// round-trip.
func (t *mysqlTx) FindClaimableJobs(ctx context.Context, filter JobFilter, limit int) ([]*model.Job, error) {
	var rows []jobRow
	q := `SELECT j.id, j.bounty_id, j.task_descriptor, j.state, j.claim_holder, j.lease_expires_at,
	             j.freshness_deadline, j.final_verdict, j.created_at
	      FROM jobs j
	      JOIN bounties b ON b.id = j.bounty_id
	      WHERE (j.state = 'open' OR (j.state = 'claimed' AND j.lease_expires_at < NOW()))
	        AND (j.freshness_deadline IS NULL OR j.freshness_deadline > NOW())`
	var args []interface{}
	if filter.RequireTag != "" {
		q += ` AND JSON_CONTAINS(j.task_descriptor, JSON_QUOTE(?), '$.capability_tags')`
		args = append(args, filter.RequireTag)
	}
	if filter.RequireTaskType != "" {
		q += ` AND JSON_UNQUOTE(JSON_EXTRACT(j.task_descriptor, '$.type')) = ?`
		args = append(args, filter.RequireTaskType)
	}
	if filter.MinRewardCents > 0 {
		q += ` AND b.reward_per_proof_cents >= ?`
		args = append(args, int64(filter.MinRewardCents))
	}
	q += ` ORDER BY j.created_at ASC LIMIT ?`
	args = append(args, limit)
	if err := t.db.Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Transient, "job_query_failed", "could not query claimable jobs", err)
	}
	out := make([]*model.Job, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (t *mysqlTx) GetJobForUpdate(ctx context.Context, jobID string) (*model.Job, error) {
	var r jobRow
	err := t.db.Raw(
		`SELECT id, bounty_id, task_descriptor, state, claim_holder, lease_expires_at,
		        freshness_deadline, final_verdict, created_at
		 FROM jobs WHERE id = ? FOR UPDATE`, jobID,
	).Scan(&r).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.New(apperr.Conflict, "job_not_found", "no such job")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "job_lookup_failed", "could not look up job", err)
	}
	return r.toModel(), nil
}

// ClaimJobForWorker performs the exactly-one-claim-wins update: the WHERE
// clause re-checks the claimability predicate so that two concurrent
// transactions racing for the same row never both see RowsAffected()==1.
func (t *mysqlTx) ClaimJobForWorker(ctx context.Context, jobID, workerID string, leaseSec int64) (*model.Job, error) {
	job, err := t.GetJobForUpdate(ctx, jobID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if job.Stale(now) {
		return nil, apperr.ErrStaleJob
	}
	res := t.db.Exec(
		`UPDATE jobs SET state = 'claimed', claim_holder = ?, lease_expires_at = NOW() + INTERVAL ? SECOND
		 WHERE id = ? AND (state = 'open' OR (state = 'claimed' AND lease_expires_at < NOW()))
		   AND (freshness_deadline IS NULL OR freshness_deadline > NOW())`,
		workerID, leaseSec, jobID,
	)
	if res.Error != nil {
		return nil, apperr.Wrap(apperr.Transient, "job_claim_failed", "could not claim job", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, apperr.ErrLostRace
	}
	return t.GetJobForUpdate(ctx, jobID)
}

func (t *mysqlTx) ReapExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	res := t.db.Exec(`UPDATE jobs SET state = 'open', claim_holder = '', lease_expires_at = NULL
	                   WHERE state = 'claimed' AND lease_expires_at < ?`, now)
	if res.Error != nil {
		return 0, apperr.Wrap(apperr.Transient, "job_reap_failed", "could not reap expired leases", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (t *mysqlTx) MarkJobDone(ctx context.Context, jobID string, verdict model.Verdict) error {
	res := t.db.Exec(`UPDATE jobs SET state = 'done', final_verdict = ? WHERE id = ?`, string(verdict), jobID)
	return wrapRowsAffected(res, "job_not_found", "no such job")
}

// SetJobSubmitted transitions a job from claimed-by-workerID to submitted.
// The WHERE clause re-checks the claim holder so a worker cannot submit
// against a job it lost the lease race on.
func (t *mysqlTx) SetJobSubmitted(ctx context.Context, jobID, workerID string) error {
	res := t.db.Exec(
		`UPDATE jobs SET state = 'submitted' WHERE id = ? AND claim_holder = ? AND state = 'claimed'`,
		jobID, workerID,
	)
	if res.Error != nil {
		return apperr.Wrap(apperr.Transient, "job_submit_failed", "could not mark job submitted", res.Error)
	}
	if res.RowsAffected != 1 {
		return apperr.ErrLostRace
	}
	return nil
}

func (t *mysqlTx) ReopenJob(ctx context.Context, jobID string) error {
	res := t.db.Exec(`UPDATE jobs SET state = 'open', claim_holder = '', lease_expires_at = NULL WHERE id = ?`, jobID)
	return wrapRowsAffected(res, "job_not_found", "no such job")
}

type jobRow struct {
	ID                string
	BountyID          string
	TaskDescriptor    []byte
	State             string
	ClaimHolder       sql.NullString
	LeaseExpiresAt    *time.Time
	FreshnessDeadline *time.Time
	FinalVerdict      sql.NullString
	CreatedAt         time.Time
}

func (r jobRow) toModel() *model.Job {
	j := &model.Job{
		ID: r.ID, BountyID: r.BountyID, TaskDescriptor: json.RawMessage(r.TaskDescriptor),
		State: model.JobState(r.State), ClaimHolder: r.ClaimHolder.String,
		LeaseExpiresAt: r.LeaseExpiresAt, FreshnessDeadline: r.FreshnessDeadline, CreatedAt: r.CreatedAt,
	}
	if r.FinalVerdict.Valid {
		v := model.Verdict(r.FinalVerdict.String)
		j.FinalVerdict = &v
	}
	return j
}

// --- Submission / Verification ---

func (t *mysqlTx) WriteSubmission(ctx context.Context, sub *model.Submission, idempotencyKey string) (*model.Submission, bool, error) {
	if sub.ID == "" {
		sub.ID = model.NewID()
	}
	artifactIndex, _ := json.Marshal(sub.ArtifactIndex)
	res := t.db.Exec(
		`INSERT INTO submissions (id, job_id, worker_id, manifest, artifact_index, attempt_number, state, payout_status, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
		 ON DUPLICATE KEY UPDATE id = id`,
		sub.ID, sub.JobID, sub.WorkerID, []byte(sub.Manifest), artifactIndex, sub.AttemptNumber, string(sub.State), sub.PayoutStatus, idempotencyKey,
	)
	if res.Error != nil {
		return nil, false, apperr.Wrap(apperr.Transient, "submission_write_failed", "could not write submission", res.Error)
	}
	created := res.RowsAffected == 1
	var row submissionRow
	if err := t.db.Raw(
		`SELECT id, job_id, worker_id, manifest, artifact_index, attempt_number, state, payout_status, created_at
		 FROM submissions WHERE idempotency_key = ?`, idempotencyKey,
	).Scan(&row).Error; err != nil {
		return nil, false, apperr.Wrap(apperr.Transient, "submission_reread_failed", "could not re-read submission", err)
	}
	return row.toModel(), created, nil
}

func (t *mysqlTx) GetSubmissionForUpdate(ctx context.Context, submissionID string) (*model.Submission, error) {
	var row submissionRow
	err := t.db.Raw(
		`SELECT id, job_id, worker_id, manifest, artifact_index, attempt_number, state, payout_status, created_at
		 FROM submissions WHERE id = ? FOR UPDATE`, submissionID,
	).Scan(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.New(apperr.Conflict, "submission_not_found", "no such submission")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "submission_lookup_failed", "could not look up submission", err)
	}
	return row.toModel(), nil
}

type submissionRow struct {
	ID            string
	JobID         string
	WorkerID      string
	Manifest      []byte
	ArtifactIndex []byte
	AttemptNumber int
	State         string
	PayoutStatus  sql.NullString
	CreatedAt     time.Time
}

func (r submissionRow) toModel() *model.Submission {
	s := &model.Submission{
		ID: r.ID, JobID: r.JobID, WorkerID: r.WorkerID, Manifest: json.RawMessage(r.Manifest),
		AttemptNumber: r.AttemptNumber, State: model.SubmissionState(r.State), PayoutStatus: r.PayoutStatus.String,
		CreatedAt: r.CreatedAt,
	}
	_ = json.Unmarshal(r.ArtifactIndex, &s.ArtifactIndex)
	return s
}

func (t *mysqlTx) OpenVerification(ctx context.Context, v *model.Verification, idempotencyKey string) (*model.Verification, bool, error) {
	if v.ID == "" {
		v.ID = model.NewID()
	}
	res := t.db.Exec(
		`INSERT INTO verifications (id, submission_id, attempt_number, claim_token, claim_expiry, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, NOW())
		 ON DUPLICATE KEY UPDATE id = id`,
		v.ID, v.SubmissionID, v.AttemptNumber, v.ClaimToken, v.ClaimExpiry, idempotencyKey,
	)
	if res.Error != nil {
		return nil, false, apperr.Wrap(apperr.Transient, "verification_open_failed", "could not open verification", res.Error)
	}
	created := res.RowsAffected == 1
	var row verificationRow
	if err := t.db.Raw(
		`SELECT id, submission_id, attempt_number, claim_token, claim_expiry, verdict, scorecard, run_metadata, created_at, finished_at
		 FROM verifications WHERE idempotency_key = ?`, idempotencyKey,
	).Scan(&row).Error; err != nil {
		return nil, false, apperr.Wrap(apperr.Transient, "verification_reread_failed", "could not re-read verification", err)
	}
	return row.toModel(), created, nil
}

func (t *mysqlTx) GetVerificationByClaimToken(ctx context.Context, verificationID, claimToken string) (*model.Verification, error) {
	var row verificationRow
	err := t.db.Raw(
		`SELECT id, submission_id, attempt_number, claim_token, claim_expiry, verdict, scorecard, run_metadata, created_at, finished_at
		 FROM verifications WHERE id = ? FOR UPDATE`, verificationID,
	).Scan(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.New(apperr.Conflict, "verification_not_found", "no such verification")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "verification_lookup_failed", "could not look up verification", err)
	}
	if row.ClaimToken != claimToken {
		return nil, apperr.New(apperr.Conflict, "verification_claim_mismatch", "claim token does not match")
	}
	return row.toModel(), nil
}

func (t *mysqlTx) PostVerdict(ctx context.Context, verificationID string, verdict model.Verdict, sc *model.Scorecard, runMeta []byte) error {
	scJSON, _ := json.Marshal(sc)
	res := t.db.Exec(
		`UPDATE verifications SET verdict = ?, scorecard = ?, run_metadata = ?, finished_at = NOW() WHERE id = ?`,
		string(verdict), scJSON, runMeta, verificationID,
	)
	return wrapRowsAffected(res, "verification_not_found", "no such verification")
}

func (t *mysqlTx) SetSubmissionState(ctx context.Context, submissionID string, state model.SubmissionState) error {
	res := t.db.Exec(`UPDATE submissions SET state = ? WHERE id = ?`, string(state), submissionID)
	return wrapRowsAffected(res, "submission_not_found", "no such submission")
}

func (t *mysqlTx) SetSubmissionPayoutStatus(ctx context.Context, submissionID, payoutStatus string) error {
	res := t.db.Exec(`UPDATE submissions SET payout_status = ? WHERE id = ?`, payoutStatus, submissionID)
	return wrapRowsAffected(res, "submission_not_found", "no such submission")
}

type verificationRow struct {
	ID            string
	SubmissionID  string
	AttemptNumber int
	ClaimToken    string
	ClaimExpiry   time.Time
	Verdict       sql.NullString
	Scorecard     []byte
	RunMetadata   []byte
	CreatedAt     time.Time
	FinishedAt    *time.Time
}

func (r verificationRow) toModel() *model.Verification {
	v := &model.Verification{
		ID: r.ID, SubmissionID: r.SubmissionID, AttemptNumber: r.AttemptNumber,
		ClaimToken: r.ClaimToken, ClaimExpiry: r.ClaimExpiry, RunMetadata: json.RawMessage(r.RunMetadata),
		CreatedAt: r.CreatedAt, FinishedAt: r.FinishedAt,
	}
	if r.Verdict.Valid {
		vv := model.Verdict(r.Verdict.String)
		v.Verdict = &vv
	}
	if len(r.Scorecard) > 0 {
		var sc model.Scorecard
		if err := json.Unmarshal(r.Scorecard, &sc); err == nil {
			v.Scorecard = &sc
		}
	}
	return v
}

// --- Worker ---

func (t *mysqlTx) GetWorker(ctx context.Context, workerID string) (*model.Worker, error) {
	var row struct {
		ID               string
		TokenPrefix      string
		TokenHMAC        []byte
		PepperVersion    int
		CapabilityTags   []byte
		PayoutChain      sql.NullString
		PayoutAddress    sql.NullString
		PayoutVerifiedAt *time.Time
		Disabled         bool
	}
	if err := t.db.Table("workers").Where("id = ?", workerID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.New(apperr.Conflict, "worker_not_found", "no such worker")
		}
		return nil, apperr.Wrap(apperr.Transient, "worker_lookup_failed", "could not look up worker", err)
	}
	w := &model.Worker{
		ID: row.ID, TokenPrefix: row.TokenPrefix, TokenHMAC: row.TokenHMAC, PepperVersion: row.PepperVersion,
		PayoutChain: row.PayoutChain.String, PayoutAddress: row.PayoutAddress.String,
		PayoutVerifiedAt: row.PayoutVerifiedAt, Disabled: row.Disabled,
	}
	_ = json.Unmarshal(row.CapabilityTags, &w.CapabilityTags)
	return w, nil
}

func (t *mysqlTx) GetWorkerByTokenPrefix(ctx context.Context, prefix string) (*model.Worker, error) {
	var row struct {
		ID               string
		TokenPrefix      string
		TokenHMAC        []byte
		PepperVersion    int
		CapabilityTags   []byte
		PayoutChain      sql.NullString
		PayoutAddress    sql.NullString
		PayoutVerifiedAt *time.Time
		Disabled         bool
	}
	if err := t.db.Table("workers").Where("token_prefix = ?", prefix).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.New(apperr.Conflict, "worker_not_found", "no such worker")
		}
		return nil, apperr.Wrap(apperr.Transient, "worker_lookup_failed", "could not look up worker", err)
	}
	w := &model.Worker{
		ID: row.ID, TokenPrefix: row.TokenPrefix, TokenHMAC: row.TokenHMAC, PepperVersion: row.PepperVersion,
		PayoutChain: row.PayoutChain.String, PayoutAddress: row.PayoutAddress.String,
		PayoutVerifiedAt: row.PayoutVerifiedAt, Disabled: row.Disabled,
	}
	_ = json.Unmarshal(row.CapabilityTags, &w.CapabilityTags)
	return w, nil
}

func (t *mysqlTx) SetWorkerPayoutAddress(ctx context.Context, workerID, chain, address string) error {
	res := t.db.Exec(
		`UPDATE workers SET payout_chain = ?, payout_address = ?, payout_verified_at = NOW() WHERE id = ?`,
		chain, address, workerID,
	)
	return wrapRowsAffected(res, "worker_not_found", "no such worker")
}

func (t *mysqlTx) FindBlockedPayoutsForWorker(ctx context.Context, workerID string, reason model.BlockedReason) ([]*model.Payout, error) {
	var rows []payoutRow
	err := t.db.Raw(
		`SELECT id, submission_id, worker_id, gross_cents, net_cents,
		        platform_fee_cents, platform_fee_bps, platform_fee_wallet,
		        proofwork_fee_cents, proofwork_fee_bps, proofwork_fee_wallet,
		        provider, provider_ref, state, blocked_reason, hold_until, created_at, updated_at
		 FROM payouts WHERE worker_id = ? AND blocked_reason = ? FOR UPDATE`,
		workerID, string(reason),
	).Scan(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "payout_lookup_failed", "could not look up blocked payouts", err)
	}
	out := make([]*model.Payout, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// --- Payout ---

func (t *mysqlTx) CreatePayout(ctx context.Context, p *model.Payout) error {
	if p.ID == "" {
		p.ID = model.NewID()
	}
	err := t.db.Exec(
		`INSERT INTO payouts (id, submission_id, worker_id, gross_cents, net_cents,
		   platform_fee_cents, platform_fee_bps, platform_fee_wallet,
		   proofwork_fee_cents, proofwork_fee_bps, proofwork_fee_wallet,
		   provider, provider_ref, state, blocked_reason, hold_until, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
		 ON DUPLICATE KEY UPDATE id = id`,
		p.ID, p.SubmissionID, p.WorkerID, int64(p.GrossCents), int64(p.NetCents),
		int64(p.PlatformFeeCents), int(p.PlatformFeeBps), p.PlatformFeeWallet,
		int64(p.ProofworkFeeCents), int(p.ProofworkFeeBps), p.ProofworkFeeWallet,
		p.Provider, p.ProviderRef, string(p.State), string(p.BlockedReason), p.HoldUntil,
	).Error
	if err != nil {
		return apperr.Wrap(apperr.Transient, "payout_create_failed", "could not create payout", err)
	}
	return nil
}

func (t *mysqlTx) GetPayoutForUpdate(ctx context.Context, payoutID string) (*model.Payout, error) {
	var row payoutRow
	err := t.db.Raw(
		`SELECT id, submission_id, worker_id, gross_cents, net_cents,
		        platform_fee_cents, platform_fee_bps, platform_fee_wallet,
		        proofwork_fee_cents, proofwork_fee_bps, proofwork_fee_wallet,
		        provider, provider_ref, state, blocked_reason, hold_until, created_at, updated_at
		 FROM payouts WHERE id = ? FOR UPDATE`, payoutID,
	).Scan(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.New(apperr.Conflict, "payout_not_found", "no such payout")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "payout_lookup_failed", "could not look up payout", err)
	}
	return row.toModel(), nil
}

func (t *mysqlTx) MarkPayout(ctx context.Context, payoutID string, state model.PayoutState, blocked model.BlockedReason, providerRef string) error {
	res := t.db.Exec(
		`UPDATE payouts SET state = ?, blocked_reason = ?,
		   provider_ref = CASE WHEN ? <> '' THEN ? ELSE provider_ref END, updated_at = NOW()
		 WHERE id = ?`,
		string(state), string(blocked), providerRef, providerRef, payoutID,
	)
	return wrapRowsAffected(res, "payout_not_found", "no such payout")
}

func (t *mysqlTx) SetPayoutHold(ctx context.Context, payoutID string, holdUntil time.Time) error {
	res := t.db.Exec(`UPDATE payouts SET hold_until = ?, updated_at = NOW() WHERE id = ?`, holdUntil, payoutID)
	return wrapRowsAffected(res, "payout_not_found", "no such payout")
}

type payoutRow struct {
	ID                 string
	SubmissionID       string
	WorkerID           string
	GrossCents         int64
	NetCents           int64
	PlatformFeeCents   int64
	PlatformFeeBps     int
	PlatformFeeWallet  sql.NullString
	ProofworkFeeCents  int64
	ProofworkFeeBps    int
	ProofworkFeeWallet sql.NullString
	Provider           sql.NullString
	ProviderRef        sql.NullString
	State              string
	BlockedReason      sql.NullString
	HoldUntil          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (r payoutRow) toModel() *model.Payout {
	return &model.Payout{
		ID: r.ID, SubmissionID: r.SubmissionID, WorkerID: r.WorkerID,
		GrossCents: model.Cents(r.GrossCents), NetCents: model.Cents(r.NetCents),
		PlatformFeeCents: model.Cents(r.PlatformFeeCents), PlatformFeeBps: model.BasisPoints(r.PlatformFeeBps),
		PlatformFeeWallet: r.PlatformFeeWallet.String,
		ProofworkFeeCents: model.Cents(r.ProofworkFeeCents), ProofworkFeeBps: model.BasisPoints(r.ProofworkFeeBps),
		ProofworkFeeWallet: r.ProofworkFeeWallet.String,
		Provider:           r.Provider.String, ProviderRef: r.ProviderRef.String,
		State: model.PayoutState(r.State), BlockedReason: model.BlockedReason(r.BlockedReason.String),
		HoldUntil: r.HoldUntil, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

// --- Nonce / transfers ---

// AllocateNonce locks the (chain_id, from_address) row, lets the caller
// reconcile the stored next-nonce against the chain's pending nonce while
// the lock is held, then persists the advanced value before releasing it.
func (t *mysqlTx) AllocateNonce(ctx context.Context, chainID int64, from string, reconcile func(stored uint64) (uint64, error)) (uint64, error) {
	var stored uint64
	err := t.db.Raw(
		`SELECT next_nonce FROM crypto_nonces WHERE chain_id = ? AND from_address = ? FOR UPDATE`,
		chainID, from,
	).Row().Scan(&stored)
	if err == sql.ErrNoRows {
		if insErr := t.db.Exec(
			`INSERT INTO crypto_nonces (chain_id, from_address, next_nonce) VALUES (?, ?, 0)`,
			chainID, from,
		).Error; insErr != nil {
			return 0, apperr.Wrap(apperr.Transient, "nonce_init_failed", "could not initialize nonce row", insErr)
		}
		stored = 0
	} else if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "nonce_lookup_failed", "could not look up nonce row", err)
	}

	next, err := reconcile(stored)
	if err != nil {
		return 0, err
	}
	if err := t.db.Exec(
		`UPDATE crypto_nonces SET next_nonce = ? WHERE chain_id = ? AND from_address = ?`,
		next+1, chainID, from,
	).Error; err != nil {
		return 0, apperr.Wrap(apperr.Transient, "nonce_advance_failed", "could not advance nonce", err)
	}
	return next, nil
}

func (t *mysqlTx) UpsertTransfer(ctx context.Context, tr *model.PayoutTransfer) error {
	if tr.ID == "" {
		tr.ID = model.NewID()
	}
	return t.db.Exec(
		`INSERT INTO payout_transfers (id, payout_id, kind, from_address, to_address, token_id, amount, tx_hash, nonce, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
		 ON DUPLICATE KEY UPDATE to_address = VALUES(to_address), amount = VALUES(amount),
		   tx_hash = VALUES(tx_hash), nonce = VALUES(nonce), state = VALUES(state), updated_at = NOW()`,
		tr.ID, tr.PayoutID, string(tr.Kind), tr.From, tr.To, tr.TokenID, tr.Amount, tr.TxHash, tr.Nonce, string(tr.State),
	).Error
}

func (t *mysqlTx) GetTransfersForPayout(ctx context.Context, payoutID string) ([]*model.PayoutTransfer, error) {
	var rows []transferRow
	if err := t.db.Raw(
		`SELECT id, payout_id, kind, from_address, to_address, token_id, amount, tx_hash, nonce, state, created_at, updated_at
		 FROM payout_transfers WHERE payout_id = ?`, payoutID,
	).Scan(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Transient, "transfer_query_failed", "could not query payout transfers", err)
	}
	out := make([]*model.PayoutTransfer, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (t *mysqlTx) MarkTransfersState(ctx context.Context, payoutID string, state model.TransferState) error {
	return t.db.Exec(`UPDATE payout_transfers SET state = ?, updated_at = NOW() WHERE payout_id = ?`, string(state), payoutID).Error
}

type transferRow struct {
	ID        string
	PayoutID  string
	Kind      string
	From      string `gorm:"column:from_address"`
	To        string `gorm:"column:to_address"`
	TokenID   string
	Amount    string
	TxHash    string
	Nonce     uint64
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r transferRow) toModel() *model.PayoutTransfer {
	return &model.PayoutTransfer{
		ID: r.ID, PayoutID: r.PayoutID, Kind: model.TransferKind(r.Kind), From: r.From, To: r.To,
		TokenID: r.TokenID, Amount: r.Amount, TxHash: r.TxHash, Nonce: r.Nonce,
		State: model.TransferState(r.State), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

// --- Dispute ---

func (t *mysqlTx) CreateDispute(ctx context.Context, d *model.Dispute) error {
	if d.ID == "" {
		d.ID = model.NewID()
	}
	return t.db.Exec(
		`INSERT INTO disputes (id, bounty_id, payout_id, state, created_at) VALUES (?, ?, ?, ?, NOW())`,
		d.ID, d.BountyID, d.PayoutID, string(d.State),
	).Error
}

func (t *mysqlTx) GetDisputeForUpdate(ctx context.Context, disputeID string) (*model.Dispute, error) {
	var row struct {
		ID         string
		BountyID   string
		PayoutID   string
		State      string
		CreatedAt  time.Time
		ResolvedAt *time.Time
	}
	err := t.db.Raw(`SELECT id, bounty_id, payout_id, state, created_at, resolved_at FROM disputes WHERE id = ? FOR UPDATE`, disputeID).Scan(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.New(apperr.Conflict, "dispute_not_found", "no such dispute")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "dispute_lookup_failed", "could not look up dispute", err)
	}
	return &model.Dispute{
		ID: row.ID, BountyID: row.BountyID, PayoutID: row.PayoutID,
		State: model.DisputeState(row.State), CreatedAt: row.CreatedAt, ResolvedAt: row.ResolvedAt,
	}, nil
}

func (t *mysqlTx) SetDisputeState(ctx context.Context, disputeID string, state model.DisputeState) error {
	resolvedAt := "resolved_at"
	res := t.db.Exec(
		`UPDATE disputes SET state = ?, `+resolvedAt+` = CASE WHEN ? <> 'open' THEN NOW() ELSE `+resolvedAt+` END WHERE id = ?`,
		string(state), string(state), disputeID,
	)
	return wrapRowsAffected(res, "dispute_not_found", "no such dispute")
}

// --- Hot settings ---

func (t *mysqlTx) GetHotSetting(ctx context.Context, key string) (string, int64, error) {
	var row struct {
		Value   string
		Version int64
	}
	err := t.db.Raw(`SELECT value, version FROM hot_settings WHERE setting_key = ?`, key).Scan(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, apperr.Wrap(apperr.Transient, "hot_setting_lookup_failed", "could not look up hot setting", err)
	}
	return row.Value, row.Version, nil
}

func (t *mysqlTx) SetHotSetting(ctx context.Context, key, value string) error {
	return t.db.Exec(
		`INSERT INTO hot_settings (setting_key, value, version) VALUES (?, ?, 1)
		 ON DUPLICATE KEY UPDATE value = VALUES(value), version = version + 1`,
		key, value,
	).Error
}

// --- Artifact lifecycle ---

func (t *mysqlTx) CreateArtifactUpload(ctx context.Context, artifactID, uploaderID string) error {
	return t.db.Exec(
		`INSERT INTO artifact_states (artifact_id, uploader_id, state, created_at) VALUES (?, ?, 'uploaded', NOW())
		 ON DUPLICATE KEY UPDATE artifact_id = artifact_id`,
		artifactID, uploaderID,
	).Error
}

func (t *mysqlTx) SetArtifactState(ctx context.Context, artifactID, state string) error {
	res := t.db.Exec(`UPDATE artifact_states SET state = ? WHERE artifact_id = ?`, state, artifactID)
	return wrapRowsAffected(res, "artifact_not_found", "no such artifact")
}

func (t *mysqlTx) GetArtifactState(ctx context.Context, artifactID string) (string, error) {
	var state string
	err := t.db.Raw(`SELECT state FROM artifact_states WHERE artifact_id = ?`, artifactID).Row().Scan(&state)
	if err == sql.ErrNoRows {
		return "", apperr.New(apperr.Conflict, "artifact_not_found", "no such artifact")
	}
	if err != nil {
		return "", apperr.Wrap(apperr.Transient, "artifact_lookup_failed", "could not look up artifact state", err)
	}
	return state, nil
}

// --- helpers ---

func wrapRowsAffected(res *gorm.DB, code, message string) error {
	if res.Error != nil {
		return apperr.Wrap(apperr.Transient, code+"_query_failed", message, res.Error)
	}
	if res.RowsAffected != 1 {
		return apperr.New(apperr.Conflict, code, message)
	}
	return nil
}

func inClausePlaceholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += "?"
	}
	return out
}

func int64SliceToArgs(ids []int64) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

var _ Store = (*MySQLStore)(nil)
var _ Tx = (*mysqlTx)(nil)
