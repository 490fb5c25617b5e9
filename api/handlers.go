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

package api

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/jobqueue"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/verification"
	"github.com/proofwork/proofwork/internal/worker"
)

// handleJobsNext implements "GET /api/jobs/next" from spec.md §6: either a
// job spec or an idle signal, honoring the backpressure gate first.
func (s *Server) handleJobsNext(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()

	sig, err := s.Gate.Evaluate(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if sig.Paused {
		writeJSON(w, http.StatusOK, map[string]string{"state": "idle", "reason": sig.Reason})
		return
	}

	q := r.URL.Query()
	var caps []string
	if raw := q.Get("capability_tags"); raw != "" {
		caps = strings.Split(raw, ",")
	}
	minReward, _ := strconv.ParseInt(q.Get("min_payout_cents"), 10, 64)

	jobs, err := s.Jobs.Next(ctx, jobqueue.NextFilter{
		WorkerCaps:      caps,
		RequireTag:      q.Get("capability_tag"),
		MinRewardCents:  model.Cents(minReward),
		RequireTaskType: q.Get("require_task_type"),
		Limit:           1,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if len(jobs) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"state": "idle", "reason": "no_matching_jobs"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": jobSpec(jobs[0])})
}

func jobSpec(j *model.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":         j.ID,
		"bountyId":   j.BountyID,
		"descriptor": j.TaskDescriptor,
	}
}

// handleJobsClaim implements "POST /api/jobs/:id/claim".
func (s *Server) handleJobsClaim(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	wk := workerFromContext(r.Context())
	job, err := s.Jobs.Claim(r.Context(), ps.ByName("id"), wk.ID, s.DefaultLeaseSec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaseExpiresAt": job.LeaseExpiresAt})
}

type submitBody struct {
	Manifest      []byte              `json:"manifest"`
	ArtifactIndex []model.ArtifactRef `json:"artifactIndex"`
	AttemptNumber int                 `json:"attemptNumber"`
}

// handleJobsSubmit implements "POST /api/jobs/:id/submit", keyed by the
// caller-supplied Idempotency-Key header per spec.md §6.
func (s *Server) handleJobsSubmit(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	wk := workerFromContext(r.Context())
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		writeError(w, apperr.New(apperr.ValidationFailure, "missing_idempotency_key", "Idempotency-Key header is required"))
		return
	}

	var body submitBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.AttemptNumber == 0 {
		body.AttemptNumber = 1
	}

	sub, err := s.Verification.Submit(r.Context(), verification.SubmitRequest{
		JobID:          ps.ByName("id"),
		WorkerID:       wk.ID,
		Manifest:       body.Manifest,
		ArtifactIndex:  body.ArtifactIndex,
		AttemptNumber:  body.AttemptNumber,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"submissionId": sub.ID})
}

type verifierClaimBody struct {
	SubmissionID   string `json:"submissionId"`
	AttemptNo      int    `json:"attemptNo"`
	IdempotencyKey string `json:"idempotencyKey"`
	ClaimTTLSec    int64  `json:"claimTtlSec"`
}

// handleVerifierClaim implements "POST /api/verifier/claim".
func (s *Server) handleVerifierClaim(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body verifierClaimBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	ttl := s.VerificationClaimTTL
	if body.ClaimTTLSec > 0 {
		ttl = secondsToDuration(body.ClaimTTLSec)
	}
	resp, err := s.Verification.Claim(r.Context(), verification.ClaimRequest{
		SubmissionID:   body.SubmissionID,
		AttemptNumber:  body.AttemptNo,
		IdempotencyKey: body.IdempotencyKey,
		ClaimTTL:       ttl,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"verificationId": resp.VerificationID,
		"claimToken":     resp.ClaimToken,
		"submission":     resp.Submission,
	})
}

type verifierVerdictBody struct {
	VerificationID string           `json:"verificationId"`
	ClaimToken     string           `json:"claimToken"`
	Verdict        model.Verdict    `json:"verdict"`
	Scorecard      *model.Scorecard `json:"scorecard"`
	RunMetadata    []byte           `json:"runMetadata"`
}

// handleVerifierVerdict implements "POST /api/verifier/verdict".
func (s *Server) handleVerifierVerdict(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body verifierVerdictBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	err := s.Verification.Verdict(r.Context(), verification.VerdictRequest{
		VerificationID: body.VerificationID,
		ClaimToken:     body.ClaimToken,
		Verdict:        body.Verdict,
		Scorecard:      body.Scorecard,
		RunMetadata:    body.RunMetadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePayoutAddressMessage implements
// "POST /api/worker/payout-address/message".
func (s *Server) handlePayoutAddressMessage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	wk := workerFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"message": worker.Message(wk.ID)})
}

type payoutAddressBody struct {
	Chain     string `json:"chain"`
	Address   string `json:"address"`
	Signature string `json:"signature"` // base64
}

// handlePayoutAddressSet implements "POST /api/worker/payout-address".
func (s *Server) handlePayoutAddressSet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	wk := workerFromContext(r.Context())
	var body payoutAddressBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	sig, err := base64.StdEncoding.DecodeString(body.Signature)
	if err != nil {
		writeError(w, apperr.New(apperr.ValidationFailure, "bad_signature_encoding", "signature must be base64-encoded"))
		return
	}
	unblocked, err := s.WorkerManager.VerifyAndSet(r.Context(), wk.ID, body.Chain, body.Address, sig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":          body.Address,
		"unblockedPayouts": unblocked,
	})
}

// handleArtifactUploadURL implements "POST /api/jobs/:id/artifact-upload-url":
// a worker asks for a time-limited PUT URL before it streams evidence bytes
// directly to the bucket (spec.md §4.8 keeps the bucket itself out of scope,
// but presigning is the one piece of that surface Proofwork owns).
func (s *Server) handleArtifactUploadURL(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		ArtifactID  string `json:"artifactId"`
		ContentType string `json:"contentType"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	ttl := s.ArtifactPresignTTL
	url, err := s.ArtifactStore.PresignUpload(body.ArtifactID, body.ContentType, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uploadUrl": url})
}

// handleArtifactDownloadURL implements "GET /api/artifacts/:id/download-url",
// used by the verifier gateway to fetch a clean artifact's bytes.
func (s *Server) handleArtifactDownloadURL(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.Artifacts.RequireClean(r.Context(), ps.ByName("id")); err != nil {
		writeError(w, err)
		return
	}
	url, err := s.ArtifactStore.PresignDownload(ps.ByName("id"), s.ArtifactPresignTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"downloadUrl": url})
}

// handleReapLeases implements "POST /api/internal/reap-leases".
func (s *Server) handleReapLeases(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	n, err := s.Jobs.ReapExpiredLeases(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reaped": n})
}

func secondsToDuration(sec int64) time.Duration {
	return time.Duration(sec) * time.Second
}
