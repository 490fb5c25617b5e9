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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/model"
)

const defaultGatewayTimeout = 30 * time.Second

// Gateway runs a claimed verification against whatever external system
// judges submissions. GatewayClient is the HTTP implementation; tests
// substitute a stub.
type Gateway interface {
	Run(ctx context.Context, verificationID, submissionID string, attemptNo int, jobSpec, submission json.RawMessage) (*RunResult, error)
}

// GatewayClient calls the verifier gateway's single POST /run endpoint
// (spec.md §6: "the verifier gateway's browser harness" is out of scope,
// but the HTTP contract it exposes is not). The browser automation, scoring
// rubric and evidence capture all live on the other side of this call.
type GatewayClient struct {
	baseURL string
	client  *http.Client
}

// NewGatewayClient builds a client against the verifier gateway's base URL.
func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{baseURL: baseURL, client: &http.Client{Timeout: defaultGatewayTimeout}}
}

// runRequest mirrors spec.md §6's POST /run body exactly.
type runRequest struct {
	VerificationID string          `json:"verificationId"`
	SubmissionID   string          `json:"submissionId"`
	AttemptNo      int             `json:"attemptNo"`
	JobSpec        json.RawMessage `json:"jobSpec"`
	Submission     json.RawMessage `json:"submission"`
}

// RunResult is the gateway's verdict, decoded from its POST /run response.
type RunResult struct {
	Verdict           model.Verdict       `json:"verdict"`
	Reason            string              `json:"reason"`
	Scorecard         *model.Scorecard    `json:"scorecard"`
	EvidenceArtifacts []model.ArtifactRef `json:"evidenceArtifacts"`
	RunMetadata       json.RawMessage     `json:"runMetadata"`
}

// Run posts a claimed verification to the gateway and returns its verdict.
// A non-2xx response or a decode failure is Transient: the caller's outbox
// handler re-enqueues the verdict attempt rather than failing it outright,
// since the gateway being briefly unreachable isn't evidence the submission
// itself is bad.
func (g *GatewayClient) Run(ctx context.Context, verificationID, submissionID string, attemptNo int, jobSpec, submission json.RawMessage) (*RunResult, error) {
	body, err := json.Marshal(runRequest{
		VerificationID: verificationID,
		SubmissionID:   submissionID,
		AttemptNo:      attemptNo,
		JobSpec:        jobSpec,
		Submission:     submission,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "gateway_request_encode_failed", "could not encode verifier gateway request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "gateway_request_build_failed", "could not build verifier gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "gateway_request_failed", "verifier gateway unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.New(apperr.Transient, "gateway_run_failed", "verifier gateway returned a non-2xx response")
	}
	var out RunResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "gateway_response_decode_failed", "could not decode verifier gateway response", err)
	}
	return &out, nil
}

var _ Gateway = (*GatewayClient)(nil)
