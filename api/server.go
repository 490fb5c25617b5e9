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
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/proofwork/proofwork/internal/artifact"
	"github.com/proofwork/proofwork/internal/artifactstore"
	"github.com/proofwork/proofwork/internal/backpressure"
	"github.com/proofwork/proofwork/internal/jobqueue"
	"github.com/proofwork/proofwork/internal/verification"
	"github.com/proofwork/proofwork/internal/worker"
)

// Deps collects every engine the HTTP surface calls into. Handlers stay
// thin: decode, call one of these, encode.
type Deps struct {
	Jobs          *jobqueue.Queue
	Verification  *verification.Coordinator
	Gate          *backpressure.Gate
	Artifacts     *artifact.Lifecycle
	ArtifactStore *artifactstore.Presigner
	WorkerAuth    *worker.Authenticator
	WorkerManager *worker.Manager

	VerifierBearerToken   string
	DefaultLeaseSec       int64
	VerificationClaimTTL  time.Duration
	ArtifactPresignTTL    time.Duration
}

// Server wires Deps into a routed, CORS-wrapped http.Handler.
type Server struct {
	Deps
	auth *worker.Authenticator
}

func New(d Deps) *Server {
	return &Server{Deps: d, auth: d.WorkerAuth}
}

// Handler builds the full mux: routes registered per spec.md §6, wrapped in
// permissive CORS (the worker/verifier/operator callers are all non-browser
// service clients; §1 keeps a browser-facing CSRF model out of scope).
func (s *Server) Handler() http.Handler {
	r := httprouter.New()

	r.GET("/api/jobs/next", s.requireWorker(s.handleJobsNext))
	r.POST("/api/jobs/:id/claim", s.requireWorker(s.handleJobsClaim))
	r.POST("/api/jobs/:id/submit", s.requireWorker(s.handleJobsSubmit))

	r.POST("/api/verifier/claim", s.requireVerifier(s.handleVerifierClaim))
	r.POST("/api/verifier/verdict", s.requireVerifier(s.handleVerifierVerdict))

	r.POST("/api/worker/payout-address/message", s.requireWorker(s.handlePayoutAddressMessage))
	r.POST("/api/worker/payout-address", s.requireWorker(s.handlePayoutAddressSet))

	r.POST("/api/jobs/:id/artifact-upload-url", s.requireWorker(s.handleArtifactUploadURL))
	r.GET("/api/artifacts/:id/download-url", s.requireVerifier(s.handleArtifactDownloadURL))

	r.POST("/api/internal/reap-leases", s.handleReapLeases)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
	})
	return c.Handler(r)
}
