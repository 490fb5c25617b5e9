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
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/model"
)

type ctxKey int

const workerCtxKey ctxKey = iota

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

// requireWorker authenticates the caller as a worker and stashes the
// resolved *model.Worker in the request context for the wrapped handler.
func (s *Server) requireWorker(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, apperr.New(apperr.ValidationFailure, "missing_bearer_token", "Authorization: Bearer <token> header is required"))
			return
		}
		worker, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), workerCtxKey, worker)
		next(w, r.WithContext(ctx), ps)
	}
}

func workerFromContext(ctx context.Context) *model.Worker {
	w, _ := ctx.Value(workerCtxKey).(*model.Worker)
	return w
}

// requireVerifier checks the request against the single shared verifier
// gateway secret (spec.md §1: the gateway's own auth model is out of
// scope, so Proofwork only needs to authenticate that caller, not a
// per-principal identity).
func (s *Server) requireVerifier(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.VerifierBearerToken)) != 1 {
			writeError(w, apperr.New(apperr.Conflict, "verifier_bearer_invalid", "missing or invalid verifier bearer token"))
			return
		}
		next(w, r, ps)
	}
}
