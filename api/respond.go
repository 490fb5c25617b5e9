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

// Package api implements the thin HTTP surface spec.md §6 enumerates: a
// julienschmidt/httprouter mux wrapped in rs/cors, worker/verifier bearer
// auth, and handlers that decode JSON, call straight into jobqueue,
// verification, backpressure, artifact, artifactstore and worker, then encode the typed result or
// the {error:{code,message}} envelope from spec.md §7. No business logic
// lives here.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/log"
)

var logger = log.NewModuleLogger(log.API)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response body", "cause", err)
	}
}

// writeError renders err as {error:{code,message}} with the HTTP status
// implied by its apperr.Kind, per spec.md §7's propagation policy.
func writeError(w http.ResponseWriter, err error) {
	var e *apperr.Error
	if !apperr.As(err, &e) {
		e = apperr.New(apperr.Transient, "internal_error", "internal error")
	}

	status := http.StatusInternalServerError
	switch e.K {
	case apperr.ValidationFailure:
		status = http.StatusBadRequest
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.Transient:
		status = http.StatusServiceUnavailable
	case apperr.PermanentBusiness:
		status = http.StatusOK
	}

	body := errorBody{}
	body.Error.Code = e.Code
	body.Error.Message = e.Message
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.ValidationFailure, "malformed_json_body", "could not decode JSON request body", err)
	}
	return nil
}
