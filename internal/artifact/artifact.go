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

// Package artifact implements the evidence-artifact lifecycle contract of
// spec.md §4.8: uploaded -> scanning -> clean | quarantined, driven by the
// `artifact.scan.requested` and `artifact.delete.requested` outbox topics.
// The scanner and object-storage backend remain out of scope (spec.md §1);
// this package owns only the state machine and its transactional wiring.
package artifact

import (
	"context"
	"encoding/json"
	"time"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/log"
	"github.com/proofwork/proofwork/internal/store"
)

var logger = log.NewModuleLogger(log.Artifact)

const (
	StateUploaded   = "uploaded"
	StateScanning   = "scanning"
	StateClean      = "clean"
	StateQuarantined = "quarantined"
)

// ScannerClient is the opaque collaborator that actually inspects an
// artifact's bytes. Proofwork never implements a real scanner; this
// interface exists so the lifecycle's tests can inject a fake and so a
// deployment can wire in whatever scanning service it already runs.
type ScannerClient interface {
	// Scan returns true if the artifact is safe to serve as evidence.
	Scan(ctx context.Context, artifactID string) (clean bool, err error)
}

// Lifecycle drives the artifact state machine.
type Lifecycle struct {
	store   store.Store
	scanner ScannerClient
}

func New(st store.Store, scanner ScannerClient) *Lifecycle {
	return &Lifecycle{store: st, scanner: scanner}
}

// RecordUpload creates the artifact's upload-complete row and schedules its
// scan in the same transaction, per spec.md §4.8 ("Scanning is triggered by
// an artifact.scan.requested event, written transactionally with the
// artifact's upload-complete record").
func (l *Lifecycle) RecordUpload(ctx context.Context, artifactID, uploaderID string) error {
	return l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateArtifactUpload(ctx, artifactID, uploaderID); err != nil {
			return err
		}
		if err := tx.SetArtifactState(ctx, artifactID, StateScanning); err != nil {
			return err
		}
		return tx.ScheduleOutbox(ctx, "artifact.scan.requested", "artifact_scan:"+artifactID,
			mustJSON(map[string]string{"artifact_id": artifactID}), time.Now())
	})
}

// HandleScanRequested is the `artifact.scan.requested` outbox handler: it
// invokes the scanner and transitions the artifact to its terminal clean
// or quarantined state. Idempotent: a terminal artifact is a no-op.
func (l *Lifecycle) HandleScanRequested(ctx context.Context, rawPayload []byte) error {
	var req struct {
		ArtifactID string `json:"artifact_id"`
	}
	if err := json.Unmarshal(rawPayload, &req); err != nil {
		return apperr.Wrap(apperr.ValidationFailure, "artifact_payload_invalid", "could not decode artifact.scan.requested payload", err)
	}
	clean, err := l.scanner.Scan(ctx, req.ArtifactID)
	if err != nil {
		return err
	}
	return l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		state, err := tx.GetArtifactState(ctx, req.ArtifactID)
		if err != nil {
			return err
		}
		if state == StateClean || state == StateQuarantined {
			logger.Debug("artifact already terminal, no-op", "artifact_id", req.ArtifactID, "state", state)
			return nil
		}
		next := StateQuarantined
		if clean {
			next = StateClean
		}
		return tx.SetArtifactState(ctx, req.ArtifactID, next)
	})
}

// RequireClean returns an error unless the artifact has reached the clean
// state, per spec.md §4.8 ("Submission artifact attachment requires clean
// state").
func (l *Lifecycle) RequireClean(ctx context.Context, artifactID string) error {
	return l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		state, err := tx.GetArtifactState(ctx, artifactID)
		if err != nil {
			return err
		}
		if state != StateClean {
			return apperr.New(apperr.Conflict, "artifact_not_clean", "artifact has not passed scanning")
		}
		return nil
	})
}

// ScheduleDeletion enqueues an `artifact.delete.requested` event for a
// retention job to pick up. The engine guarantees at-most-once effective
// deletion only because the external deleter is itself idempotent
// (spec.md §4.8); this package never deletes bytes directly.
func (l *Lifecycle) ScheduleDeletion(ctx context.Context, artifactID string, at time.Time) error {
	return l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.ScheduleOutbox(ctx, "artifact.delete.requested", "artifact_delete:"+artifactID,
			mustJSON(map[string]string{"artifact_id": artifactID}), at)
	})
}

func mustJSON(v map[string]string) []byte {
	b, _ := json.Marshal(v)
	return b
}
