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

// Package backpressure computes the intake-idle signal the jobs-next API
// handler checks before calling jobqueue.Queue.Next, per spec.md §4.6: a manual UNIVERSAL_WORKER_PAUSE toggle plus three
// queue-age thresholds (verifier backlog, outbox pending, artifact scan
// backlog). The computed signal is cached for a couple of seconds in Redis
// so the hot `next()` path doesn't hit MySQL on every poll; Redis is a
// latency optimization only, never a correctness dependency, so any Redis
// error falls straight through to a direct read.
package backpressure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v7"

	"github.com/proofwork/proofwork/internal/log"
	"github.com/proofwork/proofwork/internal/store"
)

var logger = log.NewModuleLogger(log.Backpressure)

const cacheKey = "proofwork:backpressure:signal"
const cacheTTL = 2 * time.Second

// Thresholds are the configured limits the gate checks queue ages against.
type Thresholds struct {
	MaxVerifierBacklogAgeSec     int64
	MaxOutboxPendingAgeSec       int64
	MaxArtifactScanBacklogAgeSec int64
}

// Signal is the gate's output: whether intake should pause, and why.
type Signal struct {
	Paused bool   `json:"paused"`
	Reason string `json:"reason,omitempty"`
}

// Gate computes Signal from hot settings and queue ages, with a short-lived
// Redis cache in front of the MySQL reads.
type Gate struct {
	store      store.Store
	redis      *redis.Client
	thresholds Thresholds
}

// New builds a Gate. redisClient may be nil, in which case the gate always
// reads MySQL directly (useful for tests and for deployments that haven't
// provisioned Redis).
func New(st store.Store, redisClient *redis.Client, thresholds Thresholds) *Gate {
	return &Gate{store: st, redis: redisClient, thresholds: thresholds}
}

// Evaluate returns the current backpressure signal, preferring the Redis
// cache when available and fresh.
func (g *Gate) Evaluate(ctx context.Context) (Signal, error) {
	if g.redis != nil {
		if cached, ok := g.readCache(ctx); ok {
			return cached, nil
		}
	}
	sig, err := g.computeFromStore(ctx)
	if err != nil {
		return Signal{}, err
	}
	if g.redis != nil {
		g.writeCache(ctx, sig)
	}
	return sig, nil
}

func (g *Gate) readCache(ctx context.Context) (Signal, bool) {
	raw, err := g.redis.WithContext(ctx).Get(cacheKey).Result()
	if err == redis.Nil {
		return Signal{}, false
	}
	if err != nil {
		logger.Debug("backpressure cache read failed, falling back to direct read", "error", err)
		return Signal{}, false
	}
	var sig Signal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		return Signal{}, false
	}
	return sig, true
}

func (g *Gate) writeCache(ctx context.Context, sig Signal) {
	raw, err := json.Marshal(sig)
	if err != nil {
		return
	}
	if err := g.redis.WithContext(ctx).Set(cacheKey, raw, cacheTTL).Err(); err != nil {
		logger.Debug("backpressure cache write failed", "error", err)
	}
}

func (g *Gate) computeFromStore(ctx context.Context) (Signal, error) {
	var sig Signal
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		pauseVal, _, err := tx.GetHotSetting(ctx, "UNIVERSAL_WORKER_PAUSE")
		if err != nil {
			return err
		}
		if pauseVal == "true" {
			sig = Signal{Paused: true, Reason: "universal_worker_pause"}
			return nil
		}

		_, verifierAge, err := tx.VerifierBacklog(ctx)
		if err != nil {
			return err
		}
		if g.thresholds.MaxVerifierBacklogAgeSec > 0 && verifierAge > g.thresholds.MaxVerifierBacklogAgeSec {
			sig = Signal{Paused: true, Reason: "verifier_backlog_age_exceeded"}
			return nil
		}

		outboxAged, err := tx.OutboxPendingOlderThan(ctx, time.Duration(g.thresholds.MaxOutboxPendingAgeSec)*time.Second)
		if err != nil {
			return err
		}
		if g.thresholds.MaxOutboxPendingAgeSec > 0 && outboxAged > 0 {
			sig = Signal{Paused: true, Reason: "outbox_pending_age_exceeded"}
			return nil
		}

		artifactAge, err := tx.ArtifactScanBacklogAge(ctx)
		if err != nil {
			return err
		}
		if g.thresholds.MaxArtifactScanBacklogAgeSec > 0 && artifactAge > g.thresholds.MaxArtifactScanBacklogAgeSec {
			sig = Signal{Paused: true, Reason: "artifact_scan_backlog_age_exceeded"}
			return nil
		}

		sig = Signal{Paused: false}
		return nil
	})
	return sig, err
}
