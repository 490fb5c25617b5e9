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

// Package jobqueue matches workers to claimable jobs: Next lists candidates
// filtered by capability and canary partition, Claim performs the
// lease-based claim with exactly-one-winner semantics, and ReapExpiredLeases
// recovers jobs whose lease holder went silent.
package jobqueue

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"

	set "gopkg.in/fatih/set.v0"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/descriptor"
	"github.com/proofwork/proofwork/internal/log"
	"github.com/proofwork/proofwork/internal/metrics"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
)

var logger = log.NewModuleLogger(log.JobQueue)

type Queue struct {
	store store.Store
}

func New(st store.Store) *Queue {
	return &Queue{store: st}
}

// NextFilter narrows the candidate list returned by Next.
type NextFilter struct {
	WorkerCaps      []string
	RequireTag      string
	MinRewardCents  model.Cents
	RequireTaskType string
	CanaryPercent   int
	Limit           int
}

// Next returns open (or lease-expired) jobs whose descriptor's capability
// tags are a subset of the worker's declared capabilities, and that fall
// within the canary partition when one is configured.
func (q *Queue) Next(ctx context.Context, filter NextFilter) ([]*model.Job, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	workerSet := set.New()
	for _, c := range filter.WorkerCaps {
		workerSet.Add(c)
	}

	var out []*model.Job
	err := q.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		canaryPercent := filter.CanaryPercent
		if canaryPercent == 0 {
			hotPercent, err := canaryPercentFromHotSettings(ctx, tx)
			if err != nil {
				return err
			}
			canaryPercent = hotPercent
		}

		candidates, err := tx.FindClaimableJobs(ctx, store.JobFilter{
			WorkerCaps:      filter.WorkerCaps,
			RequireTag:      filter.RequireTag,
			MinRewardCents:  filter.MinRewardCents,
			RequireTaskType: filter.RequireTaskType,
			CanaryPercent:   canaryPercent,
			Now:             time.Now(),
		}, filter.Limit*4) // overfetch: the capability/canary filter below narrows further
		if err != nil {
			return err
		}
		for _, j := range candidates {
			if len(out) >= filter.Limit {
				break
			}
			if canaryPercent > 0 && canaryPercent < 100 && !inCanary(j.ID, canaryPercent) {
				continue
			}
			d, err := descriptor.Validate(j.TaskDescriptor, descriptor.Options{})
			if err != nil {
				logger.Warn("skipping job with invalid descriptor", "job_id", j.ID, "cause", err)
				continue
			}
			if !capabilitiesSatisfied(workerSet, d.CapabilityTags) {
				continue
			}
			out = append(out, j)
		}
		return nil
	})
	return out, err
}

// capabilitiesSatisfied reports whether workerCaps is a superset of
// required, mirroring the teacher's ancestor/family/uncle membership
// checks (work/worker.go commitUncle: work.family.Has(hash)).
func capabilitiesSatisfied(workerCaps *set.Set, required []string) bool {
	for _, r := range required {
		if !workerCaps.Has(r) {
			return false
		}
	}
	return true
}

// canaryPercentFromHotSettings reads the operator-controlled canary
// partition size, the same "small state table with per-row versioning" that
// backpressure.Gate.computeFromStore reads UNIVERSAL_WORKER_PAUSE from. An
// unset or malformed value means no canary partitioning (100% of jobs are
// eligible).
func canaryPercentFromHotSettings(ctx context.Context, tx store.Tx) (int, error) {
	val, _, err := tx.GetHotSetting(ctx, "CANARY_PERCENT")
	if err != nil {
		return 0, err
	}
	if val == "" {
		return 0, nil
	}
	percent, err := strconv.Atoi(val)
	if err != nil {
		logger.Warn("ignoring malformed CANARY_PERCENT hot setting", "value", val, "cause", err)
		return 0, nil
	}
	return percent, nil
}

// inCanary reports whether jobID falls inside the [0, percent) partition of
// the FNV-32 hash space, used to route a fixed fraction of jobs to a canary
// worker population.
func inCanary(jobID string, percent int) bool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	return int(h.Sum32()%100) < percent
}

// Claim attempts to lease jobID to workerID for leaseSec seconds. It
// returns apperr.ErrLostRace if another worker's claim (or a still-live
// lease) wins the race, and apperr.ErrStaleJob if the job's freshness
// deadline has already passed.
func (q *Queue) Claim(ctx context.Context, jobID, workerID string, leaseSec int64) (*model.Job, error) {
	var claimed *model.Job
	err := q.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.ClaimJobForWorker(ctx, jobID, workerID, leaseSec)
		if err != nil {
			return err
		}
		claimed = j
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.Conflict {
			if err == apperr.ErrLostRace {
				metrics.JobLostRace.Inc(1)
			} else if err == apperr.ErrStaleJob {
				metrics.JobStale.Inc(1)
			}
		}
		return nil, err
	}
	metrics.JobClaimed.Inc(1)
	return claimed, nil
}

// ReapExpiredLeases reopens jobs whose lease holder never submitted before
// the lease expired, making them claimable again. Meant to run on a ticker.
func (q *Queue) ReapExpiredLeases(ctx context.Context) (int, error) {
	var n int
	err := q.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		reaped, err := tx.ReapExpiredLeases(ctx, time.Now())
		if err != nil {
			return err
		}
		n = reaped
		return nil
	})
	if n > 0 {
		logger.Info("reaped expired leases", "count", n)
	}
	return n, err
}
