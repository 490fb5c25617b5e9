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

// Package outbox dispatches rows written to the transactional outbox table
// to their registered handlers: a batch claim under SKIP LOCKED, a handler
// call per row, exponential backoff on transient failure, and deadletter
// once a row exhausts its attempt budget. Handlers register themselves the
// way work.Agent registers with work.worker: by topic name, before Start.
package outbox

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/log"
	"github.com/proofwork/proofwork/internal/metrics"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store"
)

var logger = log.NewModuleLogger(log.Outbox)

// Handler processes one outbox event. A nil return marks the row sent; an
// error whose apperr.KindOf is Transient (which includes any error that is
// not an *apperr.Error) is retried with backoff until the attempt budget
// runs out; an *apperr.Error of any other Kind is deadlettered immediately.
type Handler func(ctx context.Context, event *model.OutboxEvent) error

// Dispatcher polls the outbox table and fans claimed rows out to their
// topic's registered Handler.
type Dispatcher struct {
	store store.Store

	maxAttempts     int
	lockTTL         time.Duration
	pollInterval    time.Duration
	batchSize       int
	concurrency     int
	workerID        string

	mu       sync.RWMutex
	handlers map[string]Handler

	quit   chan struct{}
	wg     sync.WaitGroup
	atWork int32
}

// Config collects the tunables read from internal/config.Config.
type Config struct {
	MaxAttempts  int
	LockTTL      time.Duration
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	WorkerID     string
}

func New(st store.Store, cfg Config) *Dispatcher {
	if cfg.WorkerID == "" {
		cfg.WorkerID = fmt.Sprintf("dispatcher-%d", time.Now().UnixNano())
	}
	return &Dispatcher{
		store:        st,
		maxAttempts:  cfg.MaxAttempts,
		lockTTL:      cfg.LockTTL,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		concurrency:  cfg.Concurrency,
		workerID:     cfg.WorkerID,
		handlers:     make(map[string]Handler),
		quit:         make(chan struct{}),
	}
}

// Register binds a Handler to a topic. Call before Start; Register after
// Start is not safe against a concurrent poll reading the handler map.
func (d *Dispatcher) Register(topic string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = h
}

func (d *Dispatcher) topics() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	return out
}

func (d *Dispatcher) handlerFor(topic string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[topic]
	return h, ok
}

// Start spins up the poll loop. It returns immediately; call Stop to drain.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

func (d *Dispatcher) Stop() {
	close(d.quit)
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			d.pollOnce()
		}
	}
}

// pollOnce claims one batch and processes it with up to d.concurrency
// handlers running at once.
func (d *Dispatcher) pollOnce() {
	ctx := context.Background()
	var batch []*model.OutboxEvent
	err := d.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		claimed, err := tx.ClaimOpenOutbox(ctx, d.topics(), d.workerID, d.batchSize, d.lockTTL)
		if err != nil {
			return err
		}
		batch = claimed
		return nil
	})
	if err != nil {
		logger.Warn("claim batch failed", "cause", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for _, ev := range batch {
		ev := ev
		sem <- struct{}{}
		wg.Add(1)
		atomic.AddInt32(&d.atWork, 1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
				atomic.AddInt32(&d.atWork, -1)
			}()
			d.process(ctx, ev)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, ev *model.OutboxEvent) {
	h, ok := d.handlerFor(ev.Topic)
	if !ok {
		logger.Error("no handler registered for topic", "topic", ev.Topic, "id", ev.ID)
		d.deadletter(ctx, ev, "no handler registered for topic "+ev.Topic)
		return
	}

	err := h(ctx, ev)
	if err == nil {
		d.markSent(ctx, ev)
		return
	}

	if apperr.KindOf(err) != apperr.Transient || ev.Attempts >= d.maxAttempts {
		metrics.OutboxDeadlettered.Inc(1)
		logger.Error("outbox event deadlettered", "topic", ev.Topic, "id", ev.ID, "attempts", ev.Attempts, "cause", err)
		d.deadletter(ctx, ev, err.Error())
		return
	}

	delay := backoff(ev.Attempts)
	metrics.OutboxRetried.Inc(1)
	logger.Warn("outbox event rescheduled", "topic", ev.Topic, "id", ev.ID, "attempts", ev.Attempts, "delay", delay, "cause", err)
	_ = d.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.RescheduleOutbox(ctx, ev.ID, err.Error(), delay)
	})
}

func (d *Dispatcher) markSent(ctx context.Context, ev *model.OutboxEvent) {
	if err := d.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.MarkOutboxSent(ctx, ev.ID)
	}); err != nil {
		logger.Error("mark sent failed", "id", ev.ID, "cause", err)
		return
	}
	metrics.OutboxDispatched.Inc(1)
}

func (d *Dispatcher) deadletter(ctx context.Context, ev *model.OutboxEvent, lastError string) {
	if err := d.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.MarkOutboxDead(ctx, ev.ID, lastError)
	}); err != nil {
		logger.Error("deadletter failed", "id", ev.ID, "cause", err)
	}
}

// backoff computes min(60, 2^min(10, attempts-1)) seconds, per the
// retry schedule.
func backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	exp := attempts - 1
	if exp > 10 {
		exp = 10
	}
	seconds := math.Pow(2, float64(exp))
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}
