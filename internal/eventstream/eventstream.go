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

// Package eventstream mirrors domain transitions to Kafka for downstream
// analytics. It is strictly additive to the transactional Outbox: Emit is
// best-effort, fire-and-forget, and never returns an error a caller could
// act on by retrying or deadlettering, because there is nothing transactional
// to roll back here. A dropped telemetry event is an observability gap, not
// a correctness bug.
package eventstream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/hashicorp/go-uuid"

	"github.com/proofwork/proofwork/internal/log"
)

var logger = log.NewModuleLogger(log.EventStream)

var (
	pb   *Publisher
	once sync.Once
)

// Publisher owns a single async Kafka producer shared by every caller in
// the process, mirroring the teacher's singleton-broker pattern.
type Publisher struct {
	producer    sarama.AsyncProducer
	topicPrefix string
	instanceID  string
}

// New returns the process-wide Publisher, constructing it on first call.
// A nil brokers list yields a no-op Publisher so telemetry can be disabled
// in deployments that don't run Kafka without touching call sites.
func New(brokers []string, topicPrefix string) *Publisher {
	once.Do(func() {
		if len(brokers) == 0 {
			pb = &Publisher{topicPrefix: topicPrefix}
			return
		}
		id, err := uuid.GenerateUUID()
		if err != nil {
			id = "unknown"
		}

		cfg := sarama.NewConfig()
		cfg.Producer.RequiredAcks = sarama.WaitForLocal
		cfg.Producer.Compression = sarama.CompressionSnappy
		cfg.Producer.Flush.Frequency = 500 * time.Millisecond
		cfg.Producer.Return.Successes = false
		cfg.Producer.Return.Errors = true
		cfg.ClientID = fmt.Sprintf("proofworkd-%s", id)

		producer, err := sarama.NewAsyncProducer(brokers, cfg)
		if err != nil {
			logger.Error("failed to start kafka producer, telemetry disabled", "err", err)
			pb = &Publisher{topicPrefix: topicPrefix}
			return
		}

		pub := &Publisher{producer: producer, topicPrefix: topicPrefix, instanceID: id}
		go pub.drainErrors()
		pb = pub
	})
	return pb
}

func (p *Publisher) drainErrors() {
	for perr := range p.producer.Errors() {
		logger.Warn("telemetry publish failed", "topic", perr.Msg.Topic, "err", perr.Err)
	}
}

// Emit mirrors a single domain transition onto the configured topic,
// best-effort: a marshal or producer failure is logged and swallowed.
// Callers invoke this after an outbox handler has returned successfully,
// before the dispatcher marks the row sent, and never in place of the
// outbox (spec.md's Outbox is the correctness path, this is enrichment).
func (p *Publisher) Emit(topic string, payload interface{}) {
	if p == nil || p.producer == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("telemetry payload marshal failed", "topic", topic, "err", err)
		return
	}
	fullTopic := topic
	if p.topicPrefix != "" {
		fullTopic = p.topicPrefix + "." + topic
	}
	msg := &sarama.ProducerMessage{
		Topic: fullTopic,
		Value: sarama.ByteEncoder(data),
	}
	select {
	case p.producer.Input() <- msg:
	default:
		logger.Warn("telemetry producer input full, dropping event", "topic", fullTopic)
	}
}

// Close flushes and releases the underlying producer, if any. Safe to call
// on a no-op Publisher.
func (p *Publisher) Close() {
	if p == nil || p.producer == nil {
		return
	}
	if err := p.producer.Close(); err != nil {
		logger.Warn("telemetry producer close failed", "err", err)
	}
}
