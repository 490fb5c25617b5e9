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

// Package metrics wraps rcrowley/go-metrics registered counters (the style
// used by the teacher's miner worker: metrics.NewRegisteredCounter(name,
// nil)) and exposes the default registry to Prometheus for scraping.
package metrics

import (
	"net/http"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegisteredCounter registers and returns a named counter on the
// default registry, matching the teacher's call shape.
func NewRegisteredCounter(name string) gometrics.Counter {
	return gometrics.GetOrRegisterCounter(name, gometrics.DefaultRegistry)
}

// NewRegisteredGauge registers and returns a named gauge on the default
// registry.
func NewRegisteredGauge(name string) gometrics.Gauge {
	return gometrics.GetOrRegisterGauge(name, gometrics.DefaultRegistry)
}

// NewRegisteredTimer registers and returns a named timer on the default
// registry.
func NewRegisteredTimer(name string) gometrics.Timer {
	return gometrics.GetOrRegisterTimer(name, gometrics.DefaultRegistry)
}

// Counters used across the engine. Declared once here so every package
// that increments one imports a name instead of a string literal.
var (
	OutboxDispatched  = NewRegisteredCounter("outbox/dispatched")
	OutboxDeadlettered = NewRegisteredCounter("outbox/deadlettered")
	OutboxRetried     = NewRegisteredCounter("outbox/retried")
	JobClaimed        = NewRegisteredCounter("jobqueue/claimed")
	JobLostRace       = NewRegisteredCounter("jobqueue/lost_race")
	JobStale          = NewRegisteredCounter("jobqueue/stale")
	SubmissionsWritten = NewRegisteredCounter("jobqueue/submitted")
	VerificationClaimed = NewRegisteredCounter("verification/claimed")
	VerificationVerdicts = NewRegisteredCounter("verification/verdicts")
	PayoutPaid        = NewRegisteredCounter("payout/paid")
	PayoutFailed      = NewRegisteredCounter("payout/failed")
	PayoutRefunded    = NewRegisteredCounter("payout/refunded")
)

// collector bridges rcrowley/go-metrics's DefaultRegistry into
// prometheus/client_golang's Collector interface, so every counter/gauge/
// timer declared above via NewRegistered* is scraped without being
// declared a second time against a prometheus.Desc.
type collector struct{}

func (collector) Describe(ch chan<- *prometheus.Desc) {
	// Unchecked collector: descriptors are generated per-scrape in Collect.
}

func (collector) Collect(ch chan<- prometheus.Metric) {
	gometrics.DefaultRegistry.Each(func(name string, i interface{}) {
		sanitized := sanitizeName(name)
		switch m := i.(type) {
		case gometrics.Counter:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitized, name, nil, nil), prometheus.CounterValue, float64(m.Count()))
		case gometrics.Gauge:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitized, name, nil, nil), prometheus.GaugeValue, float64(m.Value()))
		case gometrics.Timer:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitized+"_count", name+" count", nil, nil), prometheus.CounterValue, float64(m.Count()))
		}
	})
}

// Handler returns the Prometheus scrape endpoint for the bridged registry.
func Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector{})
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
