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

package eventstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithNoBrokersIsNoOp(t *testing.T) {
	p := New(nil, "proofwork")

	assert.NotPanics(t, func() {
		p.Emit("job.claimed", map[string]string{"job_id": "job1"})
	})
	assert.NotPanics(t, p.Close)
}

func TestEmitOnNilPublisherIsNoOp(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() {
		p.Emit("payout.paid", map[string]string{"payout_id": "pay1"})
	})
}
