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

package worker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/store/storetest"
)

func hmacSecret(pepper, workerID, secret string) []byte {
	key, err := workerKey(pepper, workerID)
	if err != nil {
		panic(err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(secret))
	return mac.Sum(nil)
}

func TestAuthenticateAcceptsMatchingToken(t *testing.T) {
	fake := storetest.New()
	fake.PutWorker(&model.Worker{
		ID: "worker1", TokenPrefix: "pfx1", PepperVersion: 1,
		TokenHMAC: hmacSecret("pepper-v1", "worker1", "s3cret"),
	})
	auth := NewAuthenticator(fake, []string{"pepper-v1"})

	w, err := auth.Authenticate(context.Background(), "pfx1.s3cret")
	require.NoError(t, err)
	assert.Equal(t, "worker1", w.ID)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	fake := storetest.New()
	fake.PutWorker(&model.Worker{
		ID: "worker1", TokenPrefix: "pfx1", PepperVersion: 1,
		TokenHMAC: hmacSecret("pepper-v1", "worker1", "s3cret"),
	})
	auth := NewAuthenticator(fake, []string{"pepper-v1"})

	_, err := auth.Authenticate(context.Background(), "pfx1.wrong")
	require.Error(t, err)
}

func TestAuthenticateRejectsDisabledWorker(t *testing.T) {
	fake := storetest.New()
	fake.PutWorker(&model.Worker{
		ID: "worker1", TokenPrefix: "pfx1", PepperVersion: 1,
		TokenHMAC: hmacSecret("pepper-v1", "worker1", "s3cret"), Disabled: true,
	})
	auth := NewAuthenticator(fake, []string{"pepper-v1"})

	_, err := auth.Authenticate(context.Background(), "pfx1.s3cret")
	require.Error(t, err)
}

func TestAuthenticateHonorsOlderPepperVersion(t *testing.T) {
	fake := storetest.New()
	fake.PutWorker(&model.Worker{
		ID: "worker1", TokenPrefix: "pfx1", PepperVersion: 1,
		TokenHMAC: hmacSecret("old-pepper", "worker1", "s3cret"),
	})
	auth := NewAuthenticator(fake, []string{"old-pepper", "new-pepper"})

	w, err := auth.Authenticate(context.Background(), "pfx1.s3cret")
	require.NoError(t, err)
	assert.Equal(t, "worker1", w.ID)
}

func TestAuthenticateRejectsMalformedToken(t *testing.T) {
	fake := storetest.New()
	auth := NewAuthenticator(fake, []string{"pepper-v1"})

	_, err := auth.Authenticate(context.Background(), "no-dot-here")
	require.Error(t, err)
}
