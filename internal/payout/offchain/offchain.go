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

// Package offchain implements payout.Provider against an off-chain HTTP
// payment gateway, per spec.md §6: a single POST createPayout(payoutId,
// amountCents, workerId, currency) with a 15s deadline. The provider never
// needs confirmation: the gateway's response is synchronous and terminal.
package offchain

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/payout"
	"github.com/proofwork/proofwork/internal/store"
)

const defaultTimeout = 15 * time.Second

// Provider calls a single off-chain payment gateway endpoint.
type Provider struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Provider {
	return &Provider{baseURL: baseURL, client: &http.Client{Timeout: defaultTimeout}}
}

func (p *Provider) Name() string { return "offchain" }

type createPayoutRequest struct {
	PayoutID    string `json:"payoutId"`
	AmountCents int64  `json:"amountCents"`
	WorkerID    string `json:"workerId"`
	Currency    string `json:"currency"`
}

type createPayoutResponse struct {
	Status      string `json:"status"`
	Provider    string `json:"provider"`
	ProviderRef string `json:"providerRef"`
}

// Execute calls createPayout synchronously. A provider-reported "failed"
// status is the Open Question decision #1 from DESIGN.md: it leaves
// blocked_reason unset and surfaces a Transient error so the outbox's own
// backoff retries the handler rather than inventing a new blocked state.
func (p *Provider) Execute(ctx context.Context, tx store.Tx, po *model.Payout, split payout.Split) (string, bool, error) {
	body, _ := json.Marshal(createPayoutRequest{
		PayoutID:    po.ID,
		AmountCents: int64(split.NetCents),
		WorkerID:    po.WorkerID,
		Currency:    "usd",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/payouts", bytes.NewReader(body))
	if err != nil {
		return "", false, apperr.Wrap(apperr.Transient, "offchain_request_build_failed", "could not build off-chain payout request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", false, apperr.Wrap(apperr.Transient, "offchain_request_failed", "off-chain payout provider unreachable", err)
	}
	defer resp.Body.Close()
	var out createPayoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, apperr.Wrap(apperr.Transient, "offchain_response_decode_failed", "could not decode off-chain payout response", err)
	}
	if out.Status != "paid" {
		return "", false, apperr.New(apperr.Transient, "offchain_payout_failed", "off-chain payout provider reported failure")
	}
	return out.ProviderRef, false, nil
}

// Confirm is a no-op: Execute already waited for the gateway's synchronous,
// terminal response.
func (p *Provider) Confirm(ctx context.Context, tx store.Tx, po *model.Payout) (bool, bool, error) {
	return true, false, nil
}

var _ payout.Provider = (*Provider)(nil)
