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

// Package evmclient wraps go-ethereum's ethclient with the caller-supplied
// deadlines and retryable-error convention the payout engine needs: every
// method takes a context.Context carrying its own deadline (spec.md §5:
// "every external call has a caller-provided deadline... default... 30s for
// RPC reads, 120s for RPC broadcast") and wraps failures as apperr.Transient
// so the outbox dispatcher retries them automatically.
package evmclient

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/proofwork/proofwork/internal/apperr"
)

// Client is the subset of EVM JSON-RPC methods the payout engine calls,
// per spec.md §6: eth_gasPrice, eth_maxPriorityFeePerGas,
// eth_getTransactionCount(pending), eth_sendRawTransaction,
// eth_getTransactionReceipt, eth_blockNumber.
type Client struct {
	rpc *ethclient.Client
}

// Dial connects to the RPC endpoint. url is typically an HTTPS JSON-RPC
// endpoint for the target Ethereum-family L2 (spec.md §4.5, Base by
// default).
func Dial(url string) (*Client, error) {
	c, err := ethclient.Dial(url)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "evmclient_dial_failed", "could not dial EVM RPC endpoint", err)
	}
	return &Client{rpc: c}, nil
}

func (c *Client) Close() { c.rpc.Close() }

// SuggestedFees returns the gas price and the EIP-1559 priority fee
// (eth_gasPrice, eth_maxPriorityFeePerGas).
func (c *Client) SuggestedFees(ctx context.Context) (gasPrice, tipCap *big.Int, err error) {
	gasPrice, err = c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Transient, "evmclient_gas_price_failed", "eth_gasPrice failed", err)
	}
	tipCap, err = c.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Transient, "evmclient_tip_cap_failed", "eth_maxPriorityFeePerGas failed", err)
	}
	return gasPrice, tipCap, nil
}

// PendingNonceAt returns the chain's view of the next free nonce for addr,
// used by the payout engine to reconcile against the stored CryptoNonce row
// (spec.md §4.5 step 4: "reconcile with the chain's pending nonce (take max
// of stored and chain-pending)").
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := c.rpc.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "evmclient_pending_nonce_failed", "eth_getTransactionCount(pending) failed", err)
	}
	return n, nil
}

// SendRawTransaction broadcasts a fully signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.rpc.SendTransaction(ctx, tx); err != nil {
		return apperr.Wrap(apperr.Transient, "evmclient_broadcast_failed", "eth_sendRawTransaction failed", err)
	}
	return nil
}

// Receipt is the subset of a transaction receipt the confirmation handler
// needs.
type Receipt struct {
	BlockNumber uint64
	Status      uint64 // 1 = success, 0 = reverted
}

// ErrReceiptPending is returned by TransactionReceipt while the transaction
// has not yet been mined; the outbox retries on this error (spec.md §4.5
// step 5: "if pending, throw (outbox retry)").
var ErrReceiptPending = apperr.New(apperr.Transient, "receipt_pending", "transaction receipt not yet available")

// TransactionReceipt fetches the receipt for txHash, or ErrReceiptPending if
// the transaction has not yet been mined.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	r, err := c.rpc.TransactionReceipt(ctx, txHash)
	if err == ethereum.NotFound {
		return nil, ErrReceiptPending
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "evmclient_receipt_failed", "eth_getTransactionReceipt failed", err)
	}
	return &Receipt{BlockNumber: r.BlockNumber.Uint64(), Status: r.Status}, nil
}

// BlockNumber returns the current chain head height (eth_blockNumber), used
// to compute confirmation depth alongside the receipt's block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "evmclient_block_number_failed", "eth_blockNumber failed", err)
	}
	return n, nil
}
