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

// Package onchain implements payout.Provider against the "Base USDC shape"
// of spec.md §4.5 step 4: a single splitter contract call distributing net,
// platform fee and Proofwork fee legs atomically, broadcast under a
// row-locked nonce and confirmed by polling the receipt once
// BASE_CONFIRMATIONS_REQUIRED blocks have passed.
package onchain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/payout"
	"github.com/proofwork/proofwork/internal/store"
	"github.com/proofwork/proofwork/pkg/evmclient"
	"github.com/proofwork/proofwork/pkg/signer"
)

// splitterABI describes the single entry point the splitter contract
// exposes: splitPayout(token, worker, platform, proofwork, net,
// platformFee, proofworkFee), matching spec.md §4.5 step 4's parameter
// list. Fee legs with a zero amount use the zero address for their
// recipient, which the splitter contract treats as "skip this leg".
const splitterABI = `[{
	"name": "splitPayout",
	"type": "function",
	"inputs": [
		{"name": "token", "type": "address"},
		{"name": "worker", "type": "address"},
		{"name": "platform", "type": "address"},
		{"name": "proofwork", "type": "address"},
		{"name": "net", "type": "uint256"},
		{"name": "platformFee", "type": "uint256"},
		{"name": "proofworkFee", "type": "uint256"}
	],
	"outputs": []
}]`

var zeroAddress common.Address

// Config collects the on-chain provider's deployment-specific parameters.
type Config struct {
	ChainID          int64
	SplitterAddress  common.Address
	USDCAddress      common.Address
	USDCDecimals     int
	GasLimit         uint64
	RequiredConfirms uint64
}

// Provider broadcasts a single splitter-contract transaction per payout and
// confirms it by polling the receipt.
type Provider struct {
	cfg    Config
	client *evmclient.Client
	signer signer.Signer
	abi    abi.ABI
}

func New(cfg Config, client *evmclient.Client, sg signer.Signer) (*Provider, error) {
	parsed, err := abi.JSON(strings.NewReader(splitterABI))
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "onchain_abi_parse_failed", "could not parse splitter ABI", err)
	}
	return &Provider{cfg: cfg, client: client, signer: sg, abi: parsed}, nil
}

func (p *Provider) Name() string { return "onchain_base_usdc" }

// centsToBaseUnits converts integer cents to the token's base-unit scale:
// 1 cent = 10^(decimals-2), per spec.md §4.5 step 4.
func centsToBaseUnits(cents model.Cents, decimals int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-2)), nil)
	return new(big.Int).Mul(big.NewInt(int64(cents)), scale)
}

// Execute allocates a nonce under the CryptoNonce row lock, reconciling it
// with the chain's own pending-nonce view, encodes the single splitter
// call, signs and broadcasts it, then upserts one PayoutTransfer row per
// non-zero leg, all sharing the broadcast tx hash and nonce (spec.md §4.5
// step 4, §8 invariant "at most one tx hash exists across all its transfer
// legs").
func (p *Provider) Execute(ctx context.Context, tx store.Tx, po *model.Payout, split payout.Split) (string, bool, error) {
	from := p.signer.Address()

	existing, err := tx.GetTransfersForPayout(ctx, po.ID)
	if err != nil {
		return "", false, err
	}
	if len(existing) > 0 && existing[0].State != model.TransferFailed && existing[0].TxHash != "" {
		return existing[0].TxHash, true, nil
	}

	worker, err := tx.GetWorker(ctx, po.WorkerID)
	if err != nil {
		return "", false, err
	}
	if worker.PayoutAddress == "" || worker.PayoutVerifiedAt == nil {
		return "", false, apperr.New(apperr.Conflict, "onchain_payout_address_missing", "worker has no verified payout address")
	}
	workerAddr := common.HexToAddress(worker.PayoutAddress)
	platformAddr := zeroAddress
	if split.PlatformFeeCents > 0 && po.PlatformFeeWallet != "" {
		platformAddr = common.HexToAddress(po.PlatformFeeWallet)
	}
	proofworkAddr := zeroAddress
	if split.ProofworkFeeCents > 0 && po.ProofworkFeeWallet != "" {
		proofworkAddr = common.HexToAddress(po.ProofworkFeeWallet)
	}

	netUnits := centsToBaseUnits(split.NetCents, p.cfg.USDCDecimals)
	platformUnits := centsToBaseUnits(split.PlatformFeeCents, p.cfg.USDCDecimals)
	proofworkUnits := centsToBaseUnits(split.ProofworkFeeCents, p.cfg.USDCDecimals)

	data, err := p.abi.Pack("splitPayout", p.cfg.USDCAddress, workerAddr, platformAddr, proofworkAddr, netUnits, platformUnits, proofworkUnits)
	if err != nil {
		return "", false, apperr.Wrap(apperr.Transient, "onchain_pack_failed", "could not encode splitter call", err)
	}

	gasPrice, tipCap, err := p.client.SuggestedFees(ctx)
	if err != nil {
		return "", false, err
	}

	nonce, err := tx.AllocateNonce(ctx, p.cfg.ChainID, from.Hex(), func(stored uint64) (uint64, error) {
		pending, err := p.client.PendingNonceAt(ctx, from)
		if err != nil {
			return 0, err
		}
		if pending > stored {
			return pending, nil
		}
		return stored, nil
	})
	if err != nil {
		return "", false, err
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(p.cfg.ChainID),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: gasPrice,
		Gas:       p.cfg.GasLimit,
		To:        &p.cfg.SplitterAddress,
		Data:      data,
	})
	signed, err := p.signer.SignTx(ctx, unsigned, p.cfg.ChainID)
	if err != nil {
		return "", false, err
	}
	if err := p.client.SendRawTransaction(ctx, signed); err != nil {
		return "", false, err
	}

	txHash := signed.Hash().Hex()
	legs := []struct {
		kind   model.TransferKind
		to     common.Address
		amount *big.Int
	}{
		{model.TransferNet, workerAddr, netUnits},
	}
	if split.PlatformFeeCents > 0 {
		legs = append(legs, struct {
			kind   model.TransferKind
			to     common.Address
			amount *big.Int
		}{model.TransferPlatformFee, platformAddr, platformUnits})
	}
	if split.ProofworkFeeCents > 0 {
		legs = append(legs, struct {
			kind   model.TransferKind
			to     common.Address
			amount *big.Int
		}{model.TransferProofworkFee, proofworkAddr, proofworkUnits})
	}
	for _, leg := range legs {
		if err := tx.UpsertTransfer(ctx, &model.PayoutTransfer{
			PayoutID: po.ID,
			Kind:     leg.kind,
			From:     from.Hex(),
			To:       leg.to.Hex(),
			TokenID:  p.cfg.USDCAddress.Hex(),
			Amount:   leg.amount.String(),
			TxHash:   txHash,
			Nonce:    nonce,
			State:    model.TransferBroadcast,
		}); err != nil {
			return "", false, err
		}
	}

	return txHash, true, nil
}

// Confirm polls the receipt for the payout's broadcast transaction and
// requires latestBlock - receiptBlock + 1 >= RequiredConfirms before
// reporting success, per spec.md §4.5 step 5.
func (p *Provider) Confirm(ctx context.Context, tx store.Tx, po *model.Payout) (confirmed bool, reverted bool, err error) {
	transfers, err := tx.GetTransfersForPayout(ctx, po.ID)
	if err != nil {
		return false, false, err
	}
	if len(transfers) == 0 {
		return false, false, apperr.New(apperr.Conflict, "onchain_no_transfers", "no transfer rows recorded for this payout")
	}
	txHash := common.HexToHash(transfers[0].TxHash)

	receipt, err := p.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return false, false, err
	}
	if receipt.Status == 0 {
		return false, true, nil
	}
	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return false, false, err
	}
	depth := head - receipt.BlockNumber + 1
	if depth < p.cfg.RequiredConfirms {
		return false, false, nil
	}
	return true, false, nil
}

var _ payout.Provider = (*Provider)(nil)
