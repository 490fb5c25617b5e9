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

// Command proofworkd is the marketplace's single long-running process: it
// serves the worker/verifier/operator HTTP surface (spec.md §6) and runs
// the outbox dispatcher loops that drive verification, payout, dispute and
// artifact side effects (spec.md §5's "set of long-running worker
// processes... each running one or more loops").
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	"github.com/urfave/cli"

	"github.com/proofwork/proofwork/api"
	"github.com/proofwork/proofwork/api/debug"
	"github.com/proofwork/proofwork/internal/apperr"
	"github.com/proofwork/proofwork/internal/artifact"
	"github.com/proofwork/proofwork/internal/artifactstore"
	"github.com/proofwork/proofwork/internal/backpressure"
	"github.com/proofwork/proofwork/internal/config"
	"github.com/proofwork/proofwork/internal/dispute"
	"github.com/proofwork/proofwork/internal/eventstream"
	"github.com/proofwork/proofwork/internal/jobqueue"
	"github.com/proofwork/proofwork/internal/log"
	"github.com/proofwork/proofwork/internal/metrics"
	"github.com/proofwork/proofwork/internal/model"
	"github.com/proofwork/proofwork/internal/outbox"
	"github.com/proofwork/proofwork/internal/payout"
	"github.com/proofwork/proofwork/internal/payout/offchain"
	"github.com/proofwork/proofwork/internal/payout/onchain"
	"github.com/proofwork/proofwork/internal/store"
	"github.com/proofwork/proofwork/internal/verification"
	"github.com/proofwork/proofwork/internal/worker"
	"github.com/proofwork/proofwork/pkg/evmclient"
	"github.com/proofwork/proofwork/pkg/signer"

	gored "github.com/go-redis/redis/v7"
)

var logger = log.NewModuleLogger(log.Node)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to a TOML configuration file overlaying the built-in defaults",
	}
	httpAddrFlag = cli.StringFlag{
		Name:  "http.addr",
		Usage: "listen address for the worker/verifier/operator HTTP surface",
	}
	payoutProviderFlag = cli.StringFlag{
		Name:  "payout.provider",
		Usage: "payout settlement provider: \"onchain\" (Base USDC splitter) or \"offchain\"",
		Value: "offchain",
	}
	signerKeyFlag = cli.StringFlag{
		Name:   "signer.key",
		Usage:  "hex-encoded local private key for the on-chain payout signer (omit to use a KMS signer wired in by the operator)",
		EnvVar: "PROOFWORK_SIGNER_KEY",
	}
	offchainBaseURLFlag = cli.StringFlag{
		Name:  "payout.offchain.url",
		Usage: "base URL of the off-chain payout provider",
	}
	verifierGatewayURLFlag = cli.StringFlag{
		Name:  "verifier.gateway.url",
		Usage: "base URL of the verifier gateway (POST /run)",
	}

	app = cli.NewApp()
)

func init() {
	app.Name = "proofworkd"
	app.Usage = "Proofwork job-lifecycle and settlement engine"
	app.Version = "0.1.0"
	app.Copyright = "Copyright 2026 The Proofwork Authors"
	app.Action = run
	app.Flags = []cli.Flag{
		configFlag,
		httpAddrFlag,
		payoutProviderFlag,
		signerKeyFlag,
		offchainBaseURLFlag,
		verifierGatewayURLFlag,
	}
	app.Flags = append(app.Flags, debug.Flags...)
	sort.Sort(cli.FlagsByName(app.Flags))

	app.Before = func(ctx *cli.Context) error {
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		log.Sync()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		red := color.New(color.FgRed)
		red.Fprintln(colorable.NewColorableStderr(), err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := config.Load(cliCtx.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if v := cliCtx.String(httpAddrFlag.Name); v != "" {
		cfg.HTTPAddr = v
	}
	if v := cliCtx.String(verifierGatewayURLFlag.Name); v != "" {
		cfg.VerifierGatewayURL = v
	}

	st, err := store.Open(cfg.MySQLDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var redisClient *gored.Client
	if cfg.RedisAddr != "" {
		redisClient = gored.NewClient(&gored.Options{Addr: cfg.RedisAddr})
	}

	var stream *eventstream.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		stream = eventstream.New(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		defer stream.Close()
	}

	payoutProvider, err := buildPayoutProvider(cliCtx, cfg)
	if err != nil {
		return fmt.Errorf("build payout provider: %w", err)
	}

	jobs := jobqueue.New(st)
	var gateway verification.Gateway
	if cfg.VerifierGatewayURL != "" {
		gateway = verification.NewGatewayClient(cfg.VerifierGatewayURL)
	}
	verifCoord := verification.New(st, cfg.MaxVerificationAttempts, cfg.VerificationExhaustPolicy, gateway)
	gate := backpressure.New(st, redisClient, backpressure.Thresholds{
		MaxVerifierBacklogAgeSec:     cfg.MaxVerifierBacklogAgeSec,
		MaxOutboxPendingAgeSec:       cfg.MaxOutboxPendingAgeSec,
		MaxArtifactScanBacklogAgeSec: cfg.MaxArtifactScanBacklogAgeSec,
	})
	artifacts := artifact.New(st, noopScanner{})
	var artifactStore *artifactstore.Presigner
	if cfg.S3Bucket != "" {
		artifactStore, err = artifactstore.New(cfg.S3Region, cfg.S3Bucket)
		if err != nil {
			return fmt.Errorf("build artifact store: %w", err)
		}
	}
	workerAuth := worker.NewAuthenticator(st, cfg.WorkerTokenPeppers)
	workerMgr := worker.New(st)
	disputes := dispute.New(st)

	payoutEngine := payout.New(st, payoutProvider, orgFeeSettings(cfg))

	dispatcher := outbox.New(st, outbox.Config{
		MaxAttempts:  cfg.MaxOutboxAttempts,
		LockTTL:      cfg.OutboxLockTimeout,
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		Concurrency:  cfg.OutboxWorkerConcurrency,
	})
	dispatcher.Register("verification.requested", wrapEmit(stream, "verification.requested", verifCoord.HandleVerificationRequested))
	dispatcher.Register("payout.requested", wrapEmit(stream, "payout.requested", payoutEngine.HandlePayoutRequested))
	dispatcher.Register("payout.confirm.requested", wrapEmit(stream, "payout.confirm.requested", byIDPayload("payout_id", payoutEngine.HandlePayoutConfirmRequested)))
	dispatcher.Register("dispute.auto_refund.requested", wrapEmit(stream, "dispute.auto_refund.requested", byIDPayload("dispute_id", disputes.HandleAutoRefundRequested)))
	dispatcher.Register("artifact.scan.requested", wrapEmit(stream, "artifact.scan.requested", artifacts.HandleScanRequested))
	dispatcher.Start()
	defer dispatcher.Stop()

	go runLeaseReaper(jobs)

	srv := api.New(api.Deps{
		Jobs:                 jobs,
		Verification:         verifCoord,
		Gate:                 gate,
		Artifacts:            artifacts,
		ArtifactStore:        artifactStore,
		WorkerAuth:           workerAuth,
		WorkerManager:        workerMgr,
		VerifierBearerToken:  cfg.VerifierBearerToken,
		DefaultLeaseSec:      cfg.DefaultLeaseSec,
		VerificationClaimTTL: time.Duration(cfg.VerificationClaimTTLSec) * time.Second,
		ArtifactPresignTTL:   time.Duration(cfg.ArtifactPresignTTLSec) * time.Second,
	})

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("/metrics", metrics.Handler())

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited", "cause", err)
		}
	}()

	waitForShutdown(httpSrv)
	return nil
}

// buildPayoutProvider selects and constructs the configured payout.Provider,
// matching spec.md §4.5's off-chain/on-chain split.
func buildPayoutProvider(cliCtx *cli.Context, cfg config.Config) (payout.Provider, error) {
	switch cliCtx.String(payoutProviderFlag.Name) {
	case "onchain":
		client, err := evmclient.Dial(cfg.BaseRPCURL)
		if err != nil {
			return nil, err
		}
		var sg signer.Signer
		if key := cliCtx.String(signerKeyFlag.Name); key != "" {
			sg, err = signer.NewLocal(key)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, fmt.Errorf("onchain payout provider requires a signer (set --signer.key, or wire a KMS signer in a fork of this command)")
		}
		return onchain.New(onchain.Config{
			ChainID:          cfg.BaseChainID,
			SplitterAddress:  common.HexToAddress(cfg.SplitterContractAddress),
			USDCAddress:      common.HexToAddress(cfg.USDCTokenAddress),
			USDCDecimals:     cfg.USDCDecimals,
			GasLimit:         cfg.BaseGasLimit,
			RequiredConfirms: cfg.BaseConfirmationsRequired,
		}, client, sg)
	default:
		return offchain.New(cliCtx.String(offchainBaseURLFlag.Name)), nil
	}
}

// orgFeeSettings resolves a payout's org fee configuration by walking
// submission -> job -> bounty -> org, per design note §9 ("cyclic
// references... model as identifiers with store-side joins").
func orgFeeSettings(cfg config.Config) func(ctx context.Context, tx store.Tx, p *model.Payout) (payout.FeeSettings, error) {
	return func(ctx context.Context, tx store.Tx, p *model.Payout) (payout.FeeSettings, error) {
		sub, err := tx.GetSubmissionForUpdate(ctx, p.SubmissionID)
		if err != nil {
			return payout.FeeSettings{}, err
		}
		job, err := tx.GetJobForUpdate(ctx, sub.JobID)
		if err != nil {
			return payout.FeeSettings{}, err
		}
		bounty, err := tx.GetBounty(ctx, job.BountyID)
		if err != nil {
			return payout.FeeSettings{}, err
		}
		org, err := tx.GetOrg(ctx, bounty.OrgID)
		if err != nil {
			return payout.FeeSettings{}, err
		}
		return payout.FeeSettings{
			PlatformFeeBps:     org.PlatformFeeBps,
			PlatformFeeWallet:  org.PlatformFeeWallet,
			ProofworkFeeBps:    model.BasisPoints(cfg.ProofworkFeeBps),
			MaxProofworkFeeBps: model.BasisPoints(cfg.MaxProofworkFeeBps),
		}, nil
	}
}

// runLeaseReaper periodically reopens jobs whose lease expired without a
// submission, per spec.md §4.3 "Lease reaper: a periodic job... that flips
// state back to open"; the handler is idempotent so overlapping ticks are
// harmless (spec.md §5 calls the reaper "a singleton effect... idempotent
// even if accidentally run multiply").
func runLeaseReaper(jobs *jobqueue.Queue) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		n, err := jobs.ReapExpiredLeases(context.Background())
		if err != nil {
			logger.Warn("lease reap failed", "cause", err)
			continue
		}
		if n > 0 {
			logger.Info("reaped expired leases", "count", n)
		}
	}
}

// noopScanner satisfies artifact.ScannerClient for deployments that haven't
// wired a real content scanner yet (spec.md §1 keeps the scanner engine
// itself out of scope); it marks every artifact clean.
type noopScanner struct{}

func (noopScanner) Scan(ctx context.Context, artifactID string) (bool, error) { return true, nil }

// wrapEmit adapts a []byte-payload handler into an outbox.Handler that also mirrors the
// event to the best-effort Kafka eventstream once the handler succeeds.
func wrapEmit(stream *eventstream.Publisher, topic string, fn func(ctx context.Context, payload []byte) error) outbox.Handler {
	return func(ctx context.Context, ev *model.OutboxEvent) error {
		if err := fn(ctx, ev.Payload); err != nil {
			return err
		}
		if stream != nil {
			stream.Emit(topic, ev.Payload)
		}
		return nil
	}
}

// byIDPayload adapts a handler that takes a single string id (the common
// shape for outbox topics whose payload is just `{"<field>": "<id>"}`) into
// the []byte-payload signature wrapEmit expects.
func byIDPayload(field string, fn func(ctx context.Context, id string) error) func(ctx context.Context, payload []byte) error {
	return func(ctx context.Context, payload []byte) error {
		var req map[string]string
		if err := json.Unmarshal(payload, &req); err != nil {
			return apperr.Wrap(apperr.ValidationFailure, "outbox_payload_invalid", "could not decode outbox payload", err)
		}
		return fn(ctx, req[field])
	}
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains the HTTP server,
// matching the teacher's cmd/utils.StartNode signal-handling shape.
func waitForShutdown(httpSrv *http.Server) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}
