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

// Package config assembles the immutable Config struct consumed by every
// other package, constructed once at process start from a TOML file
// overlaid with flags (see cmd/proofworkd), per design note §9 ("Global
// mutable settings: consolidate into an immutable configuration struct
// constructed at process start").
package config

import (
	"os"
	"strings"
	"time"

	"github.com/naoina/toml"
)

// Config is never mutated after Load returns it. Hot values that must
// change at runtime (UNIVERSAL_WORKER_PAUSE, canary percent) live in the
// "hot settings" store-backed table, not here.
type Config struct {
	MySQLDSN string `toml:"mysql_dsn"`
	RedisAddr string `toml:"redis_addr"`

	HTTPAddr string `toml:"http_addr"`

	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopicPrefix string `toml:"kafka_topic_prefix"`

	MaxOutboxAttempts     int           `toml:"max_outbox_attempts"`
	OutboxLockTimeout     time.Duration `toml:"-"`
	OutboxLockTimeoutSec  int64         `toml:"outbox_lock_timeout_sec"`
	OutboxPollInterval    time.Duration `toml:"-"`
	OutboxPollIntervalMS  int64         `toml:"outbox_poll_interval_ms"`
	OutboxBatchSize       int           `toml:"outbox_batch_size"`
	OutboxWorkerConcurrency int         `toml:"outbox_worker_concurrency"`

	MaxVerificationAttempts int `toml:"max_verification_attempts"`
	// VerificationExhaustPolicy is one of "reopen" or "close"; see
	// DESIGN.md Open Question decision #2. Default is "reopen".
	VerificationExhaustPolicy string `toml:"verification_exhaust_policy"`

	DefaultDisputeWindowSec int64 `toml:"default_dispute_window_sec"`

	ProofworkFeeBps    int `toml:"proofwork_fee_bps"`
	MaxProofworkFeeBps int `toml:"max_proofwork_fee_bps"`

	BaseConfirmationsRequired uint64 `toml:"base_confirmations_required"`
	BaseGasLimit              uint64 `toml:"base_gas_limit"`
	BaseChainID               int64  `toml:"base_chain_id"`
	BaseRPCURL                string `toml:"base_rpc_url"`
	SplitterContractAddress   string `toml:"splitter_contract_address"`
	USDCTokenAddress          string `toml:"usdc_token_address"`
	USDCDecimals              int    `toml:"usdc_decimals"`

	DefaultLeaseSec int64 `toml:"default_lease_sec"`

	TaskDescriptorBrowserFlowValidate      bool `toml:"task_descriptor_browser_flow_validate"`
	TaskDescriptorBrowserFlowAllowValueEnv bool `toml:"task_descriptor_browser_flow_allow_value_env"`

	MaxVerifierBacklogAgeSec    int64 `toml:"max_verifier_backlog_age_sec"`
	MaxOutboxPendingAgeSec      int64 `toml:"max_outbox_pending_age_sec"`
	MaxArtifactScanBacklogAgeSec int64 `toml:"max_artifact_scan_backlog_age_sec"`

	S3Bucket string `toml:"s3_bucket"`
	S3Region string `toml:"s3_region"`

	// WorkerTokenPeppers holds every pepper that's ever been active, indexed
	// by Worker.PepperVersion - 1, so a rotation appends a new pepper without
	// invalidating tokens already hashed under an older one.
	WorkerTokenPeppers []string `toml:"-"`

	// VerifierBearerToken authenticates the single trusted verifier gateway
	// caller against /api/verifier/*; unlike worker tokens it is a single
	// shared secret, not a per-principal HMAC (spec.md §1 keeps the
	// verifier gateway's own auth model out of scope).
	VerifierBearerToken string `toml:"-"`

	VerificationClaimTTLSec int64 `toml:"verification_claim_ttl_sec"`

	ArtifactPresignTTLSec int64 `toml:"artifact_presign_ttl_sec"`

	// VerifierGatewayURL is the base URL the verification.requested outbox
	// handler posts to (POST /run); see internal/verification.GatewayClient.
	VerifierGatewayURL string `toml:"verifier_gateway_url"`
}

// Defaults returns the production-leaning default configuration; Load
// overlays a TOML file (if present) on top of this.
func Defaults() Config {
	return Config{
		MySQLDSN:                 "proofwork:proofwork@tcp(127.0.0.1:3306)/proofwork?parseTime=true",
		RedisAddr:                "127.0.0.1:6379",
		HTTPAddr:                 ":8080",
		KafkaTopicPrefix:         "proofwork",
		MaxOutboxAttempts:        10,
		OutboxLockTimeoutSec:     600,
		OutboxPollIntervalMS:     500,
		OutboxBatchSize:          50,
		OutboxWorkerConcurrency:  8,
		MaxVerificationAttempts:  3,
		VerificationExhaustPolicy: "reopen",
		DefaultDisputeWindowSec:  86400,
		ProofworkFeeBps:          100,
		MaxProofworkFeeBps:       500,
		BaseConfirmationsRequired: 5,
		BaseGasLimit:             250000,
		BaseChainID:              8453,
		USDCDecimals:             6,
		DefaultLeaseSec:          300,
		TaskDescriptorBrowserFlowValidate:      true,
		TaskDescriptorBrowserFlowAllowValueEnv: false,
		MaxVerifierBacklogAgeSec:     300,
		MaxOutboxPendingAgeSec:       120,
		MaxArtifactScanBacklogAgeSec: 900,
		VerificationClaimTTLSec:      300,
		ArtifactPresignTTLSec:        900,
	}
}

// Load reads a TOML file at path (if non-empty and present) over the
// defaults, then resolves derived time.Duration fields, then overlays the
// worker-token pepper from the environment (a secret never belongs in a
// config file checked into an operator's repo).
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, err
		}
	}
	cfg.OutboxLockTimeout = time.Duration(cfg.OutboxLockTimeoutSec) * time.Second
	cfg.OutboxPollInterval = time.Duration(cfg.OutboxPollIntervalMS) * time.Millisecond
	if raw := os.Getenv("PROOFWORK_WORKER_TOKEN_PEPPERS"); raw != "" {
		cfg.WorkerTokenPeppers = strings.Split(raw, ",")
	}
	cfg.VerifierBearerToken = os.Getenv("PROOFWORK_VERIFIER_BEARER_TOKEN")
	return cfg, nil
}
