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

// Package log provides module-scoped structured logging, mirroring the
// call-site shape `logger.Info(msg, key, value, ...)` used throughout the
// engine, backed by zap's SugaredLogger.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names, one per component, used as the "module" field on every
// line emitted by that component's logger.
const (
	Store         = "store"
	Outbox        = "outbox"
	JobQueue      = "jobqueue"
	Verification  = "verification"
	Payout        = "payout"
	Backpressure  = "backpressure"
	Dispute       = "dispute"
	Artifact      = "artifact"
	EventStream   = "eventstream"
	Worker        = "worker"
	API           = "api"
	Node          = "node"
)

var (
	once919 sync.Once
	base    *zap.SugaredLogger
)

func root() *zap.SugaredLogger {
	once919.Do(func() {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		level := zap.NewAtomicLevelAt(zap.InfoLevel)
		if os.Getenv("PROOFWORK_LOG_LEVEL") == "debug" {
			level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stdout), level)
		base = zap.New(core).Sugar()
	})
	return base
}

// Logger is a module-scoped logger. The zero value is not usable; obtain
// one via NewModuleLogger.
type Logger struct {
	s *zap.SugaredLogger
}

// NewModuleLogger returns a Logger tagged with the given module name.
func NewModuleLogger(module string) Logger {
	return Logger{s: root().With("module", module)}
}

func (l Logger) Trace(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l Logger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l Logger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l Logger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l Logger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

// With returns a derived Logger carrying the given additional key/value
// pairs on every subsequent call (e.g. a correlation id for a request).
func (l Logger) With(kv ...interface{}) Logger {
	return Logger{s: l.s.With(kv...)}
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}
