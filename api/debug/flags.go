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

// Package debug wires proofworkd's process-level profiling knobs: CPU/trace/
// block/mutex profiles dumped to files, and an optional pprof HTTP server.
// Log verbosity is controlled separately, via PROOFWORK_LOG_LEVEL (see
// internal/log), since the engine's zap logger has no glog-style dynamic
// vmodule/backtrace controls to expose here.
package debug

import (
	"runtime"

	"github.com/urfave/cli"

	"github.com/proofwork/proofwork/internal/log"
)

var logger = log.NewModuleLogger(log.Node)

var (
	pprofFlag = cli.BoolFlag{
		Name:  "pprof",
		Usage: "Enable the pprof HTTP server",
	}
	pprofPortFlag = cli.IntFlag{
		Name:  "pprofport",
		Usage: "pprof HTTP server listening port",
		Value: 6160,
	}
	pprofAddrFlag = cli.StringFlag{
		Name:  "pprofaddr",
		Usage: "pprof HTTP server listening interface",
		Value: "127.0.0.1",
	}
	memprofilerateFlag = cli.IntFlag{
		Name:  "memprofilerate",
		Usage: "Turn on memory profiling with the given rate",
		Value: runtime.MemProfileRate,
	}
	blockprofilerateFlag = cli.IntFlag{
		Name:  "blockprofilerate",
		Usage: "Turn on block profiling with the given rate",
	}
	cpuprofileFlag = cli.StringFlag{
		Name:  "cpuprofile",
		Usage: "Write CPU profile to the given file",
	}
	traceFlag = cli.StringFlag{
		Name:  "trace",
		Usage: "Write execution trace to the given file",
	}
)

// Flags holds all command-line flags exposed by this package.
var Flags = []cli.Flag{
	pprofFlag, pprofPortFlag, pprofAddrFlag,
	memprofilerateFlag, blockprofilerateFlag,
	cpuprofileFlag, traceFlag,
}

// Setup initializes profiling according to the flags set on ctx. It is
// called once, at process startup, by proofworkd's Before hook.
func Setup(ctx *cli.Context) error {
	runtime.MemProfileRate = ctx.GlobalInt(memprofilerateFlag.Name)

	if rate := ctx.GlobalInt(blockprofilerateFlag.Name); rate > 0 {
		runtime.SetBlockProfileRate(rate)
	}

	if file := ctx.GlobalString(cpuprofileFlag.Name); file != "" {
		if err := Handler.StartCPUProfile(file); err != nil {
			return err
		}
	}

	if file := ctx.GlobalString(traceFlag.Name); file != "" {
		if err := Handler.StartGoTrace(file); err != nil {
			return err
		}
	}

	if ctx.GlobalBool(pprofFlag.Name) {
		address := ctx.GlobalString(pprofAddrFlag.Name)
		port := ctx.GlobalInt(pprofPortFlag.Name)
		if err := Handler.StartPProf(address, port); err != nil {
			return err
		}
	}

	return nil
}

// Exit stops any profiling started by Setup. It is called from proofworkd's
// After hook, on graceful shutdown.
func Exit() {
	Handler.StopCPUProfile()
	Handler.StopGoTrace()
}
