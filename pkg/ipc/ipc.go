// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package ipc defines the data exchanged across the executor wire
// protocol: the request a fuzzer instance sends to run one program, and
// the per-call coverage/result info it gets back. It models the
// contract, not the transport: Env.ExecFn is the pluggable hook a real
// transport (a subprocess talking a binary framing over a pipe, or an
// in-process test harness) plugs into, since the actual OS-level
// executor is a separate non-Go binary outside this module's scope.
package ipc

import (
	"errors"
	"sync"
	"time"

	"github.com/relfuzz/relfuzz/prog"
)

// Flags controls both environment-lifetime options (sandboxing, which
// kernel subsystems to enable) and per-execution options (what to
// collect). Real syzkaller splits these into two types; here they share
// one flag space since nothing in this engine needs the distinction.
type Flags uint64

const (
	FlagDebug Flags = 1 << iota
	FlagSignal
	FlagCollectCover
	FlagDedupCover
	FlagCollectSignal
	FlagCollectComps
	FlagExtraCover
	FlagInjectFault
	FlagCollide
	FlagSandboxNone
	FlagSandboxSetuid
	FlagSandboxNamespace
	FlagSandboxAndroid
	FlagEnableTun
	FlagEnableNetDev
	FlagEnableNetReset
	FlagEnableCgroups
	FlagEnableCloseFds
	FlagEnableDevlinkPCI
	FlagEnableNicVF
	FlagEnableVhciInjection
	FlagEnableWifi
	FlagDelayKcovMmap
	FlagEnableBinfmtMisc
)

// CallFlags describes the outcome of a single call within a program run.
type CallFlags int

const (
	CallExecuted CallFlags = 1 << iota
	CallFinished
	CallBlocked
	CallFaultInjected
)

// CallInfo is the per-call result: the coverage/signal it produced, its
// errno, and (when fault injection or comparison tracing was requested)
// the auxiliary data those features produce.
type CallInfo struct {
	Flags  CallFlags
	Errno  int
	Signal []uint64
	Cover  []uint32
	Comps  prog.CompMap
}

// ProgInfo is the result of executing an entire program: one CallInfo
// per call plus an Extra slot for signal attributed to no specific call
// (e.g. coverage collected after the last call returns).
type ProgInfo struct {
	Calls   []CallInfo
	Extra   CallInfo
	Elapsed time.Duration
}

// ExecOpts selects what a single execution should collect, and (for
// fault injection jobs) which call/step to fail.
type ExecOpts struct {
	Flags     Flags
	FaultCall int
	FaultNth  int
}

// Config is the environment-lifetime configuration: how the executor
// subprocess should be sandboxed and which optional kernel subsystems it
// may exercise.
type Config struct {
	Executor string
	Flags    Flags
	Timeout  time.Duration
}

// DefaultConfig returns an environment configuration with coverage and
// signal collection enabled and no sandboxing, suitable for local
// testing against a trusted target.
func DefaultConfig(target *prog.Target) (*Config, *ExecOpts, error) {
	if target == nil {
		return nil, nil, errors.New("ipc: nil target")
	}
	return &Config{
			Flags:   FlagSignal | FlagSandboxNone,
			Timeout: 20 * time.Second,
		}, &ExecOpts{
			Flags: FlagCollectSignal | FlagDedupCover,
		}, nil
}

// Env is a single executor instance: the Go-side half of the executor
// protocol (§6.1). ExecFn carries out the actual run; callers (tests, or
// a real subprocess transport wired in by the manager) set it after
// construction.
type Env struct {
	Config Config
	pid    int

	mu     sync.Mutex
	ExecFn func(opts *ExecOpts, p *prog.Prog) (*ProgInfo, error)
}

// MakeEnv constructs an Env bound to the given config and executor slot
// index (pid selects which of N parallel executor slots this Env owns,
// e.g. for shared-memory region addressing by a real transport).
func MakeEnv(config *Config, pid int) (*Env, error) {
	if config == nil {
		return nil, errors.New("ipc: nil config")
	}
	return &Env{Config: *config, pid: pid}, nil
}

// Exec runs p and returns its info, any raw console output the executor
// produced, whether it looked hung, and a transport-level error (as
// opposed to a program-level crash, which is reported via info/output).
func (env *Env) Exec(opts *ExecOpts, p *prog.Prog) (info *ProgInfo, output []byte, hanged bool, err error) {
	env.mu.Lock()
	fn := env.ExecFn
	env.mu.Unlock()
	if fn == nil {
		return nil, nil, false, errors.New("ipc: no executor transport configured")
	}
	info, err = fn(opts, p)
	return info, nil, false, err
}

func (env *Env) Close() error {
	return nil
}
