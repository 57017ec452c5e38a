// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package rpctype defines the messages exchanged between the manager and
// a fuzzer instance (§6.2): connection handshake, periodic check-in, and
// the individual execution requests/results and triaged inputs a fuzzer
// reports back for cross-instance corpus sync.
package rpctype

import (
	"fmt"
	"net"
	"net/rpc"

	"github.com/relfuzz/relfuzz/pkg/signal"
)

// SignalType distinguishes why a Request wants signal collected, so the
// manager-side scheduler can prioritize flaky-signal reconfirmation runs
// differently from first-time triage.
type SignalType int

const (
	NoSignal SignalType = iota
	NewSignal
	RetrySignal
)

// Input is a triaged program the fuzzer instance reports to the manager
// for corpus sync, carrying enough information (stable signal, full
// coverage) that the manager never has to re-execute it to learn what it
// does.
type Input struct {
	Call     string
	CallID   int
	Prog     []byte
	Signal   signal.Serial
	Cover    []uint32
	RawCover []uint32
}

// RPCInput is the legacy wire shape for syz-fuzzer's manager RPC client,
// kept for that binary's Go-RPC based protocol.
type RPCInput struct {
	Call     string
	Prog     []byte
	Signal   signal.Serial
	Cover    []uint32
	RawCover []uint32
}

// ConnectArgs is sent by a fuzzer instance on first connecting to the
// manager.
type ConnectArgs struct {
	Name string
}

// ConnectRes is the manager's reply to Connect: the initial corpus and
// enabled-syscall configuration the instance should start from.
type ConnectRes struct {
	EnabledCalls  []string
	Inputs        []RPCInput
	MaxSignal     signal.Serial
	CheckResult   *CheckArgs
	NeedCheck     bool
	MemoryLeak    bool
	Fault         bool
	CompsSupports bool
}

// CheckArgs reports which syscalls the instance could actually enable
// against the running kernel, once its executor has finished probing
// feature availability.
type CheckArgs struct {
	Name           string
	Error          string
	EnabledCalls   map[string][]string
	DisabledCalls  map[string][]string
	Features       map[string]bool
	KernelRelease  string
	Canonicalize   map[string]string
}

// ExchangeInfoRequest carries a batch of newly triaged inputs from the
// instance to the manager, and asks for any it is missing in return.
type ExchangeInfoRequest struct {
	Name      string
	NewInputs []Input
}

// ExchangeInfoReply is the manager's response: inputs the instance
// hasn't seen yet, keyed by the signal they contributed.
type ExchangeInfoReply struct {
	NewInputs []Input
}

// ExecutionRequest is what the manager hands a remote instance to run
// (when the manager, not the instance, owns program generation).
type ExecutionRequest struct {
	ID           int64
	ProgData     []byte
	NeedSignal   SignalType
	NeedCover    bool
	NeedHints    bool
	SignalFilter signal.Serial
}

// ExecutionResult is the instance's reply to an ExecutionRequest.
type ExecutionResult struct {
	ID       int64
	Info     []byte // encoded ipc.ProgInfo
	Try      int
	Stop     bool
}

// RPCServer wraps net/rpc.Server with the fixed name the manager
// registers its receiver under.
type RPCServer struct {
	s        *rpc.Server
	listener net.Listener
}

// NewRPCServer registers receiver under name and starts listening on
// addr ("" picks a free local port).
func NewRPCServer(addr, name string, receiver interface{}) (*RPCServer, error) {
	s := rpc.NewServer()
	if err := s.RegisterName(name, receiver); err != nil {
		return nil, fmt.Errorf("rpctype: failed to register %v: %w", name, err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpctype: failed to listen on %v: %w", addr, err)
	}
	srv := &RPCServer{s: s, listener: ln}
	go srv.s.Accept(srv.listener)
	return srv, nil
}

func (srv *RPCServer) Addr() net.Addr {
	return srv.listener.Addr()
}

func (srv *RPCServer) Close() error {
	return srv.listener.Close()
}
