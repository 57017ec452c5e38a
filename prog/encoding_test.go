// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	target := buildTestTarget(t)

	openMeta := mustSyscall(t, target, "open$test")
	open := &Call{Meta: openMeta, Args: []Arg{MakeDataArg(mustParamType(t, target, "open$test", "path"), []byte("path"))}}
	open.Ret = MakeResultArg(openMeta.Ret, nil, 1)

	writeMeta := mustSyscall(t, target, "write$test")
	write := &Call{Meta: writeMeta, Args: []Arg{
		MakeResultArg(mustParamType(t, target, "write$test", "fd"), open.Ret, 0),
		MakeDataArg(mustParamType(t, target, "write$test", "data"), []byte("hello")),
		MakeConstArg(mustParamType(t, target, "write$test", "size"), 0),
	}}

	p := &Prog{Target: target, mem: newMemAlloc(VMSize), Calls: []*Call{open, write}}
	text := p.Serialize()

	reparsed, err := target.Deserialize(text)
	require.NoError(t, err)
	require.Equal(t, text, reparsed.Serialize(), "parse(print(P)) must equal print(P)")

	// The len argument must have been resolved to the data's byte size.
	require.Contains(t, string(text), "0x5")
}

func TestDeserializeRejectsUnknownSyscall(t *testing.T) {
	target := buildTestTarget(t)
	_, err := target.Deserialize([]byte("bogus$call()\n"))
	require.Error(t, err)
}

func TestDeserializeRejectsDanglingResourceVar(t *testing.T) {
	target := buildTestTarget(t)
	_, err := target.Deserialize([]byte("close$test(r5)\n"))
	require.Error(t, err)
}

func TestDeserializeRejectsArityMismatch(t *testing.T) {
	target := buildTestTarget(t)
	_, err := target.Deserialize([]byte("close$test(0x1, 0x2)\n"))
	require.Error(t, err)
}
