// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import "testing"

// buildTestTarget constructs a small, self-consistent Target used across
// the prog package's tests: an fd resource produced by open$test and
// consumed by read$test/write$test/close$test, plus a couple of plain
// value syscalls to exercise Int/Buffer/Array/Union generation.
func buildTestTarget(t *testing.T) *Target {
	t.Helper()

	fdDesc := &ResourceDesc{Name: "fd", Kind: []string{"fd"}}
	fdType := func(dir Dir) *ResourceType {
		return &ResourceType{TypeCommon: TypeCommon{TypeName: "fd", TypeDir: dir}, Desc: fdDesc}
	}
	bufType := &BufferType{
		TypeCommon: TypeCommon{TypeName: "buf", TypeDir: DirIn},
		Kind:       BufferFilename,
		MaxSize:    16,
	}
	flagsType := &IntType{
		TypeCommon: TypeCommon{TypeName: "flags", TypeDir: DirIn},
		BitSize:    32,
		Kind:       IntFlags,
		Values:     []uint64{1, 2, 4},
	}
	lenType := &LenType{
		TypeCommon: TypeCommon{TypeName: "len", TypeDir: DirIn},
		BitSize:    32,
		BytesOf:    true,
		Path:       []string{"data"},
	}
	dataBuf := &BufferType{
		TypeCommon: TypeCommon{TypeName: "data", TypeDir: DirIn},
		Kind:       BufferString,
		MaxSize:    24,
	}
	arrType := &ArrayType{
		TypeCommon: TypeCommon{TypeName: "arr", TypeDir: DirIn},
		Elem:       &IntType{TypeCommon: TypeCommon{TypeName: "elem", TypeDir: DirIn}, BitSize: 8, Kind: IntPlain},
		SizeKind:   ArrayRange,
		RangeBegin: 0,
		RangeEnd:   4,
	}
	unionType := &UnionType{
		TypeCommon: TypeCommon{TypeName: "un", TypeDir: DirIn},
		Fields: []Field{
			{Name: "a", Type: &IntType{TypeCommon: TypeCommon{TypeName: "a", TypeDir: DirIn}, BitSize: 8, Kind: IntPlain}},
			{Name: "b", Type: &IntType{TypeCommon: TypeCommon{TypeName: "b", TypeDir: DirIn}, BitSize: 16, Kind: IntPlain}},
		},
	}

	openCall := &Syscall{
		Name: "open$test",
		Args: []Param{{Name: "path", Type: bufType}},
		Ret:  fdType(DirOut),
	}
	closeCall := &Syscall{
		Name: "close$test",
		Args: []Param{{Name: "fd", Type: fdType(DirIn)}},
	}
	writeCall := &Syscall{
		Name: "write$test",
		Args: []Param{
			{Name: "fd", Type: fdType(DirIn)},
			{Name: "data", Type: dataBuf},
			{Name: "size", Type: lenType},
		},
	}
	miscCall := &Syscall{
		Name: "misc$test",
		Args: []Param{
			{Name: "flags", Type: flagsType},
			{Name: "arr", Type: arrType},
			{Name: "un", Type: unionType},
		},
	}

	target, err := NewTarget(&Target{
		OS:       "test",
		Arch:     "test64",
		Syscalls: []*Syscall{openCall, closeCall, writeCall, miscCall},
		Resources: map[string]*ResourceDesc{
			"fd": fdDesc,
		},
	})
	if err != nil {
		t.Fatalf("buildTestTarget: %v", err)
	}
	fdDesc.Producers = []*Syscall{openCall}
	fdDesc.Consumers = []*Syscall{closeCall, writeCall}
	return target
}

func defaultChoiceTable(target *Target) *ChoiceTable {
	return target.BuildChoiceTable(nil, nil, nil)
}
