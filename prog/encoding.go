// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Serialize renders p in the textual form of §6.4. Grounded on
// Tingjia-0v0-SchedTest/prog/encoding.go's serializer structure, simplified
// to this engine's Value variant (no struct padding, no call props
// reflection).
func (p *Prog) Serialize() []byte {
	ctx := &serializer{buf: new(bytes.Buffer), vars: make(map[*ResultArg]int)}
	for _, c := range p.Calls {
		resolveCallLens(c)
		ctx.call(c)
	}
	return ctx.buf.Bytes()
}

type serializer struct {
	buf    *bytes.Buffer
	vars   map[*ResultArg]int
	varSeq int
}

func (ctx *serializer) allocVarID(r *ResultArg) int {
	id := ctx.varSeq
	ctx.varSeq++
	ctx.vars[r] = id
	return id
}

func (ctx *serializer) call(c *Call) {
	if c.Ret != nil && len(c.Ret.uses) != 0 {
		fmt.Fprintf(ctx.buf, "r%d = ", ctx.allocVarID(c.Ret))
	}
	fmt.Fprintf(ctx.buf, "%s(", c.Meta.Name)
	for i, a := range c.Args {
		if i != 0 {
			ctx.buf.WriteString(", ")
		}
		ctx.arg(a)
	}
	ctx.buf.WriteString(")\n")
}

func (ctx *serializer) arg(a Arg) {
	switch v := a.(type) {
	case nil:
		ctx.buf.WriteString("nil")
	case *ConstArg:
		fmt.Fprintf(ctx.buf, "0x%x", v.Val)
	case *DataArg:
		serializeData(ctx.buf, v.Data())
	case *GroupArg:
		open, close := byte('{'), byte('}')
		if _, isArray := v.Type().(*ArrayType); isArray {
			open, close = '[', ']'
		}
		ctx.buf.WriteByte(open)
		for i, in := range v.Inner {
			if i != 0 {
				ctx.buf.WriteString(", ")
			}
			ctx.arg(in)
		}
		ctx.buf.WriteByte(close)
	case *UnionArg:
		ut := v.Type().(*UnionType)
		fmt.Fprintf(ctx.buf, "@%s=", ut.Fields[v.Index].Name)
		ctx.arg(v.Option)
	case *PointerArg:
		if v.IsNil {
			ctx.buf.WriteString("0x0")
			return
		}
		fmt.Fprintf(ctx.buf, "&(0x%x)=", v.Address)
		ctx.arg(v.Res)
	case *VMAArg:
		fmt.Fprintf(ctx.buf, "vma(0x%x/%d)", v.Address, v.Pages)
	case *ResultArg:
		if len(v.uses) != 0 {
			fmt.Fprintf(ctx.buf, "<r%d=>", ctx.allocVarID(v))
		}
		if v.Res == nil {
			fmt.Fprintf(ctx.buf, "0x%x", v.Val)
			return
		}
		id, ok := ctx.vars[v.Res]
		if !ok {
			panic("prog: serialize: dangling resource reference")
		}
		fmt.Fprintf(ctx.buf, "r%d", id)
	default:
		panic(fmt.Sprintf("prog: serialize: unknown arg type %T", a))
	}
}

func serializeData(buf *bytes.Buffer, data []byte) {
	if isReadableData(data) {
		buf.WriteByte('\'')
		for _, v := range data {
			switch v {
			case '\'':
				buf.WriteString(`\'`)
			case '\\':
				buf.WriteString(`\\`)
			case '\n':
				buf.WriteString(`\n`)
			default:
				buf.WriteByte(v)
			}
		}
		buf.WriteByte('\'')
		return
	}
	fmt.Fprintf(buf, "\"%s\"", hex.EncodeToString(data))
}

func isReadableData(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for _, v := range data {
		if v == '\n' || v == '\t' {
			continue
		}
		if v < 0x20 || v >= 0x7f {
			return false
		}
	}
	return true
}

// Deserialize parses the textual form produced by Serialize back into a
// Prog, type-directed by target's syscall descriptions so that
// parse(print(P)) == P (§6.4, §8.1).
func (target *Target) Deserialize(data []byte) (*Prog, error) {
	p := newProg(target)
	vars := make(map[int]*ResultArg)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	for lineNo, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		call, retVar, err := parseCallLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
		}
		meta, ok := target.SyscallMap(call.name)
		if !ok {
			return nil, fmt.Errorf("line %d: unknown syscall %q", lineNo+1, call.name)
		}
		if len(call.args) != len(meta.Args) {
			return nil, fmt.Errorf("line %d: %s expects %d args, got %d",
				lineNo+1, call.name, len(meta.Args), len(call.args))
		}
		c := &Call{Meta: meta}
		c.Args = make([]Arg, len(call.args))
		for i, raw := range call.args {
			arg, err := parseArg(meta.Args[i].Type, raw, vars)
			if err != nil {
				return nil, fmt.Errorf("line %d: arg %d: %w", lineNo+1, i, err)
			}
			c.Args[i] = arg
		}
		if meta.Ret != nil {
			c.Ret = MakeResultArg(meta.Ret, nil, 1)
			if retVar >= 0 {
				vars[retVar] = c.Ret
			}
		}
		p.Calls = append(p.Calls, c)
	}
	return p, nil
}

type parsedCall struct {
	name string
	args []string
}

func parseCallLine(line string) (parsedCall, int, error) {
	retVar := -1
	if eq := strings.Index(line, " = "); eq != -1 {
		v := strings.TrimSpace(line[:eq])
		n, err := strconv.Atoi(strings.TrimPrefix(v, "r"))
		if err != nil {
			return parsedCall{}, -1, fmt.Errorf("bad result var %q", v)
		}
		retVar = n
		line = line[eq+3:]
	}
	open := strings.IndexByte(line, '(')
	if open == -1 || !strings.HasSuffix(line, ")") {
		return parsedCall{}, -1, fmt.Errorf("malformed call %q", line)
	}
	name := line[:open]
	body := line[open+1 : len(line)-1]
	return parsedCall{name: name, args: splitTopLevel(body)}, retVar, nil
}

// splitTopLevel splits s on top-level commas, respecting (), {}, [] nesting
// and quoted strings so nested composite arguments are not split.
func splitTopLevel(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	depth := 0
	inQuote := byte(0)
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(' || c == '{' || c == '[':
			depth++
		case c == ')' || c == '}' || c == ']':
			depth--
		case c == ',' && depth == 0:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}

func parseArg(t Type, raw string, vars map[int]*ResultArg) (Arg, error) {
	raw = strings.TrimSpace(raw)
	if raw == "nil" || raw == "0x0" {
		switch tt := t.(type) {
		case *PtrType:
			return MakePointerArg(tt, 0, nil), nil
		case *ResourceType:
			return MakeResultArg(tt, nil, 0), nil
		}
	}
	switch tt := t.(type) {
	case *IntType, *LenType:
		v, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q: %w", raw, err)
		}
		return MakeConstArg(t, v), nil
	case *ResourceType:
		if strings.HasPrefix(raw, "r") {
			n, err := strconv.Atoi(raw[1:])
			if err != nil {
				return nil, fmt.Errorf("bad resource ref %q", raw)
			}
			res, ok := vars[n]
			if !ok {
				return nil, fmt.Errorf("undefined resource var r%d", n)
			}
			return MakeResultArg(tt, res, 0), nil
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad resource literal %q: %w", raw, err)
		}
		return MakeResultArg(tt, nil, v), nil
	case *BufferType:
		data, err := parseData(raw)
		if err != nil {
			return nil, err
		}
		return MakeDataArg(t, data), nil
	case *PtrType:
		eq := strings.Index(raw, ")=")
		if !strings.HasPrefix(raw, "&(") || eq == -1 {
			return nil, fmt.Errorf("malformed pointer %q", raw)
		}
		inner, err := parseArg(tt.Elem, raw[eq+2:], vars)
		if err != nil {
			return nil, err
		}
		addrHex := strings.TrimPrefix(raw[2:eq], "0x")
		addr, err := strconv.ParseUint(addrHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad pointer address %q: %w", raw, err)
		}
		return MakePointerArg(tt, addr, inner), nil
	case *VMAType:
		if !strings.HasPrefix(raw, "vma(") || !strings.HasSuffix(raw, ")") {
			return nil, fmt.Errorf("malformed vma %q", raw)
		}
		parts := strings.SplitN(raw[4:len(raw)-1], "/", 2)
		addr, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad vma address %q: %w", raw, err)
		}
		var pages uint64
		if len(parts) == 2 {
			pages, err = strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad vma page count %q: %w", raw, err)
			}
		}
		return MakeVMAArg(tt, addr, pages), nil
	case *StructType:
		if !strings.HasPrefix(raw, "{") || !strings.HasSuffix(raw, "}") {
			return nil, fmt.Errorf("malformed struct %q", raw)
		}
		parts := splitTopLevel(raw[1 : len(raw)-1])
		inner := make([]Arg, len(tt.Fields))
		for i, f := range tt.Fields {
			if i >= len(parts) {
				return nil, fmt.Errorf("struct %q: missing field %s", raw, f.Name)
			}
			a, err := parseArg(f.Type, parts[i], vars)
			if err != nil {
				return nil, err
			}
			inner[i] = a
		}
		return MakeGroupArg(tt, inner), nil
	case *ArrayType:
		if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
			return nil, fmt.Errorf("malformed array %q", raw)
		}
		parts := splitTopLevel(raw[1 : len(raw)-1])
		inner := make([]Arg, len(parts))
		for i, part := range parts {
			a, err := parseArg(tt.Elem, part, vars)
			if err != nil {
				return nil, err
			}
			inner[i] = a
		}
		return MakeGroupArg(tt, inner), nil
	case *UnionType:
		eq := strings.Index(raw, "=")
		if !strings.HasPrefix(raw, "@") || eq == -1 {
			return nil, fmt.Errorf("malformed union %q", raw)
		}
		name := raw[1:eq]
		for i, f := range tt.Fields {
			if f.Name == name {
				a, err := parseArg(f.Type, raw[eq+1:], vars)
				if err != nil {
					return nil, err
				}
				return MakeUnionArg(tt, i, a), nil
			}
		}
		return nil, fmt.Errorf("unknown union field %q", name)
	default:
		return nil, fmt.Errorf("unsupported type %T for arg %q", t, raw)
	}
}

func parseData(raw string) ([]byte, error) {
	if strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") && len(raw) >= 2 {
		body := raw[1 : len(raw)-1]
		var out []byte
		for i := 0; i < len(body); i++ {
			if body[i] == '\\' && i+1 < len(body) {
				i++
				switch body[i] {
				case 'n':
					out = append(out, '\n')
				case '\'':
					out = append(out, '\'')
				case '\\':
					out = append(out, '\\')
				default:
					out = append(out, body[i])
				}
				continue
			}
			out = append(out, body[i])
		}
		return out, nil
	}
	if strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) && len(raw) >= 2 {
		return hex.DecodeString(raw[1 : len(raw)-1])
	}
	return nil, fmt.Errorf("malformed data literal %q", raw)
}
