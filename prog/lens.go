// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

// resolveCallLens recomputes every top-level LenType argument of c from its
// sibling (§3.1 LenType.Path, §4.2.1: "Len values ... recomputed at
// serialization time"). Only single-element sibling paths are supported,
// matching target.go's findField.
//
// This replaces the teacher's general BinaryOperation/Value expression
// evaluator (prog/expr.go in the retrieved sources): this engine's Len
// type only ever names one sibling field, so a full conditional-expression
// AST has no caller and was dropped (see DESIGN.md).
func resolveCallLens(c *Call) {
	for _, arg := range c.Args {
		ca, ok := arg.(*ConstArg)
		if !ok {
			continue
		}
		lt, ok := ca.Type().(*LenType)
		if !ok || len(lt.Path) == 0 {
			continue
		}
		sibling := findSiblingArg(c, lt.Path[0])
		if sibling == nil {
			continue
		}
		ca.Val = lenOf(sibling, lt.BytesOf)
	}
}

func findSiblingArg(c *Call, name string) Arg {
	for i, p := range c.Meta.Args {
		if p.Name == name {
			return c.Args[i]
		}
	}
	return nil
}

// lenOf computes the element count (or byte size, if bytesOf) of an
// argument subtree.
func lenOf(a Arg, bytesOf bool) uint64 {
	if bytesOf {
		return argSize(a)
	}
	switch v := a.(type) {
	case *GroupArg:
		return uint64(len(v.Inner))
	case *DataArg:
		return uint64(len(v.Data()))
	default:
		return argSize(a)
	}
}
