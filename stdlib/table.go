// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package stdlib

import (
	"sort"

	"github.com/probe-lang/luasafe/value"
	"github.com/probe-lang/luasafe/vm"
)

// OpenTable installs the table library (insert, remove, concat, sort,
// unpack, pack, contains — the last a sandbox-native addition per §4.6 so
// scripts needn't write an O(n) search loop themselves).
func OpenTable(g *value.Table) {
	mod := value.NewTable()
	g.Set(value.NewStringFromGo("table"), mod)

	mod.Set(value.NewStringFromGo("insert"), goFunc("table.insert", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'insert' (table expected)")}
		}
		n := t.Len()
		if len(args) >= 3 {
			pos, _ := value.AsNumber(args[1])
			v := args[2]
			for i := n; i >= int(pos); i-- {
				t.Set(value.Integer(int32(i+1)), t.Get(value.Integer(int32(i))))
			}
			t.Set(value.Integer(int32(pos)), v)
		} else {
			t.Set(value.Integer(int32(n+1)), arg(args, 1))
		}
		return nil, nil
	}))

	mod.Set(value.NewStringFromGo("remove"), goFunc("table.remove", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'remove' (table expected)")}
		}
		n := t.Len()
		pos := n
		if len(args) >= 2 {
			f, _ := value.AsNumber(args[1])
			pos = int(f)
		}
		if n == 0 {
			return one(value.NilValue), nil
		}
		removed := t.Get(value.Integer(int32(pos)))
		for i := pos; i < n; i++ {
			t.Set(value.Integer(int32(i)), t.Get(value.Integer(int32(i+1))))
		}
		t.Set(value.Integer(int32(n)), value.NilValue)
		return one(removed), nil
	}))

	mod.Set(value.NewStringFromGo("concat"), goFunc("table.concat", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'concat' (table expected)")}
		}
		sep := ""
		if s, ok := arg(args, 1).(*value.Str); ok {
			sep = s.GoString()
		}
		i, j := 1, t.Len()
		if len(args) >= 3 {
			f, _ := value.AsNumber(args[2])
			i = int(f)
		}
		if len(args) >= 4 {
			f, _ := value.AsNumber(args[3])
			j = int(f)
		}
		out := ""
		for k := i; k <= j; k++ {
			if k > i {
				out += sep
			}
			out += value.ToString(t.Get(value.Integer(int32(k))))
		}
		return one(value.NewStringFromGo(out)), nil
	}))

	mod.Set(value.NewStringFromGo("pack"), goFunc("table.pack", func(args []value.Value) ([]value.Value, error) {
		t := value.NewTableSize(len(args), 1)
		for i, a := range args {
			t.Set(value.Integer(int32(i+1)), a)
		}
		t.Set(value.NewStringFromGo("n"), value.Integer(int32(len(args))))
		return one(t), nil
	}))

	mod.Set(value.NewStringFromGo("unpack"), goFunc("table.unpack", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'unpack' (table expected)")}
		}
		i, j := 1, t.Len()
		if len(args) >= 2 {
			f, _ := value.AsNumber(args[1])
			i = int(f)
		}
		if len(args) >= 3 {
			f, _ := value.AsNumber(args[2])
			j = int(f)
		}
		var out []value.Value
		for k := i; k <= j; k++ {
			out = append(out, t.Get(value.Integer(int32(k))))
		}
		return out, nil
	}))

	mod.Set(value.NewStringFromGo("contains"), goFunc("table.contains", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'contains' (table expected)")}
		}
		return one(value.Bool(t.Contains(arg(args, 1)))), nil
	}))

	mod.Set(value.NewStringFromGo("sort"), &value.GoFunc{Name: "table.sort", FnWithCaller: func(c value.Caller, args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'sort' (table expected)")}
		}
		n := t.Len()
		elems := make([]value.Value, n)
		for i := 0; i < n; i++ {
			elems[i] = t.Get(value.Integer(int32(i + 1)))
		}
		var sortErr error
		less := func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			if len(args) >= 2 && !value.IsNil(args[1]) {
				res, err := c.Call(args[1], []value.Value{elems[i], elems[j]})
				if err != nil {
					sortErr = err
					return false
				}
				return first(res).Truthy()
			}
			an, aok := value.AsNumber(elems[i])
			bn, bok := value.AsNumber(elems[j])
			if aok && bok {
				return an < bn
			}
			as, _ := elems[i].(*value.Str)
			bs, _ := elems[j].(*value.Str)
			if as != nil && bs != nil {
				return as.GoString() < bs.GoString()
			}
			return false
		}
		sort.SliceStable(elems, less)
		if sortErr != nil {
			return nil, sortErr
		}
		for i, v := range elems {
			t.Set(value.Integer(int32(i+1)), v)
		}
		return nil, nil
	}})
}

func first(vs []value.Value) value.Value {
	if len(vs) == 0 {
		return value.NilValue
	}
	return vs[0]
}
