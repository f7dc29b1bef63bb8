// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package stdlib implements the curated builtin surface (§C7): base
// functions, and the table/string/math/os/debug libraries. Every entry
// here is hand-registered — there is deliberately no reflection-based
// auto-binding, so the set of callables a script can reach is exactly
// what this package lists.
package stdlib

import (
	"fmt"

	"github.com/probe-lang/luasafe/value"
	"github.com/probe-lang/luasafe/vm"
)

func goFunc(name string, fn func(args []value.Value) ([]value.Value, error)) *value.GoFunc {
	return &value.GoFunc{Name: name, Fn: fn}
}

func arg(args []value.Value, i int) value.Value {
	if i < len(args) {
		return args[i]
	}
	return value.NilValue
}

func one(v value.Value) []value.Value { return []value.Value{v} }

// OpenBase installs the global base functions (print, type, tostring,
// tonumber, pairs, ipairs, next, pcall, xpcall, error, assert, select,
// rawget, rawset, rawequal, rawlen, setmetatable, getmetatable) into g.
// console is the bounded host console queue print() writes through
// (§C8: "bounded console queue with cooperative-yield back-pressure").
func OpenBase(g *value.Table, console Console) {
	g.Set(value.NewStringFromGo("_G"), g)
	g.Set(value.NewStringFromGo("_VERSION"), value.NewStringFromGo("Lua 5.2 (sandboxed)"))

	g.Set(value.NewStringFromGo("print"), &value.GoFunc{Name: "print", FnWithCaller: func(c value.Caller, args []value.Value) ([]value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = tostringValue(c, a)
		}
		line := ""
		for i, p := range parts {
			if i > 0 {
				line += "\t"
			}
			line += p
		}
		if err := console.Push(line); err != nil {
			return nil, err
		}
		return nil, nil
	}})

	g.Set(value.NewStringFromGo("type"), goFunc("type", func(args []value.Value) ([]value.Value, error) {
		return one(value.NewStringFromGo(arg(args, 0).Type())), nil
	}))

	g.Set(value.NewStringFromGo("tostring"), &value.GoFunc{Name: "tostring", FnWithCaller: func(c value.Caller, args []value.Value) ([]value.Value, error) {
		return one(value.NewStringFromGo(tostringValue(c, arg(args, 0)))), nil
	}})

	g.Set(value.NewStringFromGo("tonumber"), goFunc("tonumber", func(args []value.Value) ([]value.Value, error) {
		v := arg(args, 0)
		if n, ok := value.AsNumber(v); ok {
			return one(value.Number(n)), nil
		}
		if s, ok := v.(*value.Str); ok {
			var f float64
			if _, err := fmt.Sscanf(s.GoString(), "%g", &f); err == nil {
				return one(value.Number(f)), nil
			}
		}
		return one(value.NilValue), nil
	}))

	g.Set(value.NewStringFromGo("next"), goFunc("next", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'next' (table expected)")}
		}
		k, v, ok := t.Next(arg(args, 1))
		if !ok {
			return one(value.NilValue), nil
		}
		return []value.Value{k, v}, nil
	}))

	g.Set(value.NewStringFromGo("pairs"), goFunc("pairs", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'pairs' (table expected)")}
		}
		return []value.Value{g.GetStr("next"), t, value.NilValue}, nil
	}))

	g.Set(value.NewStringFromGo("ipairs"), goFunc("ipairs", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'ipairs' (table expected)")}
		}
		iter := goFunc("ipairs.iterator", func(ia []value.Value) ([]value.Value, error) {
			i, _ := value.AsNumber(arg(ia, 1))
			next := int32(i) + 1
			v := t.Get(value.Integer(next))
			if value.IsNil(v) {
				return one(value.NilValue), nil
			}
			return []value.Value{value.Integer(next), v}, nil
		})
		return []value.Value{iter, t, value.Integer(0)}, nil
	}))

	g.Set(value.NewStringFromGo("rawget"), goFunc("rawget", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("table expected")}
		}
		return one(t.Get(arg(args, 1))), nil
	}))

	g.Set(value.NewStringFromGo("rawset"), goFunc("rawset", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("table expected")}
		}
		if err := t.Set(arg(args, 1), arg(args, 2)); err != nil {
			return nil, &vm.LuaError{Value: value.NewStringFromGo(err.Error())}
		}
		return one(t), nil
	}))

	g.Set(value.NewStringFromGo("rawequal"), goFunc("rawequal", func(args []value.Value) ([]value.Value, error) {
		return one(value.Bool(value.RawEqual(arg(args, 0), arg(args, 1)))), nil
	}))

	g.Set(value.NewStringFromGo("rawlen"), goFunc("rawlen", func(args []value.Value) ([]value.Value, error) {
		switch x := arg(args, 0).(type) {
		case *value.Table:
			return one(value.Integer(int32(x.Len()))), nil
		case *value.Str:
			return one(value.Integer(int32(x.Len()))), nil
		}
		return nil, &vm.LuaError{Value: value.NewStringFromGo("table or string expected")}
	}))

	g.Set(value.NewStringFromGo("setmetatable"), goFunc("setmetatable", func(args []value.Value) ([]value.Value, error) {
		t, ok := arg(args, 0).(*value.Table)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'setmetatable' (table expected)")}
		}
		switch mt := arg(args, 1).(type) {
		case value.Nil:
			t.Metatable = nil
		case *value.Table:
			t.Metatable = mt
		default:
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #2 to 'setmetatable' (nil or table expected)")}
		}
		return one(t), nil
	}))

	g.Set(value.NewStringFromGo("getmetatable"), goFunc("getmetatable", func(args []value.Value) ([]value.Value, error) {
		mt := value.GetMetatable(arg(args, 0))
		if mt == nil {
			return one(value.NilValue), nil
		}
		return one(mt), nil
	}))

	g.Set(value.NewStringFromGo("assert"), goFunc("assert", func(args []value.Value) ([]value.Value, error) {
		v := arg(args, 0)
		if v.Truthy() {
			return args, nil
		}
		msg := arg(args, 1)
		if value.IsNil(msg) {
			msg = value.NewStringFromGo("assertion failed!")
		}
		return nil, &vm.LuaError{Value: msg}
	}))

	g.Set(value.NewStringFromGo("error"), goFunc("error", func(args []value.Value) ([]value.Value, error) {
		return nil, &vm.LuaError{Value: arg(args, 0)}
	}))

	g.Set(value.NewStringFromGo("select"), goFunc("select", func(args []value.Value) ([]value.Value, error) {
		sel := arg(args, 0)
		if s, ok := sel.(*value.Str); ok && s.GoString() == "#" {
			return one(value.Integer(int32(len(args) - 1))), nil
		}
		n, _ := value.AsNumber(sel)
		i := int(n)
		if i < 0 {
			i = len(args) - 1 + i + 1
		}
		if i < 1 || i >= len(args) {
			return nil, nil
		}
		return args[i:], nil
	}))

	g.Set(value.NewStringFromGo("pcall"), &value.GoFunc{Name: "pcall", FnWithCaller: func(c value.Caller, args []value.Value) ([]value.Value, error) {
		if len(args) == 0 {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'pcall' (value expected)")}
		}
		results, err := c.Call(args[0], args[1:])
		if err != nil {
			if isNonCatchable(err) {
				return nil, err
			}
			return []value.Value{value.Bool(false), errValue(err)}, nil
		}
		return append([]value.Value{value.Bool(true)}, results...), nil
	}})

	g.Set(value.NewStringFromGo("xpcall"), &value.GoFunc{Name: "xpcall", FnWithCaller: func(c value.Caller, args []value.Value) ([]value.Value, error) {
		if len(args) < 2 {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #2 to 'xpcall' (value expected)")}
		}
		handler := args[1]
		results, err := c.Call(args[0], args[2:])
		if err != nil {
			if isNonCatchable(err) {
				return nil, err
			}
			hres, herr := c.Call(handler, []value.Value{errValue(err)})
			if herr != nil {
				return nil, herr
			}
			return append([]value.Value{value.Bool(false)}, hres...), nil
		}
		return append([]value.Value{value.Bool(true)}, results...), nil
	}})
}

// isNonCatchable reports whether err must bypass pcall/xpcall: a
// limiter.LimitExceeded or a limiter.StringLimitExceeded (§3).
func isNonCatchable(err error) bool {
	return NonCatchable(err)
}

func errValue(err error) value.Value {
	if le, ok := err.(*vm.LuaError); ok {
		return le.Value
	}
	return value.NewStringFromGo(err.Error())
}

func tostringValue(c value.Caller, v value.Value) string {
	if h, ok := value.Metamethod(v, value.MetaToString); ok {
		res, err := c.Call(h, []value.Value{v})
		if err == nil && len(res) > 0 {
			if s, ok := res[0].(*value.Str); ok {
				return s.GoString()
			}
		}
	}
	return value.ToString(v)
}
