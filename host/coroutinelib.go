// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package host

import (
	"context"

	"github.com/probe-lang/luasafe/stdlib"
	"github.com/probe-lang/luasafe/value"
	"github.com/probe-lang/luasafe/vm"
)

// installCoroutineLib wires the script-visible coroutine table (create,
// resume, yield, status, isyieldable) to the scheduler. This lives
// in package host rather than stdlib because it needs the scheduler and
// per-thread instruction-limit registry that only Globals owns (§C5/§C8).
func (g *Globals) installCoroutineLib(defaultInstrMax uint64) {
	mod := value.NewTable()
	g.table.Set(value.NewStringFromGo("coroutine"), mod)

	mod.Set(value.NewStringFromGo("create"), &value.GoFunc{Name: "coroutine.create", Fn: func(args []value.Value) ([]value.Value, error) {
		cl, ok := first(args).(*value.Closure)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'create' (function expected)")}
		}
		t := g.SpawnWorker(cl, defaultInstrMax)
		return []value.Value{t}, nil
	}})

	mod.Set(value.NewStringFromGo("resume"), &value.GoFunc{Name: "coroutine.resume", Fn: func(args []value.Value) ([]value.Value, error) {
		t, ok := first(args).(*value.Thread)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'resume' (coroutine expected)")}
		}
		results, err := g.Resume(context.Background(), t, rest(args))
		if err != nil {
			if stdlib.NonCatchable(err) {
				// §3: LimitExceeded/StringLimitExceeded must bypass
				// coroutine.resume's (false, msg) conversion exactly as
				// they bypass pcall/xpcall — re-raise to the caller.
				return nil, err
			}
			return []value.Value{value.Bool(false), errAsValue(err)}, nil
		}
		return append([]value.Value{value.Bool(true)}, results...), nil
	}})

	mod.Set(value.NewStringFromGo("yield"), &value.GoFunc{
		Name:    "coroutine.yield",
		IsYield: true,
		Fn: func(args []value.Value) ([]value.Value, error) {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("attempt to yield from outside a resumed coroutine body")}
		},
	})

	mod.Set(value.NewStringFromGo("status"), &value.GoFunc{Name: "coroutine.status", Fn: func(args []value.Value) ([]value.Value, error) {
		t, ok := first(args).(*value.Thread)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("bad argument #1 to 'status' (coroutine expected)")}
		}
		return []value.Value{value.NewStringFromGo(t.Status().String())}, nil
	}})

	mod.Set(value.NewStringFromGo("isyieldable"), &value.GoFunc{Name: "coroutine.isyieldable", Fn: func(args []value.Value) ([]value.Value, error) {
		return []value.Value{value.Bool(false)}, nil
	}})
}

func first(args []value.Value) value.Value {
	if len(args) == 0 {
		return value.NilValue
	}
	return args[0]
}

func rest(args []value.Value) []value.Value {
	if len(args) <= 1 {
		return nil
	}
	return args[1:]
}

func errAsValue(err error) value.Value {
	if le, ok := err.(*vm.LuaError); ok {
		return le.Value
	}
	return value.NewStringFromGo(err.Error())
}
