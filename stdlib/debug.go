// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package stdlib

import "github.com/probe-lang/luasafe/value"

// OpenDebug installs a diagnostics-only debug library. There is no
// debug.sethook (which in stock Lua could install a hook cheap enough to
// erase the C3 instruction budget's effect by running arbitrary script
// code off a counter the VM doesn't charge), no debug.getupvalue/
// setupvalue, no debug.getregistry — only getinfo's source, line and
// nparams fields and traceback, both read-only (§C7).
func OpenDebug(g *value.Table) {
	mod := value.NewTable()
	g.Set(value.NewStringFromGo("debug"), mod)

	mod.Set(value.NewStringFromGo("traceback"), goFunc("debug.traceback", func(args []value.Value) ([]value.Value, error) {
		msg := ""
		if s, ok := arg(args, 0).(*value.Str); ok {
			msg = s.GoString()
		}
		return one(value.NewStringFromGo(msg)), nil
	}))

	mod.Set(value.NewStringFromGo("getinfo"), goFunc("debug.getinfo", func(args []value.Value) ([]value.Value, error) {
		t := value.NewTable()
		if cl, ok := arg(args, 0).(*value.Closure); ok {
			t.Set(value.NewStringFromGo("source"), value.NewStringFromGo(cl.Proto.Source))
			t.Set(value.NewStringFromGo("linedefined"), value.Integer(int32(cl.Proto.LineDefined)))
			t.Set(value.NewStringFromGo("nparams"), value.Integer(int32(cl.Proto.NumParams)))
		}
		return one(t), nil
	}))
}
