// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package stdlib

import "github.com/probe-lang/luasafe/value"

// Console is the minimal sink print() needs; host.Console satisfies it.
type Console interface {
	Push(line string) error
}

// OpenAll installs every curated library (base, table, string, math, os,
// debug) into g (§C7). Builtins that call back into script code (pcall,
// table.sort's comparator, a __tostring dispatch) resolve the calling
// interpreter dynamically through value.GoFunc.FnWithCaller rather than a
// fixed interpreter captured here, so they charge the correct worker's
// instruction counter even when invoked from inside a coroutine.
func OpenAll(g *value.Table, console Console) {
	OpenBase(g, console)
	OpenTable(g)
	OpenString(g)
	OpenMath(g)
	OpenOS(g)
	OpenDebug(g)
}
