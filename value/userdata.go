// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

// Userdata is an opaque host-owned payload a Go builtin can stash inside
// the Lua value space (e.g. a handle the host wants scripts to pass
// around but never inspect directly). It carries zero estimated weight in
// the memory walker (§4, "Userdata: 0 — host-owned, excluded from the
// script's accounted footprint") and may optionally carry a metatable the
// same way a table does.
type Userdata struct {
	Data      interface{}
	Metatable *Table
}

func (*Userdata) Type() string { return "userdata" }
func (*Userdata) Truthy() bool { return true }
