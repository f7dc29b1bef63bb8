// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import "github.com/probe-lang/luasafe/proto"

// UpValue is a shared, mutable cell a closure captures from an enclosing
// scope. While the captured local is still on some call frame's stack the
// UpValue is "open" and Stack points at that frame's register slot; once
// the frame unwinds (or a scope-exit jump closes it early) the UpValue is
// "closed" and the value is copied into Closed, after which Stack is nil
// and reads/writes only touch Closed (§3, "Closure").
type UpValue struct {
	Stack  *Value // non-nil while open: points into the owning frame's registers
	Closed Value  // valid once closed
}

// Get reads the upvalue's current value regardless of open/closed state.
func (u *UpValue) Get() Value {
	if u.Stack != nil {
		return *u.Stack
	}
	return u.Closed
}

// Set writes through to the open stack slot, or to the closed cell.
func (u *UpValue) Set(v Value) {
	if u.Stack != nil {
		*u.Stack = v
		return
	}
	u.Closed = v
}

// Close snapshots the current value and detaches from the stack. Called
// when the frame that owns Stack unwinds.
func (u *UpValue) Close() {
	if u.Stack == nil {
		return
	}
	u.Closed = *u.Stack
	u.Stack = nil
}

// Closure pairs an immutable Prototype with its instance-specific, mutable
// upvalues (§3: "shared immutable structure plus mutable open/closed
// upvalues"). Two closures instantiated from the same Prototype are
// distinct Values — identity, not structural equality, governs RawEqual.
type Closure struct {
	Proto    *proto.Prototype
	Upvalues []*UpValue
}

func (*Closure) Type() string   { return "function" }
func (*Closure) Truthy() bool   { return true }

// GoFunc wraps a host-registered builtin callable (§C7/§C8: "curated
// builtins", "register host callables"). Each builtin checks its own
// argument count and types; Call returns the
// function's result values or a *LuaError for a script-catchable failure.
type GoFunc struct {
	Name string
	Fn   func(args []Value) ([]Value, error)

	// FnWithCaller, when set, is used instead of Fn. It receives the
	// *calling* interpreter (the one whose instruction counter and
	// coroutine Yielder are live right now), so a builtin that invokes
	// script code back (pcall, table.sort's comparator, a __tostring
	// dispatch inside print) charges and yields against the correct
	// worker instead of whichever interpreter happened to be live when
	// the builtin was registered.
	FnWithCaller func(c Caller, args []Value) ([]Value, error)

	// IsYield marks the sentinel coroutine.yield builtin. The interpreter
	// intercepts calls to it before invoking Fn, since yielding requires
	// access to the calling worker's Yielder — state Fn's plain
	// ([]Value) ([]Value, error) signature has no room for (§C5).
	IsYield bool
}

// Caller is the subset of *vm.Interp a builtin needs to invoke script
// code back (pcall, sort comparators, metamethod dispatch) without
// package value importing package vm.
type Caller interface {
	Call(fn Value, args []Value) ([]Value, error)
}

func (*GoFunc) Type() string { return "function" }
func (*GoFunc) Truthy() bool { return true }

// Call invokes the wrapped Go function.
func (g *GoFunc) Call(args []Value) ([]Value, error) {
	return g.Fn(args)
}
