// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package value implements the PROBE-sandbox Lua value model: a tagged sum
// over Nil, Boolean, Integer, Number, String, Table, Function, Thread, and
// Userdata (§3 of the design). Small values (nil, bool, integer, float) are
// represented as Go value types; strings, tables, closures, and threads are
// heap-allocated and shared by reference, matching the ownership model in
// the design notes: "keep small values inline... heap-allocate strings,
// tables, closures, threads behind shared ownership."
package value

import "fmt"

// Value is the tagged union of every runtime value the VM can hold in a
// register, table slot, or upvalue cell. The concrete types below are the
// only implementations; external packages must not add new ones, since the
// interpreter exhaustively type-switches on Value.
type Value interface {
	// Type returns the value's class name as used by Lua's type().
	Type() string
	// Truthy reports whether the value is true in a boolean context
	// (everything except nil and false is truthy).
	Truthy() bool
}

// Nil is the singleton nil value. A Go nil Value interface is never
// produced by this package; use Nil{} (or the Nil variable) instead so
// that every code path can type-switch without a separate nil check.
type Nil struct{}

func (Nil) Type() string  { return "nil" }
func (Nil) Truthy() bool  { return false }
func (Nil) String() string { return "nil" }

// NilValue is the canonical nil Value.
var NilValue Value = Nil{}

// Bool is a boolean value.
type Bool bool

func (b Bool) Type() string   { return "boolean" }
func (b Bool) Truthy() bool   { return bool(b) }
func (b Bool) String() string { if b { return "true" }; return "false" }

// Integer is a 32-bit signed integer value, kept as a tag distinct from
// Number per §3: "Numeric integer and double are distinct tags but coerce
// implicitly on arithmetic; equality on them compares by mathematical
// value."
type Integer int32

func (Integer) Type() string     { return "number" }
func (i Integer) Truthy() bool   { return true }
func (i Integer) String() string { return fmt.Sprintf("%d", int32(i)) }

// Number is an IEEE 754 double value.
type Number float64

func (Number) Type() string     { return "number" }
func (n Number) Truthy() bool   { return true }
func (n Number) String() string { return formatFloat(float64(n)) }

func formatFloat(f float64) string {
	if f == float64(int64(f)) && f < 1e15 && f > -1e15 {
		return fmt.Sprintf("%.1f", f)
	}
	return fmt.Sprintf("%.14g", f)
}

// IsNil reports whether v is the nil value.
func IsNil(v Value) bool {
	_, ok := v.(Nil)
	return ok
}

// AsNumber widens an Integer or Number to a float64. The second return
// value is false for any other type.
func AsNumber(v Value) (float64, bool) {
	switch n := v.(type) {
	case Integer:
		return float64(n), true
	case Number:
		return float64(n), true
	}
	return 0, false
}

// RawEqual implements Lua's raw equality (no metamethod dispatch): nil
// equals only nil, booleans compare by value, integers and numbers compare
// by mathematical value (so Integer(1) == Number(1.0)), strings compare
// byte-for-byte, and every other type compares by identity.
func RawEqual(a, b Value) bool {
	if IsNil(a) || IsNil(b) {
		return IsNil(a) && IsNil(b)
	}
	an, aIsNum := AsNumber(a)
	bn, bIsNum := AsNumber(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	switch x := a.(type) {
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case *Str:
		y, ok := b.(*Str)
		return ok && x.Equal(y)
	case *Table:
		y, ok := b.(*Table)
		return ok && x == y
	case *Closure:
		y, ok := b.(*Closure)
		return ok && x == y
	case *GoFunc:
		y, ok := b.(*GoFunc)
		return ok && x == y
	case *Thread:
		y, ok := b.(*Thread)
		return ok && x == y
	case *Userdata:
		y, ok := b.(*Userdata)
		return ok && x == y
	}
	return false
}

// ToString renders v the way Lua's tostring() would for values that have
// no __tostring metamethod (metamethod dispatch happens at a higher layer
// that has access to the metatable registry).
func ToString(v Value) string {
	switch x := v.(type) {
	case Nil:
		return "nil"
	case Bool:
		return x.String()
	case Integer:
		return x.String()
	case Number:
		return x.String()
	case *Str:
		return x.GoString()
	case *Table:
		return fmt.Sprintf("table: %p", x)
	case *Closure:
		return fmt.Sprintf("function: %p", x)
	case *GoFunc:
		return fmt.Sprintf("function: builtin: %s", x.Name)
	case *Thread:
		return fmt.Sprintf("thread: %p", x)
	case *Userdata:
		return fmt.Sprintf("userdata: %p", x)
	}
	return "?"
}
