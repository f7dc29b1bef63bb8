// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

// Metamethod names, looked up by string key in a value's metatable. Only
// tables and userdata carry a metatable in this sandbox; every other type
// is metamethod-free (§3, §4.4).
const (
	MetaIndex    = "__index"
	MetaNewIndex = "__newindex"
	MetaCall     = "__call"
	MetaToString = "__tostring"
	MetaEq       = "__eq"
	MetaLt       = "__lt"
	MetaLe       = "__le"
	MetaAdd      = "__add"
	MetaSub      = "__sub"
	MetaMul      = "__mul"
	MetaDiv      = "__div"
	MetaMod      = "__mod"
	MetaPow      = "__pow"
	MetaUnm      = "__unm"
	MetaConcat   = "__concat"
	MetaLen      = "__len"
)

// GetMetatable returns v's metatable, or nil if it has none. Only *Table
// and *Userdata can carry one.
func GetMetatable(v Value) *Table {
	switch x := v.(type) {
	case *Table:
		return x.Metatable
	case *Userdata:
		return x.Metatable
	}
	return nil
}

// Metamethod looks up name in v's metatable, returning (handler, true) if
// present and non-nil.
func Metamethod(v Value, name string) (Value, bool) {
	mt := GetMetatable(v)
	if mt == nil {
		return nil, false
	}
	h := mt.GetStr(name)
	if IsNil(h) {
		return nil, false
	}
	return h, true
}
