// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package compiler

import "github.com/probe-lang/luasafe/proto"

// LuaCompiler is the reference proto.Compiler implementation: a
// single-pass recursive-descent compiler for a bounded Lua 5.2 subset,
// described further in this package's doc comment.
type LuaCompiler struct{}

// New returns the reference compiler. It holds no state and is safe to
// share across goroutines.
func New() *LuaCompiler { return &LuaCompiler{} }

// Compile implements proto.Compiler.
func (c *LuaCompiler) Compile(source []byte, chunkName string) (*proto.Prototype, error) {
	return Compile(source, chunkName)
}
