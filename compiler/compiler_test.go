// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probe-lang/luasafe/proto"
)

func TestCompileSimpleChunk(t *testing.T) {
	p, err := Compile([]byte(`
		local x = 1
		local y = x + 2
		print(y)
	`), "chunk")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.True(t, p.IsVararg)
	require.NotEmpty(t, p.Code)
}

func TestCompileControlFlow(t *testing.T) {
	src := `
		local sum = 0
		for i = 1, 10 do
			if i % 2 == 0 then
				sum = sum + i
			end
		end
		local n = 0
		while n < 3 do
			n = n + 1
		end
		repeat
			n = n - 1
		until n <= 0
		return sum
	`
	p, err := Compile([]byte(src), "chunk")
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestCompileFunctionsClosuresAndUpvalues(t *testing.T) {
	src := `
		local function counter()
			local n = 0
			return function()
				n = n + 1
				return n
			end
		end
		local next = counter()
		return next(), next()
	`
	p, err := Compile([]byte(src), "chunk")
	require.NoError(t, err)
	require.Len(t, p.Protos, 1, "counter() should compile to one nested prototype")
	require.Len(t, p.Protos[0].Protos, 1, "the returned closure is nested inside counter()")
	require.Len(t, p.Protos[0].Upvalues, 0)
}

func TestCompileGenericAndVarargFor(t *testing.T) {
	src := `
		local t = {1, 2, 3}
		local total = 0
		for k, v in ipairs(t) do
			total = total + v
		end
		local function sum(...)
			local s = 0
			return s
		end
		return total
	`
	_, err := Compile([]byte(src), "chunk")
	require.NoError(t, err)
}

func TestCompileTableConstructorAndMethodCall(t *testing.T) {
	src := `
		local obj = {x = 1, y = 2}
		function obj:getX()
			return self.x
		end
		return obj:getX()
	`
	_, err := Compile([]byte(src), "chunk")
	require.NoError(t, err)
}

func TestCompileAndOrShortCircuit(t *testing.T) {
	src := `
		local a = nil
		local b = a or 5
		local c = b and b + 1
		return c
	`
	_, err := Compile([]byte(src), "chunk")
	require.NoError(t, err)
}

func TestCompileSyntaxErrorReturnsCompileError(t *testing.T) {
	_, err := Compile([]byte(`local x = `), "broken")
	require.Error(t, err)
	ce, ok := err.(*proto.CompileError)
	require.True(t, ok, "expected *proto.CompileError, got %T", err)
	require.Equal(t, "broken", ce.Source)
}

func TestCompileBreakOutsideLoopFails(t *testing.T) {
	_, err := Compile([]byte(`break`), "chunk")
	require.Error(t, err)
}

func TestLuaCompilerImplementsProtoCompiler(t *testing.T) {
	var c proto.Compiler = New()
	p, err := c.Compile([]byte(`return 1`), "chunk")
	require.NoError(t, err)
	require.NotNil(t, p)
}
