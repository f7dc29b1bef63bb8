// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package stdlib_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probe-lang/luasafe/compiler"
	"github.com/probe-lang/luasafe/host"
	"github.com/probe-lang/luasafe/value"
)

func eval(t *testing.T, src string) []value.Value {
	t.Helper()
	g := host.New(compiler.New(), host.DefaultConfig())
	cl, err := g.Load([]byte(src), "test")
	require.NoError(t, err)
	results, err := g.Call(cl, nil)
	require.NoError(t, err)
	return results
}

func TestStringLibrary(t *testing.T) {
	r := eval(t, `return string.upper("abc"), string.sub("hello", 2, 4), string.len("hey")`)
	require.Equal(t, "ABC", value.ToString(r[0]))
	require.Equal(t, "ell", value.ToString(r[1]))
	require.Equal(t, value.Integer(3), r[2])
}

func TestStringFormat(t *testing.T) {
	r := eval(t, `return string.format("%s=%d", "x", 5)`)
	require.Equal(t, "x=5", value.ToString(r[0]))
}

func TestTableInsertRemoveContains(t *testing.T) {
	r := eval(t, `
		local t = {}
		table.insert(t, "a")
		table.insert(t, "b")
		local has = table.contains(t, "a")
		table.remove(t, 1)
		return has, t[1], #t
	`)
	require.Equal(t, value.Bool(true), r[0])
	require.Equal(t, "b", value.ToString(r[1]))
	require.Equal(t, value.Integer(1), r[2])
}

func TestTableSortWithComparator(t *testing.T) {
	r := eval(t, `
		local t = {3, 1, 2}
		table.sort(t, function(a, b) return a < b end)
		return t[1], t[2], t[3]
	`)
	require.Equal(t, value.Integer(1), r[0])
	require.Equal(t, value.Integer(2), r[1])
	require.Equal(t, value.Integer(3), r[2])
}

func TestMathLibrary(t *testing.T) {
	r := eval(t, `return math.floor(3.7), math.max(1, 5, 2), math.abs(-4)`)
	require.Equal(t, value.Integer(3), r[0])
	require.Equal(t, value.Integer(5), r[1])
	require.Equal(t, value.Integer(4), r[2])
}

func TestIpairsIteratesArrayPart(t *testing.T) {
	r := eval(t, `
		local t = {10, 20, 30}
		local sum = 0
		for i, v in ipairs(t) do
			sum = sum + v
		end
		return sum
	`)
	require.Equal(t, value.Integer(60), r[0])
}
