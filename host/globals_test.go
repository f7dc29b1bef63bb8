// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package host

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probe-lang/luasafe/compiler"
	"github.com/probe-lang/luasafe/limiter"
	"github.com/probe-lang/luasafe/value"
)

func run(t *testing.T, g *Globals, src string) ([]value.Value, error) {
	t.Helper()
	cl, err := g.Load([]byte(src), "test")
	require.NoError(t, err)
	return g.Call(cl, nil)
}

func TestLoadAndCallBasicScript(t *testing.T) {
	g := New(compiler.New(), DefaultConfig())
	results, err := run(t, g, `
		local function add(a, b) return a + b end
		return add(2, 3)
	`)
	require.NoError(t, err)
	require.Equal(t, value.Integer(5), results[0])
}

func TestPrintWritesToConsole(t *testing.T) {
	g := New(compiler.New(), DefaultConfig())
	_, err := run(t, g, `print("hello", 42)`)
	require.NoError(t, err)
	lines := g.Console().Drain()
	require.Equal(t, []string{"hello\t42"}, lines)
}

func TestInstructionLimitExceededStopsExecution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultInstrMax = 50
	g := New(compiler.New(), cfg)
	_, err := run(t, g, `
		local i = 0
		while true do
			i = i + 1
		end
	`)
	require.Error(t, err)
	var le *limiter.LimitExceeded
	require.True(t, errors.As(err, &le))
}

func TestPcallDoesNotCatchLimitExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultInstrMax = 50
	g := New(compiler.New(), cfg)
	_, err := run(t, g, `
		local ok, e = pcall(function()
			local i = 0
			while true do
				i = i + 1
			end
		end)
		return ok
	`)
	require.Error(t, err, "LimitExceeded must propagate through pcall, not be swallowed")
	var le *limiter.LimitExceeded
	require.True(t, errors.As(err, &le))
}

func TestPcallCatchesOrdinaryLuaError(t *testing.T) {
	g := New(compiler.New(), DefaultConfig())
	results, err := run(t, g, `
		local ok, e = pcall(function() error("boom") end)
		return ok, e
	`)
	require.NoError(t, err)
	require.Equal(t, value.Bool(false), results[0])
	require.Equal(t, "boom", value.ToString(results[1]))
}

func TestCoroutineCreateResumeYield(t *testing.T) {
	g := New(compiler.New(), DefaultConfig())
	results, err := run(t, g, `
		local co = coroutine.create(function(a)
			local b = coroutine.yield(a + 1)
			return b + 1
		end)
		local ok1, v1 = coroutine.resume(co, 10)
		local ok2, v2 = coroutine.resume(co, 100)
		return ok1, v1, ok2, v2
	`)
	require.NoError(t, err)
	require.Equal(t, value.Bool(true), results[0])
	require.Equal(t, value.Integer(11), results[1])
	require.Equal(t, value.Bool(true), results[2])
	require.Equal(t, value.Integer(101), results[3])
}

func TestSpawnWorkerHasIndependentCounter(t *testing.T) {
	g := New(compiler.New(), DefaultConfig())
	cl, err := g.Load([]byte(`
		local n = 0
		for i = 1, 5 do n = n + 1 end
		return n
	`), "worker")
	require.NoError(t, err)
	th := g.SpawnWorker(cl, 1_000_000)
	results, err := g.Resume(context.Background(), th, nil)
	require.NoError(t, err)
	require.Equal(t, value.Integer(5), results[0])
}

func TestStringLengthCapTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStringLen = 8
	g := New(compiler.New(), cfg)
	_, err := run(t, g, `return "abcd" .. "efgh" .. "ij"`)
	require.Error(t, err)
}

func TestRegisterHostCallable(t *testing.T) {
	g := New(compiler.New(), DefaultConfig())
	g.Register("double", func(args []value.Value) ([]value.Value, error) {
		n, _ := value.AsNumber(args[0])
		return []value.Value{value.Number(n * 2)}, nil
	})
	results, err := run(t, g, `return double(21)`)
	require.NoError(t, err)
	require.Equal(t, value.Number(42), results[0])
}

func TestScriptTooLongRejectedAtLoad(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSourceLen = 4
	g := New(compiler.New(), cfg)
	_, err := g.Load([]byte(`return 1`), "big")
	require.Error(t, err)
}
