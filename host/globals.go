// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package host

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/probe-lang/luasafe/coroutine"
	"github.com/probe-lang/luasafe/limiter"
	"github.com/probe-lang/luasafe/log"
	"github.com/probe-lang/luasafe/memwalk"
	"github.com/probe-lang/luasafe/proto"
	"github.com/probe-lang/luasafe/stdlib"
	"github.com/probe-lang/luasafe/value"
	"github.com/probe-lang/luasafe/vm"
)

// DefaultMaxSourceLen is the fallback source-length cap (§3: "source-length
// cap") applied by Load when a Globals is constructed without an explicit
// override.
const DefaultMaxSourceLen = 64 * 1024

// Config tunes the resource ceilings a Globals enforces.
type Config struct {
	MaxSourceLen    int
	DefaultInstrMax uint64
	MaxStringLen    uint64
	MaxConcurrent   int64
}

// DefaultConfig returns conservative defaults suitable for running
// untrusted scripts.
func DefaultConfig() Config {
	return Config{
		MaxSourceLen:    DefaultMaxSourceLen,
		DefaultInstrMax: 10_000_000,
		MaxStringLen:    1 << 20,
		MaxConcurrent:   8,
	}
}

// Globals is the sandbox's sole host-facing entry point (§C8): it owns the
// global table, the compiler, the instruction-limit registry, the
// coroutine scheduler, and the bounded console.
type Globals struct {
	cfg      Config
	compiler proto.Compiler
	table    *value.Table
	console  *Console
	counters *limiter.Registry
	sched    *coroutine.Scheduler
	log      *log.Logger

	mainCounter *limiter.Counter
	mainID      string
}

// New constructs a Globals using compiler as the sandbox's only path from
// source text to a runnable Prototype (§3: "Compiler ... out-of-scope
// external collaborator").
func New(compiler proto.Compiler, cfg Config) *Globals {
	g := &Globals{
		cfg:      cfg,
		compiler: compiler,
		table:    value.NewTable(),
		console:  NewConsole(),
		counters: limiter.NewRegistry(),
		log:      log.Root().With("component", "host"),
	}
	g.mainID = "main"
	g.mainCounter = g.counters.Install(g.mainID, cfg.DefaultInstrMax)
	g.mainCounter.SetStringLimit(cfg.MaxStringLen)

	stdlib.OpenAll(g.table, g.console)
	g.installCoroutineLib(cfg.DefaultInstrMax)

	g.sched = coroutine.NewScheduler(cfg.MaxConcurrent, func(body *value.Closure, args []value.Value, y coroutine.Yielder) ([]value.Value, error) {
		workerInterp := vm.NewInterp(g.table, g.mainCounter).WithYielder(y)
		return workerInterp.Call(body, args)
	})
	return g
}

// Load compiles source into a callable closure, rejecting it outright if
// it exceeds the configured source-length cap (§3: "ScriptTooLong ... at
// load time").
func (g *Globals) Load(source []byte, chunkName string) (*value.Closure, error) {
	if len(source) > g.cfg.MaxSourceLen {
		return nil, fmt.Errorf("%s: %w (len=%d max=%d)", chunkName, proto.ErrScriptTooLong, len(source), g.cfg.MaxSourceLen)
	}
	p, err := g.compiler.Compile(source, chunkName)
	if err != nil {
		return nil, err
	}
	env := &value.UpValue{Closed: g.table}
	return &value.Closure{Proto: p, Upvalues: []*value.UpValue{env}}, nil
}

// Call runs closure on the main worker's counter, the synchronous entry
// point for a freshly loaded chunk.
func (g *Globals) Call(closure *value.Closure, args []value.Value) ([]value.Value, error) {
	interp := vm.NewInterp(g.table, g.mainCounter)
	return interp.Call(closure, args)
}

// InstallLimit (re)installs the main worker's instruction ceiling, the
// host-facing half of §C8's "install_limit / reset_limit".
func (g *Globals) InstallLimit(max uint64) {
	g.mainCounter.Reset(max)
}

// IncreaseLimit raises the main worker's ceiling by delta.
func (g *Globals) IncreaseLimit(delta uint64) {
	g.mainCounter.Increase(delta)
}

// SpawnWorker creates a coroutine running body, installing its own
// instruction counter so its budget is tracked independently of the main
// worker (§C8: "spawn_worker()").
func (g *Globals) SpawnWorker(body *value.Closure, instrMax uint64) *value.Thread {
	id := uuid.New().String()
	c := g.counters.Install(id, instrMax)
	c.SetStringLimit(g.cfg.MaxStringLen)
	run := func(b *value.Closure, args []value.Value, y coroutine.Yielder) ([]value.Value, error) {
		workerInterp := vm.NewInterp(g.table, c).WithYielder(y)
		return workerInterp.Call(b, args)
	}
	return g.sched.Spawn(id, body, run)
}

// Resume transfers control to a worker thread. Per §4.3's resume-at-limit
// rule, a worker whose counter is already at/over its max must not execute
// any bytecode on resume at all: resume returns Nil immediately (a no-op,
// not an error) and the host is expected to call reset before the resume
// that should make progress.
func (g *Globals) Resume(ctx context.Context, t *value.Thread, args []value.Value) ([]value.Value, error) {
	c := g.counters.Lookup(t.ID)
	if c != nil && c.AtLimit() {
		return nil, nil
	}
	return g.sched.Resume(ctx, t, args)
}

// Forget marks t as no longer reachable from the host's own references,
// making it eligible for the scheduler's orphan sweep once suspended.
func (g *Globals) Forget(t *value.Thread) {
	coroutine.Forget(t)
}

// Register installs a host callable under name in the global table
// (§C8: "register host callables").
func (g *Globals) Register(name string, fn func(args []value.Value) ([]value.Value, error)) {
	g.table.Set(value.NewStringFromGo(name), &value.GoFunc{Name: name, Fn: fn})
}

// RegisterModule installs a table of related callables under a single
// global name, e.g. Register("json", ...) vs RegisterModule("json", map).
func (g *Globals) RegisterModule(name string, members map[string]func(args []value.Value) ([]value.Value, error)) {
	mod := value.NewTable()
	for k, fn := range members {
		mod.Set(value.NewStringFromGo(k), &value.GoFunc{Name: name + "." + k, Fn: fn})
	}
	g.table.Set(value.NewStringFromGo(name), mod)
}

// Console returns the bounded console queue backing print().
func (g *Globals) Console() *Console { return g.console }

// Table returns the underlying global table, for hosts that need direct
// access (e.g. to seed additional globals before first Load).
func (g *Globals) Table() *value.Table { return g.table }

// UsedMemory estimates the sandbox's current reachable-byte footprint by
// walking the global table and everything reachable from it (§C8:
// "used_memory() delegates to the C4 estimator"). A worker's roots are
// counted only when its thread value is reachable from that table.
func (g *Globals) UsedMemory() uint64 {
	return memwalk.Estimate([]value.Value{g.table})
}

// NewThreadID is exposed so a Compiler or embedding host can mint
// identifiers in the same namespace the scheduler uses internally.
func NewThreadID() string { return uuid.New().String() }
