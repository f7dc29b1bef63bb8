// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package memwalk implements the reachable-memory estimator described in
// §C4: a DFS over a root set that sums fixed per-variant byte weights,
// breaking cycles with an identity set. It is advisory accounting, not a
// garbage collector — nothing it computes ever frees memory.
package memwalk

import (
	"github.com/probe-lang/luasafe/proto"
	"github.com/probe-lang/luasafe/value"
)

// Per-variant byte weights (§4, "Memory accounting"). Builtin Go functions
// are counted as a flat handle weight rather than walking their closed-
// over Go state, since that state is host-owned and not script-visible.
const (
	weightNil      = 0
	weightBoolean  = 1
	weightInteger  = 4
	weightNumber   = 8
	weightBuiltin  = 10
	weightCodeWord = 4
	weightUserdata = 0
)

// Walker estimates the reachable-byte footprint of a root set of Values,
// mirroring the design's DFS-with-identity-set algorithm so that shared
// reference-typed substructure (a table referenced from two places) is
// counted exactly once. Upvalue cells are not tracked by identity: a
// scalar held in an upvalue shared by two closures is counted once per
// closure.
type Walker struct {
	visited map[interface{}]bool
}

// NewWalker creates a fresh walker. A Walker is single-use: construct one
// per estimation pass so the visited set doesn't leak across calls.
func NewWalker() *Walker {
	return &Walker{visited: make(map[interface{}]bool)}
}

// Estimate returns the total estimated reachable bytes of roots.
func Estimate(roots []value.Value) uint64 {
	w := NewWalker()
	var total uint64
	for _, r := range roots {
		total += w.walk(r)
	}
	return total
}

func (w *Walker) walk(v value.Value) uint64 {
	if v == nil {
		return weightNil
	}
	switch x := v.(type) {
	case value.Nil:
		return weightNil
	case value.Bool:
		return weightBoolean
	case value.Integer:
		return weightInteger
	case value.Number:
		return weightNumber
	case *value.Str:
		if w.seen(x) {
			return 0
		}
		return uint64(x.Len())
	case *value.Table:
		if w.seen(x) {
			return 0
		}
		return w.walkTable(x)
	case *value.Closure:
		if w.seen(x) {
			return 0
		}
		return w.walkClosure(x)
	case *value.GoFunc:
		if w.seen(x) {
			return 0
		}
		return weightBuiltin
	case *value.Thread:
		if w.seen(x) {
			return 0
		}
		return w.walkThread(x)
	case *value.Userdata:
		return weightUserdata
	}
	return 0
}

func (w *Walker) seen(ptr interface{}) bool {
	if w.visited[ptr] {
		return true
	}
	w.visited[ptr] = true
	return false
}

func (w *Walker) walkTable(t *value.Table) uint64 {
	var total uint64
	key := value.Nil{}
	var k, v value.Value = key, value.Nil{}
	ok := true
	// Walk via the table's public Next iterator so memwalk never needs
	// access to the hash/array internals directly.
	for {
		k, v, ok = t.Next(k)
		if !ok {
			break
		}
		total += w.walk(k)
		total += w.walk(v)
	}
	if t.Metatable != nil && !w.seen(t.Metatable) {
		total += w.walkTable(t.Metatable)
	}
	return total
}

func (w *Walker) walkClosure(c *value.Closure) uint64 {
	var total uint64
	total += walkConstants(c.Proto)
	total += uint64(len(c.Proto.Code)) * weightCodeWord
	for _, uv := range c.Upvalues {
		total += w.walk(uv.Get())
	}
	return total
}

// walkConstants sums the weight of a prototype's constant pool. Constants
// are plain interface{} (nil/bool/int32/float64/string), not value.Value,
// since Prototype is produced by the compiler before any value.Value
// wrapping occurs; weights mirror the corresponding value.Value variant.
func walkConstants(p *proto.Prototype) uint64 {
	var total uint64
	for _, c := range p.Constants {
		switch x := c.(type) {
		case nil:
			total += weightNil
		case bool:
			total += weightBoolean
		case int32:
			total += weightInteger
		case float64:
			total += weightNumber
		case string:
			total += uint64(len(x))
		}
	}
	return total
}

func (w *Walker) walkThread(t *value.Thread) uint64 {
	// A thread's own stack is runtime state owned by the scheduler
	// (package coroutine), not directly inspectable from here without an
	// import cycle. The scheduler registers each live thread's root set
	// via RegisterThreadRoots so it's included in the walk.
	var total uint64
	if roots, ok := threadRoots[t]; ok {
		for _, r := range roots() {
			total += w.walk(r)
		}
	}
	if t.Body != nil && !w.seen(t.Body) {
		total += w.walkClosure(t.Body)
	}
	return total
}

// threadRoots lets package coroutine register a callback producing a
// thread's live stack values, without value or memwalk importing
// coroutine (which would create an import cycle, since coroutine depends
// on value).
var threadRoots = make(map[*value.Thread]func() []value.Value)

// RegisterThreadRoots installs the root-producing callback for t. The
// coroutine scheduler calls this once per thread it creates.
func RegisterThreadRoots(t *value.Thread, roots func() []value.Value) {
	threadRoots[t] = roots
}

// UnregisterThreadRoots removes t's callback once the thread is reaped.
func UnregisterThreadRoots(t *value.Thread) {
	delete(threadRoots, t)
}
