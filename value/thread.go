// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import "sync"

// ThreadStatus is one state in the coroutine lifecycle (§3, "Thread"):
//
//	Initial  -> Running   (first resume)
//	Running  -> Suspended (yield)
//	Suspended -> Running  (resume)
//	Running  -> Dead      (body returns or errors)
type ThreadStatus int32

const (
	ThreadInitial ThreadStatus = iota
	ThreadRunning
	ThreadSuspended
	ThreadDead
)

func (s ThreadStatus) String() string {
	switch s {
	case ThreadInitial:
		return "suspended" // Lua reports an un-started coroutine as "suspended"
	case ThreadRunning:
		return "running"
	case ThreadSuspended:
		return "suspended"
	case ThreadDead:
		return "dead"
	}
	return "?"
}

// Thread is the Value handle for a coroutine (§C5). The scheduling
// machinery — the backing worker, resume/yield handoff, the instruction
// limiter, orphan detection — is owned by package coroutine; this type
// only holds the identity and status bookkeeping that must be visible to
// RawEqual, tostring, and the memory walker without creating an import
// cycle between value and coroutine.
type Thread struct {
	ID string

	mu     sync.Mutex
	status ThreadStatus

	// Body is the entry closure this thread will run when first resumed.
	Body *Closure

	// Impl is scheduler-owned state (a *coroutine.worker), stored as an
	// opaque pointer so package value never imports package coroutine.
	Impl interface{}
}

// NewThread creates a fresh, not-yet-started thread wrapping body.
func NewThread(id string, body *Closure) *Thread {
	return &Thread{ID: id, status: ThreadInitial, Body: body}
}

func (t *Thread) Status() ThreadStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Thread) SetStatus(s ThreadStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// CompareAndSetStatus atomically transitions the thread from `from` to
// `to`, reporting success. Used by the scheduler so that only one of two
// concurrent resume calls can move a suspended thread to running.
func (t *Thread) CompareAndSetStatus(from, to ThreadStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != from {
		return false
	}
	t.status = to
	return true
}

func (*Thread) Type() string { return "thread" }
func (*Thread) Truthy() bool { return true }
