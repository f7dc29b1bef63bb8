// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package coroutine implements the thread/worker model from §C5: each
// Lua coroutine is backed by a dedicated goroutine ("OS-thread-backed
// worker" in spirit — a goroutine plays that role here, since the VM has
// no use for a literal OS thread per coroutine), handed off to via a pair
// of channels so that exactly one of {the coroutine, its resumer} is ever
// running at a time.
package coroutine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/probe-lang/luasafe/log"
	"github.com/probe-lang/luasafe/memwalk"
	"github.com/probe-lang/luasafe/value"
)

// orphanCheckInterval is how often the scheduler sweeps for suspended
// threads whose last resumer has gone away (§3: "periodic check, every
// ~30s").
const orphanCheckInterval = 30 * time.Second

// ErrOrphaned is returned by Resume when a suspended thread is no longer
// suspended by the time Resume tries to start it (a concurrent Resume got
// there first), and by a worker's Yield if its resume channel is closed.
// The orphan sweep never causes it.
var ErrOrphaned = errors.New("coroutine: worker orphaned")

// Yielder is handed to a running coroutine body so it can suspend itself.
// The VM's CALL/YIELD handling invokes Yield when it executes a yield
// operation; Yield blocks until the next Resume delivers fresh arguments.
type Yielder interface {
	Yield(results []value.Value) (resumeArgs []value.Value, err error)
}

// RunFunc executes a thread's body closure to completion (or until it
// yields, via y). It is supplied by package vm so that coroutine never
// needs to import the interpreter.
type RunFunc func(body *value.Closure, args []value.Value, y Yielder) ([]value.Value, error)

type handoff struct {
	args []value.Value
}

type result struct {
	values []value.Value
	err    error
	yield  bool
}

// worker is the scheduler-private state backing one value.Thread, stored
// in Thread.Impl.
type worker struct {
	thread *value.Thread
	run    RunFunc

	resumeCh chan handoff
	resultCh chan result

	lastResumer time.Time
	mu          sync.Mutex

	liveStack     []value.Value // snapshot of in-flight args/results, for memwalk roots
	forgottenFlag bool
}

func (w *worker) Yield(results []value.Value) ([]value.Value, error) {
	w.resultCh <- result{values: results, yield: true}
	h, ok := <-w.resumeCh
	if !ok {
		return nil, ErrOrphaned
	}
	return h.args, nil
}

func (w *worker) roots() []value.Value {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]value.Value, len(w.liveStack))
	copy(out, w.liveStack)
	return out
}

func (w *worker) setRoots(vs []value.Value) {
	w.mu.Lock()
	w.liveStack = vs
	w.mu.Unlock()
}

// Scheduler owns every live thread and enforces the configured concurrency
// cap on simultaneously-running workers (§5: "bound the number of
// concurrently active workers").
type Scheduler struct {
	sem      *semaphore.Weighted
	run      RunFunc
	log      *log.Logger
	mu       sync.Mutex
	workers  map[string]*worker
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler allowing at most maxConcurrent workers
// to run simultaneously (0 means unbounded) and starts its orphan sweep.
func NewScheduler(maxConcurrent int64, run RunFunc) *Scheduler {
	s := &Scheduler{
		run:     run,
		log:     log.Root().With("component", "coroutine"),
		workers: make(map[string]*worker),
		stopCh:  make(chan struct{}),
	}
	if maxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(maxConcurrent)
	}
	go s.orphanSweepLoop()
	return s
}

// Close stops the scheduler's background sweep. It does not forcibly
// terminate in-flight workers.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Spawn creates a new, not-yet-started thread wrapping body. If run is
// nil, the scheduler's default RunFunc (installed via NewScheduler) is
// used; hosts that need per-thread state (e.g. a dedicated instruction
// counter) should pass a closure capturing that state instead. If id is
// empty, a fresh one is minted; hosts that need to key their own
// bookkeeping (e.g. an instruction-limit registry) by the same ID should
// pass it in instead.
func (s *Scheduler) Spawn(id string, body *value.Closure, run RunFunc) *value.Thread {
	if run == nil {
		run = s.run
	}
	if id == "" {
		id = uuid.New().String()
	}
	t := value.NewThread(id, body)
	w := &worker{thread: t, run: run, resumeCh: make(chan handoff), resultCh: make(chan result)}
	t.Impl = w
	s.mu.Lock()
	s.workers[id] = w
	s.mu.Unlock()
	memwalk.RegisterThreadRoots(t, w.roots)
	return t
}

// Forget marks t as no longer strongly referenced by the host's value
// graph, making it eligible for the next orphan sweep if it is (or
// becomes) suspended. A host facade should call this when a thread
// handle drops out of any table or global the script or host still
// holds.
func Forget(t *value.Thread) {
	if w, ok := t.Impl.(*worker); ok {
		w.mu.Lock()
		w.forgottenFlag = true
		w.mu.Unlock()
	}
}

// Resume transfers control to t with args, blocking the caller until t
// yields, returns, or errors. Per §3's resume-at-limit rule, the caller is
// expected to have already confirmed the worker's instruction counter has
// remaining budget before calling Resume.
func (s *Scheduler) Resume(ctx context.Context, t *value.Thread, args []value.Value) ([]value.Value, error) {
	w, ok := t.Impl.(*worker)
	if !ok {
		return nil, fmt.Errorf("coroutine: thread %s has no worker", t.ID)
	}

	status := t.Status()
	switch status {
	case value.ThreadDead:
		return nil, fmt.Errorf("coroutine: cannot resume dead thread %s", t.ID)
	case value.ThreadRunning:
		return nil, fmt.Errorf("coroutine: thread %s is already running", t.ID)
	}

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.sem.Release(1)
	}

	w.mu.Lock()
	w.lastResumer = time.Now()
	w.mu.Unlock()

	if status == value.ThreadInitial {
		if !t.CompareAndSetStatus(value.ThreadInitial, value.ThreadRunning) {
			return nil, fmt.Errorf("coroutine: thread %s changed state concurrently", t.ID)
		}
		w.setRoots(args)
		go s.runBody(t, w, args)
	} else {
		if !t.CompareAndSetStatus(value.ThreadSuspended, value.ThreadRunning) {
			return nil, ErrOrphaned
		}
		w.resumeCh <- handoff{args: args}
	}

	r := <-w.resultCh
	if r.yield {
		t.SetStatus(value.ThreadSuspended)
		w.setRoots(r.values)
		return r.values, nil
	}
	t.SetStatus(value.ThreadDead)
	s.reap(t.ID)
	return r.values, r.err
}

func (s *Scheduler) runBody(t *value.Thread, w *worker, args []value.Value) {
	defer func() {
		if rec := recover(); rec != nil {
			w.resultCh <- result{err: fmt.Errorf("coroutine: worker panic: %v", rec)}
		}
	}()
	values, err := w.run(t.Body, args, w)
	w.resultCh <- result{values: values, err: err}
}

func (s *Scheduler) reap(id string) {
	s.mu.Lock()
	w, ok := s.workers[id]
	delete(s.workers, id)
	s.mu.Unlock()
	if ok {
		memwalk.UnregisterThreadRoots(w.thread)
	}
}

// orphanSweepLoop periodically removes suspended workers that have been
// marked with Forget from the scheduler's tracking map (§3: "periodic
// check"). Removing the map entry is all the sweep does: the worker's
// goroutine stays parked in Yield, its memwalk roots stay registered, and
// a later Resume of the same thread still hands off to it.
func (s *Scheduler) orphanSweepLoop() {
	t := time.NewTicker(orphanCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.sweepOnce()
		}
	}
}

func (s *Scheduler) sweepOnce() {
	s.mu.Lock()
	var orphans []string
	for id, w := range s.workers {
		if w.thread.Status() == value.ThreadSuspended && forgotten(w.thread) {
			orphans = append(orphans, id)
		}
	}
	for _, id := range orphans {
		delete(s.workers, id)
	}
	s.mu.Unlock()
	for _, id := range orphans {
		s.log.Debug("reaped orphaned coroutine", "id", id)
	}
}

// forgotten reports whether t has been marked with Forget. Threads never
// passed to Forget report false and are never swept.
func forgotten(t *value.Thread) bool {
	if wr, ok := t.Impl.(*worker); ok {
		return wr.forgottenFlag
	}
	return false
}
