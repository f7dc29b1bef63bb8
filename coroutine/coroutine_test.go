// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package coroutine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probe-lang/luasafe/value"
)

// echoRun is a trivial RunFunc that yields once with its args then returns
// a fixed sentinel, enough to exercise Spawn/Resume/Yield without a VM.
func echoRun(body *value.Closure, args []value.Value, y Yielder) ([]value.Value, error) {
	resumeArgs, err := y.Yield(args)
	if err != nil {
		return nil, err
	}
	return resumeArgs, nil
}

func TestSpawnResumeYieldRoundTrip(t *testing.T) {
	sched := NewScheduler(0, echoRun)
	defer sched.Close()

	body := &value.Closure{}
	th := sched.Spawn("t1", body, nil)
	require.Equal(t, value.ThreadInitial, th.Status())

	results, err := sched.Resume(context.Background(), th, []value.Value{value.Integer(1)})
	require.NoError(t, err)
	require.Equal(t, []value.Value{value.Integer(1)}, results)
	require.Equal(t, value.ThreadSuspended, th.Status())

	results, err = sched.Resume(context.Background(), th, []value.Value{value.Integer(2)})
	require.NoError(t, err)
	require.Equal(t, []value.Value{value.Integer(2)}, results)
	require.Equal(t, value.ThreadDead, th.Status())
}

func TestResumeDeadThreadFails(t *testing.T) {
	sched := NewScheduler(0, echoRun)
	defer sched.Close()

	body := &value.Closure{}
	th := sched.Spawn("t2", body, nil)
	_, _ = sched.Resume(context.Background(), th, nil)
	_, err := sched.Resume(context.Background(), th, nil)
	require.NoError(t, err)

	_, err = sched.Resume(context.Background(), th, nil)
	require.Error(t, err)
}

func TestConcurrencyCapLimitsSimultaneousWorkers(t *testing.T) {
	block := make(chan struct{})
	run := func(body *value.Closure, args []value.Value, y Yielder) ([]value.Value, error) {
		<-block
		return nil, nil
	}
	sched := NewScheduler(1, run)
	defer sched.Close()

	th1 := sched.Spawn("a", &value.Closure{}, nil)
	done1 := make(chan struct{})
	go func() {
		sched.Resume(context.Background(), th1, nil)
		close(done1)
	}()

	th2 := sched.Spawn("b", &value.Closure{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already-cancelled context: Resume must not block forever on the semaphore
	_, err := sched.Resume(ctx, th2, nil)
	require.Error(t, err, "second worker should fail to acquire the capacity-1 semaphore on a cancelled context")

	close(block)
	<-done1
}
