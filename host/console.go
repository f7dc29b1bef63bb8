// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package host implements the Globals facade described in §C8: the
// single object a host application holds to load scripts, register
// callables, spawn workers, and drain console output, with every
// resource boundary (instruction limit, source length, string length,
// console back-pressure) enforced at this layer rather than left to the
// VM to self-police.
package host

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// consoleCapacity is the bounded queue size print() writes into (§C8:
// "bounded (32-slot) console queue").
const consoleCapacity = 32

// ErrConsoleClosed is returned by Push once the console has been closed.
var ErrConsoleClosed = errors.New("host: console closed")

// Console is the bounded, back-pressured sink print() writes lines into.
// When full, Push blocks the calling script cooperatively: it retries on
// a rate.Limiter pace rather than spinning, so a producer that outruns
// its consumer yields CPU instead of busy-waiting (§C8: "cooperative-yield
// back-pressure").
type Console struct {
	ch      chan string
	limiter *rate.Limiter
	closed  chan struct{}
}

// NewConsole creates a console with the standard 32-slot capacity.
func NewConsole() *Console {
	return &Console{
		ch: make(chan string, consoleCapacity),
		// Retry at up to 200Hz while the queue is full — frequent enough
		// that a draining consumer is noticed quickly, slow enough that a
		// stalled consumer doesn't spin a worker hot.
		limiter: rate.NewLimiter(rate.Limit(200), 1),
		closed:  make(chan struct{}),
	}
}

// Push enqueues line, retrying on the back-pressure pace while the queue
// is full. It returns ErrConsoleClosed once the console has been closed,
// including when it is closed while waiting.
func (c *Console) Push(line string) error {
	for {
		select {
		case <-c.closed:
			return ErrConsoleClosed
		default:
		}
		select {
		case c.ch <- line:
			return nil
		default:
		}
		if err := c.limiter.Wait(context.Background()); err != nil {
			return err
		}
	}
}

// Drain removes and returns every line currently queued, without
// blocking.
func (c *Console) Drain() []string {
	var out []string
	for {
		select {
		case line := <-c.ch:
			out = append(out, line)
		default:
			return out
		}
	}
}

// Close marks the console closed; further Push calls fail.
func (c *Console) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}
