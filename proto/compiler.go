// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package proto

import "errors"

// ErrScriptTooLong is returned (wrapped) by host.Globals.Load when the
// source text exceeds the configured length cap. It is raised at load time, before any
// bytecode exists, so no instruction or memory accounting applies to it.
var ErrScriptTooLong = errors.New("proto: source exceeds maximum length")

// CompileError wraps a syntax or static-analysis failure reported by a
// Compiler implementation. It is distinct from any runtime LuaError: it
// never reaches a pcall handler because no bytecode has run yet.
type CompileError struct {
	Source string
	Line   int
	Msg    string
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return e.Source + ":" + itoa(e.Line) + ": " + e.Msg
	}
	return e.Source + ": " + e.Msg
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Compiler turns untrusted source text into a Prototype. Per the sandbox's
// design, the compiler is the only path into the VM: there is deliberately
// no way to load a precompiled bytecode chunk, so every Prototype that ever
// reaches the interpreter was produced by a Compiler from source text that
// first passed the host's length cap.
//
// The reference implementation lives in package compiler; hosts may supply
// any other implementation satisfying this interface (for example one that
// enforces additional static restrictions before handing a Prototype to
// the VM).
type Compiler interface {
	// Compile parses and compiles source into a Prototype. chunkName is
	// used for error prefixes and the Prototype's Source field. Compile
	// itself does not enforce the source-length cap — that is the host
	// facade's job (see host.Globals.Load) so the cap applies uniformly
	// regardless of which Compiler is installed.
	Compile(source []byte, chunkName string) (*Prototype, error)
}
