// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package compiler is the reference implementation of the sandbox's
// external Compiler collaborator (see proto.Compiler): a single-pass
// recursive-descent compiler for a bounded subset of Lua 5.2 syntax,
// emitting directly into a proto.Prototype without an intermediate AST or
// IR stage. It deliberately does not support goto/labels — every other
// control-construct in the language's common core is covered.
package compiler

// TokenKind classifies one lexical token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokName
	TokNumber
	TokString
	TokKeyword
	TokOp
)

// Token is one lexical unit, carrying its source line for error messages
// and line-table construction.
type Token struct {
	Kind TokenKind
	Text string
	Num  float64
	Line int
}

var keywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "if": true,
	"in": true, "local": true, "nil": true, "not": true, "or": true,
	"repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true,
}
