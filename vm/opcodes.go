// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package vm is the bytecode interpreter (§C6): it executes a Prototype's
// instruction stream against a register stack, charging the installed
// limiter.Counter on every instruction and dispatching metamethods through
// the value package's metatable helpers.
package vm

import "github.com/probe-lang/luasafe/proto"

// OpCode identifies one of the register-machine instructions. The layout
// (opcode in the low 6 bits, then 8-bit A, with B/C or a combined Bx/sBx
// filling the remaining 18 bits) follows the reference Lua 5.2 bytecode
// format, since the spec's register/RK-operand model is drawn directly
// from it (§3, §6).
type OpCode uint8

const (
	OpMove OpCode = iota
	OpLoadK
	OpLoadBool
	OpLoadNil
	OpGetUpval
	OpSetUpval
	OpGetTabUp
	OpSetTabUp
	OpGetTable
	OpSetTable
	OpNewTable
	OpSelf
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpUnm
	OpNot
	OpLen
	OpConcat
	OpJmp
	OpEq
	OpLt
	OpLe
	OpTest
	OpTestSet
	OpCall
	OpTailCall
	OpReturn
	OpForLoop
	OpForPrep
	OpTForCall
	OpTForLoop
	OpClosure
	OpVararg
	OpSetList
	OpClose
)

var opNames = [...]string{
	"MOVE", "LOADK", "LOADBOOL", "LOADNIL", "GETUPVAL", "SETUPVAL",
	"GETTABUP", "SETTABUP", "GETTABLE", "SETTABLE", "NEWTABLE", "SELF",
	"ADD", "SUB", "MUL", "DIV", "MOD", "POW", "UNM", "NOT", "LEN", "CONCAT",
	"JMP", "EQ", "LT", "LE", "TEST", "TESTSET", "CALL", "TAILCALL",
	"RETURN", "FORLOOP", "FORPREP", "TFORCALL", "TFORLOOP", "CLOSURE",
	"VARARG", "SETLIST", "CLOSE",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "UNKNOWN"
}

// Bit layout constants, matching the reference iABC/iABx/iAsBx instruction
// formats.
const (
	sizeOp = 6
	sizeA  = 8
	sizeB  = 9
	sizeC  = 9
	sizeBx = sizeB + sizeC

	posOp = 0
	posA  = posOp + sizeOp
	posC  = posA + sizeA
	posB  = posC + sizeC
	posBx = posC

	maxArgBx  = 1<<sizeBx - 1
	offsetSBx = maxArgBx >> 1

	// bitRK marks a B/C operand as a constant-table index rather than a
	// register number (the "RK" operand convention, §6).
	bitRK = 1 << (sizeB - 1)
)

func mask1(n, p uint) uint32 { return ^(^uint32(0) << n) << p }

func getArg(i proto.Instruction, pos, size uint) int {
	return int((uint32(i) >> pos) & mask1(size, 0))
}

func decodeOp(i proto.Instruction) OpCode { return OpCode(getArg(i, posOp, sizeOp)) }
func decodeA(i proto.Instruction) int     { return getArg(i, posA, sizeA) }
func decodeB(i proto.Instruction) int     { return getArg(i, posB, sizeB) }
func decodeC(i proto.Instruction) int     { return getArg(i, posC, sizeC) }
func decodeBx(i proto.Instruction) int    { return getArg(i, posBx, sizeBx) }
func decodeSBx(i proto.Instruction) int   { return decodeBx(i) - offsetSBx }

// isK reports whether a raw B/C field names a constant rather than a
// register, and kIndex extracts the constant table index.
func isK(arg int) bool   { return arg&bitRK != 0 }
func kIndex(arg int) int { return arg &^ bitRK }

// Encode packs an iABC-format instruction. Exported for use by the
// reference compiler.
func Encode(op OpCode, a, b, c int) proto.Instruction {
	return proto.Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(b)<<posB | uint32(c)<<posC)
}

// EncodeBx packs an iABx-format instruction.
func EncodeBx(op OpCode, a, bx int) proto.Instruction {
	return proto.Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(bx)<<posBx)
}

// EncodeSBx packs an iAsBx-format instruction.
func EncodeSBx(op OpCode, a, sbx int) proto.Instruction {
	return EncodeBx(op, a, sbx+offsetSBx)
}

// RK marks a constant-table index i as an RK operand.
func RK(i int) int { return i | bitRK }
