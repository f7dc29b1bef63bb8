// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package compiler

import (
	"github.com/probe-lang/luasafe/vm"
)

type opInfo struct {
	prec       int
	rightAssoc bool
}

// binPrec gives the precedence and associativity of every binary operator
// except "and"/"or", which short-circuit and are handled directly in
// subexpr. Levels follow the reference Lua 5.2 grammar.
var binPrec = map[string]opInfo{
	"<": {3, false}, ">": {3, false}, "<=": {3, false}, ">=": {3, false},
	"~=": {3, false}, "==": {3, false},
	"..": {4, true},
	"+":  {5, false}, "-": {5, false},
	"*": {6, false}, "/": {6, false}, "%": {6, false},
	"^": {8, true},
}

const unaryPrec = 7

// expr compiles a full expression into register dst.
func (p *Parser) expr(dst int) {
	fs := p.fs
	if dst >= fs.freereg {
		fs.freereg = dst + 1
	}
	if fs.freereg > int(fs.proto.MaxStackSize) {
		fs.proto.MaxStackSize = uint8(fs.freereg)
	}
	p.subexpr(dst, 0)
}

func (p *Parser) exprInto(dst int) { p.expr(dst) }

func (p *Parser) subexpr(dst, limit int) {
	fs := p.fs
	p.simpleExpr(dst)
	for {
		line := p.tok.Line
		if p.tok.Kind == TokKeyword && (p.tok.Text == "and" || p.tok.Text == "or") {
			isOr := p.tok.Text == "or"
			prec := 2
			if isOr {
				prec = 1
			}
			if prec <= limit {
				break
			}
			p.next()
			c := 0
			if isOr {
				c = 1
			}
			fs.emit(vm.Encode(vm.OpTest, dst, 0, c), line)
			jpc := p.emitJump(line)
			p.subexpr(dst, prec)
			p.patchJumpsHere([]int{jpc})
			continue
		}
		if p.tok.Kind != TokOp {
			break
		}
		bp, ok := binPrec[p.tok.Text]
		if !ok || bp.prec <= limit {
			break
		}
		opText := p.tok.Text
		p.next()
		rhsReg := fs.reserve(1)
		nextLimit := bp.prec
		if bp.rightAssoc {
			nextLimit = bp.prec - 1
		}
		p.subexpr(rhsReg, nextLimit)
		p.combine(opText, dst, rhsReg, line)
		fs.freereg = rhsReg
	}
	if fs.freereg < dst+1 {
		fs.freereg = dst + 1
	}
}

func (p *Parser) combine(op string, dst, rhs int, line int) {
	fs := p.fs
	switch op {
	case "+":
		fs.emit(vm.Encode(vm.OpAdd, dst, dst, rhs), line)
	case "-":
		fs.emit(vm.Encode(vm.OpSub, dst, dst, rhs), line)
	case "*":
		fs.emit(vm.Encode(vm.OpMul, dst, dst, rhs), line)
	case "/":
		fs.emit(vm.Encode(vm.OpDiv, dst, dst, rhs), line)
	case "%":
		fs.emit(vm.Encode(vm.OpMod, dst, dst, rhs), line)
	case "^":
		fs.emit(vm.Encode(vm.OpPow, dst, dst, rhs), line)
	case "..":
		fs.emit(vm.Encode(vm.OpConcat, dst, dst, rhs), line)
	case "<":
		p.genCompareBool(vm.OpLt, false, dst, rhs, dst, line)
	case "<=":
		p.genCompareBool(vm.OpLe, false, dst, rhs, dst, line)
	case ">":
		p.genCompareBool(vm.OpLt, false, rhs, dst, dst, line)
	case ">=":
		p.genCompareBool(vm.OpLe, false, rhs, dst, dst, line)
	case "==":
		p.genCompareBool(vm.OpEq, false, dst, rhs, dst, line)
	case "~=":
		p.genCompareBool(vm.OpEq, true, dst, rhs, dst, line)
	default:
		p.fail("unsupported operator '%s'", op)
	}
}

// genCompareBool emits the classic compare/jump/loadbool/loadbool idiom
// that turns a skip-style comparison opcode into a real boolean value in
// dst.
func (p *Parser) genCompareBool(op vm.OpCode, invert bool, x, y, dst int, line int) {
	fs := p.fs
	fs.emit(vm.Encode(op, 1, x, y), line)
	jpc := p.emitJump(line)
	falseVal, trueVal := 0, 1
	if invert {
		falseVal, trueVal = 1, 0
	}
	fs.emit(vm.Encode(vm.OpLoadBool, dst, falseVal, 1), line)
	truePC := fs.emit(vm.Encode(vm.OpLoadBool, dst, trueVal, 0), line)
	p.patchJumpTo(jpc, truePC)
}

func (p *Parser) simpleExpr(dst int) {
	fs := p.fs
	line := p.tok.Line
	switch {
	case p.tok.Kind == TokNumber:
		n := p.tok.Num
		p.next()
		var k interface{}
		if iv := int32(n); float64(iv) == n {
			k = iv
		} else {
			k = n
		}
		fs.emit(vm.EncodeBx(vm.OpLoadK, dst, fs.kIndex(k)), line)
	case p.tok.Kind == TokString:
		s := p.tok.Text
		p.next()
		fs.emit(vm.EncodeBx(vm.OpLoadK, dst, fs.kIndex(s)), line)
	case p.isKw("nil"):
		p.next()
		fs.emit(vm.Encode(vm.OpLoadNil, dst, 0, 0), line)
	case p.isKw("true"):
		p.next()
		fs.emit(vm.Encode(vm.OpLoadBool, dst, 1, 0), line)
	case p.isKw("false"):
		p.next()
		fs.emit(vm.Encode(vm.OpLoadBool, dst, 0, 0), line)
	case p.isOp("..."):
		p.next()
		fs.emit(vm.Encode(vm.OpVararg, dst, 2, 0), line)
	case p.isKw("function"):
		p.next()
		p.funcBody("", line, dst)
	case p.isOp("{"):
		p.tableConstructor(dst)
	case p.isKw("not"):
		p.next()
		tmp := fs.reserve(1)
		p.subexpr(tmp, unaryPrec)
		fs.emit(vm.Encode(vm.OpNot, dst, tmp, 0), line)
		fs.freereg = tmp
	case p.isOp("-"):
		p.next()
		tmp := fs.reserve(1)
		p.subexpr(tmp, unaryPrec)
		fs.emit(vm.Encode(vm.OpUnm, dst, tmp, 0), line)
		fs.freereg = tmp
	case p.isOp("#"):
		p.next()
		tmp := fs.reserve(1)
		p.subexpr(tmp, unaryPrec)
		fs.emit(vm.Encode(vm.OpLen, dst, tmp, 0), line)
		fs.freereg = tmp
	default:
		lv := p.suffixedExpr(dst)
		p.materializeTo(lv, dst, line)
	}
	if fs.freereg < dst+1 {
		fs.freereg = dst + 1
	}
}

// primary parses a Name or a parenthesized expression.
func (p *Parser) primary(dst int) lvalue {
	if p.isOp("(") {
		p.next()
		p.expr(dst)
		p.expectOp(")")
		return lvalue{kind: 0, reg: dst}
	}
	name := p.expectName()
	fs := p.fs
	if reg, ok := fs.resolveLocal(name); ok {
		return lvalue{kind: 0, reg: reg}
	}
	if idx := fs.resolveUpvalue(name); idx >= 0 {
		return lvalue{kind: 1, upIdx: idx}
	}
	return lvalue{kind: 2, name: name}
}

// suffixedExpr parses a primary expression followed by any chain of
// '.', '[...]', ':method(...)' and call suffixes, using dst as its
// scratch register for every intermediate materialization. The final
// (possibly still-pending index) descriptor is returned so assignment
// statements can turn it into a store instead of a load.
func (p *Parser) suffixedExpr(dst int) lvalue {
	fs := p.fs
	cur := p.primary(dst)
	for {
		line := p.tok.Line
		switch {
		case p.isOp("."):
			p.next()
			name := p.expectName()
			reg := p.materialize(cur, dst, line)
			cur = lvalue{kind: 3, reg: reg, keyReg: vm.RK(fs.kIndex(name))}

		case p.isOp("["):
			p.next()
			reg := p.materialize(cur, dst, line)
			fs.freereg = dst + 1
			keyReg := fs.reserve(1)
			p.expr(keyReg)
			p.expectOp("]")
			cur = lvalue{kind: 3, reg: reg, keyReg: keyReg}

		case p.isOp(":"):
			p.next()
			mname := p.expectName()
			objReg := p.materializeFresh(cur, line)
			selfBase := fs.reserve(2)
			fs.emit(vm.Encode(vm.OpSelf, selfBase, objReg, vm.RK(fs.kIndex(mname))), line)
			nargs := p.callArgs(selfBase + 2)
			fs.emit(vm.Encode(vm.OpCall, selfBase, nargs+2, 2), line)
			dst = selfBase
			fs.freereg = dst + 1
			cur = lvalue{kind: 0, reg: selfBase}

		case p.isOp("(") || p.tok.Kind == TokString || p.isOp("{"):
			fnReg := p.materializeFresh(cur, line)
			nargs := p.callArgs(fnReg + 1)
			fs.emit(vm.Encode(vm.OpCall, fnReg, nargs+1, 2), line)
			dst = fnReg
			fs.freereg = dst + 1
			cur = lvalue{kind: 0, reg: fnReg}

		default:
			return cur
		}
	}
}

// materialize reads lv into a register without forcing a copy when lv
// already lives in one (the common case for locals and temporaries used
// as the table operand of a further '.'/'[' suffix).
func (p *Parser) materialize(lv lvalue, dst int, line int) int {
	fs := p.fs
	switch lv.kind {
	case 0:
		return lv.reg
	case 1:
		fs.emit(vm.Encode(vm.OpGetUpval, dst, lv.upIdx, 0), line)
		return dst
	case 2:
		env := fs.envUpvalue()
		fs.emit(vm.Encode(vm.OpGetTabUp, dst, env, vm.RK(fs.kIndex(lv.name))), line)
		return dst
	case 3:
		fs.emit(vm.Encode(vm.OpGetTable, dst, lv.reg, lv.keyReg), line)
		return dst
	}
	return dst
}

// materializeTo forces lv's value into exactly dst, copying if needed.
func (p *Parser) materializeTo(lv lvalue, dst int, line int) {
	if lv.kind == 0 {
		if lv.reg != dst {
			p.fs.emit(vm.Encode(vm.OpMove, dst, lv.reg, 0), line)
		}
		return
	}
	p.materialize(lv, dst, line)
}

// materializeFresh always places lv's value in a brand-new register at
// the current top of the register stack, even if lv already names a
// register elsewhere. Required before using a value as a call's
// function/self slot, since the following argument registers must be
// guaranteed free.
func (p *Parser) materializeFresh(lv lvalue, line int) int {
	fs := p.fs
	newReg := fs.reserve(1)
	switch lv.kind {
	case 0:
		if lv.reg != newReg {
			fs.emit(vm.Encode(vm.OpMove, newReg, lv.reg, 0), line)
		}
	case 1:
		fs.emit(vm.Encode(vm.OpGetUpval, newReg, lv.upIdx, 0), line)
	case 2:
		env := fs.envUpvalue()
		fs.emit(vm.Encode(vm.OpGetTabUp, newReg, env, vm.RK(fs.kIndex(lv.name))), line)
	case 3:
		fs.emit(vm.Encode(vm.OpGetTable, newReg, lv.reg, lv.keyReg), line)
	}
	return newReg
}

// callArgs parses a call's argument list — '(' exprlist ')', a single
// string literal, or a table constructor (Lua's call-sugar forms) —
// compiling each argument into a consecutive register starting at dst.
// Every argument is truncated to exactly one value; the reference
// compiler does not propagate multiple results through call arguments.
func (p *Parser) callArgs(dst int) int {
	fs := p.fs
	line := p.tok.Line
	if p.tok.Kind == TokString {
		s := p.tok.Text
		p.next()
		fs.freereg = dst
		fs.reserve(1)
		fs.emit(vm.EncodeBx(vm.OpLoadK, dst, fs.kIndex(s)), line)
		return 1
	}
	if p.isOp("{") {
		fs.freereg = dst
		fs.reserve(1)
		p.tableConstructor(dst)
		return 1
	}
	p.expectOp("(")
	if p.isOp(")") {
		p.next()
		return 0
	}
	n := p.exprListOpen(dst)
	p.expectOp(")")
	return n
}

// exprList compiles a comma-separated expression list into exactly want
// consecutive registers starting at base, padding with nil or discarding
// extras as needed.
func (p *Parser) exprList(base, want int) {
	fs := p.fs
	fs.freereg = base
	n := 0
	for {
		reg := fs.reserve(1)
		p.expr(reg)
		n++
		if p.isOp(",") {
			p.next()
		} else {
			break
		}
	}
	for n < want {
		fs.emit(vm.Encode(vm.OpLoadNil, base+n, 0, 0), p.tok.Line)
		fs.reserve(1)
		n++
	}
	fs.freereg = base + want
	if fs.freereg > int(fs.proto.MaxStackSize) {
		fs.proto.MaxStackSize = uint8(fs.freereg)
	}
}

// exprListOpen compiles a comma-separated expression list into
// consecutive registers starting at base and returns how many values
// were written.
func (p *Parser) exprListOpen(base int) int {
	fs := p.fs
	fs.freereg = base
	n := 0
	for {
		reg := fs.reserve(1)
		p.expr(reg)
		n++
		if p.isOp(",") {
			p.next()
		} else {
			break
		}
	}
	return n
}

// tableConstructor parses '{' (field (','|';' field)* )? '}' where field
// is '[' expr ']' '=' expr, or Name '=' expr, or a bare array-position
// expr. Every field is written with an immediate SETTABLE rather than a
// batched SETLIST, trading a little code density for a simpler and more
// robust register allocator.
func (p *Parser) tableConstructor(dst int) {
	fs := p.fs
	line := p.tok.Line
	p.expectOp("{")
	fs.emit(vm.Encode(vm.OpNewTable, dst, 0, 0), line)
	arrIdx := 1
	for !p.isOp("}") {
		fline := p.tok.Line
		switch {
		case p.isOp("["):
			p.next()
			fs.freereg = dst + 1
			keyReg := fs.reserve(1)
			p.expr(keyReg)
			p.expectOp("]")
			p.expectOp("=")
			valReg := fs.reserve(1)
			p.expr(valReg)
			fs.emit(vm.Encode(vm.OpSetTable, dst, keyReg, valReg), fline)
		case p.tok.Kind == TokName && p.peek().Kind == TokOp && p.peek().Text == "=":
			name := p.expectName()
			p.next()
			fs.freereg = dst + 1
			valReg := fs.reserve(1)
			p.expr(valReg)
			fs.emit(vm.Encode(vm.OpSetTable, dst, vm.RK(fs.kIndex(name)), valReg), fline)
		default:
			fs.freereg = dst + 1
			valReg := fs.reserve(1)
			p.expr(valReg)
			fs.emit(vm.Encode(vm.OpSetTable, dst, vm.RK(fs.kIndex(int32(arrIdx))), valReg), fline)
			arrIdx++
		}
		fs.freereg = dst + 1
		if p.isOp(",") || p.isOp(";") {
			p.next()
		} else {
			break
		}
	}
	p.expectOp("}")
	fs.freereg = dst + 1
}
