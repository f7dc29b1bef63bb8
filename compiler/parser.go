// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package compiler

import (
	"fmt"

	"github.com/probe-lang/luasafe/proto"
	"github.com/probe-lang/luasafe/vm"
)

// localVar is one in-scope local variable: its name and the register that
// holds it.
type localVar struct {
	name string
	reg  int
}

// blockInfo tracks one lexical block (loop or plain do..end) so break can
// patch forward jumps and scope exit can truncate actives / emit CLOSE.
type blockInfo struct {
	breakJumps []int
	firstLocal int
	isLoop     bool
}

// funcState is the register allocator and code buffer for one function
// body being compiled. Nested functions push a new funcState whose parent
// link resolves upvalue captures, mirroring the classic single-pass Lua
// compiler design (and the funcState pattern used by other Lua-targeting
// Go compilers in the ecosystem).
type funcState struct {
	proto   *proto.Prototype
	parent  *funcState
	p       *Parser
	actives []localVar
	blocks  []blockInfo
	freereg int
	consts  map[interface{}]int
	upnames map[string]int
}

func newFuncState(p *Parser, parent *funcState, source string, line int) *funcState {
	return &funcState{
		proto:   &proto.Prototype{Source: source, LineDefined: line},
		parent:  parent,
		p:       p,
		consts:  make(map[interface{}]int),
		upnames: make(map[string]int),
	}
}

func (fs *funcState) reserve(n int) int {
	base := fs.freereg
	fs.freereg += n
	if fs.freereg > int(fs.proto.MaxStackSize) {
		fs.proto.MaxStackSize = uint8(fs.freereg)
	}
	return base
}

func (fs *funcState) emit(instr proto.Instruction, line int) int {
	fs.proto.Code = append(fs.proto.Code, instr)
	fs.proto.LineInfo = append(fs.proto.LineInfo, int32(line))
	return len(fs.proto.Code) - 1
}

func (fs *funcState) kIndex(v interface{}) int {
	if i, ok := fs.consts[v]; ok {
		return i
	}
	i := len(fs.proto.Constants)
	fs.proto.Constants = append(fs.proto.Constants, v)
	fs.consts[v] = i
	return i
}

func (fs *funcState) enterBlock(isLoop bool) {
	fs.blocks = append(fs.blocks, blockInfo{firstLocal: len(fs.actives), isLoop: isLoop})
}

func (fs *funcState) leaveBlock(line int) []int {
	b := fs.blocks[len(fs.blocks)-1]
	fs.blocks = fs.blocks[:len(fs.blocks)-1]
	if len(fs.actives) > b.firstLocal {
		fs.emit(vm.Encode(vm.OpClose, b.firstLocal, 0, 0), line)
	}
	fs.actives = fs.actives[:b.firstLocal]
	return b.breakJumps
}

func (fs *funcState) addLocal(name string) int {
	reg := fs.reserve(1)
	fs.actives = append(fs.actives, localVar{name: name, reg: reg})
	return reg
}

func (fs *funcState) resolveLocal(name string) (int, bool) {
	for i := len(fs.actives) - 1; i >= 0; i-- {
		if fs.actives[i].name == name {
			return fs.actives[i].reg, true
		}
	}
	return 0, false
}

// resolveUpvalue finds or creates an upvalue named name, searching the
// enclosing function chain. Returns the upvalue index in fs, or -1 if
// name is not found anywhere (a global reference).
func (fs *funcState) resolveUpvalue(name string) int {
	if idx, ok := fs.upnames[name]; ok {
		return idx
	}
	if fs.parent == nil {
		return -1
	}
	if reg, ok := fs.parent.resolveLocal(name); ok {
		idx := len(fs.proto.Upvalues)
		fs.proto.Upvalues = append(fs.proto.Upvalues, proto.UpvalDesc{Name: name, InStack: true, Index: uint8(reg)})
		fs.upnames[name] = idx
		return idx
	}
	if pidx := fs.parent.resolveUpvalue(name); pidx >= 0 {
		idx := len(fs.proto.Upvalues)
		fs.proto.Upvalues = append(fs.proto.Upvalues, proto.UpvalDesc{Name: name, InStack: false, Index: uint8(pidx)})
		fs.upnames[name] = idx
		return idx
	}
	return -1
}

// envUpvalue returns (creating if needed) the index of the _ENV upvalue
// used for global access via GETTABUP/SETTABUP.
func (fs *funcState) envUpvalue() int {
	if idx := fs.resolveUpvalue("_ENV"); idx >= 0 {
		return idx
	}
	// A nested function inherits _ENV from its parent's _ENV upvalue,
	// creating that first if needed. The outermost function has no parent
	// to inherit _ENV from; it is seeded directly by the host (see
	// host.Globals.Load) as upvalue 0.
	pidx := 0
	if fs.parent != nil {
		pidx = fs.parent.envUpvalue()
	}
	idx := len(fs.proto.Upvalues)
	fs.proto.Upvalues = append(fs.proto.Upvalues, proto.UpvalDesc{Name: "_ENV", InStack: false, Index: uint8(pidx)})
	fs.upnames["_ENV"] = idx
	return idx
}

// Parser drives the Lexer and builds Prototypes. LuaCompiler wraps it to
// implement proto.Compiler.
type Parser struct {
	lex  *Lexer
	tok  Token
	peeked bool
	peekTok Token
	name string
	fs   *funcState
}

// Compile parses and compiles source into a Prototype (proto.Compiler).
func Compile(source []byte, chunkName string) (p *proto.Prototype, err error) {
	parser := &Parser{lex: NewLexer(source, chunkName), name: chunkName}
	defer func() {
		if r := recover(); r != nil {
			if ce, ok := r.(*proto.CompileError); ok {
				err = ce
				return
			}
			panic(r)
		}
	}()
	if err := parser.next(); err != nil {
		return nil, err
	}
	fs := newFuncState(parser, nil, chunkName, 0)
	fs.proto.IsVararg = true
	parser.fs = fs
	parser.block()
	parser.expect(TokEOF, "")
	fs.emit(vm.Encode(vm.OpReturn, 0, 1, 0), parser.tok.Line)
	fs.proto.LastLineDefined = parser.tok.Line
	return fs.proto, nil
}

func (p *Parser) fail(format string, args ...interface{}) {
	panic(&proto.CompileError{Source: p.name, Line: p.tok.Line, Msg: fmt.Sprintf(format, args...)})
}

func (p *Parser) next() error {
	if p.peeked {
		p.tok = p.peekTok
		p.peeked = false
		return nil
	}
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *Parser) peek() Token {
	if !p.peeked {
		t, err := p.lex.Next()
		if err != nil {
			p.fail("%s", err.Error())
		}
		p.peekTok = t
		p.peeked = true
	}
	return p.peekTok
}

func (p *Parser) isOp(s string) bool { return p.tok.Kind == TokOp && p.tok.Text == s }
func (p *Parser) isKw(s string) bool { return p.tok.Kind == TokKeyword && p.tok.Text == s }

func (p *Parser) expectOp(s string) {
	if !p.isOp(s) {
		p.fail("'%s' expected near '%s'", s, p.tok.Text)
	}
	if err := p.next(); err != nil {
		p.fail("%s", err.Error())
	}
}

func (p *Parser) expectKw(s string) {
	if !p.isKw(s) {
		p.fail("'%s' expected near '%s'", s, p.tok.Text)
	}
	if err := p.next(); err != nil {
		p.fail("%s", err.Error())
	}
}

func (p *Parser) expect(kind TokenKind, text string) {
	if p.tok.Kind != kind || (text != "" && p.tok.Text != text) {
		p.fail("unexpected token '%s'", p.tok.Text)
	}
}

func (p *Parser) expectName() string {
	if p.tok.Kind != TokName {
		p.fail("name expected near '%s'", p.tok.Text)
	}
	name := p.tok.Text
	if err := p.next(); err != nil {
		p.fail("%s", err.Error())
	}
	return name
}

// blockFollow reports whether the current token ends a block.
func (p *Parser) blockFollow() bool {
	if p.tok.Kind == TokEOF {
		return true
	}
	if p.tok.Kind == TokKeyword {
		switch p.tok.Text {
		case "end", "else", "elseif", "until":
			return true
		}
	}
	return false
}

func (p *Parser) block() {
	for !p.blockFollow() {
		if p.isKw("return") {
			p.returnStat()
			break
		}
		p.statement()
	}
}

func (p *Parser) statement() {
	line := p.tok.Line
	switch {
	case p.isOp(";"):
		p.next()
	case p.isKw("if"):
		p.ifStat()
	case p.isKw("while"):
		p.whileStat()
	case p.isKw("do"):
		p.next()
		p.fs.enterBlock(false)
		p.block()
		p.expectKw("end")
		p.fs.leaveBlock(line)
	case p.isKw("for"):
		p.forStat()
	case p.isKw("repeat"):
		p.repeatStat()
	case p.isKw("function"):
		p.functionStat()
	case p.isKw("local"):
		p.localStat()
	case p.isKw("break"):
		p.next()
		fs := p.fs
		jpc := fs.emit(vm.EncodeSBx(vm.OpJmp, 0, 0), line)
		for i := len(fs.blocks) - 1; i >= 0; i-- {
			if fs.blocks[i].isLoop {
				fs.blocks[i].breakJumps = append(fs.blocks[i].breakJumps, jpc)
				return
			}
		}
		p.fail("break outside a loop")
	default:
		p.exprStat()
	}
}

func (p *Parser) patchJumpsHere(jumps []int) {
	fs := p.fs
	here := len(fs.proto.Code)
	for _, pc := range jumps {
		instr := fs.proto.Code[pc]
		a := int((uint32(instr) >> 24) & 0xff)
		sbx := here - pc - 1
		fs.proto.Code[pc] = vm.EncodeSBx(vm.OpJmp, a, sbx)
	}
}

func (p *Parser) emitJump(line int) int {
	return p.fs.emit(vm.EncodeSBx(vm.OpJmp, 0, 0), line)
}

func (p *Parser) patchJumpTo(pc, target int) {
	fs := p.fs
	sbx := target - pc - 1
	fs.proto.Code[pc] = vm.EncodeSBx(vm.OpJmp, 0, sbx)
}

func (p *Parser) ifStat() {
	line := p.tok.Line
	p.next()
	var endJumps []int
	falseJump := p.ifCond(line)
	p.fs.enterBlock(false)
	p.block()
	p.fs.leaveBlock(p.tok.Line)
	for p.isKw("elseif") {
		endJumps = append(endJumps, p.emitJump(p.tok.Line))
		p.patchJumpsHere([]int{falseJump})
		eline := p.tok.Line
		p.next()
		falseJump = p.ifCond(eline)
		p.fs.enterBlock(false)
		p.block()
		p.fs.leaveBlock(p.tok.Line)
	}
	if p.isKw("else") {
		endJumps = append(endJumps, p.emitJump(p.tok.Line))
		p.patchJumpsHere([]int{falseJump})
		p.next()
		p.fs.enterBlock(false)
		p.block()
		p.fs.leaveBlock(p.tok.Line)
	} else {
		p.patchJumpsHere([]int{falseJump})
	}
	p.expectKw("end")
	p.patchJumpsHere(endJumps)
}

// ifCond compiles `cond then` and returns the pc of a forward jump taken
// when cond is false.
func (p *Parser) ifCond(line int) int {
	fs := p.fs
	base := fs.freereg
	p.expr(base)
	fs.emit(vm.Encode(vm.OpTest, base, 0, 0), line)
	jpc := fs.emit(vm.EncodeSBx(vm.OpJmp, 0, 0), line)
	fs.freereg = base
	p.expectKw("then")
	return jpc
}

func (p *Parser) whileStat() {
	line := p.tok.Line
	p.next()
	fs := p.fs
	top := len(fs.proto.Code)
	base := fs.freereg
	p.expr(base)
	fs.emit(vm.Encode(vm.OpTest, base, 0, 0), line)
	exitJump := fs.emit(vm.EncodeSBx(vm.OpJmp, 0, 0), line)
	fs.freereg = base
	p.expectKw("do")
	fs.enterBlock(true)
	p.block()
	breaks := fs.leaveBlock(p.tok.Line)
	backJump := fs.emit(vm.EncodeSBx(vm.OpJmp, 0, 0), p.tok.Line)
	p.patchJumpTo(backJump, top)
	p.expectKw("end")
	p.patchJumpsHere(append(breaks, exitJump))
}

func (p *Parser) repeatStat() {
	line := p.tok.Line
	p.next()
	fs := p.fs
	top := len(fs.proto.Code)
	fs.enterBlock(true)
	p.block()
	p.expectKw("until")
	base := fs.freereg
	p.expr(base)
	fs.emit(vm.Encode(vm.OpTest, base, 0, 0), line)
	backJump := fs.emit(vm.EncodeSBx(vm.OpJmp, 0, 0), line)
	p.patchJumpTo(backJump, top)
	fs.freereg = base
	breaks := fs.leaveBlock(line)
	p.patchJumpsHere(breaks)
}

func (p *Parser) forStat() {
	line := p.tok.Line
	p.next()
	name := p.expectName()
	if p.isOp("=") {
		p.numericFor(name, line)
		return
	}
	names := []string{name}
	for p.isOp(",") {
		p.next()
		names = append(names, p.expectName())
	}
	p.expectKw("in")
	p.genericFor(names, line)
}

func (p *Parser) numericFor(name string, line int) {
	fs := p.fs
	p.expectOp("=")
	base := fs.reserve(3) // index, limit, step
	p.expr(base)
	p.expectOp(",")
	p.exprInto(base + 1)
	if p.isOp(",") {
		p.next()
		p.exprInto(base + 2)
	} else {
		fs.emit(vm.EncodeBx(vm.OpLoadK, base+2, fs.kIndex(float64(1))), line)
	}
	prepPC := fs.emit(vm.EncodeSBx(vm.OpForPrep, base, 0), line)
	p.expectKw("do")
	fs.enterBlock(true)
	fs.reserve(1) // the visible loop variable, register base+3
	fs.actives = append(fs.actives, localVar{name: name, reg: base + 3})
	p.block()
	breaks := fs.leaveBlock(p.tok.Line)
	loopPC := fs.emit(vm.EncodeSBx(vm.OpForLoop, base, 0), p.tok.Line)
	fs.proto.Code[prepPC] = vm.EncodeSBx(vm.OpForPrep, base, loopPC-prepPC-1)
	fs.proto.Code[loopPC] = vm.EncodeSBx(vm.OpForLoop, base, prepPC-loopPC)
	p.expectKw("end")
	p.patchJumpsHere(breaks)
	fs.freereg = base
}

func (p *Parser) genericFor(names []string, line int) {
	fs := p.fs
	base := fs.reserve(3) // iterator func, state, control
	p.exprList(base, 3)
	p.expectKw("do")
	fs.enterBlock(true)
	nvars := len(names)
	resBase := fs.reserve(nvars)
	for i, nm := range names {
		fs.actives = append(fs.actives, localVar{name: nm, reg: resBase + i})
	}
	topJump := p.emitJump(p.tok.Line)
	bodyStart := len(fs.proto.Code)
	p.block()
	p.patchJumpsHere([]int{topJump})
	fs.emit(vm.Encode(vm.OpTForCall, base, 0, nvars), p.tok.Line)
	fs.emit(vm.EncodeSBx(vm.OpTForLoop, resBase-1, bodyStart-len(fs.proto.Code)-1), p.tok.Line)
	breaks := fs.leaveBlock(p.tok.Line)
	p.expectKw("end")
	p.patchJumpsHere(breaks)
	fs.freereg = base
}

func (p *Parser) localStat() {
	line := p.tok.Line
	p.next()
	if p.isKw("function") {
		p.next()
		name := p.expectName()
		reg := p.fs.addLocal(name)
		p.funcBody(name, line, reg)
		return
	}
	var names []string
	names = append(names, p.expectName())
	p.skipAttrib()
	for p.isOp(",") {
		p.next()
		names = append(names, p.expectName())
		p.skipAttrib()
	}
	fs := p.fs
	base := fs.freereg
	if p.isOp("=") {
		p.next()
		p.exprList(base, len(names))
	} else {
		fs.reserve(len(names))
		for i := 0; i < len(names); i++ {
			fs.emit(vm.Encode(vm.OpLoadNil, base+i, 0, 0), line)
		}
	}
	for i, nm := range names {
		fs.actives = append(fs.actives, localVar{name: nm, reg: base + i})
	}
}

func (p *Parser) skipAttrib() {
	if p.isOp("<") {
		p.next()
		p.expectName()
		p.expectOp(">")
	}
}

func (p *Parser) functionStat() {
	line := p.tok.Line
	p.next()
	name := p.expectName()
	fs := p.fs
	reg, isLocal := fs.resolveLocal(name)
	upIdx := -1
	if !isLocal {
		upIdx = fs.resolveUpvalue(name)
	}
	fullName := name
	for p.isOp(".") {
		p.next()
		fullName = fullName + "." + p.expectName()
	}
	isMethod := false
	if p.isOp(":") {
		p.next()
		fullName = fullName + ":" + p.expectName()
		isMethod = true
	}
	dst := fs.reserve(1)
	p.funcBodyMethod(fullName, line, dst, isMethod)
	if isLocal {
		fs.emit(vm.Encode(vm.OpMove, reg, dst, 0), line)
	} else if upIdx >= 0 {
		fs.emit(vm.Encode(vm.OpSetUpval, dst, upIdx, 0), line)
	} else {
		env := fs.envUpvalue()
		fs.emit(vm.Encode(vm.OpSetTabUp, env, vm.RK(fs.kIndex(name)), dst), line)
	}
	fs.freereg = dst
}

// funcBody parses `(params) block end` and leaves the resulting closure
// in register dst of the enclosing function.
func (p *Parser) funcBody(name string, line int, dst int) {
	p.funcBodyMethod(name, line, dst, false)
}

// funcBodyMethod is funcBody with support for method definitions
// (`function t:name(...) end`), which implicitly bind an extra leading
// "self" parameter to the receiver passed via OpSelf at the call site.
func (p *Parser) funcBodyMethod(name string, line int, dst int, isMethod bool) {
	parent := p.fs
	fs := newFuncState(p, parent, p.name, line)
	p.fs = fs
	if isMethod {
		fs.addLocal("self")
		fs.proto.NumParams++
	}
	p.expectOp("(")
	isVararg := false
	for !p.isOp(")") {
		if p.isOp("...") {
			isVararg = true
			p.next()
			break
		}
		pname := p.expectName()
		fs.addLocal(pname)
		fs.proto.NumParams++
		if p.isOp(",") {
			p.next()
		} else {
			break
		}
	}
	fs.proto.IsVararg = isVararg
	p.expectOp(")")
	p.block()
	fs.proto.LastLineDefined = p.tok.Line
	fs.emit(vm.Encode(vm.OpReturn, 0, 1, 0), p.tok.Line)
	p.expectKw("end")

	childIdx := len(parent.proto.Protos)
	parent.proto.Protos = append(parent.proto.Protos, fs.proto)
	p.fs = parent
	parent.emit(vm.EncodeBx(vm.OpClosure, dst, childIdx), line)
}

func (p *Parser) returnStat() {
	line := p.tok.Line
	p.next()
	fs := p.fs
	base := fs.freereg
	n := 0
	if !p.blockFollow() && !p.isOp(";") {
		n = p.exprListOpen(base)
	}
	if p.isOp(";") {
		p.next()
	}
	fs.emit(vm.Encode(vm.OpReturn, base, n+1, 0), line)
}

// exprStat parses either a bare call statement or an assignment.
func (p *Parser) exprStat() {
	line := p.tok.Line
	fs := p.fs
	base := fs.freereg
	target := p.suffixedExpr(base)
	if p.isOp("=") || p.isOp(",") {
		targets := []lvalue{target}
		for p.isOp(",") {
			p.next()
			nbase := fs.freereg
			targets = append(targets, p.suffixedExpr(nbase))
		}
		p.expectOp("=")
		vbase := fs.freereg
		p.exprList(vbase, len(targets))
		for i, t := range targets {
			p.assignTo(t, vbase+i, line)
		}
		fs.freereg = base
		return
	}
	// Must have been a call; result discarded.
	fs.freereg = base
}

// lvalue describes an assignment target resolved by suffixedExpr.
type lvalue struct {
	kind   int // 0=local, 1=upvalue, 2=global, 3=table index
	reg    int // local register, or table register for kind 3
	upIdx  int
	keyReg int // register holding the index key, for kind 3
	name   string
}

func (p *Parser) assignTo(t lvalue, valReg int, line int) {
	fs := p.fs
	switch t.kind {
	case 0:
		fs.emit(vm.Encode(vm.OpMove, t.reg, valReg, 0), line)
	case 1:
		fs.emit(vm.Encode(vm.OpSetUpval, valReg, t.upIdx, 0), line)
	case 2:
		env := fs.envUpvalue()
		fs.emit(vm.Encode(vm.OpSetTabUp, env, vm.RK(fs.kIndex(t.name)), valReg), line)
	case 3:
		fs.emit(vm.Encode(vm.OpSetTable, t.reg, t.keyReg, valReg), line)
	}
}
