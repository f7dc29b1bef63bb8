// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/probe-lang/luasafe/coroutine"
	"github.com/probe-lang/luasafe/limiter"
	"github.com/probe-lang/luasafe/proto"
	"github.com/probe-lang/luasafe/value"
)

// LuaError wraps a runtime error value raised by `error()` or by a failed
// operation (indexing nil, calling a non-function, ...). pcall/xpcall
// catch it, as they catch every error except LimitExceeded /
// StringLimitExceeded, which propagate through them (§3).
type LuaError struct {
	Value   value.Value
	Traceback []string
}

func (e *LuaError) Error() string {
	return value.ToString(e.Value)
}

func runtimeErrorf(p *proto.Prototype, pc int, format string, args ...interface{}) *LuaError {
	msg := fmt.Sprintf("%s:%d: ", p.Source, p.LineForPC(pc)) + fmt.Sprintf(format, args...)
	return &LuaError{Value: value.NewStringFromGo(msg)}
}

// frame is the activation record of one running Lua closure: its
// registers, varargs and program counter.
type frame struct {
	closure   *value.Closure
	registers []value.Value
	varargs   []value.Value
	pc        int
	openUV    map[int]*value.UpValue
}

// Interp runs Prototypes against an installed instruction counter and a
// shared global environment. One Interp is created per worker (coroutine
// or the main thread); it implements coroutine.Yielder so the scheduler
// can hand it resume arguments directly.
type Interp struct {
	Globals *value.Table
	Counter *limiter.Counter

	yielder coroutine.Yielder // set when running inside a spawned coroutine
	frames  []*frame
}

// NewInterp creates an interpreter sharing globals and charging counter.
func NewInterp(globals *value.Table, counter *limiter.Counter) *Interp {
	return &Interp{Globals: globals, Counter: counter}
}

// WithYielder returns a copy of the interpreter wired to y, for use as the
// body runner of a spawned coroutine (see coroutine.RunFunc).
func (vm *Interp) WithYielder(y coroutine.Yielder) *Interp {
	return &Interp{Globals: vm.Globals, Counter: vm.Counter, yielder: y}
}

// Yield suspends the current coroutine, forwarding to the installed
// Yielder. Called by the stdlib's coroutine.yield binding.
func (vm *Interp) Yield(results []value.Value) ([]value.Value, error) {
	if vm.yielder == nil {
		return nil, fmt.Errorf("attempt to yield from outside a coroutine")
	}
	return vm.yielder.Yield(results)
}

// Call invokes fn (a *value.Closure or *value.GoFunc) with args, charging
// every executed VM instruction to vm.Counter. It is the single entry
// point used by the host facade, pcall/xpcall, and nested CALL/TAILCALL
// instructions alike.
func (vm *Interp) Call(fn value.Value, args []value.Value) ([]value.Value, error) {
	switch f := fn.(type) {
	case *value.GoFunc:
		if f.IsYield {
			return vm.Yield(args)
		}
		if f.FnWithCaller != nil {
			return f.FnWithCaller(vm, args)
		}
		return f.Call(args)
	case *value.Closure:
		return vm.callClosure(f, args)
	default:
		if h, ok := value.Metamethod(fn, value.MetaCall); ok {
			return vm.Call(h, append([]value.Value{fn}, args...))
		}
		return nil, &LuaError{Value: value.NewStringFromGo("attempt to call a " + fn.Type() + " value")}
	}
}

func (vm *Interp) callClosure(cl *value.Closure, args []value.Value) ([]value.Value, error) {
	p := cl.Proto
	fr := &frame{
		closure:   cl,
		registers: make([]value.Value, int(p.MaxStackSize)),
		openUV:    make(map[int]*value.UpValue),
	}
	for i := range fr.registers {
		fr.registers[i] = value.NilValue
	}
	np := int(p.NumParams)
	for i := 0; i < np && i < len(args); i++ {
		fr.registers[i] = args[i]
	}
	if p.IsVararg && len(args) > np {
		fr.varargs = append([]value.Value(nil), args[np:]...)
	}
	vm.frames = append(vm.frames, fr)
	defer func() { vm.frames = vm.frames[:len(vm.frames)-1] }()
	return vm.run(fr)
}

func (vm *Interp) closeUpvalsFrom(fr *frame, from int) {
	for idx, uv := range fr.openUV {
		if idx >= from {
			uv.Close()
			delete(fr.openUV, idx)
		}
	}
}

func (vm *Interp) openUpval(fr *frame, idx int) *value.UpValue {
	if uv, ok := fr.openUV[idx]; ok {
		return uv
	}
	uv := &value.UpValue{Stack: &fr.registers[idx]}
	fr.openUV[idx] = uv
	return uv
}

// rk resolves an RK operand (register or constant) to a value.Value.
func (vm *Interp) rk(fr *frame, arg int) value.Value {
	if isK(arg) {
		return constToValue(fr.closure.Proto.Constants[kIndex(arg)])
	}
	return fr.registers[arg]
}

func constToValue(c interface{}) value.Value {
	switch x := c.(type) {
	case nil:
		return value.NilValue
	case bool:
		return value.Bool(x)
	case int32:
		return value.Integer(x)
	case float64:
		return value.Number(x)
	case string:
		return value.NewStringFromGo(x)
	}
	return value.NilValue
}

// run executes fr's instruction stream until a RETURN, returning its
// result values.
func (vm *Interp) run(fr *frame) ([]value.Value, error) {
	p := fr.closure.Proto
	for {
		if fr.pc >= len(p.Code) {
			return nil, nil
		}
		instr := p.Code[fr.pc]
		if err := vm.Counter.Charge(1); err != nil {
			var le *limiter.LimitExceeded
			if errors.As(err, &le) && vm.yielder != nil {
				// §5: inside a worker, an exhausted budget yields rather
				// than raises — the host observes (true, nil) and a
				// subsequent resume retries this same fetch.
				if _, yerr := vm.Yield(nil); yerr != nil {
					return nil, yerr
				}
				continue
			}
			return nil, err
		}
		op := decodeOp(instr)
		a := decodeA(instr)
		pc := fr.pc
		fr.pc++

		switch op {
		case OpMove:
			fr.registers[a] = fr.registers[decodeB(instr)]

		case OpLoadK:
			fr.registers[a] = constToValue(p.Constants[decodeBx(instr)])

		case OpLoadBool:
			fr.registers[a] = value.Bool(decodeB(instr) != 0)
			if decodeC(instr) != 0 {
				fr.pc++
			}

		case OpLoadNil:
			b := decodeB(instr)
			for i := a; i <= a+b; i++ {
				fr.registers[i] = value.NilValue
			}

		case OpGetUpval:
			fr.registers[a] = fr.closure.Upvalues[decodeB(instr)].Get()

		case OpSetUpval:
			fr.closure.Upvalues[decodeB(instr)].Set(fr.registers[a])

		case OpGetTabUp:
			tbl := fr.closure.Upvalues[decodeB(instr)].Get()
			key := vm.rk(fr, decodeC(instr))
			v, err := vm.index(p, pc, tbl, key)
			if err != nil {
				return nil, err
			}
			fr.registers[a] = v

		case OpSetTabUp:
			tbl := fr.closure.Upvalues[decodeA(instr)].Get()
			key := vm.rk(fr, decodeB(instr))
			val := vm.rk(fr, decodeC(instr))
			if err := vm.newindex(p, pc, tbl, key, val); err != nil {
				return nil, err
			}

		case OpGetTable:
			tbl := fr.registers[decodeB(instr)]
			key := vm.rk(fr, decodeC(instr))
			v, err := vm.index(p, pc, tbl, key)
			if err != nil {
				return nil, err
			}
			fr.registers[a] = v

		case OpSetTable:
			tbl := fr.registers[a]
			key := vm.rk(fr, decodeB(instr))
			val := vm.rk(fr, decodeC(instr))
			if err := vm.newindex(p, pc, tbl, key, val); err != nil {
				return nil, err
			}

		case OpNewTable:
			fr.registers[a] = value.NewTableSize(decodeB(instr), decodeC(instr))

		case OpSelf:
			obj := fr.registers[decodeB(instr)]
			key := vm.rk(fr, decodeC(instr))
			v, err := vm.index(p, pc, obj, key)
			if err != nil {
				return nil, err
			}
			fr.registers[a+1] = obj
			fr.registers[a] = v

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			x := vm.rk(fr, decodeB(instr))
			y := vm.rk(fr, decodeC(instr))
			v, err := vm.arith(p, pc, op, x, y)
			if err != nil {
				return nil, err
			}
			fr.registers[a] = v

		case OpUnm:
			x := fr.registers[decodeB(instr)]
			if n, ok := value.AsNumber(x); ok {
				if _, isInt := x.(value.Integer); isInt {
					fr.registers[a] = value.Integer(-int32(n))
				} else {
					fr.registers[a] = value.Number(-n)
				}
			} else if h, ok := value.Metamethod(x, value.MetaUnm); ok {
				res, err := vm.Call(h, []value.Value{x, x})
				if err != nil {
					return nil, err
				}
				fr.registers[a] = first(res)
			} else {
				return nil, runtimeErrorf(p, pc, "attempt to perform arithmetic on a %s value", x.Type())
			}

		case OpNot:
			fr.registers[a] = value.Bool(!fr.registers[decodeB(instr)].Truthy())

		case OpLen:
			x := fr.registers[decodeB(instr)]
			switch v := x.(type) {
			case *value.Str:
				fr.registers[a] = value.Integer(int32(v.Len()))
			case *value.Table:
				if h, ok := value.Metamethod(v, value.MetaLen); ok {
					res, err := vm.Call(h, []value.Value{v})
					if err != nil {
						return nil, err
					}
					fr.registers[a] = first(res)
				} else {
					fr.registers[a] = value.Integer(int32(v.Len()))
				}
			default:
				return nil, runtimeErrorf(p, pc, "attempt to get length of a %s value", x.Type())
			}

		case OpConcat:
			b, c := decodeB(instr), decodeC(instr)
			v, err := vm.concat(p, pc, fr.registers[b:c+1])
			if err != nil {
				return nil, err
			}
			fr.registers[a] = v

		case OpJmp:
			if a > 0 {
				vm.closeUpvalsFrom(fr, a-1)
			}
			fr.pc += decodeSBx(instr)

		case OpEq, OpLt, OpLe:
			x := vm.rk(fr, decodeB(instr))
			y := vm.rk(fr, decodeC(instr))
			res, err := vm.compare(p, pc, op, x, y)
			if err != nil {
				return nil, err
			}
			if res != (a != 0) {
				fr.pc++
			} else {
				fr.pc += decodeSBx(p.Code[fr.pc]) + 1
			}

		case OpTest:
			if fr.registers[a].Truthy() != (decodeC(instr) != 0) {
				fr.pc++
			} else {
				fr.pc += decodeSBx(p.Code[fr.pc]) + 1
			}

		case OpTestSet:
			b := fr.registers[decodeB(instr)]
			if b.Truthy() != (decodeC(instr) != 0) {
				fr.pc++
			} else {
				fr.registers[a] = b
				fr.pc += decodeSBx(p.Code[fr.pc]) + 1
			}

		case OpCall, OpTailCall:
			b, c := decodeB(instr), decodeC(instr)
			var args []value.Value
			if b == 0 {
				args = fr.registers[a+1:]
			} else {
				args = fr.registers[a+1 : a+b]
			}
			results, err := vm.Call(fr.registers[a], args)
			if err != nil {
				return nil, err
			}
			if c == 0 {
				fr.registers = append(fr.registers[:a], results...)
			} else {
				for i := 0; i < c-1; i++ {
					if i < len(results) {
						fr.registers[a+i] = results[i]
					} else {
						fr.registers[a+i] = value.NilValue
					}
				}
			}

		case OpReturn:
			b := decodeB(instr)
			vm.closeUpvalsFrom(fr, 0)
			if b == 0 {
				return fr.registers[a:], nil
			}
			return fr.registers[a : a+b-1], nil

		case OpForPrep:
			init, _ := value.AsNumber(fr.registers[a])
			step, _ := value.AsNumber(fr.registers[a+2])
			fr.registers[a] = value.Number(init - step)
			fr.pc += decodeSBx(instr)

		case OpForLoop:
			idx, _ := value.AsNumber(fr.registers[a])
			step, _ := value.AsNumber(fr.registers[a+2])
			limit, _ := value.AsNumber(fr.registers[a+1])
			idx += step
			cont := (step >= 0 && idx <= limit) || (step < 0 && idx >= limit)
			if cont {
				fr.registers[a] = value.Number(idx)
				fr.registers[a+3] = value.Number(idx)
				fr.pc += decodeSBx(instr)
			}

		case OpTForCall:
			c := decodeC(instr)
			args := []value.Value{fr.registers[a+1], fr.registers[a+2]}
			results, err := vm.Call(fr.registers[a], args)
			if err != nil {
				return nil, err
			}
			for i := 0; i < c; i++ {
				if i < len(results) {
					fr.registers[a+3+i] = results[i]
				} else {
					fr.registers[a+3+i] = value.NilValue
				}
			}

		case OpTForLoop:
			if !value.IsNil(fr.registers[a+1]) {
				fr.registers[a] = fr.registers[a+1]
				fr.pc += decodeSBx(instr)
			}

		case OpClosure:
			child := p.Protos[decodeBx(instr)]
			cl := &value.Closure{Proto: child, Upvalues: make([]*value.UpValue, len(child.Upvalues))}
			for i, uvd := range child.Upvalues {
				if uvd.InStack {
					cl.Upvalues[i] = vm.openUpval(fr, int(uvd.Index))
				} else {
					cl.Upvalues[i] = fr.closure.Upvalues[uvd.Index]
				}
			}
			fr.registers[a] = cl

		case OpVararg:
			b := decodeB(instr)
			if b == 0 {
				fr.registers = append(fr.registers[:a], fr.varargs...)
			} else {
				for i := 0; i < b-1; i++ {
					if i < len(fr.varargs) {
						fr.registers[a+i] = fr.varargs[i]
					} else {
						fr.registers[a+i] = value.NilValue
					}
				}
			}

		case OpSetList:
			b, c := decodeB(instr), decodeC(instr)
			tbl, ok := fr.registers[a].(*value.Table)
			if !ok {
				return nil, runtimeErrorf(p, pc, "SETLIST target is not a table")
			}
			n := b
			if n == 0 {
				n = len(fr.registers) - a - 1
			}
			for i := 1; i <= n; i++ {
				tbl.Set(value.Integer(int32((c-1)*50+i)), fr.registers[a+i])
			}

		case OpClose:
			vm.closeUpvalsFrom(fr, a)

		default:
			return nil, runtimeErrorf(p, pc, "unimplemented opcode %v", op)
		}
	}
}

func first(vs []value.Value) value.Value {
	if len(vs) == 0 {
		return value.NilValue
	}
	return vs[0]
}

func (vm *Interp) index(p *proto.Prototype, pc int, tbl, key value.Value) (value.Value, error) {
	t, ok := tbl.(*value.Table)
	if !ok {
		if h, ok := value.Metamethod(tbl, value.MetaIndex); ok {
			res, err := vm.Call(h, []value.Value{tbl, key})
			return first(res), err
		}
		return nil, runtimeErrorf(p, pc, "attempt to index a %s value", tbl.Type())
	}
	v := t.Get(key)
	if !value.IsNil(v) {
		return v, nil
	}
	if t.Metatable != nil {
		if h, ok := value.Metamethod(t, value.MetaIndex); ok {
			if ht, isTable := h.(*value.Table); isTable {
				return vm.index(p, pc, ht, key)
			}
			res, err := vm.Call(h, []value.Value{tbl, key})
			return first(res), err
		}
	}
	return value.NilValue, nil
}

func (vm *Interp) newindex(p *proto.Prototype, pc int, tbl, key, val value.Value) error {
	t, ok := tbl.(*value.Table)
	if !ok {
		if h, ok := value.Metamethod(tbl, value.MetaNewIndex); ok {
			_, err := vm.Call(h, []value.Value{tbl, key, val})
			return err
		}
		return runtimeErrorf(p, pc, "attempt to index a %s value", tbl.Type())
	}
	if value.IsNil(t.Get(key)) && t.Metatable != nil {
		if h, ok := value.Metamethod(t, value.MetaNewIndex); ok {
			if ht, isTable := h.(*value.Table); isTable {
				return vm.newindex(p, pc, ht, key, val)
			}
			_, err := vm.Call(h, []value.Value{tbl, key, val})
			return err
		}
	}
	if err := t.Set(key, val); err != nil {
		return runtimeErrorf(p, pc, "%v", err)
	}
	return nil
}

// widenInt demotes a 64-bit arithmetic result to Number when it no longer
// fits the 32-bit Integer range, per the resolved overflow Open Question
// (spec.md §9): widen to 64-bit for overflow detection, demote on store.
func widenInt(r int64) value.Value {
	if r < math.MinInt32 || r > math.MaxInt32 {
		return value.Number(float64(r))
	}
	return value.Integer(int32(r))
}

func (vm *Interp) arith(p *proto.Prototype, pc int, op OpCode, x, y value.Value) (value.Value, error) {
	xn, xok := value.AsNumber(x)
	yn, yok := value.AsNumber(y)
	if xok && yok {
		_, xInt := x.(value.Integer)
		_, yInt := y.(value.Integer)
		bothInt := xInt && yInt && op != OpDiv && op != OpPow
		switch op {
		case OpAdd:
			if bothInt {
				return widenInt(int64(x.(value.Integer)) + int64(y.(value.Integer))), nil
			}
			return value.Number(xn + yn), nil
		case OpSub:
			if bothInt {
				return widenInt(int64(x.(value.Integer)) - int64(y.(value.Integer))), nil
			}
			return value.Number(xn - yn), nil
		case OpMul:
			if bothInt {
				return widenInt(int64(x.(value.Integer)) * int64(y.(value.Integer))), nil
			}
			return value.Number(xn * yn), nil
		case OpDiv:
			return value.Number(xn / yn), nil
		case OpMod:
			if bothInt {
				if int32(yn) == 0 {
					return nil, runtimeErrorf(p, pc, "attempt to perform 'n%%0'")
				}
				m := int32(xn) % int32(yn)
				if m != 0 && (m^int32(yn)) < 0 {
					m += int32(yn)
				}
				return value.Integer(m), nil
			}
			m := math.Mod(xn, yn)
			if m != 0 && (m < 0) != (yn < 0) {
				m += yn
			}
			return value.Number(m), nil
		case OpPow:
			return value.Number(math.Pow(xn, yn)), nil
		}
	}
	mm := map[OpCode]string{OpAdd: value.MetaAdd, OpSub: value.MetaSub, OpMul: value.MetaMul,
		OpDiv: value.MetaDiv, OpMod: value.MetaMod, OpPow: value.MetaPow}[op]
	if h, ok := value.Metamethod(x, mm); ok {
		res, err := vm.Call(h, []value.Value{x, y})
		return first(res), err
	}
	if h, ok := value.Metamethod(y, mm); ok {
		res, err := vm.Call(h, []value.Value{x, y})
		return first(res), err
	}
	bad := x
	if xok {
		bad = y
	}
	return nil, runtimeErrorf(p, pc, "attempt to perform arithmetic on a %s value", bad.Type())
}

func (vm *Interp) compare(p *proto.Prototype, pc int, op OpCode, x, y value.Value) (bool, error) {
	if op == OpEq {
		if value.RawEqual(x, y) {
			return true, nil
		}
		if h, ok := value.Metamethod(x, value.MetaEq); ok {
			res, err := vm.Call(h, []value.Value{x, y})
			return first(res).Truthy(), err
		}
		return false, nil
	}
	xn, xok := value.AsNumber(x)
	yn, yok := value.AsNumber(y)
	if xok && yok {
		if op == OpLt {
			return xn < yn, nil
		}
		return xn <= yn, nil
	}
	if xs, ok := x.(*value.Str); ok {
		if ys, ok := y.(*value.Str); ok {
			c := compareBytes(xs.Bytes(), ys.Bytes())
			if op == OpLt {
				return c < 0, nil
			}
			return c <= 0, nil
		}
	}
	mm := value.MetaLt
	if op == OpLe {
		mm = value.MetaLe
	}
	if h, ok := value.Metamethod(x, mm); ok {
		res, err := vm.Call(h, []value.Value{x, y})
		return first(res).Truthy(), err
	}
	if h, ok := value.Metamethod(y, mm); ok {
		res, err := vm.Call(h, []value.Value{x, y})
		return first(res).Truthy(), err
	}
	return false, runtimeErrorf(p, pc, "attempt to compare two %s values", x.Type())
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

func (vm *Interp) concat(p *proto.Prototype, pc int, vals []value.Value) (value.Value, error) {
	var total int
	parts := make([][]byte, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case *value.Str:
			parts[i] = x.Bytes()
		case value.Integer, value.Number:
			parts[i] = []byte(value.ToString(v))
		default:
			if h, ok := value.Metamethod(v, value.MetaConcat); ok {
				res, err := vm.Call(h, []value.Value{v})
				if err != nil {
					return nil, err
				}
				return first(res), nil
			}
			return nil, runtimeErrorf(p, pc, "attempt to concatenate a %s value", v.Type())
		}
		total += len(parts[i])
	}
	if err := vm.Counter.ChargeString(uint64(total)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, total)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return value.NewString(buf), nil
}
