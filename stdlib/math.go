// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package stdlib

import (
	"math"

	"github.com/probe-lang/luasafe/value"
)

// OpenMath installs the math library. It installs no math.random; a host
// that wants scripts to have random numbers registers a callable for them
// (§C8, "register host callables").
func OpenMath(g *value.Table) {
	mod := value.NewTable()
	g.Set(value.NewStringFromGo("math"), mod)

	mod.Set(value.NewStringFromGo("pi"), value.Number(math.Pi))
	mod.Set(value.NewStringFromGo("huge"), value.Number(math.Inf(1)))
	mod.Set(value.NewStringFromGo("maxinteger"), value.Integer(math.MaxInt32))
	mod.Set(value.NewStringFromGo("mininteger"), value.Integer(math.MinInt32))

	unary := func(name string, f func(float64) float64) {
		mod.Set(value.NewStringFromGo(name), goFunc("math."+name, func(args []value.Value) ([]value.Value, error) {
			n, _ := value.AsNumber(arg(args, 0))
			return one(value.Number(f(n))), nil
		}))
	}
	unary("sqrt", math.Sqrt)
	unary("sin", math.Sin)
	unary("cos", math.Cos)
	unary("tan", math.Tan)
	unary("exp", math.Exp)
	unary("log", math.Log)
	unary("atan", math.Atan)
	unary("asin", math.Asin)
	unary("acos", math.Acos)

	mod.Set(value.NewStringFromGo("abs"), goFunc("math.abs", func(args []value.Value) ([]value.Value, error) {
		switch x := arg(args, 0).(type) {
		case value.Integer:
			if x < 0 {
				return one(-x), nil
			}
			return one(x), nil
		default:
			n, _ := value.AsNumber(x)
			return one(value.Number(math.Abs(n))), nil
		}
	}))

	mod.Set(value.NewStringFromGo("floor"), goFunc("math.floor", func(args []value.Value) ([]value.Value, error) {
		n, _ := value.AsNumber(arg(args, 0))
		return one(value.Integer(int32(math.Floor(n)))), nil
	}))

	mod.Set(value.NewStringFromGo("ceil"), goFunc("math.ceil", func(args []value.Value) ([]value.Value, error) {
		n, _ := value.AsNumber(arg(args, 0))
		return one(value.Integer(int32(math.Ceil(n)))), nil
	}))

	mod.Set(value.NewStringFromGo("max"), goFunc("math.max", func(args []value.Value) ([]value.Value, error) {
		if len(args) == 0 {
			return one(value.NilValue), nil
		}
		best := args[0]
		bestN, _ := value.AsNumber(best)
		for _, a := range args[1:] {
			n, _ := value.AsNumber(a)
			if n > bestN {
				best, bestN = a, n
			}
		}
		return one(best), nil
	}))

	mod.Set(value.NewStringFromGo("min"), goFunc("math.min", func(args []value.Value) ([]value.Value, error) {
		if len(args) == 0 {
			return one(value.NilValue), nil
		}
		best := args[0]
		bestN, _ := value.AsNumber(best)
		for _, a := range args[1:] {
			n, _ := value.AsNumber(a)
			if n < bestN {
				best, bestN = a, n
			}
		}
		return one(best), nil
	}))

	mod.Set(value.NewStringFromGo("fmod"), goFunc("math.fmod", func(args []value.Value) ([]value.Value, error) {
		x, _ := value.AsNumber(arg(args, 0))
		y, _ := value.AsNumber(arg(args, 1))
		return one(value.Number(math.Mod(x, y))), nil
	}))

	mod.Set(value.NewStringFromGo("tointeger"), goFunc("math.tointeger", func(args []value.Value) ([]value.Value, error) {
		switch x := arg(args, 0).(type) {
		case value.Integer:
			return one(x), nil
		case value.Number:
			f := float64(x)
			if f == math.Trunc(f) {
				return one(value.Integer(int32(f))), nil
			}
		}
		return one(value.NilValue), nil
	}))

	mod.Set(value.NewStringFromGo("type"), goFunc("math.type", func(args []value.Value) ([]value.Value, error) {
		switch arg(args, 0).(type) {
		case value.Integer:
			return one(value.NewStringFromGo("integer")), nil
		case value.Number:
			return one(value.NewStringFromGo("float")), nil
		}
		return one(value.NilValue), nil
	}))
}
