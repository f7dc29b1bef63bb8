// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package stdlib

import (
	"time"

	"github.com/probe-lang/luasafe/value"
)

// OpenOS installs a deliberately narrow slice of the os library: time,
// clock, date, difftime. There is no os.execute, os.remove, os.rename, or
// os.tmpname — every one of those would hand an untrusted script a path
// to the host filesystem or process table, which the sandbox's curated
// builtins model exists to prevent (§C7, Non-goals).
func OpenOS(g *value.Table) {
	mod := value.NewTable()
	g.Set(value.NewStringFromGo("os"), mod)

	mod.Set(value.NewStringFromGo("time"), goFunc("os.time", func(args []value.Value) ([]value.Value, error) {
		return one(value.Integer(int32(time.Now().Unix()))), nil
	}))

	mod.Set(value.NewStringFromGo("clock"), goFunc("os.clock", func(args []value.Value) ([]value.Value, error) {
		return one(value.Number(float64(time.Now().UnixNano()) / 1e9)), nil
	}))

	mod.Set(value.NewStringFromGo("difftime"), goFunc("os.difftime", func(args []value.Value) ([]value.Value, error) {
		t2, _ := value.AsNumber(arg(args, 0))
		t1, _ := value.AsNumber(arg(args, 1))
		return one(value.Number(t2 - t1)), nil
	}))

	mod.Set(value.NewStringFromGo("date"), goFunc("os.date", func(args []value.Value) ([]value.Value, error) {
		format := "*a"
		if s, ok := arg(args, 0).(*value.Str); ok {
			format = s.GoString()
		}
		now := time.Now()
		if n, ok := arg(args, 1).(value.Integer); ok {
			now = time.Unix(int64(n), 0)
		}
		if format == "*t" {
			t := value.NewTable()
			t.Set(value.NewStringFromGo("year"), value.Integer(int32(now.Year())))
			t.Set(value.NewStringFromGo("month"), value.Integer(int32(now.Month())))
			t.Set(value.NewStringFromGo("day"), value.Integer(int32(now.Day())))
			t.Set(value.NewStringFromGo("hour"), value.Integer(int32(now.Hour())))
			t.Set(value.NewStringFromGo("min"), value.Integer(int32(now.Minute())))
			t.Set(value.NewStringFromGo("sec"), value.Integer(int32(now.Second())))
			return one(t), nil
		}
		return one(value.NewStringFromGo(now.Format(time.RFC3339))), nil
	}))
}
