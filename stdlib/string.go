// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package stdlib

import (
	"strings"

	"github.com/probe-lang/luasafe/value"
	"github.com/probe-lang/luasafe/vm"
)

// OpenString installs the string library (len, sub, upper, lower, rep,
// reverse, byte, char, format, find, gsub — the last two use Go's
// regexp-free, literal-substring semantics rather than full Lua patterns,
// a deliberate narrowing of the surface to what's needed for the sandbox's
// curated use cases).
func OpenString(g *value.Table) {
	mod := value.NewTable()
	g.Set(value.NewStringFromGo("string"), mod)

	str := func(args []value.Value, i int) (*value.Str, error) {
		s, ok := arg(args, i).(*value.Str)
		if !ok {
			return nil, &vm.LuaError{Value: value.NewStringFromGo("string expected")}
		}
		return s, nil
	}

	mod.Set(value.NewStringFromGo("len"), goFunc("string.len", func(args []value.Value) ([]value.Value, error) {
		s, err := str(args, 0)
		if err != nil {
			return nil, err
		}
		return one(value.Integer(int32(s.Len()))), nil
	}))

	mod.Set(value.NewStringFromGo("upper"), goFunc("string.upper", func(args []value.Value) ([]value.Value, error) {
		s, err := str(args, 0)
		if err != nil {
			return nil, err
		}
		return one(value.NewStringFromGo(strings.ToUpper(s.GoString()))), nil
	}))

	mod.Set(value.NewStringFromGo("lower"), goFunc("string.lower", func(args []value.Value) ([]value.Value, error) {
		s, err := str(args, 0)
		if err != nil {
			return nil, err
		}
		return one(value.NewStringFromGo(strings.ToLower(s.GoString()))), nil
	}))

	mod.Set(value.NewStringFromGo("reverse"), goFunc("string.reverse", func(args []value.Value) ([]value.Value, error) {
		s, err := str(args, 0)
		if err != nil {
			return nil, err
		}
		b := append([]byte(nil), s.Bytes()...)
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
		return one(value.NewString(b)), nil
	}))

	mod.Set(value.NewStringFromGo("sub"), goFunc("string.sub", func(args []value.Value) ([]value.Value, error) {
		s, err := str(args, 0)
		if err != nil {
			return nil, err
		}
		n := s.Len()
		i, j := 1, -1
		if len(args) >= 2 {
			f, _ := value.AsNumber(args[1])
			i = int(f)
		}
		if len(args) >= 3 {
			f, _ := value.AsNumber(args[2])
			j = int(f)
		}
		i = normalizeIndex(i, n)
		j = normalizeIndex(j, n)
		if i < 1 {
			i = 1
		}
		if j > n {
			j = n
		}
		if i > j {
			return one(value.NewStringFromGo("")), nil
		}
		return one(value.NewString(s.Bytes()[i-1 : j])), nil
	}))

	mod.Set(value.NewStringFromGo("rep"), goFunc("string.rep", func(args []value.Value) ([]value.Value, error) {
		s, err := str(args, 0)
		if err != nil {
			return nil, err
		}
		n, _ := value.AsNumber(arg(args, 1))
		sep := ""
		if sv, ok := arg(args, 2).(*value.Str); ok {
			sep = sv.GoString()
		}
		if int(n) <= 0 {
			return one(value.NewStringFromGo("")), nil
		}
		parts := make([]string, int(n))
		for i := range parts {
			parts[i] = s.GoString()
		}
		return one(value.NewStringFromGo(strings.Join(parts, sep))), nil
	}))

	mod.Set(value.NewStringFromGo("byte"), goFunc("string.byte", func(args []value.Value) ([]value.Value, error) {
		s, err := str(args, 0)
		if err != nil {
			return nil, err
		}
		n := s.Len()
		i, j := 1, 1
		if len(args) >= 2 {
			f, _ := value.AsNumber(args[1])
			i = int(f)
			j = i
		}
		if len(args) >= 3 {
			f, _ := value.AsNumber(args[2])
			j = int(f)
		}
		i, j = normalizeIndex(i, n), normalizeIndex(j, n)
		var out []value.Value
		for k := i; k <= j && k >= 1 && k <= n; k++ {
			out = append(out, value.Integer(int32(s.Bytes()[k-1])))
		}
		return out, nil
	}))

	mod.Set(value.NewStringFromGo("char"), goFunc("string.char", func(args []value.Value) ([]value.Value, error) {
		b := make([]byte, len(args))
		for i, a := range args {
			n, _ := value.AsNumber(a)
			b[i] = byte(int(n))
		}
		return one(value.NewString(b)), nil
	}))

	mod.Set(value.NewStringFromGo("find"), goFunc("string.find", func(args []value.Value) ([]value.Value, error) {
		s, err := str(args, 0)
		if err != nil {
			return nil, err
		}
		pat, err := str(args, 1)
		if err != nil {
			return nil, err
		}
		start := 0
		if len(args) >= 3 {
			f, _ := value.AsNumber(args[2])
			start = normalizeIndex(int(f), s.Len()) - 1
			if start < 0 {
				start = 0
			}
		}
		idx := strings.Index(s.GoString()[start:], pat.GoString())
		if idx < 0 {
			return one(value.NilValue), nil
		}
		from := start + idx + 1
		to := from + pat.Len() - 1
		return []value.Value{value.Integer(int32(from)), value.Integer(int32(to))}, nil
	}))

	mod.Set(value.NewStringFromGo("gsub"), goFunc("string.gsub", func(args []value.Value) ([]value.Value, error) {
		s, err := str(args, 0)
		if err != nil {
			return nil, err
		}
		pat, err := str(args, 1)
		if err != nil {
			return nil, err
		}
		repl, err := str(args, 2)
		if err != nil {
			return nil, err
		}
		n := -1
		if len(args) >= 4 {
			f, _ := value.AsNumber(args[3])
			n = int(f)
		}
		count := 0
		out := s.GoString()
		if n < 0 {
			out = strings.ReplaceAll(out, pat.GoString(), repl.GoString())
			count = strings.Count(s.GoString(), pat.GoString())
		} else {
			out = strings.Replace(out, pat.GoString(), repl.GoString(), n)
			count = strings.Count(s.GoString(), pat.GoString())
			if count > n {
				count = n
			}
		}
		return []value.Value{value.NewStringFromGo(out), value.Integer(int32(count))}, nil
	}))

	mod.Set(value.NewStringFromGo("format"), goFunc("string.format", func(args []value.Value) ([]value.Value, error) {
		fstr, err := str(args, 0)
		if err != nil {
			return nil, err
		}
		return one(value.NewStringFromGo(luaFormat(fstr.GoString(), args[1:]))), nil
	}))
}

func normalizeIndex(i, n int) int {
	if i < 0 {
		i = n + i + 1
	}
	return i
}

// luaFormat implements the small subset of string.format directives the
// curated surface needs: %d %i %s %q %f %x %%.
func luaFormat(format string, args []value.Value) string {
	var b strings.Builder
	ai := 0
	next := func() value.Value {
		if ai < len(args) {
			v := args[ai]
			ai++
			return v
		}
		return value.NilValue
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			break
		}
		switch format[i] {
		case '%':
			b.WriteByte('%')
		case 'd', 'i':
			n, _ := value.AsNumber(next())
			b.WriteString(value.Integer(int32(n)).String())
		case 'f':
			n, _ := value.AsNumber(next())
			b.WriteString(value.Number(n).String())
		case 's':
			b.WriteString(value.ToString(next()))
		case 'q':
			b.WriteByte('"')
			b.WriteString(value.ToString(next()))
			b.WriteByte('"')
		case 'x':
			n, _ := value.AsNumber(next())
			b.WriteString(strings.ToLower(hexString(int64(n))))
		default:
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}

func hexString(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	const digits = "0123456789abcdef"
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%16]
		n /= 16
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
