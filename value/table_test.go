// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableArrayAndHashParts(t *testing.T) {
	tb := NewTable()
	require.NoError(t, tb.Set(Integer(1), NewStringFromGo("a")))
	require.NoError(t, tb.Set(Integer(2), NewStringFromGo("b")))
	require.NoError(t, tb.Set(NewStringFromGo("k"), Integer(42)))

	require.Equal(t, "a", tb.Get(Integer(1)).(*Str).GoString())
	require.Equal(t, Integer(42), tb.Get(NewStringFromGo("k")))
	require.Equal(t, 2, tb.Len())
}

func TestTableSetNilRemoves(t *testing.T) {
	tb := NewTable()
	require.NoError(t, tb.Set(NewStringFromGo("k"), Integer(1)))
	require.NoError(t, tb.Set(NewStringFromGo("k"), NilValue))
	require.True(t, IsNil(tb.Get(NewStringFromGo("k"))))
}

func TestTableRejectsNilAndNaNKeys(t *testing.T) {
	tb := NewTable()
	err := tb.Set(NilValue, Integer(1))
	require.ErrorIs(t, err, ErrInvalidKey)

	err = tb.Set(Number(nanValue()), Integer(1))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestTableIntFloatKeyAlias(t *testing.T) {
	tb := NewTable()
	require.NoError(t, tb.Set(Integer(1), NewStringFromGo("int-key")))
	require.Equal(t, "int-key", tb.Get(Number(1.0)).(*Str).GoString())
}

func TestTableLenBorder(t *testing.T) {
	tb := NewTable()
	for i := 1; i <= 5; i++ {
		require.NoError(t, tb.Set(Integer(int32(i)), Bool(true)))
	}
	require.Equal(t, 5, tb.Len())
	require.NoError(t, tb.Set(Integer(3), NilValue))
	n := tb.Len()
	require.True(t, n == 2 || n == 5, "Len must report a valid border, got %d", n)
}

func TestTableNextWalksAllLiveEntries(t *testing.T) {
	tb := NewTable()
	require.NoError(t, tb.Set(Integer(1), Integer(10)))
	require.NoError(t, tb.Set(NewStringFromGo("x"), Integer(20)))

	seen := map[string]bool{}
	k, v, ok := tb.Next(NilValue)
	for ok {
		seen[ToString(k)+"="+ToString(v)] = true
		k, v, ok = tb.Next(k)
	}
	require.Len(t, seen, 2)
	require.True(t, seen["1=10"])
	require.True(t, seen["x=20"])
}

func TestTableContains(t *testing.T) {
	tb := NewTable()
	require.NoError(t, tb.Set(Integer(1), NewStringFromGo("needle")))
	require.True(t, tb.Contains(NewStringFromGo("needle")))
	require.False(t, tb.Contains(NewStringFromGo("missing")))
}
