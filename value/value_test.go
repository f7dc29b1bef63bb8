// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawEqualIntegerNumberCrossType(t *testing.T) {
	require.True(t, RawEqual(Integer(3), Number(3.0)))
	require.False(t, RawEqual(Integer(3), Number(3.1)))
}

func TestRawEqualNilOnlyEqualsNil(t *testing.T) {
	require.True(t, RawEqual(NilValue, Nil{}))
	require.False(t, RawEqual(NilValue, Bool(false)))
}

func TestRawEqualStringsByBytes(t *testing.T) {
	a := NewStringFromGo("hello")
	b := NewStringFromGo("hello")
	require.True(t, RawEqual(a, b))
}

func TestRawEqualTablesByIdentity(t *testing.T) {
	a := NewTable()
	b := NewTable()
	require.False(t, RawEqual(a, b))
	require.True(t, RawEqual(a, a))
}

func TestAsNumber(t *testing.T) {
	n, ok := AsNumber(Integer(5))
	require.True(t, ok)
	require.Equal(t, 5.0, n)

	_, ok = AsNumber(NewStringFromGo("5"))
	require.False(t, ok)
}

func TestToStringFormatsIntegersAndFloats(t *testing.T) {
	require.Equal(t, "5", ToString(Integer(5)))
	require.Equal(t, "5.0", ToString(Number(5.0)))
	require.Equal(t, "nil", ToString(NilValue))
	require.Equal(t, "true", ToString(Bool(true)))
}
