// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package limiter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterChargeTripsAtExactLimit(t *testing.T) {
	c := NewCounter(50)
	for i := 0; i < 50; i++ {
		require.NoError(t, c.Charge(1))
	}
	err := c.Charge(1)
	require.Error(t, err)
	var le *LimitExceeded
	require.True(t, errors.As(err, &le))
	require.Equal(t, uint64(50), le.Charged)
	require.True(t, c.AtLimit())
}

func TestCounterUnlimited(t *testing.T) {
	c := NewCounter(0)
	require.NoError(t, c.Charge(1_000_000))
	require.False(t, c.AtLimit())
	require.Equal(t, ^uint64(0), c.Remaining())
}

func TestCounterIncreaseLiftsCeiling(t *testing.T) {
	c := NewCounter(10)
	require.NoError(t, c.Charge(9))
	c.Increase(10)
	require.NoError(t, c.Charge(1))
	require.False(t, c.AtLimit())
}

func TestCounterReset(t *testing.T) {
	c := NewCounter(5)
	_ = c.Charge(5)
	require.True(t, c.AtLimit())
	c.Reset(100)
	require.False(t, c.AtLimit())
	require.Equal(t, uint64(0), c.Count())
}

func TestChargeStringLimit(t *testing.T) {
	c := NewCounter(0)
	c.SetStringLimit(10)
	require.NoError(t, c.ChargeString(10))
	err := c.ChargeString(11)
	require.Error(t, err)
	var sle *StringLimitExceeded
	require.True(t, errors.As(err, &sle))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.Nil(t, r.Lookup("x"))
	c := r.Install("x", 10)
	require.Same(t, c, r.Lookup("x"))
	r.Remove("x")
	require.Nil(t, r.Lookup("x"))
}
