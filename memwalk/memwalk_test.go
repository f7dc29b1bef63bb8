// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package memwalk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probe-lang/luasafe/value"
)

func TestEstimateScalars(t *testing.T) {
	require.Equal(t, uint64(0), Estimate([]value.Value{value.NilValue}))
	require.Equal(t, uint64(1), Estimate([]value.Value{value.Bool(true)}))
	require.Equal(t, uint64(4), Estimate([]value.Value{value.Integer(1)}))
	require.Equal(t, uint64(8), Estimate([]value.Value{value.Number(1)}))
}

func TestEstimateStringCountsBytesOnce(t *testing.T) {
	s := value.NewStringFromGo("hello")
	require.Equal(t, uint64(5), Estimate([]value.Value{s}))
	// Shared references must not be double-counted.
	require.Equal(t, uint64(5), Estimate([]value.Value{s, s}))
}

func TestEstimateTableSumsEntriesOnce(t *testing.T) {
	tbl := value.NewTable()
	require.NoError(t, tbl.Set(value.NewStringFromGo("k"), value.Integer(7)))
	total := Estimate([]value.Value{tbl})
	require.Equal(t, uint64(1)+uint64(4), total) // key "k" (1 byte) + Integer(4)
}

func TestEstimateCyclicTableTerminates(t *testing.T) {
	tbl := value.NewTable()
	require.NoError(t, tbl.Set(value.NewStringFromGo("self"), tbl))
	require.NotPanics(t, func() {
		Estimate([]value.Value{tbl})
	})
}
