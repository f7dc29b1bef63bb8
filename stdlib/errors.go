// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package stdlib

import (
	"errors"

	"github.com/probe-lang/luasafe/limiter"
)

// NonCatchable reports whether err must propagate through pcall/xpcall
// rather than being converted into a (false, message) result pair (§3):
// instruction and string budget exhaustion are deliberately not
// script-recoverable.
func NonCatchable(err error) bool {
	var le *limiter.LimitExceeded
	var sle *limiter.StringLimitExceeded
	return errors.As(err, &le) || errors.As(err, &sle)
}
