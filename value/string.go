// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	lru "github.com/hashicorp/golang-lru"
)

// shortStringCacheSize is the number of slots in the process-wide recent
// short-strings cache (§3: "N≈128 slots").
const shortStringCacheSize = 128

// maxInternableLen is the longest byte length eligible for the cache
// (§3: "≤32 bytes").
const maxInternableLen = 32

// Str is an immutable, byte-addressed string value. Length and hash are
// precomputed at construction so every subsequent read is O(1).
type Str struct {
	b    []byte
	hash uint32
}

func (*Str) Type() string   { return "string" }
func (*Str) Truthy() bool   { return true }

// Bytes returns the string's raw bytes. Callers must not mutate the
// returned slice: Str is immutable by contract, and mutating it would
// violate the raw-equality and hash invariants depended on by the table
// implementation and the short-string cache.
func (s *Str) Bytes() []byte { return s.b }

// Len returns the byte length (not a rune/codepoint count: Lua strings are
// byte-exact, per §3).
func (s *Str) Len() int { return len(s.b) }

// Hash returns the precomputed skip-stride hash (§4.5).
func (s *Str) Hash() uint32 { return s.hash }

// GoString returns a native Go string view of the bytes.
func (s *Str) GoString() string { return string(s.b) }

// Equal reports whether two strings are byte-identical. This does not rely
// on pointer identity: the cache in NewString is advisory, "correctness never
// depends on pointer identity" (§3).
func (s *Str) Equal(o *Str) bool {
	if s == o {
		return true
	}
	if s.hash != o.hash || len(s.b) != len(o.b) {
		return false
	}
	for i := range s.b {
		if s.b[i] != o.b[i] {
			return false
		}
	}
	return true
}

// hashBytes implements the skip-stride hash from §4.5: step
// (len >> 5) + 1, chosen so long strings are hashed in bounded time while
// equal strings always produce equal hashes.
func hashBytes(b []byte) uint32 {
	var h uint32 = uint32(len(b))
	step := (len(b) >> 5) + 1
	for i := len(b); i >= step; i -= step {
		h ^= (h << 5) + (h >> 2) + uint32(b[i-1])
	}
	return h
}

// internCache is the process-wide recent-short-strings cache. It is a pure
// performance/dedup aid: a lost race or evicted entry merely allocates a
// fresh *Str, never a correctness problem (§5: "shared and racy-but-
// correct").
var internCache *lru.Cache

func init() {
	c, err := lru.New(shortStringCacheSize)
	if err != nil {
		panic(err) // only fails for a non-positive size, which is a bug here
	}
	internCache = c
}

// NewString constructs a Str from raw bytes, deduplicating short strings
// through the process-wide cache when possible.
func NewString(b []byte) *Str {
	h := hashBytes(b)
	if len(b) <= maxInternableLen {
		key := string(b) // safe: used only as a map key, not retained as []byte
		if cached, ok := internCache.Get(key); ok {
			if s, ok := cached.(*Str); ok && s.hash == h {
				return s
			}
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		s := &Str{b: cp, hash: h}
		internCache.Add(key, s)
		return s
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Str{b: cp, hash: h}
}

// NewStringFromGo is a convenience wrapper for Go string literals.
func NewStringFromGo(s string) *Str {
	return NewString([]byte(s))
}

// DrainInternCache opportunistically clears the short-string cache. The
// design treats string lifetime as "effectively permanent" and the cache
// as GC-drained only "opportunistically" (§3); hosts may call this between
// script invocations to bound memory held purely for deduplication.
func DrainInternCache() {
	internCache.Purge()
}
