// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	"fmt"
	"math"
)

// ErrInvalidKey is returned when a table operation is attempted with a nil
// or NaN key — both are forbidden (§3: "every key is non-nil and valid
// (NaN forbidden)").
var ErrInvalidKey = fmt.Errorf("table index is nil or NaN")

// tkey is the normalized, comparable form of a Value used as a Go map key
// for the hash part. Lua folds integral float keys onto the same bucket as
// the equivalent integer key (t[1] and t[1.0] name the same slot), which
// AsNumber + the int64 branch below implements.
type tkey struct {
	kind int8
	i    int64
	f    float64
	s    string
	p    interface{}
}

const (
	tkInt int8 = iota
	tkFloat
	tkBool
	tkStr
	tkPtr
)

func normalizeKey(v Value) (tkey, error) {
	switch x := v.(type) {
	case Nil:
		return tkey{}, ErrInvalidKey
	case Bool:
		return tkey{kind: tkBool, i: boolToInt(bool(x))}, nil
	case Integer:
		return tkey{kind: tkInt, i: int64(x)}, nil
	case Number:
		f := float64(x)
		if math.IsNaN(f) {
			return tkey{}, ErrInvalidKey
		}
		if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
			return tkey{kind: tkInt, i: int64(f)}, nil
		}
		return tkey{kind: tkFloat, f: f}, nil
	case *Str:
		return tkey{kind: tkStr, s: x.GoString()}, nil
	default:
		return tkey{kind: tkPtr, p: v}, nil
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// hashSlot is one logical chain position in the hash part. A slot whose val
// is Nil is "dead": its key survives so that a `next` walk in progress
// elsewhere keeps seeing a stable sequence of slots (§3: "Dead hash slots
// retain the key weakly... but drop the value").
type hashSlot struct {
	key Value
	val Value
}

// Table is the hybrid array+hash container described in §3: a dense
// 1-based array part for positive integer keys, and a hash part (modeled
// here as an append-only slot list plus an index map, which plays the role
// of the open-addressing chains in the reference design) for everything
// else.
type Table struct {
	array []Value // array[i] holds the value for key i+1
	slots []hashSlot
	index map[tkey]int // tkey -> position in slots; absent or stale for dead slots is fine, Get re-checks val

	Metatable *Table

	WeakKeys   bool
	WeakValues bool

	liveHash int // number of non-dead slots, used for the rehash load-factor check
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{index: make(map[tkey]int)}
}

// NewTableSize creates a table pre-sized for narr array slots and nrec hash
// slots, mirroring NEWTABLE's B/C size hints.
func NewTableSize(narr, nrec int) *Table {
	t := &Table{index: make(map[tkey]int, nrec)}
	if narr > 0 {
		t.array = make([]Value, 0, narr)
	}
	return t
}

// Get returns the value stored at key, or Nil if absent. A nil or NaN key
// simply returns Nil (reads never fail; only writes reject invalid keys).
func (t *Table) Get(key Value) Value {
	if i, ok := arrayIndex(key); ok && i >= 1 && i <= len(t.array) {
		v := t.array[i-1]
		if v == nil {
			return NilValue
		}
		return v
	}
	k, err := normalizeKey(key)
	if err != nil {
		return NilValue
	}
	if pos, ok := t.index[k]; ok {
		if t.slots[pos].val != nil {
			return t.slots[pos].val
		}
	}
	return NilValue
}

// GetStr is a fast path for string-keyed lookups (the common case for
// globals and object fields), avoiding a Value allocation for the key.
func (t *Table) GetStr(s string) Value {
	k := tkey{kind: tkStr, s: s}
	if pos, ok := t.index[k]; ok && t.slots[pos].val != nil {
		return t.slots[pos].val
	}
	return NilValue
}

// arrayIndex reports whether key is a positive integer usable as an array
// index, and its value.
func arrayIndex(key Value) (int, bool) {
	switch x := key.(type) {
	case Integer:
		if x > 0 {
			return int(x), true
		}
	case Number:
		f := float64(x)
		if f == math.Trunc(f) && f > 0 && f <= math.MaxInt32 {
			return int(f), true
		}
	}
	return 0, false
}

// Set stores val at key. Setting Nil removes the entry (§3: "setting a
// value to nil removes it"). Returns ErrInvalidKey for a nil or NaN key
// whatever val is: Lua's t[nil]=nil leniency is not assumed here, and any
// write with an invalid key is rejected, matching §3's invariant that
// every *stored* key is valid.
func (t *Table) Set(key, val Value) error {
	if i, ok := arrayIndex(key); ok {
		if i <= len(t.array) {
			if IsNil(val) {
				t.array[i-1] = nil
			} else {
				t.array[i-1] = val
			}
			return nil
		}
		if i == len(t.array)+1 && !IsNil(val) {
			t.array = append(t.array, val)
			t.migrateFromHash()
			return nil
		}
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if pos, ok := t.index[k]; ok {
		wasDead := t.slots[pos].val == nil
		t.slots[pos].val = nonNilOrNil(val)
		if wasDead && !IsNil(val) {
			t.liveHash++
		} else if !wasDead && IsNil(val) {
			t.liveHash--
		}
		return nil
	}
	if IsNil(val) {
		return nil // deleting an absent key is a no-op
	}
	t.slots = append(t.slots, hashSlot{key: key, val: val})
	t.index[k] = len(t.slots) - 1
	t.liveHash++
	if t.liveHash >= len(t.slots)+len(t.array) {
		// load factor >= 1 (hashEntries >= slot count): rehash.
		t.rehash()
	}
	return nil
}

func nonNilOrNil(v Value) Value {
	if IsNil(v) {
		return nil
	}
	return v
}

// migrateFromHash pulls any hash-part entries that are now a contiguous
// continuation of the array part (e.g. after array growth makes key N+1
// an array index) into the array.
func (t *Table) migrateFromHash() {
	for {
		nextIdx := len(t.array) + 1
		k := tkey{kind: tkInt, i: int64(nextIdx)}
		pos, ok := t.index[k]
		if !ok || t.slots[pos].val == nil {
			return
		}
		t.array = append(t.array, t.slots[pos].val)
		t.slots[pos].val = nil
		t.liveHash--
		delete(t.index, k)
	}
}

// Len returns any border of the table: an index n such that t[n] is
// non-nil and t[n+1] is nil (or n=0). It is discovered by a doubling
// search followed by binary search, never by a cached count, per §3.
func (t *Table) Len() int {
	n := len(t.array)
	if n == 0 || t.array[n-1] != nil {
		// The array part ends in a non-nil slot (or is empty); the border
		// may continue into the hash part. Doubling search there.
		if n == 0 || !IsNil(t.Get(Integer(n+1))) {
			i, j := uint64(n), uint64(n)+1
			for !IsNil(t.Get(integerValue(j))) {
				i = j
				if j > math.MaxUint32 {
					// Linear fallback to avoid overflow on adversarial inputs.
					for !IsNil(t.Get(integerValue(i + 1))) {
						i++
					}
					return int(i)
				}
				j *= 2
			}
			for j-i > 1 {
				m := (i + j) / 2
				if IsNil(t.Get(integerValue(m))) {
					j = m
				} else {
					i = m
				}
			}
			return int(i)
		}
		return n
	}
	// Binary search within the array part for a border; t[n] is nil here.
	i, j := 0, n
	for j-i > 1 {
		m := (i + j) / 2
		if t.array[m-1] == nil {
			j = m
		} else {
			i = m
		}
	}
	return i
}

func integerValue(i uint64) Value {
	if i <= math.MaxInt32 {
		return Integer(int32(i))
	}
	return Number(float64(i))
}

// Next implements the `next` iterator: given the previous key (Nil to
// start), it returns the following live (key, value) pair and true, or
// (Nil, Nil, false) when iteration is exhausted. The array part is walked
// first in index order, then the hash part in slot order — stable only as
// long as no rehash occurs between calls (§4.5).
func (t *Table) Next(key Value) (Value, Value, bool) {
	startArray := 0
	if IsNil(key) {
		startArray = 0
	} else if i, ok := arrayIndex(key); ok && i <= len(t.array) {
		startArray = i
	} else {
		return t.nextHash(key)
	}
	for i := startArray; i < len(t.array); i++ {
		if t.array[i] != nil {
			return Integer(int32(i + 1)), t.array[i], true
		}
	}
	return t.nextHash(Nil{})
}

func (t *Table) nextHash(key Value) (Value, Value, bool) {
	start := 0
	if !IsNil(key) {
		k, err := normalizeKey(key)
		if err != nil {
			return Nil{}, Nil{}, false
		}
		pos, ok := t.index[k]
		if !ok {
			return Nil{}, Nil{}, false
		}
		start = pos + 1
	}
	for i := start; i < len(t.slots); i++ {
		if t.slots[i].val != nil {
			return t.slots[i].key, t.slots[i].val, true
		}
	}
	return Nil{}, Nil{}, false
}

// rehash rebuilds the array/hash split. The new array size is chosen so
// the array part is at least half-occupied and contains the largest
// contiguous positive-integer key prefix, by bucketing integer keys into
// log2-sized buckets and accumulating from the smallest bucket up (§3, §4.5).
func (t *Table) rehash() {
	type kv struct {
		key Value
		val Value
	}
	var all []kv
	for i, v := range t.array {
		if v != nil {
			all = append(all, kv{Integer(int32(i + 1)), v})
		}
	}
	for _, s := range t.slots {
		if s.val != nil {
			all = append(all, kv{s.key, s.val})
		}
	}

	const numBuckets = 32
	var bucketCount [numBuckets]int
	maxInt := 0
	for _, e := range all {
		if i, ok := arrayIndex(e.key); ok {
			b := log2Bucket(i)
			if b < numBuckets {
				bucketCount[b]++
			}
			if i > maxInt {
				maxInt = i
			}
		}
	}
	newArraySize := 0
	total := 0
	for b := 0; b < numBuckets; b++ {
		total += bucketCount[b]
		size := 1 << uint(b)
		if total > size/2 {
			newArraySize = size
		}
	}
	if newArraySize > maxInt {
		newArraySize = maxInt
	}

	newArray := make([]Value, newArraySize)
	var newSlots []hashSlot
	newIndex := make(map[tkey]int)
	live := 0
	for _, e := range all {
		if i, ok := arrayIndex(e.key); ok && i <= newArraySize {
			newArray[i-1] = e.val
			continue
		}
		k, _ := normalizeKey(e.key)
		newSlots = append(newSlots, hashSlot{key: e.key, val: e.val})
		newIndex[k] = len(newSlots) - 1
		live++
	}
	t.array = newArray
	t.slots = newSlots
	t.index = newIndex
	t.liveHash = live
}

func log2Bucket(i int) int {
	b := 0
	for (1 << uint(b+1)) <= i {
		b++
	}
	return b
}

// ExpireWeakEntries drops entries whose key or value is no longer
// reachable according to isLive, for tables operating in a weak-key or
// weak-value mode. The host's memory walker or GC sweep is expected to
// call this at rehash time (§3: "Optional weak-key / weak-value modes drop
// entries whose key/value is unreachable at the next rehash").
func (t *Table) ExpireWeakEntries(isLive func(Value) bool) {
	if !t.WeakKeys && !t.WeakValues {
		return
	}
	for i := range t.slots {
		if t.slots[i].val == nil {
			continue
		}
		if t.WeakKeys && !isLive(t.slots[i].key) {
			t.slots[i].val = nil
			t.liveHash--
			continue
		}
		if t.WeakValues && !isLive(t.slots[i].val) {
			t.slots[i].val = nil
			t.liveHash--
		}
	}
}

// Contains reports whether v appears among the table's live values; used
// natively by the stdlib's table.contains to avoid a script-visible loop
// (§4.6).
func (t *Table) Contains(v Value) bool {
	for _, e := range t.array {
		if e != nil && RawEqual(e, v) {
			return true
		}
	}
	for _, s := range t.slots {
		if s.val != nil && RawEqual(s.val, v) {
			return true
		}
	}
	return false
}

func (*Table) Type() string { return "table" }
func (*Table) Truthy() bool { return true }
