/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package reportcore // import "github.com/elastic/otel-profiling-report/reportcore"

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// keySpec is one recognized sort/aggregation key: spec.md section 4.1's
// table of field keys, each contributing both an ordering and a hash
// input. The same list drives aggregation equality and display sorting —
// there is deliberately no separate "hash function" abstraction, per
// spec.md section 9's note on comparator composition replacing a subclass
// hierarchy.
type keySpec struct {
	name    string
	branch  bool
	compare func(a, b *SampleEntry) int
	hash    func(e *SampleEntry) uint64
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

var registeredKeys = map[string]keySpec{
	"pid": {
		name:    "pid",
		compare: func(a, b *SampleEntry) int { return cmpUint64(uint64(a.PID), uint64(b.PID)) },
		hash:    func(e *SampleEntry) uint64 { return uint64(e.PID) },
	},
	"tid": {
		name:    "tid",
		compare: func(a, b *SampleEntry) int { return cmpUint64(uint64(a.TID), uint64(b.TID)) },
		hash:    func(e *SampleEntry) uint64 { return uint64(e.TID) },
	},
	"comm": {
		name:    "comm",
		compare: func(a, b *SampleEntry) int { return strings.Compare(a.Comm, b.Comm) },
		hash:    func(e *SampleEntry) uint64 { return xxh3.HashString(e.Comm) },
	},
	"dso": {
		name:    "dso",
		compare: func(a, b *SampleEntry) int { return strings.Compare(imagePath(a.Image), imagePath(b.Image)) },
		hash:    func(e *SampleEntry) uint64 { return xxh3.HashString(imagePath(e.Image)) },
	},
	"symbol": {
		name:    "symbol",
		compare: func(a, b *SampleEntry) int { return strings.Compare(symbolName(a.Symbol), symbolName(b.Symbol)) },
		hash:    func(e *SampleEntry) uint64 { return xxh3.HashString(symbolName(e.Symbol)) },
	},
	"vaddr_in_file": {
		name:    "vaddr_in_file",
		compare: func(a, b *SampleEntry) int { return cmpUint64(a.Vaddr, b.Vaddr) },
		hash:    func(e *SampleEntry) uint64 { return e.Vaddr },
	},
	"dso_from": {
		name:   "dso_from",
		branch: true,
		compare: func(a, b *SampleEntry) int {
			return strings.Compare(branchImagePath(a), branchImagePath(b))
		},
		hash: func(e *SampleEntry) uint64 { return xxh3.HashString(branchImagePath(e)) },
	},
	"symbol_from": {
		name:   "symbol_from",
		branch: true,
		compare: func(a, b *SampleEntry) int {
			return strings.Compare(branchSymbolName(a), branchSymbolName(b))
		},
		hash: func(e *SampleEntry) uint64 { return xxh3.HashString(branchSymbolName(e)) },
	},
}

func branchImagePath(e *SampleEntry) string {
	if e.Branch == nil {
		return ""
	}
	return imagePath(e.Branch.Image)
}

func branchSymbolName(e *SampleEntry) string {
	if e.Branch == nil {
		return ""
	}
	return symbolName(e.Branch.Symbol)
}

// Comparator is an ordered list of field comparators; the first
// non-equal field decides ordering, and Equal (all fields equal) defines
// aggregation identity.
type Comparator struct {
	keys       []keySpec
	branchMode bool
}

// NewComparator validates and builds a Comparator from a list of sort key
// names in spec.md section 4.1's table. Using a branch key (dso_from,
// symbol_from) without branchMode is a Configuration error, reported
// before any record is read.
func NewComparator(keyNames []string, branchMode bool) (*Comparator, error) {
	if len(keyNames) == 0 {
		return nil, NewError(KindConfiguration, fmt.Errorf("sort key list must not be empty"))
	}
	keys := make([]keySpec, 0, len(keyNames))
	for _, name := range keyNames {
		spec, ok := registeredKeys[name]
		if !ok {
			return nil, NewError(KindConfiguration, fmt.Errorf("unknown sort key %q", name))
		}
		if spec.branch && !branchMode {
			return nil, NewError(KindConfiguration,
				fmt.Errorf("sort key %q requires branch mode (-b)", name))
		}
		keys = append(keys, spec)
	}
	return &Comparator{keys: keys, branchMode: branchMode}, nil
}

// Compare returns <0, 0, >0 as a orders before, equal to, or after b under
// every configured key in order.
func (c *Comparator) Compare(a, b *SampleEntry) int {
	for _, k := range c.keys {
		if r := k.compare(a, b); r != 0 {
			return r
		}
	}
	return 0
}

// Equal reports whether a and b are the same aggregation key.
func (c *Comparator) Equal(a, b *SampleEntry) bool {
	return c.Compare(a, b) == 0
}

// hash combines every configured key's hash contribution into one 64 bit
// value used as the aggregation map's bucket key. It is not, on its own,
// sufficient for equality — Equal must still be checked within a bucket —
// but two entries the comparator considers equal always hash equal.
func (c *Comparator) hash(e *SampleEntry) uint64 {
	var buf [8]byte
	acc := uint64(0xcbf29ce484222325)
	for _, k := range c.keys {
		v := k.hash(e)
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
		acc = xxh3.HashSeed(buf[:], acc)
	}
	return acc
}

// HasKey reports whether name is one of the comparator's configured keys,
// used by the text report to decide whether the callgraph is printed (it
// is only printed when "symbol" is among the sort keys).
func (c *Comparator) HasKey(name string) bool {
	for _, k := range c.keys {
		if k.name == name {
			return true
		}
	}
	return false
}

// Keys returns the configured key names in order, for column generation.
func (c *Comparator) Keys() []string {
	names := make([]string, len(c.keys))
	for i, k := range c.keys {
		names[i] = k.name
	}
	return names
}
