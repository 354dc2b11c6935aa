/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package reportcore // import "github.com/elastic/otel-profiling-report/reportcore"

import "github.com/elastic/otel-profiling-report/libpf"

// BranchSource holds the "from" side of a branch-stack item; populated
// only in branch mode (spec.md section 4.2).
type BranchSource struct {
	Image  *libpf.Image
	Symbol *libpf.Symbol
	Vaddr  uint64
	Flags  uint32
}

// SampleEntry is one aggregated row: spec.md section 3's data model.
type SampleEntry struct {
	// Identity fields: what the configured Comparator compares/hashes on.
	CPU    uint32
	PID    libpf.PID
	TID    libpf.PID
	Comm   string
	Image  *libpf.Image
	Symbol *libpf.Symbol
	Vaddr  uint64
	Branch *BranchSource

	// Measure fields.
	Period            uint64
	AccumulatedPeriod uint64
	SampleCount       uint64
	Time              uint64

	// Callchain is the union, over every raw sample folded into this
	// entry, of observed call chains rooted here.
	Callchain *CallchainNode
}

func symbolName(s *libpf.Symbol) string {
	if s == nil {
		return ""
	}
	return s.Name
}

func imagePath(img *libpf.Image) string {
	if img == nil {
		return ""
	}
	return img.Path
}

// clone makes a shallow copy suitable for storing as a new entry (Insert
// keeps "first seen wins" fields from whichever sample created the entry).
func (e *SampleEntry) clone() *SampleEntry {
	c := *e
	c.Callchain = nil
	return &c
}

// merge folds other's measures into e, per spec.md section 4.2: periods,
// accumulated periods and sample counts add; Time keeps the latest of the
// two; every other field is left as first-seen.
func (e *SampleEntry) merge(other *SampleEntry) {
	e.Period += other.Period
	e.AccumulatedPeriod += other.AccumulatedPeriod
	e.SampleCount += other.SampleCount
	if other.Time > e.Time {
		e.Time = other.Time
	}
}

// CallchainNode is a trie node: one distinct (image, symbol, vaddr)
// identity reached along one or more observed call paths from a
// SampleEntry's root.
type CallchainNode struct {
	Entry             *SampleEntry
	AccumulatedPeriod uint64
	Children          map[uint64][]*CallchainNode
	Duplicate         bool
}

func newCallchainNode(e *SampleEntry) *CallchainNode {
	return &CallchainNode{Entry: e, Children: make(map[uint64][]*CallchainNode)}
}

// childFor returns the child node matching identity (by cmp), creating one
// if absent.
func (n *CallchainNode) childFor(cmp *Comparator, entry *SampleEntry) *CallchainNode {
	h := cmp.hash(entry)
	for _, c := range n.Children[h] {
		if cmp.Equal(c.Entry, entry) {
			return c
		}
	}
	child := newCallchainNode(entry.clone())
	n.Children[h] = append(n.Children[h], child)
	return child
}
