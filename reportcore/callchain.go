/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package reportcore // import "github.com/elastic/otel-profiling-report/reportcore"

import "github.com/elastic/otel-profiling-report/libpf"

// RootOrientation selects which end of a call chain the printed callgraph
// tree hangs its indentation from (spec.md section 4.3).
type RootOrientation int

const (
	// CallerAsRoot is the default: chains are walked in the order the
	// pipeline hands them over (root/caller frames first), so a row's
	// nested graph reads as "who this function's stack contains, from
	// the outermost caller in".
	CallerAsRoot RootOrientation = iota
	// CalleeAsRoot reverses the walk, so a row's nested graph reads as
	// "which callers reach this function".
	CalleeAsRoot
)

// FrameResolver resolves one raw call-chain address into a candidate
// SampleEntry describing that frame's (image, symbol, vaddr-in-image)
// identity. ok=false means the frame's image is unknown; per spec.md
// section 4.3 the accumulator then drops that frame and every frame after
// it in the chain.
type FrameResolver func(addr libpf.Address) (entry *SampleEntry, ok bool)

// CallchainAccumulator implements spec.md section 4.3: for each sample it
// walks the (already unwound) frame list, inserts a tree rooted at the
// originating sample entry, accumulates cost into every surviving
// ancestor, and folds each ancestor into the flat aggregation tree so a
// function that is never itself sampled but always appears as a caller
// still gets a Children-only row.
type CallchainAccumulator struct {
	tree          *AggregationTree
	orientation   RootOrientation
	foldAncestors bool
}

// NewCallchainAccumulator builds an accumulator that walks call chains
// against tree's comparator for identity. foldAncestors controls whether
// ancestor frames are also folded into tree as Children-only flat rows
// (spec.md's `--children` behavior, testable property 3: with children
// mode off, every entry's accumulated_period stays zero); the callgraph
// trie itself (used for `-g` rendering) is always built regardless.
func NewCallchainAccumulator(tree *AggregationTree, orientation RootOrientation, foldAncestors bool) *CallchainAccumulator {
	return &CallchainAccumulator{tree: tree, orientation: orientation, foldAncestors: foldAncestors}
}

// Accumulate processes one sample's ancestor frames — callers must not
// include the sample's own originating frame in chain, since that cost is
// already counted via originating.Period. accInfo is the sample's period
// (the "acc_info" of spec.md section 4.3). It returns true if the chain
// was truncated due to an unknown DSO frame, so the caller can increment
// total_error_callchains exactly once.
func (a *CallchainAccumulator) Accumulate(
	originating *SampleEntry, chain []libpf.Address, resolve FrameResolver, accInfo uint64,
) (errorCallchain bool) {
	if len(chain) == 0 {
		return false
	}

	ordered := chain
	if a.orientation == CalleeAsRoot {
		ordered = reversedAddrs(chain)
	}

	if originating.Callchain == nil {
		originating.Callchain = newCallchainNode(originating)
	}
	node := originating.Callchain

	for _, addr := range ordered {
		frame, ok := resolve(addr)
		if !ok {
			return true
		}
		frame.Period = 0
		frame.AccumulatedPeriod = accInfo
		frame.SampleCount = 0

		if a.foldAncestors {
			// Fold this ancestor frame into the flat aggregation: if
			// it matches an existing entry (e.g. it was also
			// directly sampled elsewhere), its accumulated period
			// grows; otherwise it becomes a new Children-only row.
			// Gated on --children (testable property 3): with
			// children mode off, no entry's accumulated_period may
			// move off zero.
			a.tree.Insert(frame)
		}

		// The callgraph trie itself always grows, independent of
		// foldAncestors, since -g needs it even without --children.
		node = node.childFor(a.tree.cmp, frame)
		node.AccumulatedPeriod += accInfo
	}
	return false
}

func reversedAddrs(in []libpf.Address) []libpf.Address {
	out := make([]libpf.Address, len(in))
	for i, a := range in {
		out[len(in)-1-i] = a
	}
	return out
}

// MarkDuplicates implements spec.md section 4.3's last bullet: after all
// records are ingested, walk each root's callchain tree and mark nodes
// whose identity recurs along a root-to-leaf path, so the sorter can use
// that as a display tiebreaker.
func MarkDuplicates(cmp *Comparator, root *CallchainNode) {
	if root == nil {
		return
	}
	seen := make(map[uint64][]*SampleEntry)
	h := cmp.hash(root.Entry)
	seen[h] = append(seen[h], root.Entry)
	markDuplicatesWalk(cmp, root, seen)
}

func markDuplicatesWalk(cmp *Comparator, node *CallchainNode, seen map[uint64][]*SampleEntry) {
	for _, siblings := range node.Children {
		for _, child := range siblings {
			h := cmp.hash(child.Entry)
			for _, s := range seen[h] {
				if cmp.Equal(s, child.Entry) {
					child.Duplicate = true
					break
				}
			}
			seen[h] = append(seen[h], child.Entry)
			markDuplicatesWalk(cmp, child, seen)
			seen[h] = seen[h][:len(seen[h])-1]
		}
	}
}
