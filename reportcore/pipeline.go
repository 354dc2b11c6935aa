/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package reportcore // import "github.com/elastic/otel-profiling-report/reportcore"

import "github.com/elastic/otel-profiling-report/libpf"

// Pipeline implements spec.md section 4.4: one aggregation tree per
// configured event attribute. Dispatch by attribute index, and the
// off-CPU fan-out that feeds a sched-switch-like driver's samples into
// every other pipeline, are the ingest package's job (spec.md frames both
// as data-flow decisions external to the aggregation tree itself); a
// Pipeline only knows how to fold an already-resolved SampleEntry into its
// own tree.
type Pipeline struct {
	EventName string
	AttrIndex int

	Policy    SamplePolicy
	Tree      *AggregationTree
	Filter    *Filter
	Callchain *CallchainAccumulator

	// IsOffCPUDriver marks the sched-switch-like pipeline whose samples
	// are fanned out to every other pipeline instead of (or in addition
	// to) being processed by itself; the report emitter skips printing
	// this pipeline (spec.md section 4.4).
	IsOffCPUDriver bool
}

// NewPipeline builds a pipeline for one event attribute. callchain enables
// the accumulator at all (needed for either --children or -g/--full-callgraph);
// foldAncestors additionally folds ancestor frames into flat, Children-only
// rows, which must only happen under --children (spec.md testable
// property 3).
func NewPipeline(eventName string, attrIndex int, policy SamplePolicy, cmp *Comparator,
	filter *Filter, callchain, foldAncestors bool, orientation RootOrientation) *Pipeline {
	tree := NewAggregationTree(cmp)
	p := &Pipeline{
		EventName: eventName,
		AttrIndex: attrIndex,
		Policy:    policy,
		Tree:      tree,
		Filter:    filter,
	}
	if callchain {
		p.Callchain = NewCallchainAccumulator(tree, orientation, foldAncestors)
	}
	return p
}

// Ingest folds one already-resolved SampleEntry into the pipeline: applies
// the filter, merges it into the aggregation tree, updates the pipeline's
// running totals with the entry's own (pre-merge) period, and — when call
// graphs are enabled and a non-empty chain is given — accumulates the
// call chain's cost into every surviving ancestor frame.
//
// Rejected-by-filter samples do not reach UpdateSummary or the callchain
// accumulator, matching spec.md section 4.2's FilterSample contract.
func (p *Pipeline) Ingest(e *SampleEntry, chain []libpf.Address, resolve FrameResolver) {
	if !p.Filter.Accept(e) {
		return
	}
	period := e.Period
	stored := p.Tree.Insert(e)
	p.Tree.UpdateSummary(period)

	if p.Callchain != nil && len(chain) > 0 {
		if p.Callchain.Accumulate(stored, chain, resolve, period) {
			p.Tree.IncErrorCallchains()
		}
	}
}

// Finalize marks callchain duplicate nodes across every entry in the
// pipeline's tree; call once at EOF, before sorting (spec.md section 4.5
// step 1).
func (p *Pipeline) Finalize() {
	for _, e := range p.Tree.Entries() {
		MarkDuplicates(p.Tree.cmp, e.Callchain)
	}
}
