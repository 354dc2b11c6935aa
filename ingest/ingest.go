/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

// Package ingest is the single-threaded cooperative ingestion loop that
// drives the report engine (spec.md section 5): it reads records from a
// perfrecord.Reader, keeps the thread/map registry current, resolves each
// sample against the registry and symbolizer, and feeds the result into
// the right reportcore.Pipeline — including the off-CPU driver's fan-out
// into every other pipeline.
package ingest // import "github.com/elastic/otel-profiling-report/ingest"

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/elastic/otel-profiling-report/internal/log"
	"github.com/elastic/otel-profiling-report/libpf"
	"github.com/elastic/otel-profiling-report/perfrecord"
	"github.com/elastic/otel-profiling-report/registry"
	"github.com/elastic/otel-profiling-report/reportcore"
	"github.com/elastic/otel-profiling-report/symbolize"
	"github.com/elastic/otel-profiling-report/unwind"
)

// checkCancelEvery bounds how often Run polls ctx for cancellation, so a
// SIGINT during a very large record file is honored promptly without
// paying a context-check cost on every single record.
const checkCancelEvery = 4096

// Options configures the pipelines an Engine builds, one per recorded
// event attribute.
type Options struct {
	Comparator *reportcore.Comparator
	Filter     *reportcore.Filter
	// Callchain enables the callchain accumulator at all: needed for
	// either --children or -g/--full-callgraph.
	Callchain bool
	// ChildrenMode additionally folds ancestor frames into flat,
	// Children-only rows (--children); must be false whenever the CLI's
	// --children flag is off, even if Callchain is true for -g alone.
	ChildrenMode      bool
	BranchMode        bool
	Orientation       reportcore.RootOrientation
	OffCPUDriverIndex int // -1 if the recording carries no off-CPU driver
}

// Engine owns the registry, symbolizer and one pipeline per event
// attribute, and implements the record dispatch loop.
type Engine struct {
	reg *registry.Registry
	sym *symbolize.Symbolizer

	pipelines         []*reportcore.Pipeline
	offCPUDriverIndex int
	branchMode        bool

	lostSamples uint64
}

// NewEngine builds an Engine with one pipeline per entry in attrs.
func NewEngine(reg *registry.Registry, sym *symbolize.Symbolizer, attrs []perfrecord.AttrDescriptor, opts Options) (*Engine, error) {
	if opts.OffCPUDriverIndex >= len(attrs) {
		return nil, reportcore.NewError(reportcore.KindConfiguration,
			fmt.Errorf("off-CPU driver index %d out of range for %d attributes", opts.OffCPUDriverIndex, len(attrs)))
	}

	e := &Engine{reg: reg, sym: sym, offCPUDriverIndex: opts.OffCPUDriverIndex, branchMode: opts.BranchMode}
	e.pipelines = make([]*reportcore.Pipeline, len(attrs))
	for i, a := range attrs {
		var policy reportcore.SamplePolicy = reportcore.EventCountPolicy{}
		if i == opts.OffCPUDriverIndex {
			policy = reportcore.NewTimeDeltaPolicy()
		}
		p := reportcore.NewPipeline(a.Name, i, policy, opts.Comparator, opts.Filter, opts.Callchain, opts.ChildrenMode, opts.Orientation)
		p.IsOffCPUDriver = i == opts.OffCPUDriverIndex
		e.pipelines[i] = p
	}
	return e, nil
}

// Pipelines returns every pipeline, indexed the same way SampleRecord.AttrIndex
// indexes into the record file's attribute table.
func (e *Engine) Pipelines() []*reportcore.Pipeline { return e.pipelines }

// LostSamples returns the total count reported by LostRecords seen during
// Run, for a CLI to surface as a warning.
func (e *Engine) LostSamples() uint64 { return e.lostSamples }

// Run consumes every record from r until EOF, applying MMap/Comm records to
// the registry and dispatching sample records to their pipeline. It returns
// a Kind=Input error on the first decode failure, per spec.md section 7, or
// if ctx is canceled before EOF is reached (e.g. the CLI's Ctrl-C handler).
func (e *Engine) Run(ctx context.Context, r *perfrecord.Reader) error {
	for n := 0; ; n++ {
		if n%checkCancelEvery == 0 {
			if err := ctx.Err(); err != nil {
				return reportcore.NewError(reportcore.KindInput, err)
			}
		}

		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return reportcore.NewError(reportcore.KindInput, err)
		}

		switch v := rec.(type) {
		case *perfrecord.MMapRecord:
			e.reg.ApplyMMap(v)
		case *perfrecord.CommRecord:
			e.reg.ApplyComm(v)
		case *perfrecord.SampleRecord:
			e.ingestSample(v)
		case *perfrecord.LostRecord:
			e.lostSamples += v.Count
			log.Warnf("recording reports %d lost samples (running total %d)", v.Count, e.lostSamples)
		case *perfrecord.TracingDataRecord, *perfrecord.CommentRecord:
			// Not used by the report; nothing to fold in here.
		}
	}

	for _, p := range e.pipelines {
		p.Finalize()
	}
	return nil
}

func (e *Engine) ingestSample(rec *perfrecord.SampleRecord) {
	if rec.AttrIndex < 0 || rec.AttrIndex >= len(e.pipelines) {
		return
	}
	p := e.pipelines[rec.AttrIndex]

	toInsert, period, ok := p.Policy.Advance(rec)
	if !ok {
		return
	}

	e.foldSample(p, toInsert, period)

	// Off-CPU fan-out: a paired driver sample is also fed, using the same
	// computed period, into every other pipeline (spec.md section 4.4).
	if rec.AttrIndex == e.offCPUDriverIndex {
		for i, other := range e.pipelines {
			if i == e.offCPUDriverIndex {
				continue
			}
			e.foldSample(other, toInsert, period)
		}
	}
}

// foldSample resolves rec once and folds it (and, in branch mode, each of
// its branch-stack items) into p with the given period.
func (e *Engine) foldSample(p *reportcore.Pipeline, rec *perfrecord.SampleRecord, period uint64) {
	thread := e.reg.FindThreadOrNew(rec.PID, rec.TID)

	if e.branchMode {
		if len(rec.BranchStack) == 0 {
			return
		}
		for _, br := range rec.BranchStack {
			entry := e.resolveEntryAt(thread, rec, br.To, rec.InKernel)
			entry.Period = period
			entry.SampleCount = 1
			entry.Branch = e.resolveBranchSource(thread, rec, br)
			p.Ingest(entry, nil, nil)
		}
		return
	}

	entry := e.resolveEntryAt(thread, rec, rec.IP, rec.InKernel)
	entry.Period = period
	entry.SampleCount = 1

	resolve := e.frameResolver(thread)
	p.Ingest(entry, ancestorChain(rawChain(rec), rec.IP), resolve)
}

// rawChain returns the record's already-expanded call chain, or, when that
// is empty but a register+stack snapshot was captured instead, expands the
// snapshot through the frame-pointer unwinder (spec.md section 1: this
// engine treats the unwinder as an opaque callee invoked only for samples
// that need it). Both forms are returned in the recorded Callchain field's
// own convention: outermost ancestor first, the sample's own leaf
// instruction pointer last.
func rawChain(rec *perfrecord.SampleRecord) []uint64 {
	if len(rec.Callchain) > 0 || rec.Regs == nil {
		return rec.Callchain
	}

	expanded, err := unwind.FramePointerExpander(unwind.Registers{
		IP: rec.Regs.IP, SP: rec.Regs.SP, BP: rec.Regs.BP,
	}, rec.Stack)
	if err != nil || len(expanded) == 0 {
		return nil
	}

	// FramePointerExpander returns the leaf frame first, then each caller
	// walking outward; reverse it to match Callchain's outermost-first,
	// leaf-last convention so ancestorChain can treat both uniformly.
	raw := make([]uint64, len(expanded))
	for i, a := range expanded {
		raw[len(expanded)-1-i] = uint64(a)
	}
	return raw
}

// ancestorChain converts a record's raw call chain into the ancestor-only
// address list Pipeline.Ingest/CallchainAccumulator.Accumulate expect. The
// recorded chain's last frame is conventionally the sample's own
// instruction pointer (already counted via entry.Period); including it
// again would make the accumulator re-resolve the originating entry and
// double its own cost into AccumulatedPeriod.
func ancestorChain(raw []uint64, leafIP uint64) []libpf.Address {
	if len(raw) == 0 {
		return nil
	}
	ancestors := raw
	if ancestors[len(ancestors)-1] == leafIP {
		ancestors = ancestors[:len(ancestors)-1]
	}
	chain := make([]libpf.Address, len(ancestors))
	for i, a := range ancestors {
		chain[i] = libpf.Address(a)
	}
	return chain
}

func (e *Engine) resolveEntryAt(t *registry.Thread, rec *perfrecord.SampleRecord, ip uint64, inKernel bool) *reportcore.SampleEntry {
	m := e.reg.FindMap(t, ip, inKernel)
	sym, vaddr := e.sym.FindSymbol(m, ip)
	var img *libpf.Image
	if m != nil {
		img = m.Image
	}
	return &reportcore.SampleEntry{
		CPU:    rec.CPU,
		PID:    libpf.PID(rec.PID),
		TID:    libpf.PID(rec.TID),
		Comm:   t.Comm(),
		Image:  img,
		Symbol: sym,
		Vaddr:  vaddr,
		Time:   rec.Time,
	}
}

func (e *Engine) resolveBranchSource(t *registry.Thread, rec *perfrecord.SampleRecord, br perfrecord.BranchEntry) *reportcore.BranchSource {
	m := e.reg.FindMap(t, br.From, rec.InKernel)
	sym, vaddr := e.sym.FindSymbol(m, br.From)
	var img *libpf.Image
	if m != nil {
		img = m.Image
	}
	return &reportcore.BranchSource{Image: img, Symbol: sym, Vaddr: vaddr, Flags: br.Flags}
}

// frameResolver builds a reportcore.FrameResolver bound to one sample's
// thread, for the CallchainAccumulator to walk the sample's raw address
// chain against the same registry/symbolizer.
func (e *Engine) frameResolver(t *registry.Thread) reportcore.FrameResolver {
	return func(addr libpf.Address) (*reportcore.SampleEntry, bool) {
		m := e.reg.FindMap(t, uint64(addr), false)
		if m == nil || e.sym.IsUnknownDSO(m.Image) {
			return nil, false
		}
		sym, vaddr := e.sym.FindSymbol(m, uint64(addr))
		return &reportcore.SampleEntry{
			PID:    t.PID,
			TID:    t.TID,
			Comm:   t.Comm(),
			Image:  m.Image,
			Symbol: sym,
			Vaddr:  vaddr,
		}, true
	}
}
