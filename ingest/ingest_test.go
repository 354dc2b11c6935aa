/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/otel-profiling-report/perfrecord"
	"github.com/elastic/otel-profiling-report/registry"
	"github.com/elastic/otel-profiling-report/reportcore"
	"github.com/elastic/otel-profiling-report/symbolize"
)

// nopWriteCloser adapts a bytes.Buffer for perfrecord.NewWriter, which
// wants an io.WriteCloser so it can own real files in production.
type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

// nopReadCloser adapts a bytes.Reader for perfrecord.NewReader.
type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

func newSymbolizer(t *testing.T) *symbolize.Symbolizer {
	t.Helper()
	sym, err := symbolize.New(symbolize.Config{}, 8)
	require.NoError(t, err)
	return sym
}

func writeRecordFile(t *testing.T, attrs []perfrecord.AttrDescriptor, meta perfrecord.MetaInfo, build func(w *perfrecord.Writer)) *perfrecord.Reader {
	t.Helper()
	var buf bytes.Buffer
	w, err := perfrecord.NewWriter(nopWriteCloser{&buf}, perfrecord.WriterOptions{
		Cmdline: []string{"prog"},
		Arch:    "x86_64",
		Attrs:   attrs,
		Meta:    meta,
	})
	require.NoError(t, err)
	build(w)
	require.NoError(t, w.Close())

	r, err := perfrecord.NewReader(nopReadCloser{bytes.NewReader(buf.Bytes())})
	require.NoError(t, err)
	return r
}

// TestBasicEventCountAggregation is the S1-style scenario: two samples on
// the same thread and mapping merge into a single entry whose period is
// the sum of both.
func TestBasicEventCountAggregation(t *testing.T) {
	reg, err := registry.New(8)
	require.NoError(t, err)
	sym := newSymbolizer(t)

	attrs := []perfrecord.AttrDescriptor{{Name: "cpu-clock"}}
	r := writeRecordFile(t, attrs, nil, func(w *perfrecord.Writer) {
		require.NoError(t, w.WriteMMap(&perfrecord.MMapRecord{PID: 1, TID: 1, Addr: 0x1000, Len: 0x1000, Filename: "/usr/bin/worker"}))
		require.NoError(t, w.WriteComm(&perfrecord.CommRecord{PID: 1, TID: 1, Comm: "worker"}))
		require.NoError(t, w.WriteSample(&perfrecord.SampleRecord{AttrIndex: 0, PID: 1, TID: 1, IP: 0x1050, Period: 10}))
		require.NoError(t, w.WriteSample(&perfrecord.SampleRecord{AttrIndex: 0, PID: 1, TID: 1, IP: 0x1060, Period: 20}))
	})
	defer r.Close()

	cmp, err := reportcore.NewComparator([]string{"dso"}, false)
	require.NoError(t, err)
	filter := reportcore.NewFilter(nil, nil, nil, nil, nil, nil)

	e, err := NewEngine(reg, sym, r.Attrs(), Options{Comparator: cmp, Filter: filter, OffCPUDriverIndex: -1})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), r))

	p := e.Pipelines()[0]
	assert.Equal(t, uint64(2), p.Tree.TotalSamples())
	assert.Equal(t, uint64(30), p.Tree.TotalPeriod())
	entries := p.Tree.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "/usr/bin/worker", entries[0].Image.Path)
	assert.Equal(t, uint64(30), entries[0].Period)
	assert.Equal(t, uint64(2), entries[0].SampleCount)
}

// TestCommFilterExcludesOtherThreads is the S2-style scenario: a comm
// allowlist drops samples from threads outside it before they ever reach
// the aggregation tree or the summary totals.
func TestCommFilterExcludesOtherThreads(t *testing.T) {
	reg, err := registry.New(8)
	require.NoError(t, err)
	sym := newSymbolizer(t)

	attrs := []perfrecord.AttrDescriptor{{Name: "cpu-clock"}}
	r := writeRecordFile(t, attrs, nil, func(w *perfrecord.Writer) {
		require.NoError(t, w.WriteComm(&perfrecord.CommRecord{PID: 1, TID: 1, Comm: "worker"}))
		require.NoError(t, w.WriteComm(&perfrecord.CommRecord{PID: 2, TID: 2, Comm: "other"}))
		require.NoError(t, w.WriteSample(&perfrecord.SampleRecord{AttrIndex: 0, PID: 1, TID: 1, IP: 0x10, Period: 5}))
		require.NoError(t, w.WriteSample(&perfrecord.SampleRecord{AttrIndex: 0, PID: 1, TID: 1, IP: 0x10, Period: 7}))
		require.NoError(t, w.WriteSample(&perfrecord.SampleRecord{AttrIndex: 0, PID: 2, TID: 2, IP: 0x10, Period: 100}))
	})
	defer r.Close()

	cmp, err := reportcore.NewComparator([]string{"comm"}, false)
	require.NoError(t, err)
	filter := reportcore.NewFilter(nil, nil, nil, []string{"worker"}, nil, nil)

	e, err := NewEngine(reg, sym, r.Attrs(), Options{Comparator: cmp, Filter: filter, OffCPUDriverIndex: -1})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), r))

	p := e.Pipelines()[0]
	assert.Equal(t, uint64(2), p.Tree.TotalSamples(), "the other-comm sample must not count toward totals")
	assert.Equal(t, uint64(12), p.Tree.TotalPeriod())
	entries := p.Tree.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "worker", entries[0].Comm)
}

// TestOffCPUFanOutSynthesizesTimeOnTargetPipeline is the S4-style
// scenario: a sched-switch-like driver pairs two samples on the same tid
// into one 300ns period, which shows up on the *other* pipeline while the
// driver's own table is marked suppressed.
func TestOffCPUFanOutSynthesizesTimeOnTargetPipeline(t *testing.T) {
	reg, err := registry.New(8)
	require.NoError(t, err)
	sym := newSymbolizer(t)

	attrs := []perfrecord.AttrDescriptor{{Name: "sched:sched_switch"}, {Name: "cpu-clock"}}
	meta := perfrecord.MetaInfo{"trace_offcpu": "true"}
	r := writeRecordFile(t, attrs, meta, func(w *perfrecord.Writer) {
		require.NoError(t, w.WriteComm(&perfrecord.CommRecord{PID: 1, TID: 7, Comm: "waiter"}))
		require.NoError(t, w.WriteSample(&perfrecord.SampleRecord{AttrIndex: 0, PID: 1, TID: 7, IP: 0x10, Time: 1000}))
		require.NoError(t, w.WriteSample(&perfrecord.SampleRecord{AttrIndex: 0, PID: 1, TID: 7, IP: 0x10, Time: 1300}))
	})
	defer r.Close()

	require.True(t, r.Meta().TraceOffCPU())

	cmp, err := reportcore.NewComparator([]string{"comm"}, false)
	require.NoError(t, err)
	filter := reportcore.NewFilter(nil, nil, nil, nil, nil, nil)

	e, err := NewEngine(reg, sym, r.Attrs(), Options{Comparator: cmp, Filter: filter, OffCPUDriverIndex: 0})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), r))

	driver := e.Pipelines()[0]
	target := e.Pipelines()[1]

	assert.True(t, driver.IsOffCPUDriver)
	assert.False(t, target.IsOffCPUDriver)

	require.Len(t, target.Tree.Entries(), 1)
	assert.Equal(t, uint64(300), target.Tree.Entries()[0].Period)
	assert.Equal(t, uint64(300), target.Tree.TotalPeriod())

	require.Len(t, driver.Tree.Entries(), 1)
	assert.Equal(t, uint64(300), driver.Tree.TotalPeriod(), "the driver still accumulates its own totals, just not its display")
}

// TestBranchModeProducesOneEntryPerDistinctSourceDSO is the S5-style
// scenario: a single sample's branch stack fans out into multiple
// aggregation entries, one per distinct dso_from identity.
func TestBranchModeProducesOneEntryPerDistinctSourceDSO(t *testing.T) {
	reg, err := registry.New(8)
	require.NoError(t, err)
	sym := newSymbolizer(t)

	attrs := []perfrecord.AttrDescriptor{{Name: "branch-event"}}
	r := writeRecordFile(t, attrs, nil, func(w *perfrecord.Writer) {
		require.NoError(t, w.WriteMMap(&perfrecord.MMapRecord{PID: 1, TID: 1, Addr: 0x1000, Len: 0x1000, Filename: "/lib/a.so"}))
		require.NoError(t, w.WriteMMap(&perfrecord.MMapRecord{PID: 1, TID: 1, Addr: 0x2000, Len: 0x1000, Filename: "/lib/b.so"}))
		require.NoError(t, w.WriteSample(&perfrecord.SampleRecord{
			AttrIndex: 0, PID: 1, TID: 1, IP: 0x1050, Period: 5,
			BranchStack: []perfrecord.BranchEntry{
				{From: 0x1010, To: 0x1050},
				{From: 0x2010, To: 0x1060},
			},
		}))
	})
	defer r.Close()

	cmp, err := reportcore.NewComparator([]string{"dso_from"}, true)
	require.NoError(t, err)
	filter := reportcore.NewFilter(nil, nil, nil, nil, nil, nil)

	e, err := NewEngine(reg, sym, r.Attrs(), Options{Comparator: cmp, Filter: filter, BranchMode: true, OffCPUDriverIndex: -1})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), r))

	p := e.Pipelines()[0]
	assert.Equal(t, uint64(2), p.Tree.TotalSamples(), "each branch-stack item counts as one folded sample")
	entries := p.Tree.Entries()
	require.Len(t, entries, 2)

	dsos := map[string]bool{}
	for _, ent := range entries {
		require.NotNil(t, ent.Branch)
		dsos[ent.Branch.Image.Path] = true
	}
	assert.True(t, dsos["/lib/a.so"])
	assert.True(t, dsos["/lib/b.so"])
}

// TestRegisterStackSnapshotExpandsThroughFramePointerUnwinder verifies
// that a sample recorded with a register+stack snapshot instead of an
// already-expanded Callchain still produces an ancestor row, by walking
// the frame-pointer chain itself (spec.md section 1's unwinder
// collaborator).
func TestRegisterStackSnapshotExpandsThroughFramePointerUnwinder(t *testing.T) {
	reg, err := registry.New(8)
	require.NoError(t, err)
	sym := newSymbolizer(t)

	attrs := []perfrecord.AttrDescriptor{{Name: "cpu-clock"}}

	// A single saved-frame-pointer/return-address pair: the leaf at 0x2000
	// was called from 0x1500, with the caller's frame based at sp itself
	// (bp==sp, no earlier frame to walk to since savedBP<=bp stops it).
	sp := uint64(0x7f0000000000)
	stack := make([]byte, 16)
	binary.LittleEndian.PutUint64(stack[0:8], sp)     // saved bp (equal to bp: stops the walk after this frame)
	binary.LittleEndian.PutUint64(stack[8:16], 0x1500) // return address

	r := writeRecordFile(t, attrs, nil, func(w *perfrecord.Writer) {
		require.NoError(t, w.WriteMMap(&perfrecord.MMapRecord{PID: 1, TID: 1, Addr: 0x1000, Len: 0x2000, Filename: "/usr/bin/worker"}))
		require.NoError(t, w.WriteComm(&perfrecord.CommRecord{PID: 1, TID: 1, Comm: "worker"}))
		require.NoError(t, w.WriteSample(&perfrecord.SampleRecord{
			AttrIndex: 0, PID: 1, TID: 1, IP: 0x2000, Period: 80,
			Regs:  &perfrecord.Registers{IP: 0x2000, SP: sp, BP: sp},
			Stack: stack,
		}))
	})
	defer r.Close()

	cmp, err := reportcore.NewComparator([]string{"vaddr_in_file"}, false)
	require.NoError(t, err)
	filter := reportcore.NewFilter(nil, nil, nil, nil, nil, nil)

	e, err := NewEngine(reg, sym, r.Attrs(), Options{
		Comparator: cmp, Filter: filter, Callchain: true, ChildrenMode: true, OffCPUDriverIndex: -1,
	})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), r))

	p := e.Pipelines()[0]
	entries := p.Tree.Entries()
	require.Len(t, entries, 2, "the leaf and its frame-pointer-derived ancestor must both fold in")

	var leaf, ancestor *reportcore.SampleEntry
	for _, ent := range entries {
		if ent.Period == 80 {
			leaf = ent
		} else {
			ancestor = ent
		}
	}
	require.NotNil(t, leaf)
	require.NotNil(t, ancestor)
	assert.Equal(t, uint64(0), leaf.AccumulatedPeriod)
	assert.Equal(t, uint64(80), ancestor.AccumulatedPeriod)
	assert.Equal(t, uint64(0), ancestor.Period)
}

// TestLostRecordsAreCounted verifies the ingestion loop tallies dropped
// sample runs without letting them affect aggregation.
func TestLostRecordsAreCounted(t *testing.T) {
	reg, err := registry.New(8)
	require.NoError(t, err)
	sym := newSymbolizer(t)

	attrs := []perfrecord.AttrDescriptor{{Name: "cpu-clock"}}
	r := writeRecordFile(t, attrs, nil, func(w *perfrecord.Writer) {
		require.NoError(t, w.WriteLost(&perfrecord.LostRecord{Count: 3}))
		require.NoError(t, w.WriteLost(&perfrecord.LostRecord{Count: 4}))
	})
	defer r.Close()

	cmp, err := reportcore.NewComparator([]string{"comm"}, false)
	require.NoError(t, err)
	filter := reportcore.NewFilter(nil, nil, nil, nil, nil, nil)
	e, err := NewEngine(reg, sym, r.Attrs(), Options{Comparator: cmp, Filter: filter, OffCPUDriverIndex: -1})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), r))

	assert.Equal(t, uint64(7), e.LostSamples())
}
