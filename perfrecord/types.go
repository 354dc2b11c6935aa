/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

// Package perfrecord implements the record-file decoder external
// collaborator described in the report engine's design: a stream of typed
// records (sample, mapping update, thread update, tracing blob, comment)
// together with per-event attribute descriptors, read from a container
// format private to this repository (there being no independent recorder
// in scope to match byte-for-byte).
package perfrecord // import "github.com/elastic/otel-profiling-report/perfrecord"

import (
	perf "github.com/elastic/go-perf"
)

// RecordType tags the wire representation of a decoded Record.
type RecordType uint8

const (
	RecordSample RecordType = iota + 1
	RecordMMap
	RecordComm
	RecordTracingData
	RecordComment
	RecordLost
)

// AttrDescriptor pairs a perf-event-attr-like descriptor with the event's
// display name, mirroring the (index -> descriptor, name) attribute table
// the engine's per-event pipeline dispatches on.
type AttrDescriptor struct {
	Attr *perf.Attr
	Name string
}

// BranchEntry is one item of a captured branch stack (spec.md's "branch
// mode"): a taken branch from one address to another, with hardware flags.
type BranchEntry struct {
	From  uint64
	To    uint64
	Flags uint32
}

// Registers is the minimal register snapshot needed to seed frame-pointer
// unwinding of a sample that arrived without an already-expanded call
// chain. It is the wire-safe twin of unwind.Registers, kept as its own
// type so this decoder carries no compile-time dependency on the unwind
// package; ingest converts between the two at the point of use.
type Registers struct {
	IP, SP, BP uint64
}

// Record is implemented by every decoded record kind.
type Record interface {
	Type() RecordType
}

// SampleRecord is one profiling sample: an instruction pointer captured on
// a given cpu/pid/tid at a given time, with an event-specific period and,
// optionally, a raw call chain and/or branch stack.
type SampleRecord struct {
	AttrIndex   int
	CPU         uint32
	PID         uint32
	TID         uint32
	IP          uint64
	Time        uint64
	Period      uint64
	InKernel    bool
	Callchain   []uint64
	BranchStack []BranchEntry

	// Regs and Stack carry a raw register+stack snapshot for samples that
	// arrived with no already-expanded Callchain (spec.md section 1's
	// "opaque callee" unwinder path): the recorder captured just enough of
	// the stack to let a frame-pointer walk stand in for a proper
	// unwinder. Both are nil/empty for the common case of a Callchain
	// that arrived pre-expanded.
	Regs  *Registers
	Stack []byte
}

func (*SampleRecord) Type() RecordType { return RecordSample }

// MMapRecord announces that [Addr, Addr+Len) in the address space of PID
// now maps Filename starting at file offset PgOff. The thread/map registry
// folds this into its per-thread image table.
type MMapRecord struct {
	PID, TID uint32
	Addr     uint64
	Len      uint64
	PgOff    uint64
	Filename string
	InKernel bool
}

func (*MMapRecord) Type() RecordType { return RecordMMap }

// CommRecord announces (or renames) a thread: PID/TID now has name Comm.
type CommRecord struct {
	PID, TID uint32
	Comm     string
}

func (*CommRecord) Type() RecordType { return RecordComm }

// TracingDataRecord carries a tracepoint-ID-to-name blob. The report engine
// does not interpret it: attribute names (e.g. "sched:sched_switch") come
// from AttrDescriptor.Name.
type TracingDataRecord struct {
	Blob []byte
}

func (*TracingDataRecord) Type() RecordType { return RecordTracingData }

// CommentRecord is free-form text embedded in the record stream, e.g. the
// recorded command line.
type CommentRecord struct {
	Text string
}

func (*CommentRecord) Type() RecordType { return RecordComment }

// LostRecord reports that the recorder dropped a run of samples, e.g. due
// to ring-buffer overflow.
type LostRecord struct {
	Count uint64
}

func (*LostRecord) Type() RecordType { return RecordLost }
