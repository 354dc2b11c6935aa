/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package reportcore // import "github.com/elastic/otel-profiling-report/reportcore"

import (
	"github.com/elastic/otel-profiling-report/internal/log"
	"github.com/elastic/otel-profiling-report/perfrecord"
)

// AggregationTree implements spec.md section 4.2's Insert/UpdateSummary
// contract: it folds SampleEntry values into a set of unique entries keyed
// by a Comparator, merging measures into the first-seen entry whenever two
// samples compare equal.
//
// Entries are kept in hash buckets keyed by the comparator's own hash
// contribution (see comparator.go's design note): this is the
// aggregation's only lookup structure, there is no separate index.
type AggregationTree struct {
	cmp                  *Comparator
	buckets              map[uint64][]*SampleEntry
	totalSamples         uint64
	totalPeriod          uint64
	totalErrorCallchains uint64
}

// NewAggregationTree builds an empty tree keyed by cmp.
func NewAggregationTree(cmp *Comparator) *AggregationTree {
	return &AggregationTree{cmp: cmp, buckets: make(map[uint64][]*SampleEntry)}
}

// Insert folds e into the tree: if an equal (under the tree's comparator)
// entry already exists, e's measures are merged into it and the existing
// entry is returned; otherwise a copy of e is stored and returned.
func (t *AggregationTree) Insert(e *SampleEntry) *SampleEntry {
	h := t.cmp.hash(e)
	for _, existing := range t.buckets[h] {
		if t.cmp.Equal(existing, e) {
			existing.merge(e)
			return existing
		}
	}
	stored := e.clone()
	t.buckets[h] = append(t.buckets[h], stored)
	return stored
}

// UpdateSummary must be called exactly once per folded raw sample (or, in
// branch mode, per folded branch item), with that sample's own
// (un-merged) period. It maintains the pipeline-wide totals independent of
// per-entry aggregation.
func (t *AggregationTree) UpdateSummary(period uint64) {
	t.totalSamples++
	t.totalPeriod += period
}

// IncErrorCallchains records one call chain dropped due to an unknown DSO
// frame.
func (t *AggregationTree) IncErrorCallchains() {
	t.totalErrorCallchains++
}

// Entries returns every aggregated entry, in no particular order; callers
// sort before display.
func (t *AggregationTree) Entries() []*SampleEntry {
	out := make([]*SampleEntry, 0, len(t.buckets))
	for _, bucket := range t.buckets {
		out = append(out, bucket...)
	}
	return out
}

func (t *AggregationTree) TotalSamples() uint64         { return t.totalSamples }
func (t *AggregationTree) TotalPeriod() uint64           { return t.totalPeriod }
func (t *AggregationTree) TotalErrorCallchains() uint64  { return t.totalErrorCallchains }
func (t *AggregationTree) Comparator() *Comparator       { return t.cmp }

// SamplePolicy computes each pipeline's period-per-record policy: the only
// difference between the event-count and time-delta (off-CPU) builder
// specializations of spec.md section 4.2.
type SamplePolicy interface {
	// Advance receives the next raw sample for this pipeline and
	// returns the record that should actually be inserted (itself, for
	// event-count; a previously buffered one, for time-delta) along
	// with its computed period. ok=false means nothing should be
	// inserted for this call (time-delta buffering the first sample of
	// a tid).
	Advance(rec *perfrecord.SampleRecord) (toInsert *perfrecord.SampleRecord, period uint64, ok bool)

	// TotalLabel is the header label for the pipeline's total period:
	// "Event count" normally, "Time in ns" in off-CPU mode.
	TotalLabel() string
}

// EventCountPolicy is the default specialization: period is the record's
// own recorded period, verbatim.
type EventCountPolicy struct{}

func (EventCountPolicy) Advance(rec *perfrecord.SampleRecord) (*perfrecord.SampleRecord, uint64, bool) {
	return rec, rec.Period, true
}

func (EventCountPolicy) TotalLabel() string { return "Event count" }

// TimeDeltaPolicy is the off-CPU specialization: it pairs each
// sched-switch-like sample with the next one on the same tid and reports
// the elapsed wall time between them as that earlier sample's period.
type TimeDeltaPolicy struct {
	pending map[uint32]*perfrecord.SampleRecord
	// Inversions counts pairs where the second sample's timestamp did
	// not exceed the first's; spec.md section 9 falls back to a period
	// of 1 for these but asks that the fallback be made visible rather
	// than silent.
	Inversions int
}

// NewTimeDeltaPolicy builds an empty off-CPU policy.
func NewTimeDeltaPolicy() *TimeDeltaPolicy {
	return &TimeDeltaPolicy{pending: make(map[uint32]*perfrecord.SampleRecord)}
}

func (p *TimeDeltaPolicy) Advance(rec *perfrecord.SampleRecord) (*perfrecord.SampleRecord, uint64, bool) {
	prev, ok := p.pending[rec.TID]
	p.pending[rec.TID] = rec
	if !ok {
		return nil, 0, false
	}

	var period uint64
	if rec.Time > prev.Time {
		period = rec.Time - prev.Time
	} else {
		period = 1
		p.Inversions++
		log.Warnf("off-CPU sample pair for tid %d has non-increasing timestamps (%d -> %d), falling back to period 1",
			rec.TID, prev.Time, rec.Time)
	}
	return prev, period, true
}

func (p *TimeDeltaPolicy) TotalLabel() string { return "Time in ns" }
