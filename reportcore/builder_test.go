/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package reportcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/otel-profiling-report/perfrecord"
)

func TestAggregationTreeMergesEqualEntries(t *testing.T) {
	cmp, err := NewComparator([]string{"pid", "tid"}, false)
	require.NoError(t, err)

	tree := NewAggregationTree(cmp)
	a := tree.Insert(&SampleEntry{PID: 1, TID: 1, Period: 10, SampleCount: 1, Time: 100})
	tree.UpdateSummary(10)
	b := tree.Insert(&SampleEntry{PID: 1, TID: 1, Period: 5, SampleCount: 1, Time: 50})
	tree.UpdateSummary(5)

	require.Same(t, a, b)
	assert.Equal(t, uint64(15), a.Period)
	assert.Equal(t, uint64(2), a.SampleCount)
	assert.Equal(t, uint64(100), a.Time, "merge keeps the max observed time")
	assert.Len(t, tree.Entries(), 1)
	assert.Equal(t, uint64(2), tree.TotalSamples())
	assert.Equal(t, uint64(15), tree.TotalPeriod())
}

func TestAggregationTreeKeepsDistinctEntriesSeparate(t *testing.T) {
	cmp, err := NewComparator([]string{"pid"}, false)
	require.NoError(t, err)

	tree := NewAggregationTree(cmp)
	tree.Insert(&SampleEntry{PID: 1, Period: 1})
	tree.Insert(&SampleEntry{PID: 2, Period: 1})
	assert.Len(t, tree.Entries(), 2)
}

func TestAggregationTreeInsertReturnsIndependentClone(t *testing.T) {
	cmp, err := NewComparator([]string{"pid"}, false)
	require.NoError(t, err)

	tree := NewAggregationTree(cmp)
	original := &SampleEntry{PID: 1, Period: 1}
	stored := tree.Insert(original)
	stored.Period = 999
	assert.Equal(t, uint64(1), original.Period, "Insert must not alias the caller's entry")
}

func TestEventCountPolicyUsesRecordPeriodVerbatim(t *testing.T) {
	p := EventCountPolicy{}
	rec := &perfrecord.SampleRecord{Period: 42}
	toInsert, period, ok := p.Advance(rec)
	require.True(t, ok)
	assert.Same(t, rec, toInsert)
	assert.Equal(t, uint64(42), period)
	assert.Equal(t, "Event count", p.TotalLabel())
}

func TestTimeDeltaPolicyPairsConsecutiveSamplesPerThread(t *testing.T) {
	p := NewTimeDeltaPolicy()

	// First sample on tid 7 is buffered, nothing to insert yet.
	_, _, ok := p.Advance(&perfrecord.SampleRecord{TID: 7, Time: 1000})
	require.False(t, ok)

	// Second sample on tid 7 emits the first, with the elapsed delta as
	// its period.
	toInsert, period, ok := p.Advance(&perfrecord.SampleRecord{TID: 7, Time: 1300})
	require.True(t, ok)
	assert.Equal(t, uint64(1000), toInsert.Time)
	assert.Equal(t, uint64(300), period)
	assert.Zero(t, p.Inversions)
	assert.Equal(t, "Time in ns", p.TotalLabel())
}

func TestTimeDeltaPolicyFallsBackToPeriodOneOnInversion(t *testing.T) {
	p := NewTimeDeltaPolicy()
	p.Advance(&perfrecord.SampleRecord{TID: 1, Time: 500})
	_, period, ok := p.Advance(&perfrecord.SampleRecord{TID: 1, Time: 400})
	require.True(t, ok)
	assert.Equal(t, uint64(1), period)
	assert.Equal(t, 1, p.Inversions)
}

func TestTimeDeltaPolicyTracksThreadsIndependently(t *testing.T) {
	p := NewTimeDeltaPolicy()
	p.Advance(&perfrecord.SampleRecord{TID: 1, Time: 100})
	p.Advance(&perfrecord.SampleRecord{TID: 2, Time: 200})

	toInsert, period, ok := p.Advance(&perfrecord.SampleRecord{TID: 1, Time: 150})
	require.True(t, ok)
	assert.Equal(t, uint32(1), toInsert.TID)
	assert.Equal(t, uint64(50), period)
}
