/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package reportcore // import "github.com/elastic/otel-profiling-report/reportcore"

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Meta carries the record file's cmdline/arch banner fields, printed
// verbatim above each pipeline's table (spec.md section 6).
type Meta struct {
	Cmdline string
	Arch    string
	// SystemWide reports whether the recording covered the whole system
	// rather than a specific set of processes (perfrecord.MetaInfo's
	// SystemWideCollection), surfaced alongside Cmdline/Arch so a reader
	// doesn't have to re-derive it from the command line themselves.
	SystemWide bool
	// ReportID identifies one invocation of the report engine, so two
	// reports generated from the same record file (e.g. once as text,
	// once as CSV) can be correlated by anything archiving them.
	ReportID string
}

// Report renders one pipeline's aggregated entries. Building it does not
// mutate the pipeline; call Pipeline.Finalize first so callgraph
// duplicate markers are in place.
type Report struct {
	Meta    Meta
	Options DisplayOptions
}

// sortEntries orders entries for display: total cost (children+self)
// descending, non-duplicate before duplicate, then self period descending,
// with the pipeline's own comparator as the final, deterministic tiebreak
// (spec.md section 4.5 step 2).
func sortEntries(cmp *Comparator, entries []*SampleEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		aCost := a.Period + a.AccumulatedPeriod
		bCost := b.Period + b.AccumulatedPeriod
		if aCost != bCost {
			return aCost > bCost
		}
		aDup, bDup := isDuplicateRoot(a), isDuplicateRoot(b)
		if aDup != bDup {
			return !aDup
		}
		if a.Period != b.Period {
			return a.Period > b.Period
		}
		return cmp.Compare(a, b) < 0
	})
}

func isDuplicateRoot(e *SampleEntry) bool {
	return e.Callchain != nil && e.Callchain.Duplicate
}

// WriteText renders p's report in spec.md section 6's plain-text format.
// Pipelines marked IsOffCPUDriver are still summarized (Samples/total
// line) but their table is suppressed, per spec.md section 4.4.
func (r Report) WriteText(w io.Writer, p *Pipeline) error {
	if r.Meta.ReportID != "" {
		fmt.Fprintf(w, "Report ID: %s\n", r.Meta.ReportID)
	}
	fmt.Fprintf(w, "Cmdline: %s\n", r.Meta.Cmdline)
	fmt.Fprintf(w, "Arch: %s\n", r.Meta.Arch)
	fmt.Fprintf(w, "System-wide: %t\n", r.Meta.SystemWide)
	fmt.Fprintf(w, "Event: %s\n", p.EventName)
	fmt.Fprintf(w, "Samples: %d\n", p.Tree.TotalSamples())
	if p.Tree.TotalErrorCallchains() > 0 {
		fmt.Fprintf(w, "Error Callchains: %d\n", p.Tree.TotalErrorCallchains())
	}
	if tp, ok := p.Policy.(*TimeDeltaPolicy); ok && tp.Inversions > 0 {
		fmt.Fprintf(w, "Off-CPU Inversions: %d\n", tp.Inversions)
	}
	fmt.Fprintf(w, "%s: %d\n", p.Policy.TotalLabel(), p.Tree.TotalPeriod())

	if p.IsOffCPUDriver {
		fmt.Fprintln(w, "(suppressed: off-CPU driver event)")
		return nil
	}

	keys := p.Tree.Comparator().Keys()
	entries := p.Tree.Entries()
	sortEntries(p.Tree.Comparator(), entries)

	header := r.Options.Header(keys)
	fmt.Fprintln(w, strings.Join(header, "  "))

	total := p.Tree.TotalPeriod()
	for _, e := range entries {
		row := r.Options.Row(e, keys, total)
		fmt.Fprintln(w, strings.Join(row, "  "))

		if r.Options.Callgraph && e.Callchain != nil && p.Tree.Comparator().HasKey("symbol") {
			var buf strings.Builder
			rowTotal := e.Period + e.AccumulatedPeriod
			r.Options.RenderCallgraph(&buf, keys, e.Callchain, rowTotal)
			io.WriteString(w, buf.String())
		}
	}
	return nil
}

// WriteCSV renders p's report as spec.md section 6's alternate
// machine-readable format: one banner-comment block, a header row, then
// one row per entry. Callgraphs are not representable in CSV and are
// omitted.
func (r Report) WriteCSV(w io.Writer, p *Pipeline) error {
	if r.Meta.ReportID != "" {
		fmt.Fprintf(w, "# Report ID: %s\n", r.Meta.ReportID)
	}
	fmt.Fprintf(w, "# Cmdline: %s\n", r.Meta.Cmdline)
	fmt.Fprintf(w, "# Arch: %s\n", r.Meta.Arch)
	fmt.Fprintf(w, "# System-wide: %t\n", r.Meta.SystemWide)
	fmt.Fprintf(w, "# Event: %s\n", p.EventName)
	fmt.Fprintf(w, "# Samples: %d\n", p.Tree.TotalSamples())
	if p.Tree.TotalErrorCallchains() > 0 {
		fmt.Fprintf(w, "# Error Callchains: %d\n", p.Tree.TotalErrorCallchains())
	}
	if tp, ok := p.Policy.(*TimeDeltaPolicy); ok && tp.Inversions > 0 {
		fmt.Fprintf(w, "# Off-CPU Inversions: %d\n", tp.Inversions)
	}
	fmt.Fprintf(w, "# %s: %d\n", p.Policy.TotalLabel(), p.Tree.TotalPeriod())

	cw := csv.NewWriter(w)
	if p.IsOffCPUDriver {
		cw.Flush()
		return cw.Error()
	}

	keys := p.Tree.Comparator().Keys()
	entries := p.Tree.Entries()
	sortEntries(p.Tree.Comparator(), entries)

	if err := cw.Write(csvHeader(r.Options, keys)); err != nil {
		return NewError(KindOutput, err)
	}
	for _, e := range entries {
		if err := cw.Write(csvRow(p.EventName, e, r.Options, keys)); err != nil {
			return NewError(KindOutput, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return NewError(KindOutput, err)
	}
	return nil
}

// csvHeader and csvRow implement spec.md section 6's CSV column contract,
// which is distinct from the text table's Overhead/Children/Self
// percentage columns: CSV always names EventName plus raw event counts
// (AccEventCount/SelfEventCount in children mode, EventCount otherwise),
// so a downstream consumer doesn't need to parse percentages back out.
func csvHeader(o DisplayOptions, keys []string) []string {
	cols := []string{"EventName"}
	if o.ChildrenMode {
		cols = append(cols, "AccEventCount", "SelfEventCount")
	} else {
		cols = append(cols, "EventCount")
	}
	if o.ShowSampleCount {
		cols = append(cols, "Samples")
	}
	for _, k := range keys {
		cols = append(cols, columnFor(k))
	}
	return cols
}

func csvRow(eventName string, e *SampleEntry, o DisplayOptions, keys []string) []string {
	cells := []string{eventName}
	if o.ChildrenMode {
		cells = append(cells, fmt.Sprintf("%d", e.Period+e.AccumulatedPeriod), fmt.Sprintf("%d", e.Period))
	} else {
		cells = append(cells, fmt.Sprintf("%d", e.Period))
	}
	if o.ShowSampleCount {
		cells = append(cells, fmt.Sprintf("%d", e.SampleCount))
	}
	for _, k := range keys {
		cells = append(cells, cellFor(k, e, o.ShowIP))
	}
	return cells
}
