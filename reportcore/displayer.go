/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package reportcore // import "github.com/elastic/otel-profiling-report/reportcore"

import (
	"fmt"
	"strings"
)

// DisplayOptions configures the column set and callgraph rendering of a
// Report (spec.md section 4.5 / 6). It is independent of the aggregation
// itself: the same Pipeline can be rendered with different options without
// re-reading the record file.
type DisplayOptions struct {
	// ShowSampleCount adds a "Samples" column (-n).
	ShowSampleCount bool
	// RawPeriod prints raw period/accumulated-period integers instead of
	// the percentage columns (--raw-period).
	RawPeriod bool
	// ChildrenMode splits the leading measure column into Children+Self
	// instead of a single Self-only Overhead column (--children).
	ChildrenMode bool
	// ShowIP appends the resolved virtual address in hex to the symbol
	// column, unless suppressed (--no-show-ip inverts this).
	ShowIP bool
	// Callgraph enables the nested call-tree printed under each row
	// (-g/--full-callgraph).
	Callgraph bool
	// MaxStackDepth bounds how many nested levels the callgraph prints; 0
	// means unbounded.
	MaxStackDepth int
	// PercentLimit prunes callgraph branches contributing less than this
	// percentage of the row's own total.
	PercentLimit float64
}

// columnFor returns the header text for one configured sort key, matching
// spec.md section 4.1's key names.
func columnFor(key string) string {
	switch key {
	case "pid":
		return "PID"
	case "tid":
		return "TID"
	case "comm":
		return "Command"
	case "dso":
		return "Shared Object"
	case "symbol":
		return "Symbol"
	case "vaddr_in_file":
		return "Address"
	case "dso_from":
		return "Source Shared Object"
	case "symbol_from":
		return "Source Symbol"
	default:
		return key
	}
}

// Header returns the column titles for a report table, in the order
// spec.md section 6 lists them: measure column(s) first, then Samples if
// requested, then one column per sort key.
func (o DisplayOptions) Header(keys []string) []string {
	var cols []string
	switch {
	case o.ChildrenMode && o.RawPeriod:
		cols = append(cols, "Children", "Self")
	case o.ChildrenMode:
		cols = append(cols, "Children", "Self")
	case o.RawPeriod:
		cols = append(cols, "Period")
	default:
		cols = append(cols, "Overhead")
	}
	if o.ShowSampleCount {
		cols = append(cols, "Samples")
	}
	for _, k := range keys {
		cols = append(cols, columnFor(k))
	}
	return cols
}

// Row renders one entry's data cells, in the same order as Header. total is
// the pipeline's grand total period, used for percentage columns.
func (o DisplayOptions) Row(e *SampleEntry, keys []string, total uint64) []string {
	var cells []string
	self := e.Period
	children := e.Period + e.AccumulatedPeriod

	switch {
	case o.ChildrenMode && o.RawPeriod:
		cells = append(cells, fmt.Sprintf("%d", children), fmt.Sprintf("%d", self))
	case o.ChildrenMode:
		cells = append(cells, percentOf(children, total), percentOf(self, total))
	case o.RawPeriod:
		cells = append(cells, fmt.Sprintf("%d", self))
	default:
		cells = append(cells, percentOf(self, total))
	}
	if o.ShowSampleCount {
		cells = append(cells, fmt.Sprintf("%d", e.SampleCount))
	}
	for _, k := range keys {
		cells = append(cells, cellFor(k, e, o.ShowIP))
	}
	return cells
}

func percentOf(v, total uint64) string {
	if total == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(v)*100/float64(total))
}

func cellFor(key string, e *SampleEntry, showIP bool) string {
	switch key {
	case "pid":
		return fmt.Sprintf("%d", e.PID)
	case "tid":
		return fmt.Sprintf("%d", e.TID)
	case "comm":
		return e.Comm
	case "dso":
		return imagePath(e.Image)
	case "symbol":
		return symbolCell(symbolName(e.Symbol), e.Vaddr, showIP)
	case "vaddr_in_file":
		return fmt.Sprintf("0x%x", e.Vaddr)
	case "dso_from":
		if e.Branch == nil {
			return ""
		}
		return imagePath(e.Branch.Image)
	case "symbol_from":
		if e.Branch == nil {
			return ""
		}
		return symbolCell(symbolName(e.Branch.Symbol), e.Branch.Vaddr, showIP)
	default:
		return ""
	}
}

func symbolCell(name string, vaddr uint64, showIP bool) string {
	if !showIP {
		return name
	}
	return fmt.Sprintf("%s+0x%x", name, vaddr)
}

// RenderCallgraph writes root's nested tree under prefix indentation,
// pruning branches below o.PercentLimit of rowTotal and stopping at
// o.MaxStackDepth (0 = unbounded), per spec.md section 4.5's supplemented
// full-callgraph behavior.
func (o DisplayOptions) RenderCallgraph(w *strings.Builder, keys []string, root *CallchainNode, rowTotal uint64) {
	if root == nil {
		return
	}
	o.renderNode(w, keys, root, rowTotal, 0)
}

func (o DisplayOptions) renderNode(w *strings.Builder, keys []string, node *CallchainNode, rowTotal uint64, depth int) {
	if o.MaxStackDepth > 0 && depth >= o.MaxStackDepth {
		return
	}
	children := sortedChildren(node)
	for _, c := range children {
		pct := float64(0)
		if rowTotal > 0 {
			pct = float64(c.AccumulatedPeriod+c.Entry.Period) * 100 / float64(rowTotal)
		}
		if o.PercentLimit > 0 && pct < o.PercentLimit {
			continue
		}
		w.WriteString(strings.Repeat("    ", depth+1))
		w.WriteString(fmt.Sprintf("%.2f%%  %s", pct, symbolName(c.Entry.Symbol)))
		if c.Duplicate {
			w.WriteString(" [duplicate]")
		}
		w.WriteString("\n")
		o.renderNode(w, keys, c, rowTotal, depth+1)
	}
}

func sortedChildren(node *CallchainNode) []*CallchainNode {
	out := make([]*CallchainNode, 0, len(node.Children))
	for _, siblings := range node.Children {
		out = append(out, siblings...)
	}
	// Deterministic, cost-descending order; ties broken by symbol name so
	// output does not depend on map iteration order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			aCost := a.AccumulatedPeriod + a.Entry.Period
			bCost := b.AccumulatedPeriod + b.Entry.Period
			if aCost > bCost || (aCost == bCost && symbolName(a.Entry.Symbol) <= symbolName(b.Entry.Symbol)) {
				break
			}
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
