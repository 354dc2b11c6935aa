/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/peterbourgon/ff/v3"
)

// args holds every parsed CLI flag, populated by parseArgs. Field names
// deliberately mirror their flag names rather than any internal struct
// elsewhere in the repository.
type args struct {
	input  string
	output string

	branchMode      bool
	childrenMode    bool
	graphMode       string
	fullCallgraph   bool
	maxStack        int
	percentLimit    float64
	showSampleCount bool
	noDemangle      bool
	noShowIP        bool
	csv             bool
	rawPeriod       bool

	sortKeys string
	comms    string
	dsos     string
	symbols  string
	cpus     string
	pids     string
	tids     string

	kallsyms string
	vmlinux  string
	symfs    string

	verbose bool
	version bool

	fs *flag.FlagSet
}

const (
	defaultSortKeys    = "comm,pid,tid,dso,symbol"
	defaultMaxStack    = 0
	defaultPercentLim  = 0.0
	defaultGraphMode   = ""
	inputHelp          = "Path to the record file to read (required)."
	outputHelp         = "Path to write the report to. Defaults to stdout."
	branchHelp         = "Enable branch-stack mode: aggregate by the target of each " +
		"taken branch instead of the sampled instruction pointer, recording the " +
		"branch source for the dso_from/symbol_from keys."
	childrenHelp       = "Show separate Children and Self columns instead of one Overhead column."
	graphHelp          = "Enable the call graph and set its root orientation: \"caller\" " +
		"(top-down) or \"callee\" (bottom-up). Unset by default, which disables the " +
		"call graph entirely; --full-callgraph implies \"caller\"."
	fullCallgraphHelp  = "Enable the call graph, as -g does. The graph printed is the same " +
		"nested tree -g prints; there is no separate brief view."
	maxStackHelp       = "Maximum call graph depth to print. 0 means unbounded."
	percentLimitHelp   = "Prune call graph branches contributing less than this percentage " +
		"of their row's total."
	sampleCountHelp    = "Add a Samples column with the raw folded-sample count per row."
	noDemangleHelp     = "Disable C++ symbol demangling."
	noShowIPHelp       = "Do not append the resolved virtual address to symbol columns."
	csvHelp            = "Write the report as CSV instead of the plain-text table format."
	rawPeriodHelp      = "Print raw period/accumulated-period integers instead of percentages."
	sortHelp           = "Comma-separated list of sort/aggregation keys, e.g. \"pid,comm,symbol\"."
	commsHelp          = "Comma-separated allowlist of command names."
	dsosHelp           = "Comma-separated allowlist of shared object paths."
	symbolsHelp        = "Semicolon-separated allowlist of symbol names (';' rather than ',' " +
		"since C++ symbol names routinely contain commas)."
	cpuHelp            = "Comma-separated allowlist of CPU numbers."
	pidsHelp           = "Comma-separated allowlist of process IDs."
	tidsHelp           = "Comma-separated allowlist of thread IDs."
	kallsymsHelp       = "Path to a captured /proc/kallsyms file used for kernel symbolization."
	vmlinuxHelp        = "Path to an uncompressed kernel image with symbols."
	symfsHelp          = "Root directory prefixed onto every mapped file path before symbolization."
	verboseHelp        = "Enable debug logging."
	versionHelp        = "Show version and exit."
)

func parseArgs() (*args, error) {
	var a args
	fs := flag.NewFlagSet("report", flag.ExitOnError)

	fs.StringVar(&a.input, "i", "", inputHelp)
	fs.StringVar(&a.output, "o", "", outputHelp)
	fs.BoolVar(&a.branchMode, "b", false, branchHelp)
	fs.BoolVar(&a.childrenMode, "children", false, childrenHelp)
	fs.StringVar(&a.graphMode, "g", defaultGraphMode, graphHelp)
	fs.BoolVar(&a.fullCallgraph, "full-callgraph", false, fullCallgraphHelp)
	fs.IntVar(&a.maxStack, "max-stack", defaultMaxStack, maxStackHelp)
	fs.Float64Var(&a.percentLimit, "percent-limit", defaultPercentLim, percentLimitHelp)
	fs.BoolVar(&a.showSampleCount, "n", false, sampleCountHelp)
	fs.BoolVar(&a.noDemangle, "no-demangle", false, noDemangleHelp)
	fs.BoolVar(&a.noShowIP, "no-show-ip", false, noShowIPHelp)
	fs.BoolVar(&a.csv, "csv", false, csvHelp)
	fs.BoolVar(&a.rawPeriod, "raw-period", false, rawPeriodHelp)

	fs.StringVar(&a.sortKeys, "sort", defaultSortKeys, sortHelp)
	fs.StringVar(&a.comms, "comms", "", commsHelp)
	fs.StringVar(&a.dsos, "dsos", "", dsosHelp)
	fs.StringVar(&a.symbols, "symbols", "", symbolsHelp)
	fs.StringVar(&a.cpus, "cpu", "", cpuHelp)
	fs.StringVar(&a.pids, "pids", "", pidsHelp)
	fs.StringVar(&a.tids, "tids", "", tidsHelp)

	fs.StringVar(&a.kallsyms, "kallsyms", "", kallsymsHelp)
	fs.StringVar(&a.vmlinux, "vmlinux", "", vmlinuxHelp)
	fs.StringVar(&a.symfs, "symfs", "", symfsHelp)

	fs.BoolVar(&a.verbose, "v", false, verboseHelp)
	fs.BoolVar(&a.version, "version", false, versionHelp)

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "report reads a recorded profiling trace and prints a breakdown report.")
		fs.PrintDefaults()
	}

	a.fs = fs
	return &a, ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PROFREPORT"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	)
}

func splitCSVStrings(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSemicolonStrings splits --symbols on ';' rather than ',', since
// (demangled) symbol names routinely contain commas themselves — a plain
// comma split would silently fracture entries like "foo(int, char*)".
func splitSemicolonStrings(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitCSVUint32(s string) ([]uint32, error) {
	strs := splitCSVStrings(s)
	if strs == nil {
		return nil, nil
	}
	out := make([]uint32, 0, len(strs))
	for _, p := range strs {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", p, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}
