/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/elastic/otel-profiling-report/ingest"
	appLog "github.com/elastic/otel-profiling-report/internal/log"
	"github.com/elastic/otel-profiling-report/perfrecord"
	"github.com/elastic/otel-profiling-report/registry"
	"github.com/elastic/otel-profiling-report/reportcore"
	"github.com/elastic/otel-profiling-report/symbolize"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1
	// Go's flag package calls os.Exit(2) on parse errors when ExitOnError
	// is set; kept distinct so scripts can tell a bad invocation from a
	// report engine failure.
	exitParseError exitCode = 2

	imageCacheSize     = 4096
	symbolTableCacheSize = 512
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	a, err := parseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse arguments: %v\n", err)
		return exitParseError
	}

	if a.version {
		fmt.Println("report engine (unreleased)")
		return exitSuccess
	}

	if a.verbose {
		log.SetLevel(log.DebugLevel)
		appLog.SetLevel(slog.LevelDebug)
	}

	if a.input == "" {
		fmt.Fprintln(os.Stderr, "missing required flag -i (input record file)")
		a.fs.Usage()
		return exitParseError
	}

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	return run(ctx, a)
}

func run(ctx context.Context, a *args) exitCode {
	in, err := os.Open(a.input)
	if err != nil {
		log.Errorf("open record file: %v", err)
		return exitFailure
	}
	defer in.Close()

	reader, err := perfrecord.NewReader(in)
	if err != nil {
		log.Errorf("read record file header: %v", err)
		return exitFailure
	}
	defer reader.Close()

	out := os.Stdout
	if a.output != "" {
		f, err := os.Create(a.output)
		if err != nil {
			log.Errorf("open output file: %v", err)
			return exitFailure
		}
		defer f.Close()
		out = f
	}

	cmp, err := reportcore.NewComparator(splitCSVStrings(a.sortKeys), a.branchMode)
	if err != nil {
		return reportErr(err)
	}

	pids, err := splitCSVUint32(a.pids)
	if err != nil {
		return reportErr(reportcore.NewError(reportcore.KindConfiguration, err))
	}
	tids, err := splitCSVUint32(a.tids)
	if err != nil {
		return reportErr(reportcore.NewError(reportcore.KindConfiguration, err))
	}
	cpus, err := splitCSVUint32(a.cpus)
	if err != nil {
		return reportErr(reportcore.NewError(reportcore.KindConfiguration, err))
	}
	filter := reportcore.NewFilter(cpus, pids, tids,
		splitCSVStrings(a.comms), splitCSVStrings(a.dsos), splitSemicolonStrings(a.symbols))

	orientation := reportcore.CallerAsRoot
	if strings.EqualFold(a.graphMode, "callee") {
		orientation = reportcore.CalleeAsRoot
	}
	// -g is an explicit toggle (empty graphMode means the flag was never
	// given); --full-callgraph implies it too. Callchain accumulation is
	// needed for either that or --children, but only --children may fold
	// ancestor frames into flat rows (testable property 3).
	graphEnabled := a.graphMode != "" || a.fullCallgraph
	callchainEnabled := a.childrenMode || graphEnabled

	reg, err := registry.New(imageCacheSize)
	if err != nil {
		log.Errorf("build thread/map registry: %v", err)
		return exitFailure
	}
	sym, err := symbolize.New(symbolize.Config{
		SymFS:           a.symfs,
		Kallsyms:        a.kallsyms,
		Vmlinux:         a.vmlinux,
		DisableDemangle: a.noDemangle,
	}, symbolTableCacheSize)
	if err != nil {
		return reportErr(reportcore.NewError(reportcore.KindSymbolization, err))
	}

	driverIndex, err := offCPUDriverIndex(reader)
	if err != nil {
		return reportErr(err)
	}

	engine, err := ingest.NewEngine(reg, sym, reader.Attrs(), ingest.Options{
		Comparator:        cmp,
		Filter:            filter,
		Callchain:         callchainEnabled,
		ChildrenMode:      a.childrenMode,
		BranchMode:        a.branchMode,
		Orientation:       orientation,
		OffCPUDriverIndex: driverIndex,
	})
	if err != nil {
		return reportErr(err)
	}

	if err := engine.Run(ctx, reader); err != nil {
		return reportErr(err)
	}
	if lost := engine.LostSamples(); lost > 0 {
		log.Warnf("recording reported %d lost samples", lost)
	}

	display := reportcore.DisplayOptions{
		ShowSampleCount: a.showSampleCount,
		RawPeriod:       a.rawPeriod,
		ChildrenMode:    a.childrenMode,
		ShowIP:          !a.noShowIP,
		Callgraph:       graphEnabled,
		MaxStackDepth:   a.maxStack,
		PercentLimit:    a.percentLimit,
	}
	rpt := reportcore.Report{
		Meta: reportcore.Meta{
			Cmdline:    strings.Join(reader.Cmdline(), " "),
			Arch:       reader.Arch(),
			SystemWide: reader.Meta().SystemWideCollection(reader.Cmdline()),
			ReportID:   uuid.New().String(),
		},
		Options: display,
	}

	for _, p := range engine.Pipelines() {
		var werr error
		if a.csv {
			werr = rpt.WriteCSV(out, p)
		} else {
			werr = rpt.WriteText(out, p)
		}
		if werr != nil {
			return reportErr(werr)
		}
	}
	return exitSuccess
}

// offCPUDriverIndex locates the sched-switch-like attribute the recording
// used to drive off-CPU accounting, per the record file's own meta-info
// flag; returns -1 when the recording is not in off-CPU mode. A recording
// that declares off-CPU mode but carries no such attribute is a
// Configuration error (spec.md sections 4.4/7), not a silent fallback to a
// plain event-count report.
func offCPUDriverIndex(r *perfrecord.Reader) (int, error) {
	if !r.Meta().TraceOffCPU() {
		return -1, nil
	}
	for i, a := range r.Attrs() {
		if strings.Contains(strings.ToLower(a.Name), "sched_switch") {
			return i, nil
		}
	}
	return -1, reportcore.NewError(reportcore.KindConfiguration,
		fmt.Errorf("recording declares off-CPU mode but carries no sched-switch attribute"))
}

func reportErr(err error) exitCode {
	if kind, ok := reportcore.KindOf(err); ok {
		log.Errorf("%s error: %v", kind, err)
	} else {
		log.Errorf("%v", err)
	}
	return exitFailure
}
