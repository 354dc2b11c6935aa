/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package perfrecord // import "github.com/elastic/otel-profiling-report/perfrecord"

import "strings"

// MetaInfo is the record file's meta-info section: at least the keys
// "system_wide_collection" and "trace_offcpu", values "true"/"false".
type MetaInfo map[string]string

// SystemWideCollection reports whether the recording covered the whole
// system rather than a specific set of processes.
//
// The original tool this engine is modeled on detected this heuristically
// by scanning the recorded command line for a bare "-a" token — flagged as
// fragile by its own authors. This prefers the direct meta-info key when
// present and only falls back to that heuristic otherwise, per the
// migration path spec.md asks for.
func (m MetaInfo) SystemWideCollection(cmdline []string) bool {
	if v, ok := m["system_wide_collection"]; ok {
		return v == "true"
	}
	return commandLineHasSystemWideFlag(cmdline)
}

// TraceOffCPU reports whether the recording was made in off-CPU mode
// (sched-switch-driven time-delta accounting rather than raw event counts).
func (m MetaInfo) TraceOffCPU() bool {
	return m["trace_offcpu"] == "true"
}

func commandLineHasSystemWideFlag(cmdline []string) bool {
	for _, arg := range cmdline {
		if arg == "-a" {
			return true
		}
		// Combined short-flag forms, e.g. "-ag", still count.
		if strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "--") &&
			strings.Contains(arg[1:], "a") {
			return true
		}
	}
	return false
}
