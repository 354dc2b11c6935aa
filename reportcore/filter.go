/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package reportcore // import "github.com/elastic/otel-profiling-report/reportcore"

// Filter implements spec.md section 4.6: six allowlists, applied once at
// sample-entry creation time. An empty allowlist imposes no restriction;
// a non-empty one requires the sample's attribute to be a member.
type Filter struct {
	CPUs    map[uint32]struct{}
	PIDs    map[uint32]struct{}
	TIDs    map[uint32]struct{}
	Comms   map[string]struct{}
	DSOs    map[string]struct{}
	Symbols map[string]struct{}
}

// NewFilter builds a Filter, treating an empty slice as "no restriction"
// for that attribute.
func NewFilter(cpus, pids, tids []uint32, comms, dsos, symbols []string) *Filter {
	f := &Filter{}
	f.CPUs = toUint32Set(cpus)
	f.PIDs = toUint32Set(pids)
	f.TIDs = toUint32Set(tids)
	f.Comms = toStringSet(comms)
	f.DSOs = toStringSet(dsos)
	f.Symbols = toStringSet(symbols)
	return f
}

func toUint32Set(vs []uint32) map[uint32]struct{} {
	if len(vs) == 0 {
		return nil
	}
	m := make(map[uint32]struct{}, len(vs))
	for _, v := range vs {
		m[v] = struct{}{}
	}
	return m
}

func toStringSet(vs []string) map[string]struct{} {
	if len(vs) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		m[v] = struct{}{}
	}
	return m
}

func allows[T comparable](allowlist map[T]struct{}, v T) bool {
	if allowlist == nil {
		return true
	}
	_, ok := allowlist[v]
	return ok
}

// Accept reports whether e passes every configured allowlist.
func (f *Filter) Accept(e *SampleEntry) bool {
	if f == nil {
		return true
	}
	return allows(f.CPUs, e.CPU) &&
		allows(f.PIDs, uint32(e.PID)) &&
		allows(f.TIDs, uint32(e.TID)) &&
		allows(f.Comms, e.Comm) &&
		allows(f.DSOs, imagePath(e.Image)) &&
		allows(f.Symbols, symbolName(e.Symbol))
}
