/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

// Package registry implements the thread/map registry external
// collaborator: it maintains, incrementally from MMap and Comm update
// records, the current mapping of addresses to loaded images per thread.
// Sample entries hold references into this registry; the registry must
// outlive every aggregation pass that reads from it (spec.md section 5).
package registry // import "github.com/elastic/otel-profiling-report/registry"

import (
	"sort"
	"sync"

	lru "github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"

	"github.com/elastic/otel-profiling-report/libpf"
	"github.com/elastic/otel-profiling-report/perfrecord"
)

// Mapping is one loaded image inside a thread's address space.
type Mapping struct {
	Addr  uint64
	Len   uint64
	PgOff uint64
	Image *libpf.Image
}

func (m *Mapping) contains(ip uint64) bool {
	return ip >= m.Addr && ip < m.Addr+m.Len
}

// Thread is a stable, mutable view of one tid's state: its display name
// and its currently loaded images, ordered by start address for binary
// search on incoming instruction pointers.
type Thread struct {
	PID, TID libpf.PID
	comm     string
	mappings []*Mapping
}

// Comm returns the thread's most recently observed name, falling back to
// its owning process's name when no per-thread CommRecord was ever seen
// (the fallback simpleperf's original cmd_report.cpp performs; see
// SPEC_FULL.md's supplemented-features section).
func (t *Thread) Comm() string {
	return t.comm
}

func threadKey(pid, tid uint32) uint64 {
	return uint64(pid)<<32 | uint64(tid)
}

// Registry is the mutable state the ingestion loop feeds and every
// per-event builder reads from. It is not safe for concurrent use — the
// engine is single-threaded per spec.md section 5 — except for the image
// cache, which uses a synced LRU purely so the same cache type can be
// reused unmodified from a future multi-threaded ingestion path.
type Registry struct {
	mu          sync.Mutex
	threads     map[uint64]*Thread
	processComm map[libpf.PID]string
	images      *lru.SyncedLRU[uint64, *libpf.Image]
	kernelImage *libpf.Image
}

// New builds an empty registry. imageCacheSize bounds the number of
// distinct backing files (by file name) the registry keeps Image
// objects for; callers profiling a handful of binaries can pass a small
// value, wide system-wide traces should size it generously.
func New(imageCacheSize uint32) (*Registry, error) {
	cache, err := lru.NewSynced[uint64, *libpf.Image](imageCacheSize, func(k uint64) uint32 {
		return uint32(k)
	})
	if err != nil {
		return nil, err
	}
	return &Registry{
		threads:     make(map[uint64]*Thread),
		processComm: make(map[libpf.PID]string),
		images:      cache,
		kernelImage: &libpf.Image{Path: "[kernel.kallsyms]", Kind: libpf.ImageKernel},
	}, nil
}

// FindThreadOrNew returns the Thread for pid/tid, creating an empty one on
// first sight.
func (r *Registry) FindThreadOrNew(pid, tid uint32) *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findThreadOrNewLocked(pid, tid)
}

func (r *Registry) findThreadOrNewLocked(pid, tid uint32) *Thread {
	key := threadKey(pid, tid)
	t, ok := r.threads[key]
	if ok {
		return t
	}
	t = &Thread{PID: libpf.PID(pid), TID: libpf.PID(tid)}
	if name, ok := r.processComm[libpf.PID(pid)]; ok {
		t.comm = name
	}
	r.threads[key] = t
	return t
}

// ApplyComm folds a CommRecord into the registry: it renames the thread
// and, when tid == pid (the thread group leader), also becomes the
// fallback name for threads in the same process that never get their own
// CommRecord.
func (r *Registry) ApplyComm(rec *perfrecord.CommRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.findThreadOrNewLocked(rec.PID, rec.TID)
	t.comm = rec.Comm
	if rec.TID == rec.PID {
		r.processComm[libpf.PID(rec.PID)] = rec.Comm
		// Threads of this process seen earlier without a name of their own
		// pick up the process name now.
		for _, other := range r.threads {
			if other.PID == libpf.PID(rec.PID) && other.comm == "" {
				other.comm = rec.Comm
			}
		}
	}
}

// ApplyMMap folds an MMapRecord into the registry: it resolves (or
// creates, hashing the mapped file's name) the Image for rec.Filename
// and inserts a Mapping into the owning thread's address-ordered mapping
// list, replacing any mapping it overlaps.
func (r *Registry) ApplyMMap(rec *perfrecord.MMapRecord) {
	img := r.imageFor(rec.Filename, rec.InKernel)

	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.findThreadOrNewLocked(rec.PID, rec.TID)
	m := &Mapping{Addr: rec.Addr, Len: rec.Len, PgOff: rec.PgOff, Image: img}
	insertMapping(t, m)
}

func insertMapping(t *Thread, m *Mapping) {
	// Drop any mapping this one overlaps: a new MMapRecord for the same
	// address range supersedes what was there before.
	kept := t.mappings[:0]
	for _, existing := range t.mappings {
		if existing.Addr+existing.Len <= m.Addr || m.Addr+m.Len <= existing.Addr {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, m)
	sort.Slice(kept, func(i, j int) bool { return kept[i].Addr < kept[j].Addr })
	t.mappings = kept
}

// imageFor resolves the Image for a mapped file, deduplicating by file name
// so the same shared library mapped by many threads shares one Image. The
// Image's FileID is a hash of the file name; file contents are not read,
// so two different binaries mapped under the same path share one Image.
func (r *Registry) imageFor(filename string, inKernel bool) *libpf.Image {
	if inKernel {
		return r.kernelImage
	}
	if filename == "" {
		return &libpf.Image{Path: "[anon]", Kind: libpf.ImageUnknown}
	}

	key := xxh3.HashString(filename)
	if img, ok := r.images.Get(key); ok {
		return img
	}

	img := &libpf.Image{
		Path: filename,
		Kind: libpf.ImageUser,
		ID:   libpf.FileIDFromBytes([]byte(filename)),
	}
	r.images.Add(key, img)
	return img
}

// FindMap returns the Mapping covering ip within thread's current address
// space, or nil if ip falls outside every known mapping (an unknown DSO,
// per spec.md's terminology).
func (r *Registry) FindMap(t *Thread, ip uint64, inKernel bool) *Mapping {
	if inKernel {
		return &Mapping{Addr: 0, Len: ^uint64(0), Image: r.kernelImage}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(t.mappings), func(i int) bool {
		return t.mappings[i].Addr+t.mappings[i].Len > ip
	})
	if i < len(t.mappings) && t.mappings[i].contains(ip) {
		return t.mappings[i]
	}
	return nil
}

// IsUnknownDSO reports whether img resolves to no known backing file.
func IsUnknownDSO(img *libpf.Image) bool {
	return img.IsUnknown()
}
