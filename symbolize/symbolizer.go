/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

// Package symbolize implements the Symbolizer external collaborator:
// given a thread and an instruction address, it returns the (image,
// symbol, vaddr-in-image) triple the report engine keys sample entries on.
package symbolize // import "github.com/elastic/otel-profiling-report/symbolize"

import (
	"debug/elf"
	"fmt"
	"path/filepath"
	"sort"

	lru "github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"

	"github.com/elastic/otel-profiling-report/internal/log"
	"github.com/elastic/otel-profiling-report/libpf"
	"github.com/elastic/otel-profiling-report/registry"
)

// Config configures the symbolizer's ELF and kernel symbol lookup.
//
// This intentionally does not reuse the sibling agent's libpf/pfelf
// package: pfelf's zero-copy reader is built to symbolize a *running*
// process's mapped memory (via libpf/remotememory) without touching disk
// I/O on the hot path. This engine only ever symbolizes closed record
// files against on-disk binaries after the fact, so the plain stdlib
// debug/elf reader — which pfelf deliberately avoids for the live agent's
// performance requirements — is the right tool here rather than a gap.
type Config struct {
	// SymFS is prefixed onto every mapped file path before opening it,
	// for symbolizing traces captured on a different root filesystem.
	SymFS string
	// Kallsyms, if set, is a captured /proc/kallsyms-format file used to
	// resolve kernel addresses when Vmlinux is not set.
	Kallsyms string
	// Vmlinux, if set, is an uncompressed kernel image with symbols.
	Vmlinux string
	// DisableDemangle turns off C++ demangling of resolved symbol names.
	DisableDemangle bool
}

type symbolTable struct {
	*libpf.SymbolMap
	err error
}

// Symbolizer resolves addresses to symbols for on-disk ELF images, caching
// one parsed symbol table per distinct image so each image's ELF file is
// read only once. Names are demangled on every lookup, not cached.
type Symbolizer struct {
	cfg    Config
	tables *lru.SyncedLRU[uint64, *symbolTable]

	kernel *symbolTable
}

// New builds a Symbolizer. tableCacheSize bounds the number of distinct
// images whose symbol tables are held in memory at once. An explicitly
// configured Vmlinux or Kallsyms path is loaded eagerly here rather than
// lazily on first use: a bad kernel-symbol path is a Configuration mistake
// the caller made, not a per-frame lookup miss, and spec.md section 7
// classifies it as a fatal Symbolization error rather than something to
// silently degrade into "no kernel symbols" for the whole run.
func New(cfg Config, tableCacheSize uint32) (*Symbolizer, error) {
	cache, err := lru.NewSynced[uint64, *symbolTable](tableCacheSize, func(k uint64) uint32 {
		return uint32(k)
	})
	if err != nil {
		return nil, fmt.Errorf("create symbol table cache: %w", err)
	}
	s := &Symbolizer{cfg: cfg, tables: cache}

	if cfg.Vmlinux != "" || cfg.Kallsyms != "" {
		table := s.loadKernelTable()
		if table.err != nil {
			return nil, fmt.Errorf("load kernel symbols: %w", table.err)
		}
		s.kernel = table
		if cfg.Vmlinux != "" {
			log.Infof("kernel symbols loaded from vmlinux image %s (%d symbols)", cfg.Vmlinux, table.Len())
		} else {
			log.Infof("kernel symbols loaded from kallsyms capture %s (%d symbols)", cfg.Kallsyms, table.Len())
		}
	}
	return s, nil
}

// FindSymbol resolves ip within m, returning the symbol (or a nil Symbol
// if unresolved) and the address translated into the image's own address
// space (vaddr-in-image).
func (s *Symbolizer) FindSymbol(m *registry.Mapping, ip uint64) (*libpf.Symbol, uint64) {
	if m == nil || m.Image == nil {
		return nil, ip
	}
	vaddr := ip - m.Addr + m.PgOff

	table := s.tableFor(m.Image)
	if table == nil || table.err != nil || table.SymbolMap == nil {
		return nil, vaddr
	}

	name, offset, ok := table.LookupByAddress(libpf.SymbolValue(vaddr))
	if !ok {
		return nil, vaddr
	}
	sym := libpf.NewSymbol(string(name), libpf.SymbolValue(vaddr-uint64(offset)), 0, !s.cfg.DisableDemangle)
	return &sym, vaddr
}

func (s *Symbolizer) tableFor(img *libpf.Image) *symbolTable {
	if img.Kind == libpf.ImageKernel {
		return s.kernel
	}

	key := xxh3.HashString(img.Path)
	if t, ok := s.tables.Get(key); ok {
		return t
	}
	t := s.loadELFTable(img.Path)
	s.tables.Add(key, t)
	return t
}

func (s *Symbolizer) loadELFTable(path string) *symbolTable {
	full := path
	if s.cfg.SymFS != "" {
		full = filepath.Join(s.cfg.SymFS, path)
	}

	f, err := elf.Open(full)
	if err != nil {
		return &symbolTable{err: fmt.Errorf("open %s: %w", full, err)}
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		// Stripped binaries have no .symtab; that is not an error, just
		// an image with no user-visible symbols.
		log.Debugf("%s: no .symtab (%v), treating as stripped", full, err)
		return &symbolTable{SymbolMap: libpf.NewSymbolMap(0)}
	}

	m := libpf.NewSymbolMap(len(syms))
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Name == "" {
			continue
		}
		m.Add(libpf.Symbol{
			Name:    sym.Name,
			Raw:     sym.Name,
			Address: libpf.SymbolValue(sym.Value),
			Size:    sym.Size,
		})
	}
	m.Finalize()
	return &symbolTable{SymbolMap: m}
}

func (s *Symbolizer) loadKernelTable() *symbolTable {
	if s.cfg.Vmlinux != "" {
		return s.loadELFTable(s.cfg.Vmlinux)
	}
	if s.cfg.Kallsyms != "" {
		m, err := loadKallsyms(s.cfg.Kallsyms)
		if err != nil {
			return &symbolTable{err: fmt.Errorf("load kallsyms from %s: %w", s.cfg.Kallsyms, err)}
		}
		return &symbolTable{SymbolMap: m}
	}
	return &symbolTable{SymbolMap: libpf.NewSymbolMap(0)}
}

// IsUnknownDSO reports whether img resolves to no known backing file.
func (s *Symbolizer) IsUnknownDSO(img *libpf.Image) bool {
	return registry.IsUnknownDSO(img)
}

// sortAddrDesc keeps a []libpf.Symbol sorted the way libpf.SymbolMap
// expects when populated incrementally (kallsyms is not sorted on disk).
func sortAddrDesc(syms []libpf.Symbol) {
	sort.Slice(syms, func(i, j int) bool { return syms[i].Address > syms[j].Address })
}
