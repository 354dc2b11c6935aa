package libpf // import "github.com/elastic/otel-profiling-report/libpf"

import (
	"sort"

	"github.com/ianlancetaylor/demangle"
)

// SymbolValue is an address or size associated with a Symbol.
type SymbolValue uint64

// SymbolNameUnknown is returned by symbol lookups that could not resolve a
// name for an address.
const SymbolNameUnknown = ""

// Symbol represents a resolved, presentation-ready symbol name. The engine
// only ever reads Name; demangling happens once, at construction time, so
// repeated report formatting never re-demangles the same string.
type Symbol struct {
	// Name is what gets printed: the demangled name if demangling is
	// enabled and succeeded, the raw linkage name otherwise.
	Name string

	// Raw is the original, possibly mangled, linkage name.
	Raw string

	// Address is the symbol's start address within its owning image.
	Address SymbolValue

	// Size is the symbol's extent in bytes, zero if unknown.
	Size uint64
}

// NewSymbol builds a Symbol, demangling raw when demangle is true. C++
// Itanium-ABI mangled names (the vast majority of native symbols this
// report engine ever sees) are handled by demangle.ToString; anything it
// can't parse — including already-plain C or Go symbol names — is kept
// as-is.
func NewSymbol(raw string, address SymbolValue, size uint64, doDemangle bool) Symbol {
	name := raw
	if doDemangle {
		if demangled, err := demangle.ToString(raw, demangle.NoParams, demangle.NoClones); err == nil {
			name = demangled
		}
	}
	return Symbol{Name: name, Raw: raw, Address: address, Size: size}
}

// SymbolMap is a searchable collection of Symbols belonging to one image,
// supporting reverse (address -> symbol) lookup. Adapted from the sibling
// agent's libpf.SymbolMap, which serves the same role for live-process
// symbolization.
type SymbolMap struct {
	byAddress []Symbol
}

// NewSymbolMap allocates a SymbolMap with room for capacity symbols.
func NewSymbolMap(capacity int) *SymbolMap {
	return &SymbolMap{byAddress: make([]Symbol, 0, capacity)}
}

// Add inserts a symbol. Call Finalize once every symbol has been added.
func (m *SymbolMap) Add(s Symbol) {
	m.byAddress = append(m.byAddress, s)
}

// Finalize sorts the symbol table by descending address so LookupByAddress
// can binary search it.
func (m *SymbolMap) Finalize() {
	sort.Slice(m.byAddress, func(i, j int) bool {
		return m.byAddress[i].Address > m.byAddress[j].Address
	})
}

// LookupByAddress finds the symbol whose [Address, Address+Size) range
// contains val (or, for zero-size symbols, the closest symbol at or below
// val), returning its name and val's offset from the symbol's start.
func (m *SymbolMap) LookupByAddress(val SymbolValue) (name string, offset SymbolValue, ok bool) {
	i := sort.Search(len(m.byAddress), func(i int) bool {
		return val >= m.byAddress[i].Address
	})
	if i >= len(m.byAddress) {
		return SymbolNameUnknown, SymbolValue(val), false
	}
	sym := m.byAddress[i]
	if sym.Size != 0 && val >= sym.Address+SymbolValue(sym.Size) {
		return SymbolNameUnknown, SymbolValue(val), false
	}
	return sym.Name, val - sym.Address, true
}

// Len returns the number of symbols in the map.
func (m *SymbolMap) Len() int { return len(m.byAddress) }
