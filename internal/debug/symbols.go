package debug

import (
	stdelf "debug/elf"

	"github.com/ianlancetaylor/demangle"
)

// SymTable resolves addresses to demangled symbol names from an ELF
// image's .symtab, the plain-C/Go name passing through Filter unchanged
// and any Itanium-C++-mangled name (the toolchains a loaded binary was
// built with aren't necessarily Go's own) rendered readable. Mirrors how
// google/pprof itself demangles foreign symbols before printing a
// profile's call stacks.
type SymTable struct {
	byAddr map[uint64]string
}

// LoadSymTable reads every symbol with a nonzero address out of ef's
// .symtab, demangling each name up front.
func LoadSymTable(ef *stdelf.File) (*SymTable, error) {
	syms, err := ef.Symbols()
	if err != nil {
		// no .symtab section at all (e.g. a stripped binary); an empty
		// table is a normal outcome, not a load failure.
		return &SymTable{byAddr: map[uint64]string{}}, nil
	}
	t := &SymTable{byAddr: make(map[uint64]string, len(syms))}
	for _, s := range syms {
		if s.Value == 0 || s.Name == "" {
			continue
		}
		t.byAddr[s.Value] = demangle.Filter(s.Name)
	}
	return t, nil
}

// Lookup implements x86asm.SymLookup: it returns the demangled name of the
// symbol whose start address is exactly addr, with offset 0, or an empty
// name if no such symbol was loaded. An address inside a symbol but past
// its start is not matched.
func (t *SymTable) Lookup(addr uint64) (name string, offset uint64) {
	if name, ok := t.byAddr[addr]; ok {
		return name, 0
	}
	return "", 0
}
