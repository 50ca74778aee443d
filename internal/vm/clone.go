package vm

import (
	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/mem"
)

// Clone builds a new address space that is a copy-on-write duplicate of as,
// mirroring mem_clone_vm_area / fork's address-space clone. Private
// mappings (anonymous or file-backed, non-shared) become CoW in both the
// parent and the child: both PTEs lose their write bit and gain PTE_COW,
// and the underlying frame's refcount is bumped once for the new sharer.
// Shared mappings (VShareAnon, or VFile with Shared set) are mapped
// directly into the child with the same permissions and no CoW marking,
// since writes to them must be visible to every sharer immediately.
func (as *AddressSpace) Clone() (*AddressSpace, errno.Errno) {
	as.Lock()
	defer as.Unlock()

	child, err := New(as.mem)
	if !err.Ok() {
		return nil, err
	}
	child.Regions = *as.Regions.Clone()

	for _, vma := range as.Regions.All() {
		for pg := 0; pg < vma.Pages; pg++ {
			va := vma.Start + uint32(pg)*PGSIZE
			pte, ok := as.PTEAt(va)
			if !ok || pte&PTE_P == 0 {
				continue
			}
			phys := mem.Pa_t(pte & PTE_ADDR)

			if vma.Mtype == VShareAnon || (vma.Mtype == VFile && vma.Shared) {
				if _, err := child.insertPTE(va, phys, pte&(PTE_U|PTE_W|PTE_COW|PTE_WASCOW), false); !err.Ok() {
					return nil, err
				}
				continue
			}

			// private mapping: force CoW in both address spaces
			cowPerms := (pte &^ (PTE_W | PTE_WASCOW)) | PTE_COW
			as.forcePTE(va, cowPerms)
			if _, err := child.insertPTE(va, phys, cowPerms&^PTE_P, false); !err.Ok() {
				return nil, err
			}
			as.recordAlias(va, child)
			as.Tlbshoot(va, 1)
		}
	}
	return child, 0
}

// forcePTE overwrites the PTE at va in place without touching refcounts,
// used to flip the parent's own mapping to CoW during Clone.
func (as *AddressSpace) forcePTE(va uint32, pte PTE) {
	frame, idx, ok := as.walk(va, true)
	if !ok.Ok() {
		panic("vm: forcePTE on unmapped va")
	}
	writePTE(frame, idx, pte)
}

// recordAlias notes that child shares a CoW frame with as at va, purely
// for introspection/debugging (e.g. a future "list sharers of this page"
// diagnostic); the page-fault handler itself only needs the frame's
// refcount to decide whether to copy or claim a CoW page.
func (as *AddressSpace) recordAlias(va uint32, child *AddressSpace) {
	as.aliasMu.Lock()
	defer as.aliasMu.Unlock()
	m, ok := as.alias[child.pgdID]
	if !ok {
		m = make(map[uint32]*AddressSpace)
		as.alias[child.pgdID] = m
	}
	m[va] = as
}

// AliasedWith reports whether a CoW sharing relationship was recorded
// between as and the address space identified by childPgdID at va.
func (as *AddressSpace) AliasedWith(childPgdID uint64, va uint32) bool {
	as.aliasMu.Lock()
	defer as.aliasMu.Unlock()
	m, ok := as.alias[childPgdID]
	if !ok {
		return false
	}
	_, ok = m[va]
	return ok
}
