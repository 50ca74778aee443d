package vm

import (
	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/util"
)

// Mmap establishes a new mapping . addr is a hint: if 0,
// the kernel picks the lowest free range at or above USERMIN; fixed
// mappings are not supported (MAP_FIXED is out of scope).
// length is rounded up to a whole number of pages.
func (as *AddressSpace) Mmap(addr uint32, length int, perms PTE, mt Mtype, src Source, foff int64, shared bool) (uint32, errno.Errno) {
	if length <= 0 {
		return 0, errno.EINVAL
	}
	as.Lock()
	defer as.Unlock()

	pages := util.Roundup(length, PGSIZE) / PGSIZE
	start := addr
	if start == 0 {
		start = USERMIN
	}
	start = util.Rounddown32(start, PGSIZE)
	if start < USERMIN {
		start = USERMIN
	}

	free, ok := as.Regions.Empty(start, pages)
	if !ok {
		return 0, errno.ENOMEM
	}

	vma := &VMA{
		Start:   free,
		Pages:   pages,
		Mtype:   mt,
		Perms:   perms &^ (PTE_P | PTE_A | PTE_D | PTE_COW | PTE_WASCOW),
		Source:  src,
		FileOff: foff,
		Shared:  shared,
	}
	as.Regions.Insert(vma)
	return free, 0
}

// Munmap removes the mapping that starts exactly at addr: a partial-region
// unmap is rejected with EINVAL rather than silently splitting the VMA.
func (as *AddressSpace) Munmap(addr uint32, length int) errno.Errno {
	as.Lock()
	defer as.Unlock()

	vma, ok := as.Regions.Remove(addr)
	if !ok {
		return errno.EINVAL
	}
	pages := util.Roundup(length, PGSIZE) / PGSIZE
	if pages != vma.Pages {
		// put it back; the design requires the whole region match exactly
		as.Regions.Insert(vma)
		return errno.EINVAL
	}
	for pg := 0; pg < vma.Pages; pg++ {
		va := vma.Start + uint32(pg)*PGSIZE
		if as.removePTE(va) {
			as.Tlbshoot(va, 1)
		}
	}
	return 0
}
