package vm

import (
	"sync"
	"sync/atomic"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/mem"
)

// USERMIN is the lowest virtual address the user portion of an address
// space may use, mirroring mem.USERMIN.
const USERMIN = uint32(0x00400000)

// USERMAX is the highest (exclusive) virtual address available to user
// mappings in this 32-bit address space.
const USERMAX = uint32(0xc0000000)

var nextPgdID uint64

// AddressSpace is a process's virtual address space: a page directory, its
// VMA list, and the lock protecting both, mirroring Vm_t.
type AddressSpace struct {
	sync.Mutex

	mem *mem.Allocator

	PgdirPA mem.Pa_t
	Regions RegionList

	pgdID uint64

	// alias records the CoW parent/child sharing relationship that a
	// real page table encodes by stashing a raw pointer to the sibling's
	// PTE inside a not-present PTE word. Go has no room to hide a live
	// pointer inside a uint32 PTE, so the alias is instead recorded here,
	// keyed by the child's (pgdID, va) pair, a tagged side table. The
	// page-fault handler does not consult it (see recordAlias).
	aliasMu sync.Mutex
	alias   map[uint64]map[uint32]*AddressSpace

	shoot int // TLB-invalidation counter, bumped by Tlbshoot; tests assert on it
}

// New allocates a fresh address space backed by a with an empty page
// directory and no VMAs.
func New(a *mem.Allocator) (*AddressSpace, errno.Errno) {
	pa, err := a.AllocPages(mem.PoolKernel, 0)
	if !err.Ok() {
		return nil, err
	}
	id := atomic.AddUint64(&nextPgdID, 1)
	return &AddressSpace{
		mem:     a,
		PgdirPA: pa,
		pgdID:   id,
		alias:   make(map[uint64]map[uint32]*AddressSpace),
	}, 0
}

// ID returns the address space's unique identifier, used to key CoW alias
// entries across address spaces.
func (as *AddressSpace) ID() uint64 { return as.pgdID }

func (as *AddressSpace) pgdir() []byte { return as.mem.Frame(as.PgdirPA) }

// walk finds the page-table entry for va, allocating intermediate page
// tables as needed when create is true. It returns the frame holding the
// leaf PTE and the index into it.
func (as *AddressSpace) walk(va uint32, create bool) (frame []byte, idx int, ok errno.Errno) {
	pdx := PDX(va)
	pde := readPTE(as.pgdir(), pdx)
	var ptPA mem.Pa_t
	if pde&PTE_P == 0 {
		if !create {
			return nil, 0, errno.ENOMEM
		}
		pa, err := as.mem.AllocPages(mem.PoolKernel, 0)
		if !err.Ok() {
			return nil, 0, err
		}
		ptPA = pa
		writePTE(as.pgdir(), pdx, PTE(pa)|PTE_P|PTE_W|PTE_U)
	} else {
		ptPA = mem.Pa_t(pde & PTE_ADDR)
	}
	return as.mem.Frame(ptPA), PTX(va), 0
}

// PTEAt returns the current PTE value mapping va, and whether the entry
// exists at all (its page table has been allocated).
func (as *AddressSpace) PTEAt(va uint32) (PTE, bool) {
	pdx := PDX(va)
	pde := readPTE(as.pgdir(), pdx)
	if pde&PTE_P == 0 {
		return 0, false
	}
	ptFrame := as.mem.Frame(mem.Pa_t(pde & PTE_ADDR))
	return readPTE(ptFrame, PTX(va)), true
}

// insertPTE maps va to phys with perms. When owned is true, phys's current
// refcount (1, the caller's freshly-allocated ownership reference) is left
// as-is and simply transferred into the mapping; when false, phys is
// already mapped elsewhere (the zero page, a reused shared-file page, a
// CoW sibling) and Refup is called to account for the new mapping. It
// returns whether an existing present mapping was replaced (requiring a
// TLB shootdown), mirroring Page_insert/Blockpage_insert
// (refup bool parameter) and _page_insert.
func (as *AddressSpace) insertPTE(va uint32, phys mem.Pa_t, perms PTE, owned bool) (shoot bool, rerr errno.Errno) {
	frame, idx, err := as.walk(va, true)
	if !err.Ok() {
		return false, err
	}
	if !owned {
		as.mem.Refup(phys)
	}
	old := readPTE(frame, idx)
	if old&PTE_P != 0 {
		as.mem.Refdown(mem.Pa_t(old & PTE_ADDR))
		shoot = true
	}
	writePTE(frame, idx, PTE(phys)|perms|PTE_P)
	return shoot, 0
}

// removePTE unmaps va, dropping the reference on whatever frame was mapped
// there. It returns whether a mapping was actually removed.
func (as *AddressSpace) removePTE(va uint32) bool {
	pdx := PDX(va)
	pde := readPTE(as.pgdir(), pdx)
	if pde&PTE_P == 0 {
		return false
	}
	frame := as.mem.Frame(mem.Pa_t(pde & PTE_ADDR))
	pte := readPTE(frame, PTX(va))
	if pte&PTE_P == 0 {
		return false
	}
	as.mem.Refdown(mem.Pa_t(pte & PTE_ADDR))
	writePTE(frame, PTX(va), 0)
	return true
}

// Tlbshoot records that pgcount pages starting at va must be invalidated on
// any CPU using this address space. This hosted kernel has one simulated
// CPU and no real TLB, so Tlbshoot only maintains the counter tests assert
// on; real Tlbshoot instead sends an IPI (tlb_shootdown) or
// takes the fast Condflush path when it is the only sharer.
func (as *AddressSpace) Tlbshoot(va uint32, pgcount int) {
	if pgcount == 0 {
		return
	}
	as.shoot += pgcount
}

// ShootCount returns the running count of pages invalidated via Tlbshoot,
// for tests.
func (as *AddressSpace) ShootCount() int { return as.shoot }

// Free releases every user page table and frame owned by this address
// space, mirroring Uvmfree.
func (as *AddressSpace) Free() {
	for _, v := range as.Regions.All() {
		for pg := 0; pg < v.Pages; pg++ {
			as.removePTE(v.Start + uint32(pg)*PGSIZE)
		}
	}
	as.Regions.Clear()
	for pdx := 0; pdx < entriesPerTable; pdx++ {
		pde := readPTE(as.pgdir(), pdx)
		if pde&PTE_P != 0 {
			as.mem.FreePages(mem.Pa_t(pde & PTE_ADDR))
		}
	}
	as.mem.FreePages(as.PgdirPA)
}
