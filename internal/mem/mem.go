// Package mem implements the kernel's physical frame allocator.
//
// It is adapted from Physmem_t (mem/mem.go): a free-list of
// reference-counted physical page descriptors. That allocator hands out
// direct-mapped pointers into real physical RAM via unsafe; since
// this kernel is never built against real hardware, Allocator instead owns
// a plain []byte arena (RAM) and hands out offsets into it.
package mem

import (
	"sync"
	"sync/atomic"

	"github.com/mentos32/kernel/internal/errno"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single page frame in bytes.
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks the in-page offset of an address.
const PGOFFSET = PGSIZE - 1

// Pa_t is a 32-bit physical address (the design targets 32-bit protected mode).
type Pa_t uint32

// PFN returns the page frame number of a physical address.
func (p Pa_t) PFN() uint32 { return uint32(p) >> PGSHIFT }

// Pool distinguishes the kernel and user (high-mem) allocation pools per
// .
type Pool int

const (
	PoolKernel Pool = iota
	PoolUser
)

// Physpg_t is one physical-frame descriptor: ref count and free-list
// linkage, mirroring Physpg_t.
type Physpg_t struct {
	Refcnt int32
	nexti  uint32
	pool   Pool
}

const nilIdx = ^uint32(0)

// Allocator is the kernel's physical frame allocator: a free list over a
// fixed-size descriptor table, guarded by a single mutex (: "the
// physical frame allocator ... hold[s] internal locks").
type Allocator struct {
	mu sync.Mutex

	RAM []byte // simulated physical memory; len(RAM)/PGSIZE frames

	pgs    []Physpg_t
	freei  uint32
	freeN  int
	kfreei uint32
	kfreeN int

	zeroOnce sync.Once
	zeroPA   Pa_t
}

// ZeroPage returns the address of a single, permanently-zero, shared
// physical frame, allocating it lazily on first use. It mirrors
// mem.P_zeropg: every private anonymous VMA's first-touch read
// maps this same frame CoW rather than allocating a fresh zeroed page per
// mapping.
func (a *Allocator) ZeroPage() (Pa_t, errno.Errno) {
	var allocErr errno.Errno
	a.zeroOnce.Do(func() {
		pa, err := a.AllocPages(PoolKernel, 0)
		if !err.Ok() {
			allocErr = err
			return
		}
		a.zeroPA = pa
	})
	if !allocErr.Ok() {
		return 0, allocErr
	}
	return a.zeroPA, 0
}

// NewAllocator builds an allocator over npages frames, splitting the low
// kernelPages frames into the kernel pool and the rest into the user pool.
func NewAllocator(npages, kernelPages int) *Allocator {
	if kernelPages > npages {
		kernelPages = npages
	}
	a := &Allocator{
		RAM:    make([]byte, npages*PGSIZE),
		pgs:    make([]Physpg_t, npages),
		freei:  nilIdx,
		kfreei: nilIdx,
	}
	for i := npages - 1; i >= 0; i-- {
		if i < kernelPages {
			a.pgs[i].pool = PoolKernel
			a.pgs[i].nexti = a.kfreei
			a.kfreei = uint32(i)
			a.kfreeN++
		} else {
			a.pgs[i].pool = PoolUser
			a.pgs[i].nexti = a.freei
			a.freei = uint32(i)
			a.freeN++
		}
	}
	return a
}

// NPages returns the total number of frames managed by the allocator.
func (a *Allocator) NPages() int { return len(a.pgs) }

// Free reports the number of unallocated frames in the given pool.
func (a *Allocator) Free(pool Pool) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pool == PoolKernel {
		return a.kfreeN
	}
	return a.freeN
}

// AllocPages allocates a single zeroed frame from the given pool. order is
// reserved for a buddy-style multi-page allocation ( mentions
// "buddy-order bits"); this allocator only services order==0 requests, the
// only size the rest of the kernel ever requests.
//
// A freshly-allocated frame's descriptor always has ref count 1, per
// .
func (a *Allocator) AllocPages(pool Pool, order int) (Pa_t, errno.Errno) {
	if order != 0 {
		return 0, errno.EINVAL
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	fl, cnt := &a.freei, &a.freeN
	if pool == PoolKernel {
		fl, cnt = &a.kfreei, &a.kfreeN
	}
	idx := *fl
	if idx == nilIdx {
		return 0, errno.ENOMEM
	}
	*fl = a.pgs[idx].nexti
	*cnt--
	a.pgs[idx].Refcnt = 1

	pa := Pa_t(idx) << PGSHIFT
	zero(a.frame(pa))
	return pa, 0
}

// FreePages releases a frame back to its pool. It panics if the frame was
// already free, mirroring refcount-underflow panics.
func (a *Allocator) FreePages(pa Pa_t) {
	if a.Refdown(pa) {
		return
	}
}

// Refup increments a frame's reference count (taken when a CoW mapping is
// shared into a second address space).
func (a *Allocator) Refup(pa Pa_t) {
	idx := pa.PFN()
	c := atomic.AddInt32(&a.pgs[idx].Refcnt, 1)
	if c <= 1 {
		panic("mem: refup on unreferenced frame")
	}
}

// Refcnt returns a frame's current reference count.
func (a *Allocator) Refcnt(pa Pa_t) int {
	idx := pa.PFN()
	return int(atomic.LoadInt32(&a.pgs[idx].Refcnt))
}

// Refdown decrements a frame's reference count, returning the frame to its
// pool's free list once the count reaches zero. It returns true when the
// frame was freed.
func (a *Allocator) Refdown(pa Pa_t) bool {
	idx := pa.PFN()
	c := atomic.AddInt32(&a.pgs[idx].Refcnt, -1)
	if c < 0 {
		panic("mem: refcount underflow")
	}
	if c != 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	pool := a.pgs[idx].pool
	fl, cnt := &a.freei, &a.freeN
	if pool == PoolKernel {
		fl, cnt = &a.kfreei, &a.kfreeN
	}
	a.pgs[idx].nexti = *fl
	*fl = idx
	*cnt++
	return true
}

// PhysOf returns the physical address backing the frame at index idx; it
// exists to satisfy the collaborator contract in  alongside
// PageOfPhys, even though this allocator has no separate "page*" handle
// type distinct from Pa_t.
func (a *Allocator) PhysOf(pa Pa_t) Pa_t { return pa }

// PageOfPhys is the identity counterpart to PhysOf.
func (a *Allocator) PageOfPhys(pa Pa_t) Pa_t { return pa }

// frame returns the byte slice backing the page at pa.
func (a *Allocator) frame(pa Pa_t) []byte {
	off := int(pa)
	return a.RAM[off : off+PGSIZE]
}

// Frame exposes the backing bytes of a physical frame for callers outside
// this package (the vm package's page-table walker and the VMA fault
// handler read/write frame contents directly, the way the original
// Dmap/Dmap8 give direct access to physical pages).
func (a *Allocator) Frame(pa Pa_t) []byte { return a.frame(pa) }

// VirtOf returns the identity mapping of a physical address for the
// identity-mapped low region (); this allocator has no
// separate virtual kernel address space, so VirtOf is the identity
// function reinterpreted as an offset into RAM.
func (a *Allocator) VirtOf(pa Pa_t) uintptr { return uintptr(pa) }

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
