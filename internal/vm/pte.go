// Package vm implements the two-level 32-bit page table walker, the
// per-address-space VMA list, mmap/munmap, and the page-fault handler.
//
// It is adapted from vm/as.go (Vm_t, Vmregion_t, Sys_pgfault,
// Page_insert/Page_remove) and mem/mem.go's PTE_* bit constants, reduced
// from four-level x86-64 walk to the two-level 32-bit walk
// the design targets: a page directory of 1024 entries, each pointing to a
// page table of 1024 entries, each page table entry mapping one 4KiB page.
package vm

import (
	"encoding/binary"

	"github.com/mentos32/kernel/internal/mem"
)

// PTE is a raw 32-bit page-table (or page-directory) entry.
type PTE uint32

// PTE bit flags, matching mem.PTE_* constants.
const (
	PTE_P    PTE = 1 << 0 // present
	PTE_W    PTE = 1 << 1 // writable
	PTE_U    PTE = 1 << 2 // user-accessible
	PTE_A    PTE = 1 << 5 // accessed
	PTE_D    PTE = 1 << 6 // dirty
	PTE_PS   PTE = 1 << 7 // large page (unused at 4KiB granularity)
	PTE_G    PTE = 1 << 8 // global

	// Available-to-software bits (bits 9-11 on real x86, never interpreted
	// by hardware). One is overloaded for PTE_COW and a second for
	// PTE_WASCOW (diagnostic: "this page was copy-on-write and was
	// resolved by claiming sole ownership rather than copying").
	PTE_COW    PTE = 1 << 9
	PTE_WASCOW PTE = 1 << 10
)

// PTE_ADDR masks off the flag bits, leaving the physical frame address.
const PTE_ADDR PTE = ^PTE(mem.PGOFFSET)

const (
	PGSHIFT = mem.PGSHIFT
	PGSIZE  = mem.PGSIZE
	// PGOFFSET masks the in-page offset of a virtual address.
	PGOFFSET = mem.PGOFFSET
)

// Number of entries in a page directory or page table at 4-byte PTEs.
const entriesPerTable = PGSIZE / 4

// PDX returns the page-directory index of a 32-bit virtual address.
func PDX(va uint32) int { return int(va>>22) & 0x3ff }

// PTX returns the page-table index of a 32-bit virtual address.
func PTX(va uint32) int { return int(va>>12) & 0x3ff }

func readPTE(frame []byte, idx int) PTE {
	return PTE(binary.LittleEndian.Uint32(frame[idx*4:]))
}

func writePTE(frame []byte, idx int, v PTE) {
	binary.LittleEndian.PutUint32(frame[idx*4:], uint32(v))
}
