// Package bootinfo models the boot-info structure the bootloader hands
// the kernel at startup: kernel load addresses, the initial stack, and
// the physical memory map. It is grounded in mem/dmap.go's Dmap_init,
// which probes CPU and physical-memory facts (page-size support, global
// pages) at boot before the rest of the kernel trusts them; bootinfo
// generalizes that one-shot probe into a data structure the rest of
// this kernel can consult.
package bootinfo

import "github.com/mentos32/kernel/internal/mem"

// MemRegionKind classifies one entry of the physical memory map, mirroring
// the E820-style ram/reserved split real bootloaders report.
type MemRegionKind int

const (
	RegionRAM MemRegionKind = iota
	RegionReserved
)

// MemRegion is one contiguous range of the physical memory map.
type MemRegion struct {
	Start mem.Pa_t
	Len   uint32
	Kind  MemRegionKind
}

// BootInfo is the handoff structure passed from bootloader to kernel.
type BootInfo struct {
	KernelStartVA, KernelEndVA uint32
	KernelStartPA, KernelEndPA mem.Pa_t
	StackEnd                   uint32
	MemMap                     []MemRegion
}

// TotalRAM sums the length of every RegionRAM entry in the memory map,
// the figure the physical frame allocator is sized from.
func (b *BootInfo) TotalRAM() uint32 {
	var total uint32
	for _, r := range b.MemMap {
		if r.Kind == RegionRAM {
			total += r.Len
		}
	}
	return total
}

// New builds a BootInfo describing a flat memory layout: the kernel
// occupying [0, kernelEnd), and the rest of ramPages pages of RAM
// available to the frame allocator. This stands in for the real
// bootloader-supplied structure, since this kernel is simulated rather
// than booted.
func New(kernelEnd uint32, ramPages int) *BootInfo {
	total := uint32(ramPages) * mem.PGSIZE
	return &BootInfo{
		KernelStartVA: 0,
		KernelEndVA:   kernelEnd,
		KernelStartPA: 0,
		KernelEndPA:   mem.Pa_t(kernelEnd),
		StackEnd:      kernelEnd,
		MemMap: []MemRegion{
			{Start: 0, Len: kernelEnd, Kind: RegionReserved},
			{Start: mem.Pa_t(kernelEnd), Len: total - kernelEnd, Kind: RegionRAM},
		},
	}
}
