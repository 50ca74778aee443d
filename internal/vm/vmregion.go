package vm

import "sort"

// Mtype classifies the backing store of a VMA, mirroring the original
// mtype_t (VANON/VFILE/VSANON).
type Mtype int

const (
	// VAnon is a private anonymous (zero-fill, copy-on-write) mapping.
	VAnon Mtype = iota
	// VFile is a file-backed mapping, private or shared.
	VFile
	// VShareAnon is a shared anonymous mapping (always mapped, never CoW).
	VShareAnon
)

// Source provides file-backed page contents for a VFile mapping. It stands
// in for fdops.Fdops_i + Vminfo_t.Filepage.
type Source interface {
	// ReadPage returns the bytes backing the page at the given byte offset
	// into the file, zero-padded to a full page if the file is shorter.
	ReadPage(off int64) ([]byte, error)
}

// VMA is one virtual memory area: a page-aligned, non-overlapping range of
// an address space's virtual address space, with its backing type and
// permissions. It mirrors Vminfo_t.
type VMA struct {
	Start uint32 // page-aligned start VA
	Pages int    // length in pages

	Mtype Mtype
	Perms PTE // only PTE_U / PTE_W are meaningful here; 0 means a guard region

	Source    Source
	FileOff   int64
	Shared    bool
}

// End returns the (exclusive) end virtual address of the region.
func (v *VMA) End() uint32 { return v.Start + uint32(v.Pages)*PGSIZE }

// Contains reports whether va falls within this region.
func (v *VMA) Contains(va uint32) bool { return va >= v.Start && va < v.End() }

// RegionList is a sorted, non-overlapping list of VMAs belonging to one
// address space, mirroring Vmregion_t.
type RegionList struct {
	regions []*VMA
}

// Lookup returns the VMA containing va, if any.
func (r *RegionList) Lookup(va uint32) (*VMA, bool) {
	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].End() > va
	})
	if i < len(r.regions) && r.regions[i].Contains(va) {
		return r.regions[i], true
	}
	return nil, false
}

// Insert adds a new region, panicking if it overlaps an existing one (an
// invariant: the caller must have reserved the range first).
func (r *RegionList) Insert(v *VMA) {
	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].Start >= v.Start
	})
	if i > 0 && r.regions[i-1].End() > v.Start {
		panic("vm: overlapping region insert")
	}
	if i < len(r.regions) && v.End() > r.regions[i].Start {
		panic("vm: overlapping region insert")
	}
	r.regions = append(r.regions, nil)
	copy(r.regions[i+1:], r.regions[i:])
	r.regions[i] = v
}

// Remove deletes the region that starts exactly at start, returning false
// if no such region exists. This mirrors munmap's "exact region match"
// restriction in .
func (r *RegionList) Remove(start uint32) (*VMA, bool) {
	for i, v := range r.regions {
		if v.Start == start {
			r.regions = append(r.regions[:i], r.regions[i+1:]...)
			return v, true
		}
	}
	return nil, false
}

// Empty finds the lowest free range of at least n pages at or above
// startva, mirroring Vmregion_t.empty search used by
// Unusedva_inner/sys_mmap.
func (r *RegionList) Empty(startva uint32, n int) (uint32, bool) {
	need := uint32(n) * PGSIZE
	cur := startva
	for _, v := range r.regions {
		if v.End() <= cur {
			continue
		}
		if v.Start >= cur && v.Start-cur >= need {
			return cur, true
		}
		cur = v.End()
	}
	if ^uint32(0)-cur+1 >= need || cur+need > cur {
		return cur, true
	}
	return 0, false
}

// All returns every region in ascending address order. Used by fork's
// address-space clone and by Clear.
func (r *RegionList) All() []*VMA { return r.regions }

// Clear empties the region list, as Vmregion_t.Clear does
// when an address space is torn down.
func (r *RegionList) Clear() { r.regions = nil }

// Clone deep-copies the region list's VMA structs (not the underlying
// pages — mem_clone_vm_area in the vm package handles page-table cloning
// separately). Used by fork.
func (r *RegionList) Clone() *RegionList {
	out := &RegionList{regions: make([]*VMA, len(r.regions))}
	for i, v := range r.regions {
		cp := *v
		out.regions[i] = &cp
	}
	return out
}
