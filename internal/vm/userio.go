package vm

import (
	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/mem"
)

// WriteAt copies data into the user mapping starting at va, faulting in
// (and allocating) any page that is not yet present. It is the loader's
// way of depositing an ELF segment's file contents into a freshly
// mmap'd region, mirroring K2user_inner used to copy exec
// arguments onto the user stack.
func (as *AddressSpace) WriteAt(va uint32, data []byte) errno.Errno {
	for len(data) > 0 {
		pageVA := va &^ uint32(PGOFFSET)
		off := int(va - pageVA)

		pte, ok := as.PTEAt(pageVA)
		if !ok || pte&PTE_P == 0 || pte&PTE_W == 0 {
			// The kernel also fills non-writable regions (an ELF text
			// segment), so the fault is taken as a write to a writable
			// region; a shared CoW frame is copied before it is written.
			as.Lock()
			vma, found := as.Regions.Lookup(pageVA)
			err := errno.EFAULT
			if found && vma.Perms != 0 {
				perms := vma.Perms
				vma.Perms |= PTE_W
				err = as.pageFaultLocked(vma, pageVA, FaultKind{Write: true, User: true})
				vma.Perms = perms
			}
			as.Unlock()
			if !err.Ok() {
				return err
			}
			pte, _ = as.PTEAt(pageVA)
		}

		frame := as.mem.Frame(mem.Pa_t(pte & PTE_ADDR))
		n := copy(frame[off:], data)
		data = data[n:]
		va += uint32(n)
	}
	return 0
}

// ReadAt copies len(dst) bytes out of the user mapping starting at va,
// returning EFAULT if any touched page is unmapped. It mirrors
// User2k_inner.
func (as *AddressSpace) ReadAt(va uint32, dst []byte) errno.Errno {
	for len(dst) > 0 {
		pageVA := va &^ uint32(PGOFFSET)
		off := int(va - pageVA)

		pte, ok := as.PTEAt(pageVA)
		if !ok || pte&PTE_P == 0 {
			return errno.EFAULT
		}
		frame := as.mem.Frame(mem.Pa_t(pte & PTE_ADDR))
		n := copy(dst, frame[off:])
		dst = dst[n:]
		va += uint32(n)
	}
	return 0
}
