package vm

import (
	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/mem"
)

// FaultKind says which kind of access triggered a page fault, matching the
// ecode bits the decision table switches on.
type FaultKind struct {
	Write bool
	User  bool
}

// PageFault resolves a fault at va, implementing the VMA/permission
// decision table below. It mirrors Sys_pgfault: guard regions and
// writes to read-only regions fault with EFAULT; CoW writes either claim
// sole ownership of a uniquely-referenced frame or copy it; first-touch
// reads of anonymous regions map a shared zero page; first-touch reads or
// writes of file regions pull a page from the region's Source.
func (as *AddressSpace) PageFault(va uint32, fk FaultKind) errno.Errno {
	as.Lock()
	defer as.Unlock()

	vma, ok := as.Regions.Lookup(va)
	if !ok {
		return errno.EFAULT
	}
	return as.pageFaultLocked(vma, va, fk)
}

func (as *AddressSpace) pageFaultLocked(vma *VMA, va uint32, fk FaultKind) errno.Errno {
	isGuard := vma.Perms == 0
	writeOK := vma.Perms&PTE_W != 0
	if isGuard || (fk.Write && !writeOK) {
		return errno.EFAULT
	}
	if !fk.User {
		panic("vm: kernel page fault")
	}
	if vma.Mtype == VShareAnon {
		panic("vm: shared anon pages should always be mapped")
	}

	va = util32Rounddown(va)
	pte, exists := as.PTEAt(va)
	if exists && ((fk.Write && pte&PTE_WASCOW != 0) || (!fk.Write && pte&PTE_P != 0)) {
		// another fault already resolved this race
		return 0
	}

	var phys mem.Pa_t
	perms := PTE_U | PTE_P
	owned := true

	switch {
	case vma.Mtype == VFile && vma.Shared:
		p, err := as.pageFromSource(vma, va)
		if !err.Ok() {
			return err
		}
		phys = p
		if vma.Perms&PTE_W != 0 {
			perms |= PTE_W
		}

	case fk.Write:
		cow := exists && pte&PTE_COW != 0
		if cow {
			old := mem.Pa_t(pte & PTE_ADDR)
			if vma.Mtype == VAnon && as.mem.Refcnt(old) == 1 {
				as.claimCOW(va, pte)
				return 0
			}
			src := as.mem.Frame(old)
			p, err := as.mem.AllocPages(mem.PoolUser, 0)
			if !err.Ok() {
				return err
			}
			copy(as.mem.Frame(p), src)
			phys = p
		} else {
			switch vma.Mtype {
			case VAnon:
				p, err := as.mem.AllocPages(mem.PoolUser, 0)
				if !err.Ok() {
					return err
				}
				phys = p
			case VFile:
				p, err := as.pageFromSource(vma, va)
				if !err.Ok() {
					return err
				}
				nf, err2 := as.mem.AllocPages(mem.PoolUser, 0)
				if !err2.Ok() {
					return err2
				}
				copy(as.mem.Frame(nf), as.mem.Frame(p))
				as.mem.Refdown(p)
				phys = nf
			default:
				panic("vm: bad mtype")
			}
		}
		perms |= PTE_WASCOW | PTE_W

	default:
		switch vma.Mtype {
		case VAnon:
			// shared zero page, mapped read-only/CoW
			phys = as.zeroPage()
			owned = false
		case VFile:
			p, err := as.pageFromSource(vma, va)
			if !err.Ok() {
				return err
			}
			phys = p
		default:
			panic("vm: bad mtype")
		}
		if vma.Perms&PTE_W != 0 {
			perms |= PTE_COW
		}
	}

	if perms&PTE_W != 0 {
		perms |= PTE_D
	}
	perms |= PTE_A

	shoot, err := as.insertPTE(va, phys, perms, owned)
	if !err.Ok() {
		if owned {
			as.mem.FreePages(phys)
		}
		return err
	}
	if shoot {
		as.Tlbshoot(va, 1)
	}
	return 0
}

// claimCOW takes sole ownership of a uniquely-referenced CoW frame instead
// of copying it, mirroring fast path in Sys_pgfault.
func (as *AddressSpace) claimCOW(va uint32, pte PTE) {
	frame, idx, _ := as.walk(va, true)
	newPTE := pte &^ PTE_COW
	newPTE |= PTE_W | PTE_WASCOW
	writePTE(frame, idx, newPTE)
	as.Tlbshoot(va, 1)
}

func (as *AddressSpace) pageFromSource(vma *VMA, va uint32) (mem.Pa_t, errno.Errno) {
	if vma.Source == nil {
		return 0, errno.EFAULT
	}
	off := vma.FileOff + int64(va-vma.Start)
	data, ioerr := vma.Source.ReadPage(off)
	if ioerr != nil {
		return 0, errno.EIO
	}
	p, err := as.mem.AllocPages(mem.PoolUser, 0)
	if !err.Ok() {
		return 0, err
	}
	copy(as.mem.Frame(p), data)
	return p, 0
}

// zeroPage returns a single shared, always-zero physical frame used to
// back first-touch reads of anonymous VMAs, mirroring the original
// mem.P_zeropg.
func (as *AddressSpace) zeroPage() mem.Pa_t {
	pa, err := as.mem.ZeroPage()
	if !err.Ok() {
		panic("vm: cannot allocate the zero page")
	}
	return pa
}

func util32Rounddown(va uint32) uint32 {
	return va &^ uint32(PGOFFSET)
}
