package proc

import (
	"encoding/binary"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/vm"
)

// stackTop is the highest virtual address of the user stack region;
// stackPages is its fixed size. Both sit just below vm.USERMAX.
const (
	stackPages = 16
	stackTop   = vm.USERMAX - vm.PGSIZE // leave a guard page at the very top
)

// buildStack maps a fresh stack region in as and lays out argv/envp on it
// using the standard SysV i386 initial-stack layout: argc, then argv[]
// (NULL terminated), then envp[] (NULL terminated), with every string's
// bytes living above the pointer arrays. It returns the initial stack
// pointer, which on entry points at argc.
func buildStack(as *vm.AddressSpace, argv, envp []string) (uint32, errno.Errno) {
	base := uint32(stackTop - stackPages*vm.PGSIZE)
	addr, err := as.Mmap(base, stackPages*vm.PGSIZE, vm.PTE_U|vm.PTE_W, vm.VAnon, nil, 0, false)
	if !err.Ok() {
		return 0, err
	}
	if addr != base {
		return 0, errno.ENOMEM
	}

	cur := uint32(stackTop)
	strs := make([]string, 0, len(argv)+len(envp))
	strs = append(strs, argv...)
	strs = append(strs, envp...)
	ptrs := make([]uint32, len(strs))

	for i := len(strs) - 1; i >= 0; i-- {
		b := append([]byte(strs[i]), 0)
		cur -= uint32(len(b))
		if err := as.WriteAt(cur, b); !err.Ok() {
			return 0, err
		}
		ptrs[i] = cur
	}
	cur &^= 3 // 4-byte align the pointer arrays

	n, m := len(argv), len(envp)
	arrWords := 1 + (n + 1) + (m + 1) // argc, argv+NULL, envp+NULL
	cur -= uint32(arrWords * 4)
	if cur < base {
		return 0, errno.ENOMEM
	}
	sp := cur

	write32 := func(v uint32) errno.Errno {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		err := as.WriteAt(cur, b[:])
		cur += 4
		return err
	}
	if err := write32(uint32(n)); !err.Ok() {
		return 0, err
	}
	for i := 0; i < n; i++ {
		if err := write32(ptrs[i]); !err.Ok() {
			return 0, err
		}
	}
	if err := write32(0); !err.Ok() {
		return 0, err
	}
	for i := 0; i < m; i++ {
		if err := write32(ptrs[n+i]); !err.Ok() {
			return 0, err
		}
	}
	if err := write32(0); !err.Ok() {
		return 0, err
	}

	return sp, 0
}
