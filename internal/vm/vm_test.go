package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/mem"
	"github.com/mentos32/kernel/internal/vm"
)

func newAllocator(t *testing.T) *mem.Allocator {
	t.Helper()
	return mem.NewAllocator(256, 64)
}

func newAS(t *testing.T) (*vm.AddressSpace, func()) {
	t.Helper()
	alloc := newAllocator(t)
	as, err := vm.New(alloc)
	require.True(t, err.Ok())
	return as, func() {}
}

func TestMmapThenReadFaultsInAReadOnlyAnonPage(t *testing.T) {
	as, _ := newAS(t)

	addr, err := as.Mmap(0, 4096, vm.PTE_U|vm.PTE_W, vm.VAnon, nil, 0, false)
	require.True(t, err.Ok())

	err = as.PageFault(addr, vm.FaultKind{Write: false, User: true})
	require.True(t, err.Ok())

	pte, ok := as.PTEAt(addr)
	require.True(t, ok)
	assert.NotZero(t, pte&vm.PTE_P)
	assert.Zero(t, pte&vm.PTE_W, "first-touch read of anon region must stay read-only/CoW")
}

func TestGuardRegionFaultsEFAULT(t *testing.T) {
	as, _ := newAS(t)
	addr, err := as.Mmap(0, 4096, 0, vm.VAnon, nil, 0, false)
	require.True(t, err.Ok())

	ferr := as.PageFault(addr, vm.FaultKind{Write: false, User: true})
	assert.Equal(t, errno.EFAULT, ferr)
}

func TestWriteToReadOnlyRegionFaultsEFAULT(t *testing.T) {
	as, _ := newAS(t)
	addr, err := as.Mmap(0, 4096, vm.PTE_U, vm.VAnon, nil, 0, false)
	require.True(t, err.Ok())

	ferr := as.PageFault(addr, vm.FaultKind{Write: true, User: true})
	assert.Equal(t, errno.EFAULT, ferr)
}

func TestMunmapRequiresExactRange(t *testing.T) {
	as, _ := newAS(t)
	addr, err := as.Mmap(0, 8192, vm.PTE_U|vm.PTE_W, vm.VAnon, nil, 0, false)
	require.True(t, err.Ok())

	// wrong length: region must match exactly
	assert.Equal(t, errno.EINVAL, as.Munmap(addr, 4096))

	// correct length succeeds and is idempotent-safe to re-check
	assert.True(t, as.Munmap(addr, 8192).Ok())
	assert.Equal(t, errno.EINVAL, as.Munmap(addr, 8192), "double unmap of the same range fails")
}

func TestCloneIsolatesWrites(t *testing.T) {
	as, _ := newAS(t)
	addr, err := as.Mmap(0, 4096, vm.PTE_U|vm.PTE_W, vm.VAnon, nil, 0, false)
	require.True(t, err.Ok())
	require.True(t, as.PageFault(addr, vm.FaultKind{Write: true, User: true}).Ok())

	child, err := as.Clone()
	require.True(t, err.Ok())

	// both sides see the CoW mapping read-only until they write again
	ppte, _ := as.PTEAt(addr)
	cpte, _ := child.PTEAt(addr)
	assert.NotZero(t, ppte&vm.PTE_COW)
	assert.NotZero(t, cpte&vm.PTE_COW)
	assert.Equal(t, ppte&vm.PTE_ADDR, cpte&vm.PTE_ADDR, "clone must share the same frame until written")

	require.True(t, child.PageFault(addr, vm.FaultKind{Write: true, User: true}).Ok())

	ppte2, _ := as.PTEAt(addr)
	cpte2, _ := child.PTEAt(addr)
	assert.NotEqual(t, ppte2&vm.PTE_ADDR, cpte2&vm.PTE_ADDR, "writing in the child must not perturb the parent's frame")
}

func TestCloneSoleOwnerClaimsInsteadOfCopying(t *testing.T) {
	as, _ := newAS(t)
	addr, err := as.Mmap(0, 4096, vm.PTE_U|vm.PTE_W, vm.VAnon, nil, 0, false)
	require.True(t, err.Ok())
	require.True(t, as.PageFault(addr, vm.FaultKind{Write: true, User: true}).Ok())

	// After a clone the child writes first and takes a private copy, so the
	// parent's CoW frame is uniquely referenced again. The parent's write
	// fault should claim ownership rather than allocate a new frame.
	child, err := as.Clone()
	require.True(t, err.Ok())
	require.True(t, child.PageFault(addr, vm.FaultKind{Write: true, User: true}).Ok())
	pteBefore, _ := as.PTEAt(addr)
	require.NotZero(t, pteBefore&vm.PTE_COW)

	require.True(t, as.PageFault(addr, vm.FaultKind{Write: true, User: true}).Ok())
	pteAfter, _ := as.PTEAt(addr)
	assert.Equal(t, pteBefore&vm.PTE_ADDR, pteAfter&vm.PTE_ADDR)
	assert.NotZero(t, pteAfter&vm.PTE_W)
}
