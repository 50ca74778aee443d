package mem_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/mem"
)

func TestAllocPagesZeroed(t *testing.T) {
	a := mem.NewAllocator(8, 2)

	pa, err := a.AllocPages(mem.PoolUser, 0)
	require.True(t, err.Ok())
	assert.Equal(t, 1, a.Refcnt(pa))

	frame := a.Frame(pa)
	frame[0] = 0xff
	assert.Equal(t, 5, a.Free(mem.PoolUser))

	require.True(t, a.Refdown(pa))
	again, err := a.AllocPages(mem.PoolUser, 0)
	require.True(t, err.Ok())
	assert.Equal(t, pa, again, "the freed frame is handed out again")
	assert.Equal(t, byte(0), a.Frame(again)[0], "a reused frame comes back zeroed")
}

func TestAllocExhaustsPool(t *testing.T) {
	a := mem.NewAllocator(2, 1)

	_, err := a.AllocPages(mem.PoolUser, 0)
	require.True(t, err.Ok())

	_, err = a.AllocPages(mem.PoolUser, 0)
	assert.Equal(t, errno.ENOMEM, err)
}

func TestRefupRefdown(t *testing.T) {
	a := mem.NewAllocator(4, 0)

	pa, err := a.AllocPages(mem.PoolUser, 0)
	require.True(t, err.Ok())

	a.Refup(pa)
	assert.Equal(t, 2, a.Refcnt(pa))

	assert.False(t, a.Refdown(pa))
	assert.True(t, a.Refdown(pa))
	assert.Equal(t, 4, a.Free(mem.PoolUser))
}

func TestRefdownUnderflowPanics(t *testing.T) {
	a := mem.NewAllocator(1, 0)
	pa, _ := a.AllocPages(mem.PoolUser, 0)
	a.Refdown(pa)

	assert.Panics(t, func() { a.Refdown(pa) })
}

func TestKernelAndUserPoolsAreDisjoint(t *testing.T) {
	a := mem.NewAllocator(4, 2)
	assert.Equal(t, 2, a.Free(mem.PoolKernel))
	assert.Equal(t, 2, a.Free(mem.PoolUser))

	_, err := a.AllocPages(mem.PoolKernel, 0)
	require.True(t, err.Ok())
	assert.Equal(t, 1, a.Free(mem.PoolKernel))
	assert.Equal(t, 2, a.Free(mem.PoolUser))
}
