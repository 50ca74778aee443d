// Package elf loads ELF32 executables and resolves "#!" interpreter
// scripts into a runnable process image.
//
// ELF parsing itself is done with the standard library's debug/elf, the
// same choice two independent examples in the retrieval pack make
// (gokvm's machine.Load and an eBPF loader) rather than hand-rolling a
// parser; the loading strategy below — read each PT_LOAD segment's file
// bytes, then lay them into the target address space, zero-filling the
// difference between Filesz and Memsz for bss — mirrors gokvm's own
// Progs/ReadAt loop.
package elf

import (
	stdelf "debug/elf"
	"io"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/vfs"
	"github.com/mentos32/kernel/internal/vm"
)

// Image describes a loaded ELF32 executable's entry point and initial
// program break, the two facts proc.Exec needs to finish building the
// process image (argv/envp go above the stack, the break starts at
// BreakStart).
type Image struct {
	Entry      uint32
	BreakStart uint32
}

// readerAt adapts a vfs.File (pread-style Read(p, off)) to io.ReaderAt, the
// interface debug/elf.NewFile requires.
type readerAt struct {
	f vfs.File
}

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.f.Read(p, off)
	if !err.Ok() {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Load maps an ELF32 executable's PT_LOAD segments into as, starting from
// a freshly created address space (the caller is responsible for calling
// vm.New beforehand and discarding it on error). It returns the entry
// point and the address immediately past the highest loaded segment
// (BreakStart, the initial program break for a later sbrk-style growth,
// which this kernel doesn't otherwise implement but which exec's caller
// may want to record).
func Load(as *vm.AddressSpace, f vfs.File) (Image, errno.Errno) {
	ef, ferr := stdelf.NewFile(readerAt{f})
	if ferr != nil {
		return Image{}, errno.ENOEXEC
	}
	defer ef.Close()

	if ef.Class != stdelf.ELFCLASS32 {
		return Image{}, errno.ENOEXEC
	}
	if ef.Type != stdelf.ET_EXEC {
		return Image{}, errno.ENOEXEC
	}

	var brk uint32
	for _, p := range ef.Progs {
		if p.Type != stdelf.PT_LOAD {
			continue
		}
		if p.Memsz == 0 {
			continue
		}

		perms := vm.PTE_U
		if p.Flags&stdelf.PF_W != 0 {
			perms |= vm.PTE_W
		}

		start := alignDown(uint32(p.Vaddr), vm.PGSIZE)
		end := alignUp(uint32(p.Vaddr+p.Memsz), vm.PGSIZE)
		length := int(end - start)

		addr, merr := as.Mmap(start, length, perms, vm.VAnon, nil, 0, false)
		if !merr.Ok() {
			return Image{}, merr
		}
		if addr != start {
			// the loader requires fixed placement for ELF segments;
			// overlap with an existing mapping means a malformed or
			// hostile image
			return Image{}, errno.ENOEXEC
		}

		data := make([]byte, p.Filesz)
		if _, rerr := p.ReadAt(data, 0); rerr != nil && rerr != io.EOF {
			return Image{}, errno.EIO
		}
		if err := as.WriteAt(uint32(p.Vaddr), data); !err.Ok() {
			return Image{}, err
		}

		if end > brk {
			brk = end
		}
	}

	return Image{Entry: uint32(ef.Entry), BreakStart: brk}, 0
}

func alignUp(v, to uint32) uint32 {
	return (v + to - 1) &^ (to - 1)
}

func alignDown(v, to uint32) uint32 {
	return v &^ (to - 1)
}
