package elf_test

import (
	"bytes"
	stdelf "debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentos32/kernel/internal/elf"
	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/mem"
	"github.com/mentos32/kernel/internal/vfs"
	"github.com/mentos32/kernel/internal/vfs/memfs"
	"github.com/mentos32/kernel/internal/vm"
)

// buildELF32 assembles a minimal, valid ELF32 EXEC file with a single
// PT_LOAD segment containing payload, loaded at vaddr.
func buildELF32(t *testing.T, vaddr uint32, payload []byte) []byte {
	t.Helper()

	const ehsize = 52
	const phsize = 32

	var buf bytes.Buffer
	hdr := stdelf.Header32{
		Ident: [stdelf.EI_NIDENT]byte{
			0x7f, 'E', 'L', 'F',
			byte(stdelf.ELFCLASS32), byte(stdelf.ELFDATA2LSB), byte(stdelf.EV_CURRENT), 0,
		},
		Type:      uint16(stdelf.ET_EXEC),
		Machine:   uint16(stdelf.EM_386),
		Version:   uint32(stdelf.EV_CURRENT),
		Entry:     vaddr,
		Phoff:     ehsize,
		Shoff:     0,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     1,
		Shentsize: 0,
		Shnum:     0,
		Shstrndx:  0,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, hdr))

	prog := stdelf.Prog32{
		Type:   uint32(stdelf.PT_LOAD),
		Off:    ehsize + phsize,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint32(len(payload)),
		Memsz:  uint32(len(payload)) + 4096, // extra bss
		Flags:  uint32(stdelf.PF_R | stdelf.PF_X),
		Align:  4096,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, prog))
	buf.Write(payload)
	return buf.Bytes()
}

func TestLoadMapsSegmentAndZeroFillsBSS(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	vaddr := uint32(0x08048000)
	raw := buildELF32(t, vaddr, payload)

	fs := memfs.New()
	fs.WriteFile("/bin/a.out", raw, vfs.ModeRegular|vfs.ModeExecAll, 0, 0)
	f, err := fs.Open("/bin/a.out")
	require.True(t, err.Ok())

	alloc := mem.NewAllocator(256, 64)
	as, verr := vm.New(alloc)
	require.True(t, verr.Ok())

	img, lerr := elf.Load(as, f)
	require.True(t, lerr.Ok())
	assert.Equal(t, vaddr, img.Entry)
	assert.Greater(t, img.BreakStart, vaddr)

	got := make([]byte, len(payload))
	require.True(t, as.ReadAt(vaddr, got).Ok())
	assert.Equal(t, payload, got)

	bss := make([]byte, 16)
	require.True(t, as.ReadAt(vaddr+uint32(len(payload)), bss).Ok())
	for _, b := range bss {
		assert.Zero(t, b)
	}
}

type scriptFile struct {
	data []byte
}

func (s scriptFile) Read(p []byte, off int64) (int, errno.Errno) {
	if off >= int64(len(s.data)) {
		return 0, 0
	}
	n := copy(p, s.data[off:])
	return n, 0
}
func (s scriptFile) Stat() (vfs.Stat, errno.Errno) { return vfs.Stat{}, 0 }
func (s scriptFile) Close() errno.Errno            { return 0 }

func TestResolveInterpreterSingleLevel(t *testing.T) {
	files := map[string]vfs.File{
		"/usr/bin/python3": scriptFile{data: []byte("not a script")},
		"/home/x/run.py":   scriptFile{data: []byte("#!/usr/bin/python3 -u\nprint(1)\n")},
	}
	open := func(path string) (vfs.File, errno.Errno) {
		f, ok := files[path]
		if !ok {
			return nil, errno.ENOENT
		}
		return f, 0
	}

	tail, resolved, err := elf.ResolveInterpreter(open, "/home/x/run.py")
	require.True(t, err.Ok())
	assert.Equal(t, "/usr/bin/python3", resolved)
	assert.Equal(t, []string{"-u", "/home/x/run.py"}, tail)
}

func TestResolveInterpreterNestedELOOP(t *testing.T) {
	files := map[string]vfs.File{}
	for i := 0; i < 10; i++ {
		files[path(i)] = scriptFile{data: []byte("#!" + path(i+1) + "\n")}
	}
	open := func(p string) (vfs.File, errno.Errno) {
		f, ok := files[p]
		if !ok {
			return nil, errno.ENOENT
		}
		return f, 0
	}

	_, _, err := elf.ResolveInterpreter(open, path(0))
	assert.Equal(t, errno.ELOOP, err)
}

func TestResolveInterpreterNoShebangIsIdentity(t *testing.T) {
	files := map[string]vfs.File{"/bin/a.out": scriptFile{data: []byte{0x7f, 'E', 'L', 'F'}}}
	open := func(p string) (vfs.File, errno.Errno) { return files[p], 0 }

	tail, resolved, err := elf.ResolveInterpreter(open, "/bin/a.out")
	require.True(t, err.Ok())
	assert.Empty(t, tail)
	assert.Equal(t, "/bin/a.out", resolved)
}

func path(i int) string {
	return "/scripts/s" + string(rune('a'+i))
}
