package debug_test

import (
	"bytes"
	stdelf "debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentos32/kernel/internal/debug"
)

// buildELFWithSymtab assembles a minimal, sectionless-otherwise ELF32 file
// carrying exactly one SHT_SYMTAB entry, name and value as given, so
// debug.LoadSymTable has something real to parse.
func buildELFWithSymtab(t *testing.T, name string, value uint32) []byte {
	t.Helper()
	const ehsize = 52
	const shentsize = 40
	const symsize = 16

	strtab := append([]byte{0}, append([]byte(name), 0)...)
	shstrtab := []byte("\x00.strtab\x00.symtab\x00.shstrtab\x00")

	var symtab bytes.Buffer
	require.NoError(t, binary.Write(&symtab, binary.LittleEndian, stdelf.Sym32{})) // null symbol
	require.NoError(t, binary.Write(&symtab, binary.LittleEndian, stdelf.Sym32{
		Name:  1, // offset of name within strtab
		Value: value,
		Info:  uint8(stdelf.STB_GLOBAL)<<4 | uint8(stdelf.STT_FUNC),
		Shndx: uint16(stdelf.SHN_ABS),
	}))

	strtabOff := uint32(ehsize)
	symtabOff := strtabOff + uint32(len(strtab))
	shstrtabOff := symtabOff + uint32(symtab.Len())
	shoff := shstrtabOff + uint32(len(shstrtab))

	var buf bytes.Buffer
	hdr := stdelf.Header32{
		Ident: [stdelf.EI_NIDENT]byte{
			0x7f, 'E', 'L', 'F',
			byte(stdelf.ELFCLASS32), byte(stdelf.ELFDATA2LSB), byte(stdelf.EV_CURRENT), 0,
		},
		Type:      uint16(stdelf.ET_EXEC),
		Machine:   uint16(stdelf.EM_386),
		Version:   uint32(stdelf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    ehsize,
		Shentsize: shentsize,
		Shnum:     4,
		Shstrndx:  3,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, hdr))
	buf.Write(strtab)
	buf.Write(symtab.Bytes())
	buf.Write(shstrtab)

	// section 0: SHT_NULL
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, stdelf.Section32{}))
	// section 1: .strtab
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, stdelf.Section32{
		Name: 1, Type: uint32(stdelf.SHT_STRTAB), Off: strtabOff, Size: uint32(len(strtab)),
	}))
	// section 2: .symtab, Link -> section 1 (.strtab)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, stdelf.Section32{
		Name: 9, Type: uint32(stdelf.SHT_SYMTAB), Off: symtabOff, Size: uint32(symtab.Len()),
		Link: 1, Entsize: symsize,
	}))
	// section 3: .shstrtab
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, stdelf.Section32{
		Name: 17, Type: uint32(stdelf.SHT_STRTAB), Off: shstrtabOff, Size: uint32(len(shstrtab)),
	}))

	return buf.Bytes()
}

func TestLoadSymTableDemanglesItaniumNames(t *testing.T) {
	raw := buildELFWithSymtab(t, "_Z3foov", 0x8048100)
	ef, err := stdelf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	defer ef.Close()

	tbl, lerr := debug.LoadSymTable(ef)
	require.NoError(t, lerr)

	name, _ := tbl.Lookup(0x8048100)
	assert.Equal(t, "foo()", name)
}

func TestLoadSymTablePassesThroughPlainNames(t *testing.T) {
	raw := buildELFWithSymtab(t, "main", 0x8048200)
	ef, err := stdelf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	defer ef.Close()

	tbl, lerr := debug.LoadSymTable(ef)
	require.NoError(t, lerr)

	name, _ := tbl.Lookup(0x8048200)
	assert.Equal(t, "main", name)
}

func TestLoadSymTableLookupMissReturnsEmptyName(t *testing.T) {
	raw := buildELFWithSymtab(t, "main", 0x8048200)
	ef, err := stdelf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	defer ef.Close()

	tbl, lerr := debug.LoadSymTable(ef)
	require.NoError(t, lerr)

	name, _ := tbl.Lookup(0xdeadbeef)
	assert.Equal(t, "", name)
}
