package proc_test

import (
	"bytes"
	stdelf "debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/mem"
	"github.com/mentos32/kernel/internal/proc"
	"github.com/mentos32/kernel/internal/signal"
	"github.com/mentos32/kernel/internal/vfs"
	"github.com/mentos32/kernel/internal/vfs/memfs"
)

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
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     1,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, hdr))

	prog := stdelf.Prog32{
		Type:   uint32(stdelf.PT_LOAD),
		Off:    ehsize + phsize,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint32(len(payload)),
		Memsz:  uint32(len(payload)) + 4096,
		Flags:  uint32(stdelf.PF_R | stdelf.PF_X),
		Align:  4096,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, prog))
	buf.Write(payload)
	return buf.Bytes()
}

func newFixture(t *testing.T) (*proc.Table, *memfs.FS) {
	t.Helper()
	alloc := mem.NewAllocator(1024, 256)
	return proc.NewTable(alloc), memfs.New()
}

func TestForkChildGetsFreshPidAndParentLink(t *testing.T) {
	tbl, _ := newFixture(t)
	parent, err := tbl.NewTask(0)
	require.True(t, err.Ok())

	child, ferr := tbl.Fork(parent)
	require.True(t, ferr.Ok())
	assert.NotEqual(t, parent.Pid, child.Pid)
	assert.Equal(t, parent.Pid, child.PPid)
}

func TestPidsAreNeverReused(t *testing.T) {
	tbl, _ := newFixture(t)
	a, _ := tbl.NewTask(0)
	tbl.Exit(a, proc.ExitStatus(0))
	b, _ := tbl.NewTask(0)
	assert.NotEqual(t, a.Pid, b.Pid)
	assert.Greater(t, b.Pid, a.Pid)
}

func TestExecLoadsImageAndSetsEntry(t *testing.T) {
	tbl, fs := newFixture(t)
	payload := []byte{0x90, 0x90, 0xf4}
	vaddr := uint32(0x08048000)
	fs.WriteFile("/bin/a.out", buildELF32(t, vaddr, payload), vfs.ModeRegular|vfs.ModeExecAll, 0, 0)

	task, terr := tbl.NewTask(0)
	require.True(t, terr.Ok())

	open := func(path string) (vfs.File, errno.Errno) { return fs.Open(path) }
	eerr := tbl.Exec(task, open, "/bin/a.out", []string{"a.out", "-x"}, []string{"HOME=/root"})
	require.True(t, eerr.Ok())
	assert.Equal(t, vaddr, task.Entry)
	assert.NotZero(t, task.Stack)
}

func TestExecRejectsNonExecutableFile(t *testing.T) {
	tbl, fs := newFixture(t)
	fs.WriteFile("/etc/data", []byte("not an elf"), vfs.ModeRegular, 0, 0)

	task, _ := tbl.NewTask(0)
	open := func(path string) (vfs.File, errno.Errno) { return fs.Open(path) }
	eerr := tbl.Exec(task, open, "/etc/data", []string{"data"}, nil)
	assert.Equal(t, errno.EACCES, eerr)
}

func TestExecResetsCaughtHandlersButKeepsIgnoredAndBlocked(t *testing.T) {
	tbl, fs := newFixture(t)
	fs.WriteFile("/bin/a.out", buildELF32(t, 0x08048000, []byte{0x90}), vfs.ModeRegular|vfs.ModeExecAll, 0, 0)

	task, _ := tbl.NewTask(0)
	task.Sig.SetAction(signal.SIGUSR1, signal.Action{Handler: 0x4000})
	task.Sig.SetAction(signal.SIGUSR2, signal.Action{Handler: 1}) // SIG_IGN
	task.Sig.SetBlocked(signal.Set(0).Add(signal.SIGTERM))

	open := func(path string) (vfs.File, errno.Errno) { return fs.Open(path) }
	eerr := tbl.Exec(task, open, "/bin/a.out", []string{"a.out"}, nil)
	require.True(t, eerr.Ok())

	assert.Equal(t, signal.DispDefault, task.Sig.Actions[signal.SIGUSR1].Disposition())
	assert.Equal(t, signal.DispIgnore, task.Sig.Actions[signal.SIGUSR2].Disposition())
	assert.True(t, task.Sig.Blocked.Has(signal.SIGTERM))
}

func TestExecFollowsShebangAndBuildsArgv(t *testing.T) {
	tbl, fs := newFixture(t)
	fs.WriteFile("/usr/bin/interp", buildELF32(t, 0x08048000, []byte{0x90}), vfs.ModeRegular|vfs.ModeExecAll, 0, 0)
	fs.WriteFile("/home/x/run.sh", []byte("#!/usr/bin/interp -u\necho hi\n"), vfs.ModeRegular|vfs.ModeExecAll, 0, 0)

	task, _ := tbl.NewTask(0)
	open := func(path string) (vfs.File, errno.Errno) { return fs.Open(path) }
	eerr := tbl.Exec(task, open, "/home/x/run.sh", []string{"run.sh", "arg1"}, nil)
	require.True(t, eerr.Ok())
	assert.Equal(t, uint32(0x08048000), task.Entry)

	// argv is [interpreter, its "-u" argument, script path, "arg1"]
	word := make([]byte, 4)
	require.True(t, task.AS.ReadAt(task.Stack, word).Ok())
	assert.EqualValues(t, 4, binary.LittleEndian.Uint32(word), "argc")
	require.True(t, task.AS.ReadAt(task.Stack+4, word).Ok())
	arg0 := make([]byte, len("/usr/bin/interp")+1)
	require.True(t, task.AS.ReadAt(binary.LittleEndian.Uint32(word), arg0).Ok())
	assert.Equal(t, "/usr/bin/interp\x00", string(arg0), "argv[0] is the interpreter path")
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	tbl, _ := newFixture(t)
	init, _ := tbl.NewTask(0)
	_ = init
	parent, _ := tbl.NewTask(1)
	grandchild, _ := tbl.Fork(parent)

	tbl.Exit(parent, proc.ExitStatus(0))
	assert.Equal(t, tbl.Init.Pid, grandchild.PPid)
}

func TestWaitReapsZombieChildAndReturnsStatus(t *testing.T) {
	tbl, _ := newFixture(t)
	parent, _ := tbl.NewTask(0)
	child, _ := tbl.Fork(parent)

	done := make(chan struct{})
	go func() {
		tbl.Exit(child, proc.ExitStatus(7))
		close(done)
	}()
	<-done

	pid, status, werr := tbl.Wait(parent)
	require.True(t, werr.Ok())
	assert.Equal(t, child.Pid, pid)
	assert.True(t, status.IsExited())
	assert.Equal(t, 7, status.ExitCode())
}

func TestWaitReturnsECHILDWithNoChildren(t *testing.T) {
	tbl, _ := newFixture(t)
	parent, _ := tbl.NewTask(0)
	_, _, err := tbl.Wait(parent)
	assert.Equal(t, errno.ECHILD, err)
}

func TestForkCOWWriteIsolatesParentAndChild(t *testing.T) {
	tbl, fs := newFixture(t)
	fs.WriteFile("/bin/a.out", buildELF32(t, 0x08048000, []byte{0x01, 0x02, 0x03, 0x04}), vfs.ModeRegular|vfs.ModeExecAll, 0, 0)

	parent, _ := tbl.NewTask(0)
	open := func(path string) (vfs.File, errno.Errno) { return fs.Open(path) }
	require.True(t, tbl.Exec(parent, open, "/bin/a.out", []string{"a.out"}, nil).Ok())

	child, ferr := tbl.Fork(parent)
	require.True(t, ferr.Ok())

	require.True(t, child.AS.WriteAt(0x08048000, []byte{0xff}).Ok())

	parentByte := make([]byte, 1)
	require.True(t, parent.AS.ReadAt(0x08048000, parentByte).Ok())
	assert.Equal(t, byte(0x01), parentByte[0], "parent's page must be unaffected by the child's CoW write")

	childByte := make([]byte, 1)
	require.True(t, child.AS.ReadAt(0x08048000, childByte).Ok())
	assert.Equal(t, byte(0xff), childByte[0])
}
