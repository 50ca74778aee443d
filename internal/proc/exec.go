package proc

import (
	"github.com/mentos32/kernel/internal/elf"
	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/signal"
	"github.com/mentos32/kernel/internal/vfs"
	"github.com/mentos32/kernel/internal/vm"
)

// Exec replaces task's address space with the image at path, following
// one level of "#!" interpreter script first. argv[0] of the final
// image is always the resolved path (the interpreter, if one was
// resolved); the caller's argv[1:] follows any interpreter-supplied
// tail, per elf.ResolveInterpreter. On failure task is left completely
// unmodified — its old address space and registers survive intact, per
// the exec failure semantics.
func (t *Table) Exec(task *Task, open elf.Open, path string, argv, envp []string) errno.Errno {
	tail, resolvedPath, rerr := elf.ResolveInterpreter(open, path)
	if !rerr.Ok() {
		return rerr
	}

	f, oerr := open(resolvedPath)
	if !oerr.Ok() {
		return oerr
	}
	defer f.Close()

	task.mu.Lock()
	cred := vfs.Credentials{Uid: task.Uid, Gid: task.Gid}
	task.mu.Unlock()

	ok, st, verr := vfs.ValidExecPermission(cred, f)
	if !verr.Ok() {
		return verr
	}
	if !ok {
		return errno.EACCES
	}

	newAS, aerr := vm.New(t.mem)
	if !aerr.Ok() {
		return aerr
	}
	img, lerr := elf.Load(newAS, f)
	if !lerr.Ok() {
		newAS.Free()
		return lerr
	}

	finalArgv := make([]string, 0, 1+len(tail)+maxInt(0, len(argv)-1))
	finalArgv = append(finalArgv, resolvedPath)
	finalArgv = append(finalArgv, tail...)
	if len(argv) > 1 {
		finalArgv = append(finalArgv, argv[1:]...)
	}

	sp, serr := buildStack(newAS, finalArgv, envp)
	if !serr.Ok() {
		newAS.Free()
		return serr
	}

	task.mu.Lock()
	task.AS.Free()
	task.AS = newAS
	task.Entry = img.Entry
	task.Stack = sp
	task.Break = img.BreakStart
	// Set-uid/set-gid bits on the executable override the task's effective
	// uid/gid; the real (Ruid/Rgid) ids never change across exec.
	if st.Mode&vfs.ModeSetUID != 0 {
		task.Uid = st.Uid
	}
	if st.Mode&vfs.ModeSetGID != 0 {
		task.Gid = st.Gid
	}
	for i := range task.Sig.Actions {
		if task.Sig.Actions[i].Disposition() == signal.DispHandle {
			task.Sig.Actions[i] = signal.Action{}
		}
	}
	task.mu.Unlock()

	closeCloexecFds(task)

	return 0
}

func closeCloexecFds(task *Task) {
	task.mu.Lock()
	var toClose []*FD
	for fd, f := range task.Files {
		if f.CloseOnExec {
			toClose = append(toClose, f)
			delete(task.Files, fd)
		}
	}
	task.mu.Unlock()
	for _, f := range toClose {
		f.File.Close()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
