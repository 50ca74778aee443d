// Package proc implements process lifecycle: task allocation, fork, exec,
// exit, and wait/waitpid-style reaping.
//
// It is grounded in main.go (proc_new's pid allocation, fd
// duplication, cwd reopen), tinfo/tinfo.go (per-task kill/note state
// shape, reflected here in Task.Sig), and limits/limits.go (per-task
// resource accounting, reflected in Task.Vruntime/ArrivalTime feeding the
// scheduler).
package proc

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/mem"
	"github.com/mentos32/kernel/internal/signal"
	"github.com/mentos32/kernel/internal/vfs"
	"github.com/mentos32/kernel/internal/vm"
)

// State is a task's scheduling/lifecycle state.
type State int

const (
	StateRunnable State = iota
	StateRunning
	StateZombie
	StateStopped
)

// FD is one entry of a task's file-descriptor table: the shared open-file
// object plus the close-on-exec flag, mirroring Fd_t
// (FD_CLOEXEC).
type FD struct {
	File        *vfs.OpenFile
	CloseOnExec bool
}

// ItimerReal is the per-task real-time interval timer; internal/sched's
// tick checks Deadline each timer interrupt and, on expiry, raises SIGALRM and
// reloads Deadline by Interval (or disarms if Interval is zero, matching
// POSIX setitimer semantics).
type ItimerReal struct {
	Deadline uint64 // absolute tick count, 0 == disarmed
	Interval uint64 // reload value; 0 == one-shot
}

// Task is one process: its address space, open files, signal state, and
// scheduling bookkeeping.
type Task struct {
	mu sync.Mutex

	Pid  int
	PPid int
	State State

	// Credentials. Uid/Gid are the effective ids permission checks use
	// (vfs.ValidExecPermission, set-uid/set-gid on exec); Ruid/Rgid are the
	// real ids, fixed at task creation and never changed by exec. Sid/Pgid
	// are the session and process-group ids.
	Uid, Gid   int
	Ruid, Rgid int
	Sid, Pgid  int

	AS    *vm.AddressSpace
	Files map[int]*FD

	Sig *signal.State
	// SigFrame holds the register/blocked-mask state a handler entry
	// displaced, non-nil exactly while a signal handler is running on this
	// task. DeliverSignals sets it; Sigreturn clears it.
	SigFrame *SigFrame

	Children []*Task
	ExitCode Status

	// Entry/Stack/Break are set by Exec. Exec does not copy Entry/Stack
	// into Regs, and the scheduler restores only Regs.
	Entry uint32
	Stack uint32
	Break uint32

	Vruntime    int64
	ArrivalTime int64
	WCET        int64 // worst-case execution time per period, for EDF admission
	Period      int64 // 0 means not a periodic task

	IsPeriodic     bool
	Deadline       int64 // absolute tick of the next periodic deadline
	SumExecRuntime int64 // cumulative ticks actually dispatched
	ExecStart      int64 // tick of last dispatch, for sum_exec_runtime accounting

	Itimer ItimerReal

	// Regs is the saved user-mode register snapshot, written by
	// sched.StoreContext on every trap into the kernel and consumed by
	// sched.RestoreContext just before IRET.
	Regs Regs

	Accnt Accnt
}

// Regs is a trap frame: the subset of user-mode register state fork and
// the scheduler need to snapshot and restore, mirroring the original
// Trapframe (reduced to the fields Fork/exec actually touch, since this
// kernel never builds a literal IRET stack).
type Regs struct {
	Eax, Ebx, Ecx, Edx uint32
	Esi, Edi, Ebp, Esp uint32
	Eip, Eflags        uint32
}

// allocFd returns the lowest unused file descriptor number, mirroring
// POSIX's "lowest available fd" allocation rule.
func (t *Task) allocFd() int {
	for fd := 0; ; fd++ {
		if _, used := t.Files[fd]; !used {
			return fd
		}
	}
}

// AddFile installs of as a new fd in t's table, returning the fd number.
func (t *Task) AddFile(of *vfs.OpenFile, cloexec bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.allocFd()
	t.Files[fd] = &FD{File: of, CloseOnExec: cloexec}
	return fd
}

// CloseFile closes fd, releasing its OpenFile reference. Returns EBADF if
// fd is not open.
func (t *Task) CloseFile(fd int) errno.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.Files[fd]
	if !ok {
		return errno.EBADF
	}
	delete(t.Files, fd)
	return f.File.Close()
}

// Table is the kernel's global process table: the pid allocator and the
// map from pid to Task, mirroring proc_new/threadinfo
// bookkeeping.
type Table struct {
	mu      sync.Mutex
	cond    *sync.Cond
	mem     *mem.Allocator
	tasks   map[int]*Task
	nextPid int

	Init *Task
}

// NewTable returns an empty process table backed by the given physical
// frame allocator; the next task created through it gets pid 1 and is
// recorded as Init (the reparenting target for orphaned children).
func NewTable(a *mem.Allocator) *Table {
	t := &Table{mem: a, tasks: make(map[int]*Task), nextPid: 1}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *Table) allocPid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pid := t.nextPid
	t.nextPid++
	return pid
}

// NewTask allocates a fresh task with a new, empty address space and pid,
// owned by ppid. Pids are never reused: they come from a monotonically
// increasing counter for the table's lifetime.
//
// If source is supplied (non-nil), the new task inherits its uid/gid,
// ruid/rgid, sid, and pgid, matching task-allocation's "inherited
// credentials where a source task is supplied." With no source, the task
// gets root credentials (uid/gid 0) and starts its own session and process
// group, the way a freshly booted init task does.
func (t *Table) NewTask(ppid int, source ...*Task) (*Task, errno.Errno) {
	as, err := vm.New(t.mem)
	if !err.Ok() {
		return nil, err
	}
	pid := t.allocPid()
	task := &Task{
		Pid:   pid,
		PPid:  ppid,
		State: StateRunnable,
		AS:    as,
		Files: make(map[int]*FD),
		Sig:   signal.New(),
	}
	if len(source) > 0 && source[0] != nil {
		src := source[0]
		task.Uid, task.Gid = src.Uid, src.Gid
		task.Ruid, task.Rgid = src.Ruid, src.Rgid
		task.Sid, task.Pgid = src.Sid, src.Pgid
	} else {
		task.Sid, task.Pgid = pid, pid
	}
	t.mu.Lock()
	t.tasks[pid] = task
	if pid == 1 {
		t.Init = task
	}
	t.mu.Unlock()
	return task, 0
}

// Get looks up a task by pid.
func (t *Table) Get(pid int) (*Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[pid]
	return tk, ok
}

// Snapshot returns a point-in-time view of every live task, for
// cmd/kernelctl ps and init's own bookkeeping.
type Snapshot struct {
	Pid, PPid int
	State     State
	Vruntime  int64
}

// Snapshot lists every task currently in the table, ascending by pid.
func (t *Table) Snapshot() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.tasks))
	for pid := 1; pid < t.nextPid; pid++ {
		tk, ok := t.tasks[pid]
		if !ok {
			continue
		}
		out = append(out, Snapshot{Pid: tk.Pid, PPid: tk.PPid, State: tk.State, Vruntime: tk.Vruntime})
	}
	return out
}

// Fork clones parent into a new task: a copy-on-write address space
// (vm.AddressSpace.Clone), a duplicated fd table (each OpenFile's
// refcount bumped, not copied), and a fresh signal.State carrying the
// parent's actions and blocked mask but no pending signals of its own.
func (t *Table) Fork(parent *Task) (*Task, errno.Errno) {
	parent.mu.Lock()
	childAS, err := parent.AS.Clone()
	if !err.Ok() {
		parent.mu.Unlock()
		return nil, err
	}
	files := make(map[int]*FD, len(parent.Files))
	for fd, f := range parent.Files {
		files[fd] = &FD{File: f.File.Dup(), CloseOnExec: f.CloseOnExec}
	}
	sigCopy := &signal.State{Blocked: parent.Sig.Blocked, Actions: parent.Sig.Actions}
	uid, gid, ruid, rgid, sid, pgid := parent.Uid, parent.Gid, parent.Ruid, parent.Rgid, parent.Sid, parent.Pgid
	parent.mu.Unlock()

	pid := t.allocPid()
	child := &Task{
		Pid:   pid,
		PPid:  parent.Pid,
		State: StateRunnable,
		AS:    childAS,
		Files: files,
		Sig:   sigCopy,

		Uid: uid, Gid: gid,
		Ruid: ruid, Rgid: rgid,
		Sid: sid, Pgid: pgid,
	}

	// The child's return-value register is forced to 0 and the parent
	// returns the child's pid, with every other user-visible register
	// identical between the two.
	parent.mu.Lock()
	child.Regs = parent.Regs
	child.Regs.Eax = 0
	parent.Regs.Eax = uint32(pid)
	parent.mu.Unlock()

	t.mu.Lock()
	t.tasks[pid] = child
	parent.Children = append(parent.Children, child)
	t.mu.Unlock()

	return child, 0
}

// Exit transitions task to StateZombie: every open fd is closed, its
// address space is released, its children are reparented to Init, and its
// parent is both woken from any blocking Wait and handed a pending
// SIGCHLD — two independent notifications joined with errgroup, the way
// wait-queue wakeup and kill-delivery paths run
// concurrently rather than one blocking on the other.
func (t *Table) Exit(task *Task, status Status) {
	task.mu.Lock()
	task.State = StateZombie
	task.ExitCode = status
	for _, f := range task.Files {
		f.File.Close()
	}
	task.Files = nil
	task.AS.Free()
	task.mu.Unlock()

	t.mu.Lock()
	for _, c := range task.Children {
		c.PPid = t.Init.Pid
		t.Init.Children = append(t.Init.Children, c)
	}
	task.Children = nil
	parent, hasParent := t.tasks[task.PPid]
	t.mu.Unlock()

	if !hasParent {
		return
	}

	var g errgroup.Group
	g.Go(func() error {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
		return nil
	})
	g.Go(func() error {
		parent.mu.Lock()
		parent.Sig.Raise(signal.SIGCHLD)
		parent.mu.Unlock()
		return nil
	})
	g.Wait()
}

// Wait blocks until one of parent's children is a zombie, reaps it (removes
// it from the table and from parent's children), and returns its pid and
// exit status. It returns ECHILD immediately if parent has no children at
// all.
func (t *Table) Wait(parent *Task) (int, Status, errno.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		for i, c := range parent.Children {
			if c.State == StateZombie {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				delete(t.tasks, c.Pid)
				return c.Pid, c.ExitCode, 0
			}
		}
		if len(parent.Children) == 0 {
			return 0, 0, errno.ECHILD
		}
		t.cond.Wait()
	}
}
