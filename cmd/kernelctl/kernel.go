package main

import (
	"fmt"
	"os"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/mem"
	"github.com/mentos32/kernel/internal/proc"
	"github.com/mentos32/kernel/internal/sched"
	"github.com/mentos32/kernel/internal/vfs"
	"github.com/mentos32/kernel/internal/vfs/memfs"
)

// demoKernel wires the four pieces a driven-from-the-CLI kernel instance
// needs: physical memory, the process table, the run queue, and a memfs
// standing in for the disk every exec'd binary is read from. Every
// kernelctl subcommand builds its own, since there is no real daemon
// holding kernel state between separate process invocations.
type demoKernel struct {
	mem   *mem.Allocator
	tasks *proc.Table
	queue *sched.Queue
	fs    *memfs.FS
}

func newDemoKernel(memPages, kernelPages int) *demoKernel {
	a := mem.NewAllocator(memPages, kernelPages)
	return &demoKernel{
		mem:   a,
		tasks: proc.NewTable(a),
		queue: sched.NewQueue(),
		fs:    memfs.New(),
	}
}

// loadHostFile reads path off the real filesystem kernelctl is running on
// and stages it into the simulated memfs under the same name, the way a
// developer driving this tool supplies a guest binary to exec.
func (k *demoKernel) loadHostFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	k.fs.WriteFile(path, data, vfs.ModeRegular|vfs.ModeExecAll, 0, 0)
	return nil
}

// bootInit allocates pid 1 and execs path (staged from the host
// filesystem) into it as the kernel's init task.
func (k *demoKernel) bootInit(path string, argv, envp []string) (*proc.Task, error) {
	if err := k.loadHostFile(path); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	task, terr := k.tasks.NewTask(0)
	if !terr.Ok() {
		return nil, fmt.Errorf("allocate init task: %s", terr)
	}
	open := func(p string) (vfs.File, errno.Errno) { return k.fs.Open(p) }
	if eerr := k.tasks.Exec(task, open, path, argv, envp); !eerr.Ok() {
		return nil, fmt.Errorf("exec %s: %s", path, eerr)
	}
	return task, nil
}
