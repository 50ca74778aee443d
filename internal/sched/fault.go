package sched

import (
	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/proc"
	"github.com/mentos32/kernel/internal/signal"
	"github.com/mentos32/kernel/internal/vm"
)

// HandleFault is the CPU's #PF exception entry point: it resolves a fault
// at va against task's address space via vm.AddressSpace.PageFault, the
// same decision table every other backing-store or CoW fault goes through.
// When that fault cannot be resolved against a user-mode access — va falls
// outside every VMA, or a write lands on a non-CoW read-only mapping —
// PageFault returns EFAULT, and HandleFault converts that into a SIGSEGV
// raised against task and takes it off the CPU, so the next Pick dispatches
// some other runnable task instead of returning to the faulting one. A
// kernel-mode fault (fk.User false) that PageFault rejects with EFAULT (no
// VMA, a guard region, a write to a read-only region) is returned to the
// caller unconverted and does not panic; a kernel-mode fault inside an
// accessible region panics inside PageFault.
func HandleFault(task *proc.Task, va uint32, fk vm.FaultKind) errno.Errno {
	err := task.AS.PageFault(va, fk)
	if err.Ok() {
		return 0
	}
	if err == errno.EFAULT && fk.User {
		task.Sig.Raise(signal.SIGSEGV)
		cpuMu.Lock()
		if current == task {
			current = nil
		}
		cpuMu.Unlock()
		return 0
	}
	return err
}
