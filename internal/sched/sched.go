// Package sched implements the run queue: a vruntime picker for ordinary
// tasks and an earliest-deadline-first picker for admitted periodic tasks,
// plus the trap-frame save/restore and timer-tick bookkeeping that drive
// preemption.
//
// It is grounded in accnt.Accnt_t (per-task user/system time
// accounting, reused almost verbatim as proc.Accnt) and the commented-out
// intelprof_t/bprof_t hardware-performance-counter profiler main.go carries
// but never wires up; profile.go below gives that idea a real home against
// this scheduler's own accounting data.
package sched

import (
	"sort"
	"sync"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/proc"
	"github.com/mentos32/kernel/internal/vm"
)

// Queue is the kernel's single run queue: every runnable task, split only
// by proc.Task.IsPeriodic for picking purposes, not by separate lists.
type Queue struct {
	mu sync.Mutex

	tasks map[int]*proc.Task

	// periodicPids records every admitted periodic task; the WCET/period
	// utilization sum is not stored but re-computed from it on each Admit.
	periodicPids map[int]bool
}

// NewQueue returns an empty run queue.
func NewQueue() *Queue {
	return &Queue{tasks: make(map[int]*proc.Task), periodicPids: make(map[int]bool)}
}

// Admit adds t to the run queue. Non-periodic tasks are always admitted.
// A periodic task (t.IsPeriodic, t.Period > 0) is admitted only if the
// EDF utilization test still holds with it included: the sum of
// WCET/period across every admitted periodic task must remain <= 1. A
// periodic task that fails the test is rejected with EAGAIN and never
// added to the queue.
func (q *Queue) Admit(t *proc.Task) errno.Errno {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t.IsPeriodic {
		util := q.utilization() + float64(t.WCET)/float64(t.Period)
		if util > 1.0 {
			return errno.EAGAIN
		}
		q.periodicPids[t.Pid] = true
	}
	q.tasks[t.Pid] = t
	return 0
}

// utilization sums WCET/period over every currently admitted periodic
// task. Caller must hold q.mu.
func (q *Queue) utilization() float64 {
	var sum float64
	for pid := range q.periodicPids {
		t, ok := q.tasks[pid]
		if !ok || t.Period == 0 {
			continue
		}
		sum += float64(t.WCET) / float64(t.Period)
	}
	return sum
}

// Remove takes a task out of the run queue, for exit and blocking syscalls.
func (q *Queue) Remove(pid int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tasks, pid)
	delete(q.periodicPids, pid)
}

// runnable reports whether t is eligible for dispatch right now.
func runnable(t *proc.Task) bool { return t.State == proc.StateRunnable }

// Pick selects the next task to dispatch: among runnable periodic tasks,
// the one with the earliest absolute Deadline; if none are runnable,
// among runnable non-periodic tasks, the smallest Vruntime, ties broken
// by earlier ArrivalTime then lower pid.
func (q *Queue) Pick() (*proc.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var periodic []*proc.Task
	var other []*proc.Task
	for _, t := range q.tasks {
		if !runnable(t) {
			continue
		}
		if t.IsPeriodic {
			periodic = append(periodic, t)
		} else {
			other = append(other, t)
		}
	}

	if len(periodic) > 0 {
		sort.Slice(periodic, func(i, j int) bool { return periodic[i].Deadline < periodic[j].Deadline })
		return periodic[0], true
	}
	if len(other) == 0 {
		return nil, false
	}
	sort.Slice(other, func(i, j int) bool {
		a, b := other[i], other[j]
		if a.Vruntime != b.Vruntime {
			return a.Vruntime < b.Vruntime
		}
		if a.ArrivalTime != b.ArrivalTime {
			return a.ArrivalTime < b.ArrivalTime
		}
		return a.Pid < b.Pid
	})
	return other[0], true
}

// current is the task the simulated single CPU is presently running, and
// the address space it has loaded; both nil/zero when idle. A page-table
// switch is modeled as simply reassigning currentAS: this hosted kernel
// has no real CR3 register or TLB to flush, so only the two address
// spaces' own Tlbshoot counters record invalidation activity.
var (
	cpuMu    sync.Mutex
	current  *proc.Task
	currentAS *vm.AddressSpace
)

// StoreContext saves a trap-frame snapshot into t, the first half of a
// context switch (mirroring store_context).
func StoreContext(t *proc.Task, regs proc.Regs) {
	t.Regs = regs
}

// RestoreContext installs t as the running task and returns the register
// state to reload before IRET, the second half of a context switch
// (mirroring restore_context). If t's address space differs from the one
// currently loaded, the simulated CR3 switch happens here.
//
// Just before that register state is handed back, it runs the
// return-to-user signal-delivery step restore_context performs on real
// hardware: tasks.DeliverSignals(t) drains t's pending signals, applying
// default terminate/stop/continue or entering a caught handler. tasks may
// be nil (tests that drive a bare *proc.Task with no process table), in
// which case delivery is skipped and t's pending signals are left for the
// caller to handle directly.
func RestoreContext(t *proc.Task, tasks *proc.Table) proc.Regs {
	cpuMu.Lock()
	if currentAS != t.AS {
		currentAS = t.AS
	}
	current = t
	cpuMu.Unlock()

	if tasks != nil {
		tasks.DeliverSignals(t)
	}
	return t.Regs
}

// Current returns the task presently installed by RestoreContext, or nil
// if the CPU is idle.
func Current() *proc.Task {
	cpuMu.Lock()
	defer cpuMu.Unlock()
	return current
}
