package sched

import "github.com/mentos32/kernel/internal/signal"

// Tick advances the scheduler's notion of time by one timer interrupt and
// applies its side effects to the currently dispatched task:
// sum_exec_runtime advances by weight ticks for every task, vruntime
// advances by weight for a non-periodic task, a periodic task's deadline
// advances by whole periods until it lies after now, and an expired
// ItimerReal raises SIGALRM and reloads.
//
// weight is the number of ticks the dispatched task is charged for this
// call; it is 1 for a plain timer IRQ but may be larger for a single
// coalesced update (e.g. in a test driving many ticks at once).
func (q *Queue) Tick(now int64, weight int64) {
	t := Current()
	if t == nil {
		return
	}

	t.SumExecRuntime += weight
	if t.IsPeriodic && t.Period > 0 {
		for t.Deadline <= now {
			t.Deadline += t.Period
		}
	} else {
		t.Vruntime += weight
	}

	if t.Itimer.Deadline != 0 && now >= int64(t.Itimer.Deadline) {
		t.Sig.Raise(signal.SIGALRM)
		if t.Itimer.Interval != 0 {
			t.Itimer.Deadline = uint64(now) + t.Itimer.Interval
		} else {
			t.Itimer.Deadline = 0
		}
	}
}
