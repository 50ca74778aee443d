package proc

import "sync"

// Accnt accumulates a task's user/system time in nanoseconds, mirroring
// accnt.Accnt_t. Utadd/Systadd add to it and Snapshot reads it back;
// internal/sched's Tick and profile export do not use it (they charge and
// read Task.SumExecRuntime), and cmd/kernelctl ps does not show it.
type Accnt struct {
	mu sync.Mutex

	Userns int64
	Sysns  int64
}

// Utadd adds delta nanoseconds of user-mode runtime.
func (a *Accnt) Utadd(delta int64) {
	a.mu.Lock()
	a.Userns += delta
	a.mu.Unlock()
}

// Systadd adds delta nanoseconds of kernel-mode runtime.
func (a *Accnt) Systadd(delta int64) {
	a.mu.Lock()
	a.Sysns += delta
	a.mu.Unlock()
}

// Snapshot returns a consistent (Userns, Sysns) pair.
func (a *Accnt) Snapshot() (int64, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Userns, a.Sysns
}
