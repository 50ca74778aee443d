// Package signal implements the kernel's signal subsystem: sys_kill, a
// pending-signal set, the blocked mask, default dispositions, and the
// save/restore discipline a handler trampoline and sigreturn need.
//
// It is grounded in tinfo.Tnote_t (the Doomed/Killnaps kill
// flags threaded through blocking syscalls) and main.go's sys_execv1/
// fd_stdin call sites, which show how the kernel checks for pending
// asynchronous kill state at synchronous return-to-user points. Since this
// kernel never builds real trap frames, the handler trampoline itself is
// modeled as the blocked-mask save/restore a real one performs around the
// handler call, rather than literal x86 stack-frame construction.
package signal

import "sort"

// Signal identifies a POSIX signal number.
type Signal int

const (
	SIGHUP  Signal = 1
	SIGINT  Signal = 2
	SIGQUIT Signal = 3
	SIGILL  Signal = 4
	SIGTRAP Signal = 5
	SIGABRT Signal = 6
	SIGBUS  Signal = 7
	SIGFPE  Signal = 8
	SIGKILL Signal = 9
	SIGUSR1 Signal = 10
	SIGSEGV Signal = 11
	SIGUSR2 Signal = 12
	SIGPIPE Signal = 13
	SIGALRM Signal = 14
	SIGTERM Signal = 15
	SIGCHLD Signal = 17
	SIGCONT Signal = 18
	SIGSTOP Signal = 19
	SIGTSTP Signal = 20
	SIGTTIN Signal = 21
	SIGTTOU Signal = 22

	nsig = 32
)

// Set is a bitmask of pending or blocked signals.
type Set uint32

func bit(s Signal) Set { return 1 << uint(s) }

// Add returns set with sig added.
func (set Set) Add(sig Signal) Set { return set | bit(sig) }

// Remove returns set with sig removed.
func (set Set) Remove(sig Signal) Set { return set &^ bit(sig) }

// Has reports whether sig is a member of set.
func (set Set) Has(sig Signal) bool { return set&bit(sig) != 0 }

// Union returns the union of two sets.
func (set Set) Union(other Set) Set { return set | other }

// Lowest returns the lowest-numbered signal in set, and false if set is
// empty. Used to implement lowest-number-first signal delivery order.
func (set Set) Lowest() (Signal, bool) {
	for s := Signal(1); s < nsig; s++ {
		if set.Has(s) {
			return s, true
		}
	}
	return 0, false
}

// Members returns every signal in set, ascending.
func (set Set) Members() []Signal {
	var out []Signal
	for s := Signal(1); s < nsig; s++ {
		if set.Has(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Disposition is what happens when a signal is finally delivered.
type Disposition int

const (
	DispDefault Disposition = iota
	DispIgnore
	DispHandle
)

// DefaultAction is the effect of a signal's default (SIG_DFL) disposition.
type DefaultAction int

const (
	ActTerminate DefaultAction = iota
	ActTerminateCore
	ActIgnore
	ActStop
	ActContinue
)

// DefaultActionFor returns the POSIX default action for a signal when no
// handler has been installed.
func DefaultActionFor(sig Signal) DefaultAction {
	switch sig {
	case SIGCHLD:
		return ActIgnore
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return ActStop
	case SIGCONT:
		return ActContinue
	case SIGQUIT, SIGILL, SIGABRT, SIGBUS, SIGFPE, SIGSEGV, SIGTRAP:
		return ActTerminateCore
	default:
		return ActTerminate
	}
}

// Action is a task's disposition for one signal, mirroring sigaction(2).
type Action struct {
	Handler uintptr // 0 == SIG_DFL, 1 == SIG_IGN, anything else is a handler VA
	Mask    Set     // additional signals blocked while this handler runs
	NoDefer bool    // SA_NODEFER: don't auto-block sig itself during its own handler
}

// Disposition classifies an Action.
func (a Action) Disposition() Disposition {
	switch a.Handler {
	case 0:
		return DispDefault
	case 1:
		return DispIgnore
	default:
		return DispHandle
	}
}

// State is one task's signal state: pending signals, the blocked mask,
// and the per-signal action table.
type State struct {
	Pending Set
	Blocked Set
	Actions [nsig]Action
}

// New returns a State with every signal at its default disposition and
// nothing pending or blocked.
func New() *State { return &State{} }

// SetAction installs action for sig, rejecting SIGKILL/SIGSTOP as
//  requires ("SIGKILL/SIGSTOP uncatchable").
func (s *State) SetAction(sig Signal, action Action) bool {
	if sig == SIGKILL || sig == SIGSTOP {
		return false
	}
	s.Actions[sig] = action
	return true
}

// SetBlocked installs mask as the blocked set, silently clearing
// SIGKILL/SIGSTOP since those can never be blocked.
func (s *State) SetBlocked(mask Set) {
	s.Blocked = mask.Remove(SIGKILL).Remove(SIGSTOP)
}

// Raise marks sig pending. SIGKILL and SIGSTOP are always deliverable
// regardless of the blocked mask or any installed action; NextDeliverable
// still honors Blocked for every other signal.
func (s *State) Raise(sig Signal) {
	s.Pending = s.Pending.Add(sig)
}

// NextDeliverable returns the lowest-numbered pending, unblocked signal,
// removing it from Pending. SIGKILL and SIGSTOP bypass the blocked mask
// entirely (SetBlocked already keeps them out of Blocked, but Raise alone
// does not require SetBlocked to have run first).
func (s *State) NextDeliverable() (Signal, bool) {
	deliverable := s.Pending &^ s.Blocked.Remove(SIGKILL).Remove(SIGSTOP)
	sig, ok := deliverable.Lowest()
	if !ok {
		return 0, false
	}
	s.Pending = s.Pending.Remove(sig)
	return sig, true
}

// EnterHandler applies the blocked-mask side effects of beginning a
// signal handler call for sig using action: sig itself is added to the
// blocked mask unless action.NoDefer is set, and every signal in
// action.Mask is added too. It returns the blocked mask as it was just
// before the call, for the trampoline to hand to Sigreturn.
func (s *State) EnterHandler(sig Signal, action Action) Set {
	saved := s.Blocked
	newBlocked := s.Blocked.Union(action.Mask)
	if !action.NoDefer {
		newBlocked = newBlocked.Add(sig)
	}
	s.SetBlocked(newBlocked)
	return saved
}

// Sigreturn restores the blocked mask saved by EnterHandler, the
// kernel-side effect of the sigreturn(2) trampoline.
func (s *State) Sigreturn(saved Set) {
	s.SetBlocked(saved)
}
