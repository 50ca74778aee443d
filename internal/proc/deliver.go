package proc

import (
	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/signal"
)

// SigFrame is the user-mode state a handler entry displaces: the
// interrupted register snapshot and the blocked mask as it stood just
// before the handler call, restored by Sigreturn the way a real sigreturn
// trampoline unwinds its kernel-built signal frame.
type SigFrame struct {
	Regs    Regs
	Blocked signal.Set
}

// DeliverSignals is the return-to-user signal-delivery step restore_context
// performs just before IRET: it pulls pending, unmasked signals off task
// one at a time until one stops delivery (a handler is entered, the task is
// terminated or stopped) or none remain. SIG_IGN and an ignored default
// disposition are skipped outright; SIG_DFL applies the POSIX default
// action (terminate, terminate-with-core, stop, continue, or ignore); a
// caught signal is handed to enterHandler to set up the trampoline.
func (t *Table) DeliverSignals(task *Task) {
	for {
		task.mu.Lock()
		sig, ok := task.Sig.NextDeliverable()
		if !ok {
			task.mu.Unlock()
			return
		}
		action := task.Sig.Actions[sig]
		disp := action.Disposition()
		task.mu.Unlock()

		switch disp {
		case signal.DispIgnore:
			continue
		case signal.DispHandle:
			t.enterHandler(task, sig, action)
			return
		default:
			switch signal.DefaultActionFor(sig) {
			case signal.ActIgnore:
				continue
			case signal.ActStop:
				task.mu.Lock()
				task.State = StateStopped
				task.mu.Unlock()
				return
			case signal.ActContinue:
				task.mu.Lock()
				if task.State == StateStopped {
					task.State = StateRunnable
				}
				task.mu.Unlock()
				continue
			case signal.ActTerminateCore:
				t.Exit(task, SignaledStatus(sig, true))
				return
			default: // ActTerminate
				t.Exit(task, SignaledStatus(sig, false))
				return
			}
		}
	}
}

// enterHandler sets up a caught signal's handler call: the interrupted
// register state and blocked mask are stashed in task.SigFrame (so
// Sigreturn can unwind them), sig and action.Mask are added to the blocked
// mask per signal.State.EnterHandler, and the saved Eip is overwritten with
// the handler's entry address. This kernel never builds a literal x86
// signal stack frame, since Regs is already the full simulated trap frame;
// displacing it into SigFrame and overwriting Eip is the equivalent
// "redirect to trampoline" effect.
func (t *Table) enterHandler(task *Task, sig signal.Signal, action signal.Action) {
	task.mu.Lock()
	defer task.mu.Unlock()
	saved := task.Sig.EnterHandler(sig, action)
	task.SigFrame = &SigFrame{Regs: task.Regs, Blocked: saved}
	task.Regs.Eip = uint32(action.Handler)
	task.Regs.Eax = uint32(sig)
}

// Sigreturn undoes the most recent enterHandler: it restores task's
// registers and blocked mask to what they were just before the handler was
// entered, the kernel-side effect of the sigreturn(2) trampoline a handler
// calls on return. It returns EINVAL if no handler is currently active.
func (t *Table) Sigreturn(task *Task) errno.Errno {
	task.mu.Lock()
	defer task.mu.Unlock()
	if task.SigFrame == nil {
		return errno.EINVAL
	}
	task.Sig.Sigreturn(task.SigFrame.Blocked)
	task.Regs = task.SigFrame.Regs
	task.SigFrame = nil
	return 0
}
