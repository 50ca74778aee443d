package proc

import "github.com/mentos32/kernel/internal/signal"

// Status is a waitpid(2)-style encoded status word: the low 7 bits carry
// the terminating signal (0 if the process exited normally), bit 0x80
// marks a core dump, and if the low byte is exactly 0 the high byte holds
// the normal exit code. 0x7f in the low 7 bits marks a stopped process,
// whose stop signal is then carried in the next byte. This mirrors the
// classic Unix wait(2) status encoding that mywait/wait_init follow.
type Status uint32

const stoppedMagic = 0x7f

// ExitStatus encodes a normal exit with the given 8-bit code.
func ExitStatus(code int) Status {
	return Status(uint32(code&0xff) << 8)
}

// SignaledStatus encodes termination by sig, with core optionally set.
func SignaledStatus(sig signal.Signal, core bool) Status {
	s := Status(sig & 0x7f)
	if core {
		s |= 0x80
	}
	return s
}

// StoppedStatus encodes a process stopped by sig.
func StoppedStatus(sig signal.Signal) Status {
	return Status(stoppedMagic) | Status(sig)<<8
}

// IsExited reports whether the process exited normally.
func (s Status) IsExited() bool { return s&0x7f == 0 }

// ExitCode returns the exit code for a status where IsExited is true.
func (s Status) ExitCode() int { return int((s >> 8) & 0xff) }

// IsSignaled reports whether the process was terminated by a signal.
func (s Status) IsSignaled() bool { return !s.IsExited() && s&0x7f != stoppedMagic }

// TermSig returns the terminating signal for a status where IsSignaled is
// true.
func (s Status) TermSig() signal.Signal { return signal.Signal(s & 0x7f) }

// CoreDumped reports whether a signaled process dumped core.
func (s Status) CoreDumped() bool { return s.IsSignaled() && s&0x80 != 0 }

// IsStopped reports whether the process is stopped (not terminated).
func (s Status) IsStopped() bool { return s&0x7f == stoppedMagic }

// StopSig returns the stop signal for a status where IsStopped is true.
func (s Status) StopSig() signal.Signal { return signal.Signal((s >> 8) & 0xff) }
