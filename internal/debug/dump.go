// Package debug renders the diagnostic output expected on a fatal kernel
// invariant violation: a register dump, a disassembly of the faulting
// instruction, and symbol demangling for any loaded ELF's .symtab.
//
// It is grounded in caller.Callerdump (biscuit/src/caller/
// caller.go): a plain fmt.Sprintf-built multi-line report walked via
// runtime.Caller, generalized here to also decode the faulting
// instruction's bytes rather than just the Go call stack that produced
// the panic.
package debug

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/mentos32/kernel/internal/proc"
)

// RegisterDump renders a task's saved register snapshot the way a kernel
// panic handler would print it before halting.
func RegisterDump(t *proc.Task, reason string) string {
	r := t.Regs
	var b strings.Builder
	fmt.Fprintf(&b, "panic: %s (pid %d)\n", reason, t.Pid)
	fmt.Fprintf(&b, "eax=%08x ebx=%08x ecx=%08x edx=%08x\n", r.Eax, r.Ebx, r.Ecx, r.Edx)
	fmt.Fprintf(&b, "esi=%08x edi=%08x ebp=%08x esp=%08x\n", r.Esi, r.Edi, r.Ebp, r.Esp)
	fmt.Fprintf(&b, "eip=%08x eflags=%08x\n", r.Eip, r.Eflags)
	return b.String()
}

// DisassembleOne decodes the single x86 32-bit instruction at the start of
// code (typically the bytes read from the faulting task's text segment at
// its saved Eip) and renders it in Intel syntax, the same rendering
// x86asm's own objdump-style tools default to. sym resolves an address to
// a symbol name for operands that reference one; pass nil for none.
func DisassembleOne(code []byte, pc uint32, sym x86asm.SymLookup) (string, error) {
	inst, err := x86asm.Decode(code, 32)
	if err != nil {
		return "", err
	}
	return x86asm.IntelSyntax(inst, uint64(pc), sym), nil
}

// PanicReport assembles the full diagnostic string a kernel panic prints:
// the register dump followed by the decoded faulting instruction, when
// its bytes are available and well-formed. A decode failure (truncated or
// unrecognized bytes, plausible for a genuinely corrupt instruction
// pointer) degrades to noting the failure rather than losing the rest of
// the report.
func PanicReport(t *proc.Task, reason string, textAtEip []byte, sym x86asm.SymLookup) string {
	report := RegisterDump(t, reason)
	line, err := DisassembleOne(textAtEip, t.Regs.Eip, sym)
	if err != nil {
		return report + fmt.Sprintf("faulting instruction: <undecodable: %v>\n", err)
	}
	return report + fmt.Sprintf("faulting instruction: %s\n", line)
}
