// Command kernelctl drives a small in-process kernel instance through the
// fork/exec/signal/scheduling paths in internal/proc, internal/sched, and
// internal/vm, the way a developer would poke at a real kernel from a
// userspace shell. Each subcommand boots its own demoKernel from scratch:
// there is no daemon or socket, so nothing persists between invocations.
//
// Grounded on ja7ad-consumption/cmd/consumption/main.go's cobra-root-plus-
// RunE structure, its slog.Error-then-os.Exit(1) failure path, and its
// text/tabwriter table rendering.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mentos32/kernel/internal/proc"
	"github.com/mentos32/kernel/internal/sched"
	"github.com/mentos32/kernel/internal/signal"
	"github.com/mentos32/kernel/internal/vm"
)

var (
	memPages    int
	kernelPages int
)

func main() {
	root := &cobra.Command{
		Use:   "kernelctl",
		Short: "Drive a hosted kernel instance: boot, list processes, inspect mappings, signal, profile",
	}
	root.PersistentFlags().IntVar(&memPages, "mem-pages", 4096, "total physical frames the simulated allocator manages")
	root.PersistentFlags().IntVar(&kernelPages, "kernel-pages", 512, "of --mem-pages, how many are reserved for the kernel pool")

	root.AddCommand(bootCmd(), psCmd(), mmapCmd(), killCmd(), faultCmd(), profileCmd())

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func bootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot <path> [argv...]",
		Short: "Exec a host ELF binary as pid 1 and report its loaded image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := newDemoKernel(memPages, kernelPages)
			task, err := k.bootInit(args[0], args, []string{"PATH=/bin", "HOME=/root"})
			if err != nil {
				return err
			}
			fmt.Printf("booted pid %d: entry=%#08x stack=%#08x break=%#08x\n",
				task.Pid, task.Entry, task.Stack, task.Break)
			return nil
		},
	}
}

func psCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps <path>",
		Short: "Exec path as init, fork a child off it, and list the process table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := newDemoKernel(memPages, kernelPages)
			init, err := k.bootInit(args[0], args[:1], nil)
			if err != nil {
				return err
			}
			if _, ferr := k.tasks.Fork(init); !ferr.Ok() {
				return fmt.Errorf("fork: %s", ferr)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PID\tPPID\tSTATE\tVRUNTIME")
			for _, s := range k.tasks.Snapshot() {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%d\n", s.Pid, s.PPid, stateName(s.State), s.Vruntime)
			}
			return tw.Flush()
		},
	}
}

func mmapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mmap <path>",
		Short: "Exec path as init and list the VMAs its loaded image established",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := newDemoKernel(memPages, kernelPages)
			task, err := k.bootInit(args[0], args, nil)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "START\tEND\tPAGES\tTYPE\tWRITABLE")
			for _, v := range task.AS.Regions.All() {
				fmt.Fprintf(tw, "%#08x\t%#08x\t%d\t%s\t%v\n",
					v.Start, v.End(), v.Pages, mtypeName(v.Mtype), v.Perms&vm.PTE_W != 0)
			}
			return tw.Flush()
		},
	}
}

func killCmd() *cobra.Command {
	var handler uint32
	cmd := &cobra.Command{
		Use:   "kill <signal>",
		Short: "Raise a signal against a bare task (no exec'd image) and drive it through RestoreContext's delivery step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, ok := signalByName(args[0])
			if !ok {
				return fmt.Errorf("unknown signal %q", args[0])
			}
			k := newDemoKernel(memPages, kernelPages)
			task, terr := k.tasks.NewTask(0)
			if !terr.Ok() {
				return fmt.Errorf("allocate task: %s", terr)
			}
			if handler != 0 {
				task.Sig.SetAction(sig, signal.Action{Handler: uintptr(handler)})
			}

			task.Sig.Raise(sig)
			sched.RestoreContext(task, k.tasks)

			switch task.State {
			case proc.StateZombie:
				if task.ExitCode.IsSignaled() {
					fmt.Printf("%s: task terminated by signal %d (core=%v)\n",
						args[0], task.ExitCode.TermSig(), task.ExitCode.CoreDumped())
				} else {
					fmt.Printf("%s: task exited with code %d\n", args[0], task.ExitCode.ExitCode())
				}
			case proc.StateStopped:
				fmt.Printf("%s: task stopped\n", args[0])
			default:
				if handler != 0 && task.Regs.Eip == handler {
					fmt.Printf("%s: handler entered at %#08x, task still runnable\n", args[0], task.Regs.Eip)
				} else {
					fmt.Printf("%s: delivered, no state change (ignored or no pending default action)\n", args[0])
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint32Var(&handler, "handler", 0, "install a caught handler at this address before raising the signal")
	return cmd
}

func faultCmd() *cobra.Command {
	var addr uint32
	cmd := &cobra.Command{
		Use:   "fault <path>",
		Short: "Exec path as init, then touch an unmapped user address and show the SIGSEGV it raises",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := newDemoKernel(memPages, kernelPages)
			task, err := k.bootInit(args[0], args, nil)
			if err != nil {
				return err
			}

			ferr := sched.HandleFault(task, addr, vm.FaultKind{Write: false, User: true})
			if !ferr.Ok() {
				return fmt.Errorf("fault at %#08x: %s", addr, ferr)
			}

			sched.RestoreContext(task, k.tasks)
			if task.State == proc.StateZombie && task.ExitCode.IsSignaled() {
				fmt.Printf("fault at %#08x raised signal %d, task terminated (core=%v)\n",
					addr, task.ExitCode.TermSig(), task.ExitCode.CoreDumped())
				return nil
			}
			fmt.Printf("fault at %#08x resolved without a signal\n", addr)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&addr, "addr", 0, "user-mode virtual address to fault on (0 models a null-pointer dereference)")
	return cmd
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Scheduler accounting export",
	}
	var ticks int
	dump := &cobra.Command{
		Use:   "dump <path>",
		Short: "Run a short scheduling loop and write a pprof profile of accumulated run time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := newDemoKernel(memPages, kernelPages)
			q := sched.NewQueue()

			names := []string{"a", "b", "c"}
			for _, n := range names {
				t, terr := k.tasks.NewTask(0)
				if !terr.Ok() {
					return fmt.Errorf("allocate task %s: %s", n, terr)
				}
				if aerr := q.Admit(t); !aerr.Ok() {
					return fmt.Errorf("admit task %s: %s", n, aerr)
				}
			}

			for i := 0; i < ticks; i++ {
				t, ok := q.Pick()
				if !ok {
					break
				}
				sched.RestoreContext(t, k.tasks)
				q.Tick(int64(i), 1)
			}

			f, cerr := os.Create(args[0])
			if cerr != nil {
				return cerr
			}
			defer f.Close()
			if werr := q.WriteProfile(f); werr != nil {
				return werr
			}
			fmt.Printf("wrote profile to %s after %d ticks\n", args[0], ticks)
			return nil
		},
	}
	dump.Flags().IntVar(&ticks, "ticks", 30, "number of scheduler ticks to simulate before dumping")
	cmd.AddCommand(dump)
	return cmd
}

func stateName(s proc.State) string {
	switch s {
	case proc.StateRunnable:
		return "runnable"
	case proc.StateRunning:
		return "running"
	case proc.StateZombie:
		return "zombie"
	case proc.StateStopped:
		return "stopped"
	default:
		return "?"
	}
}

func mtypeName(m vm.Mtype) string {
	switch m {
	case vm.VAnon:
		return "anon"
	case vm.VFile:
		return "file"
	case vm.VShareAnon:
		return "shared-anon"
	default:
		return "?"
	}
}

var signalNames = map[string]signal.Signal{
	"HUP": signal.SIGHUP, "INT": signal.SIGINT, "QUIT": signal.SIGQUIT,
	"ILL": signal.SIGILL, "TRAP": signal.SIGTRAP, "ABRT": signal.SIGABRT,
	"BUS": signal.SIGBUS, "FPE": signal.SIGFPE, "KILL": signal.SIGKILL,
	"USR1": signal.SIGUSR1, "SEGV": signal.SIGSEGV, "USR2": signal.SIGUSR2,
	"PIPE": signal.SIGPIPE, "ALRM": signal.SIGALRM, "TERM": signal.SIGTERM,
	"CHLD": signal.SIGCHLD, "CONT": signal.SIGCONT, "STOP": signal.SIGSTOP,
	"TSTP": signal.SIGTSTP, "TTIN": signal.SIGTTIN, "TTOU": signal.SIGTTOU,
}

func signalByName(name string) (signal.Signal, bool) {
	name = strings.ToUpper(strings.TrimPrefix(strings.ToUpper(name), "SIG"))
	sig, ok := signalNames[name]
	return sig, ok
}
