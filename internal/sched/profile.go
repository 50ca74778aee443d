package sched

import (
	"io"
	"sort"
	"strconv"

	"github.com/google/pprof/profile"

	"github.com/mentos32/kernel/internal/proc"
)

// DumpProfile assembles a pprof profile.Profile of the current run queue's
// accumulated runtime, one Sample per task keyed by a synthetic
// "pid NNNN" location/function so go tool pprof can render each
// task's sum_exec_runtime as a flat, one-frame-deep flame graph. This
// gives the commented-out intelprof_t hardware-counter profiler idea a
// real, schedulable-data-backed home: instead of reading
// performance-monitoring MSRs, it reads the sum_exec_runtime
// bookkeeping Tick already maintains.
func (q *Queue) DumpProfile() *profile.Profile {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "cpu", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1,
	}

	pids := make([]int, 0, len(q.tasks))
	for pid := range q.tasks {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	for _, pid := range pids {
		t := q.tasks[pid]
		fn := &profile.Function{
			ID:   uint64(len(p.Function) + 1),
			Name: taskLabel(t),
		}
		p.Function = append(p.Function, fn)
		loc := &profile.Location{
			ID:   uint64(len(p.Location) + 1),
			Line: []profile.Line{{Function: fn}},
		}
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{t.SumExecRuntime},
		})
	}

	return p
}

// WriteProfile writes the current run queue's profile to w in pprof's
// gzipped protobuf format.
func (q *Queue) WriteProfile(w io.Writer) error {
	return q.DumpProfile().Write(w)
}

func taskLabel(t *proc.Task) string {
	return "pid " + strconv.Itoa(t.Pid)
}
