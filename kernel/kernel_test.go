package kernel

import (
	"errors"
	"fmt"
	"testing"

	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/trace"
)

func newTestKernel(t *testing.T, configure func(*Options)) *Kernel {
	t.Helper()
	m, err := hal.NewMachine(hal.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })

	opts := DefaultOptions()
	opts.UseTimers = false
	opts.TraceCapacity = 1 << 14
	opts.TickLimit = 100
	if configure != nil {
		configure(&opts)
	}
	k, err := New(m, opts)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func mustCreate(t *testing.T, k *Kernel, name string, prio int, fn TaskFunc) *Task {
	t.Helper()
	task, err := k.CreateTask(fn, name, 256, prio)
	if err != nil {
		t.Fatal(err)
	}
	return task
}

// finish requests a halt at the next tick and parks the caller.
func finish(k *Kernel) {
	k.Stop()
	k.Delay(Forever)
}

func expectHalt(t *testing.T, err error, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("machine halted with %v, want %v", err, want)
	}
}

func spinForever(k *Kernel) TaskFunc {
	return func() {
		for {
			k.Spin(500)
		}
	}
}

func TestOptionsValidation(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*Options)
	}{
		{"priorities", func(o *Options) { o.MaxPriorities = 33 }},
		{"tick rate", func(o *Options) { o.TickRateHz = 0 }},
		{"minimal stack", func(o *Options) { o.MinimalStackSize = 8 }},
		{"max stack", func(o *Options) { o.MaxStackSize = 64 }},
		{"heap", func(o *Options) { o.TotalHeapSize = 100 }},
		{"heap larger than sram", func(o *Options) { o.TotalHeapSize = 1 << 20 }},
		{"tick priority", func(o *Options) { o.TickPriority = 0 }},
		{"timer queue", func(o *Options) { o.UseTimers = true; o.TimerQueueLength = 0 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, err := hal.NewMachine(hal.DefaultConfig())
			if err != nil {
				t.Fatal(err)
			}
			defer m.Close()
			opts := DefaultOptions()
			test.configure(&opts)
			if _, err := New(m, opts); !errors.Is(err, ErrInvalidOption) {
				t.Errorf("got %v, want ErrInvalidOption", err)
			}
		})
	}
}

func TestCreateTaskValidation(t *testing.T) {
	k := newTestKernel(t, func(o *Options) {
		o.TotalHeapSize = 4096
	})
	nop := func() {}
	tests := []struct {
		name  string
		fn    TaskFunc
		stack int
		prio  int
		want  error
	}{
		{"nil function", nil, 128, 1, ErrNilTaskFunc},
		{"negative priority", nop, 128, -1, ErrInvalidPriority},
		{"priority too high", nop, 128, 32, ErrInvalidPriority},
		{"stack too small", nop, 16, 1, ErrInvalidStackSize},
		{"stack too large", nop, 4096, 1, ErrInvalidStackSize},
		{"heap exhausted", nop, 2000, 1, ErrOutOfMemory},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			task, err := k.CreateTask(test.fn, test.name, test.stack, test.prio)
			if task != nil || !errors.Is(err, test.want) {
				t.Errorf("got %v, %v; want %v", task, err, test.want)
			}
		})
	}

	// Any failure before start keeps the scheduler from starting
	err := k.Start()
	expectHalt(t, err, ErrStartupFailed)
	if !errors.Is(err, ErrOutOfMemory) || !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("startup error does not carry the causes: %v", err)
	}
	if k.SchedulerState() != SchedulerNotStarted {
		t.Errorf("scheduler state %v", k.SchedulerState())
	}
}

func TestRegistryCapacity(t *testing.T) {
	k := newTestKernel(t, func(o *Options) {
		o.MaxTasks = 3
	})
	for i := 0; i < 3; i++ {
		mustCreate(t, k, fmt.Sprint("T", i), 1, func() {})
	}
	before := k.HeapStats().Free

	if _, err := k.CreateTask(func() {}, "T3", 256, 1); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("got %v, want ErrRegistryFull", err)
	}
	tasks := k.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("registry holds %d tasks after failed create", len(tasks))
	}
	for i, status := range tasks {
		if status.Name != fmt.Sprint("T", i) || status.State != Ready {
			t.Errorf("task %d corrupted: %+v", i, status)
		}
	}
	if k.HeapStats().Free != before {
		t.Errorf("failed create leaked heap memory")
	}

	err := k.Start()
	expectHalt(t, err, ErrStartupFailed)
	expectHalt(t, err, ErrRegistryFull)
}

func TestIdleNeedsRegistrySlot(t *testing.T) {
	k := newTestKernel(t, func(o *Options) {
		o.MaxTasks = 1
	})
	mustCreate(t, k, "only", 1, func() {})
	err := k.Start()
	expectHalt(t, err, ErrStartupFailed)
	expectHalt(t, err, ErrRegistryFull)
}

func TestNameTruncated(t *testing.T) {
	k := newTestKernel(t, nil)
	task := mustCreate(t, k, "a-very-long-task-name", 1, func() {})
	if task.Name() != "a-very-long-tas" {
		t.Errorf("name %q", task.Name())
	}
}

func TestHighestPriorityRunsFirst(t *testing.T) {
	k := newTestKernel(t, nil)
	var order []string
	record := func(name string) TaskFunc {
		return func() {
			order = append(order, name)
			if name == "low" {
				finish(k)
			}
			k.Delay(Forever)
		}
	}
	mustCreate(t, k, "low", 1, record("low"))
	mustCreate(t, k, "high", 7, record("high"))
	mustCreate(t, k, "mid", 4, record("mid"))

	expectHalt(t, k.Start(), ErrStopped)
	if fmt.Sprint(order) != "[high mid low]" {
		t.Errorf("run order %v", order)
	}
}

func TestRoundRobin(t *testing.T) {
	const ticks = 13
	k := newTestKernel(t, func(o *Options) {
		o.TickLimit = ticks
	})
	a := mustCreate(t, k, "A", 2, spinForever(k))
	b := mustCreate(t, k, "B", 2, spinForever(k))
	c := mustCreate(t, k, "C", 2, spinForever(k))
	mustCreate(t, k, "low", 1, spinForever(k))

	expectHalt(t, k.Start(), ErrTickLimit)

	switches := k.Trace().Filter(trace.TaskSwitch)
	if len(switches) != ticks {
		t.Fatalf("got %d switches, want %d", len(switches), ticks)
	}
	order := []int{a.ID(), b.ID(), c.ID()}
	period := k.TickPeriod()
	for i, e := range switches {
		if e.Other != order[i%3] {
			t.Errorf("switch %d went to task %d, want %d", i, e.Other, order[i%3])
		}
		if e.Cycle != uint64(i)*period {
			t.Errorf("switch %d at cycle %d, want %d", i, e.Cycle, uint64(i)*period)
		}
	}
}

func TestNoTimeSlicing(t *testing.T) {
	k := newTestKernel(t, func(o *Options) {
		o.TickLimit = 10
		o.TimeSlicing = false
	})
	a := mustCreate(t, k, "A", 2, spinForever(k))
	mustCreate(t, k, "B", 2, spinForever(k))

	expectHalt(t, k.Start(), ErrTickLimit)
	switches := k.Trace().Filter(trace.TaskSwitch)
	if len(switches) != 1 || switches[0].Other != a.ID() {
		t.Errorf("unexpected switches %+v", switches)
	}
}

func TestDelayAccuracy(t *testing.T) {
	const samples = 40
	k := newTestKernel(t, func(o *Options) {
		o.TickLimit = 1000
	})
	cpu := k.Machine().CPU()

	var elapsed []Ticks
	var latency []float64
	mustCreate(t, k, "periodic", 5, func() {
		for i := 0; i < samples; i++ {
			// Start each delay at a different point inside the tick
			k.Spin(uint64(i*397) % k.TickPeriod())
			delay := Ticks(1 + i%4)
			start := k.TickCount()
			k.Delay(delay)
			elapsed = append(elapsed, k.TickCount()-start-delay)
			latency = append(latency, float64(cpu.Clock()-k.timer.LastFire()))
		}
		finish(k)
	})
	mustCreate(t, k, "background", 1, spinForever(k))

	expectHalt(t, k.Start(), ErrStopped)
	if len(elapsed) != samples {
		t.Fatalf("got %d samples", len(elapsed))
	}
	for i, extra := range elapsed {
		if extra != 0 {
			t.Errorf("sample %d woke %d ticks late", i, extra)
		}
	}
	s := trace.Summarize(latency)
	if s.Max > float64(k.TickPeriod())/100 {
		t.Errorf("wake latency too large: %v", s)
	}
}

func TestDelayUntil(t *testing.T) {
	k := newTestKernel(t, nil)
	var wakes []Ticks
	var late bool
	mustCreate(t, k, "periodic", 3, func() {
		last := k.TickCount()
		for i := 0; i < 5; i++ {
			k.Spin(3000)
			k.DelayUntil(&last, 4)
			wakes = append(wakes, k.TickCount())
		}

		// A deadline already behind us returns at once
		k.Delay(10)
		late = !k.DelayUntil(&last, 4)
		finish(k)
	})

	expectHalt(t, k.Start(), ErrStopped)
	for i, w := range wakes {
		if w != Ticks(4*(i+1)) {
			t.Errorf("wake %d at tick %d, want %d", i, w, 4*(i+1))
		}
	}
	if !late {
		t.Error("DelayUntil blocked on a missed deadline")
	}
}

func TestTickWorkIndependentOfReadyTasks(t *testing.T) {
	maxWork := func(readyTasks int) int {
		k := newTestKernel(t, func(o *Options) {
			o.TickLimit = 30
			o.TotalHeapSize = 48 * 1024
			o.TraceCapacity = 0
		})
		worst := 0
		k.opts.TickHook = func() {
			if k.tickWork > worst {
				worst = k.tickWork
			}
		}
		for i := 0; i < readyTasks; i++ {
			if _, err := k.CreateTask(spinForever(k), fmt.Sprint("busy", i), 128, 1); err != nil {
				t.Fatal(err)
			}
		}
		mustCreate(t, k, "sleeper", 2, func() {
			for {
				k.Delay(3)
			}
		})
		expectHalt(t, k.Start(), ErrTickLimit)
		return worst
	}

	few, many := maxWork(1), maxWork(25)
	if few != 1 || many != 1 {
		t.Errorf("tick work with 1 ready task %d, with 25 ready tasks %d, want 1", few, many)
	}
}

func TestSuspendResume(t *testing.T) {
	k := newTestKernel(t, nil)
	var log []string
	var worker *Task
	worker = mustCreate(t, k, "worker", 2, func() {
		for {
			log = append(log, fmt.Sprint("work@", k.TickCount()))
			k.Delay(1)
		}
	})
	mustCreate(t, k, "control", 3, func() {
		k.Delay(2)
		k.Suspend(worker)
		if k.State(worker) != Suspended {
			log = append(log, "not suspended")
		}
		k.Delay(5)
		k.Resume(worker)
		k.Delay(1)
		finish(k)
	})

	expectHalt(t, k.Start(), ErrStopped)
	want := "[work@0 work@1 work@7 work@8]"
	if fmt.Sprint(log) != want {
		t.Errorf("got %v, want %s", log, want)
	}
}

func TestSuspendAllDefersSwitch(t *testing.T) {
	k := newTestKernel(t, nil)
	sem, _ := k.NewBinarySemaphore()
	var log []string
	mustCreate(t, k, "high", 5, func() {
		sem.Take(Forever)
		log = append(log, fmt.Sprint("high@", k.TickCount()))
		finish(k)
	})
	mustCreate(t, k, "low", 1, func() {
		k.SuspendAll()
		sem.Give()
		log = append(log, "gave")
		k.Spin(3 * k.TickPeriod())
		if k.TickCount() != 0 || k.SchedulerState() != SchedulerSuspended {
			log = append(log, "ticks not pended")
		}
		yielded := k.ResumeAll()
		log = append(log, fmt.Sprint("resumed ", yielded))
		k.Delay(Forever)
	})

	expectHalt(t, k.Start(), ErrStopped)
	want := "[gave high@3 resumed true]"
	if fmt.Sprint(log) != want {
		t.Errorf("got %v, want %s", log, want)
	}
}

func TestDeleteFreesMemory(t *testing.T) {
	k := newTestKernel(t, nil)
	var freeBefore, freeAfter int
	var state TaskState
	victim := mustCreate(t, k, "victim", 1, spinForever(k))
	mustCreate(t, k, "reaper", 2, func() {
		k.Delay(2)
		freeBefore = k.HeapStats().Free
		k.Delete(victim)
		freeAfter = k.HeapStats().Free
		state = k.State(victim)

		mustCreateIn(k, "temp", 3, func() {
			k.Delete(nil)
		})
		finish(k)
	})

	expectHalt(t, k.Start(), ErrStopped)
	if state != Deleted {
		t.Errorf("victim state %v", state)
	}
	if freeAfter-freeBefore < 256*4 {
		t.Errorf("delete freed %d bytes", freeAfter-freeBefore)
	}
	if k.TaskByName("temp") != nil || k.TaskByName("victim") != nil {
		t.Error("deleted tasks still registered")
	}
}

func mustCreateIn(k *Kernel, name string, prio int, fn TaskFunc) {
	if _, err := k.CreateTask(fn, name, 256, prio); err != nil {
		panic(err)
	}
}

func TestSetPriorityPreempts(t *testing.T) {
	k := newTestKernel(t, nil)
	var log []string
	var low *Task
	low = mustCreate(t, k, "low", 1, func() {
		log = append(log, "low")
		finish(k)
	})
	mustCreate(t, k, "high", 3, func() {
		log = append(log, "high")
		k.SetPriority(low, 4)
		log = append(log, fmt.Sprint("high again ", k.Priority(low)))
		k.Delay(Forever)
	})

	expectHalt(t, k.Start(), ErrStopped)
	if fmt.Sprint(log) != "[high low high again 4]" {
		t.Errorf("got %v", log)
	}
	if err := k.SetPriority(low, 99); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("got %v", err)
	}
}

func TestStackHighWaterMarkAndRunTime(t *testing.T) {
	k := newTestKernel(t, func(o *Options) {
		o.TickLimit = 10
	})
	task := mustCreate(t, k, "busy", 1, spinForever(k))
	mustCreate(t, k, "other", 1, spinForever(k))

	expectHalt(t, k.Start(), ErrTickLimit)
	mark := k.StackHighWaterMark(task)
	if mark <= 0 || mark > 256-frameWords {
		t.Errorf("high water mark %d words", mark)
	}

	var total uint64
	for _, status := range k.Tasks() {
		total += status.RunCycles
		if status.Name == "busy" && status.RunCycles < 4*k.TickPeriod() {
			t.Errorf("busy ran only %d cycles", status.RunCycles)
		}
	}
	if total != k.Machine().CPU().Clock() {
		t.Errorf("run time %d does not add up to %d cycles", total, k.Machine().CPU().Clock())
	}
}

func TestCooperative(t *testing.T) {
	k := newTestKernel(t, func(o *Options) {
		o.Preemption = false
	})
	var log []string
	mustCreate(t, k, "low", 1, func() {
		k.Delay(1)
		log = append(log, "low")
		k.Spin(3 * k.TickPeriod())
		log = append(log, "low done")
		k.Delay(Forever)
	})
	mustCreate(t, k, "high", 2, func() {
		k.Delay(2)
		log = append(log, fmt.Sprint("high@", k.TickCount()))
		finish(k)
	})

	expectHalt(t, k.Start(), ErrStopped)
	if fmt.Sprint(log) != "[low low done high@4]" {
		t.Errorf("got %v", log)
	}
}

func TestIdlePriorityTaskResumes(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*Options)
	}{
		{"cooperative", func(o *Options) { o.Preemption = false }},
		{"no time slicing", func(o *Options) { o.TimeSlicing = false }},
		{"time slicing", nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			k := newTestKernel(t, test.configure)
			var resumed []Ticks
			mustCreate(t, k, "background", 0, func() {
				for i := 0; i < 3; i++ {
					k.Delay(1)
					resumed = append(resumed, k.TickCount())
				}
				finish(k)
			})

			expectHalt(t, k.Start(), ErrStopped)
			if fmt.Sprint(resumed) != "[1 2 3]" {
				t.Errorf("resumed at ticks %v, want [1 2 3]", resumed)
			}
		})
	}
}
