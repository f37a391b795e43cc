package kernel

import (
	"errors"
	"fmt"
	"runtime"

	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/logger"
	"omibyte.io/rvrtos/tick"
	"omibyte.io/rvrtos/trace"
	"omibyte.io/rvrtos/trap"
)

// Ticks counts tick interrupts. Arithmetic on tick values wraps.
type Ticks uint32

const (
	NoWait  Ticks = 0
	Forever Ticks = ^Ticks(0)
)

// sramBase is the address SRAM offsets are reported against.
const sramBase = 0x2000_0000

type SchedulerState uint8

const (
	SchedulerNotStarted SchedulerState = iota
	SchedulerRunning
	SchedulerSuspended
	SchedulerHalted
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerNotStarted:
		return "not started"
	case SchedulerRunning:
		return "running"
	case SchedulerSuspended:
		return "suspended"
	case SchedulerHalted:
		return "halted"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Kernel owns the machine once Start is called. Every task runs on its own
// goroutine but only the one holding the CPU ever executes; control passes
// between them only at trap return.
type Kernel struct {
	m     *hal.Machine
	cpu   *hal.CPU
	disp  *trap.Dispatcher
	timer *tick.Timer
	heap  *Heap
	opts  Options
	log   *logger.Logger
	trace *trace.Recorder

	heapBase uint32

	tasks     []*Task
	ntasks    int
	nextID    int
	ready     []taskList
	readyMask uint32
	delayed   delayList
	suspended taskList
	cur       *Task
	idle      *Task
	timers    *timerService

	tickCount     Ticks
	pendedTicks   Ticks
	ticksSeen     uint64
	suspendDepth  int
	switchPending bool
	rotate        bool
	started       bool
	halted        bool
	tickWork      int
	switchedAt    uint64

	startupErr error
	quit       chan struct{}
	done       chan error
}

func New(m *hal.Machine, opts Options) (*Kernel, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	region := m.SRAM().HeapRegion()
	if len(region) < opts.TotalHeapSize {
		return nil, fmt.Errorf("%w: heap of %d bytes does not fit in %d bytes of SRAM", ErrInvalidOption, opts.TotalHeapSize, len(region))
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard
	}

	disp := trap.New(m, trap.Options{
		Nesting:       opts.NestedInterrupts,
		LocalPriority: opts.TickPriority,
	})
	timer, err := tick.New(m, disp, opts.TickRateHz)
	if err != nil {
		return nil, errors.Join(ErrInvalidOption, err)
	}

	k := &Kernel{
		m:        m,
		cpu:      m.CPU(),
		disp:     disp,
		timer:    timer,
		heap:     NewHeap(region[:opts.TotalHeapSize]),
		opts:     opts,
		log:      opts.Logger,
		trace:    trace.NewRecorder(opts.TraceCapacity),
		heapBase: sramBase + uint32(m.SRAM().Size()-len(region)),
		ready:    make([]taskList, opts.MaxPriorities),
		quit:     make(chan struct{}),
		done:     make(chan error, 1),
	}
	if opts.MaxTasks > 0 {
		k.tasks = make([]*Task, opts.MaxTasks)
	}

	disp.SetSwitcher(k)
	disp.SetFaultHandler(func(err error) {
		k.fatal(UnhandledTrap, err)
	})
	disp.SetExceptionHandler(hal.ExcEcallM, k.ecall)
	if k.trace != nil {
		disp.SetHooks(k.traceTrap(trace.TrapEnter), k.traceTrap(trace.TrapExit))
	}
	return k, nil
}

func (k *Kernel) Machine() *hal.Machine {
	return k.m
}

// Interrupts is the interrupt controller binding.
func (k *Kernel) Interrupts() *trap.Dispatcher {
	return k.disp
}

func (k *Kernel) Trace() *trace.Recorder {
	return k.trace
}

func (k *Kernel) Logger() *logger.Logger {
	return k.log
}

func (k *Kernel) Options() Options {
	return k.opts
}

func (k *Kernel) TickPeriod() uint64 {
	return k.timer.Period()
}

// InISR reports whether the caller runs in interrupt context.
func (k *Kernel) InISR() bool {
	return k.disp.Depth() > 0
}

// Spin burns cycles in the calling context.
func (k *Kernel) Spin(cycles uint64) {
	k.cpu.Spin(cycles)
}

// EnterCritical masks interrupts and returns the state to restore.
func (k *Kernel) EnterCritical() uint32 {
	return k.cpu.DisableInterrupts()
}

func (k *Kernel) ExitCritical(state uint32) {
	k.cpu.RestoreInterrupts(state)
}

func (k *Kernel) enter() uint32 {
	return k.cpu.DisableInterrupts()
}

func (k *Kernel) exit(state uint32) {
	k.cpu.RestoreInterrupts(state)
}

func (k *Kernel) SchedulerState() SchedulerState {
	switch {
	case k.halted:
		return SchedulerHalted
	case !k.started:
		return SchedulerNotStarted
	case k.suspendDepth > 0:
		return SchedulerSuspended
	}
	return SchedulerRunning
}

func (k *Kernel) HeapStats() HeapStats {
	return k.heap.Stats()
}

// Start creates the idle and timer service tasks, starts the tick and runs
// the highest priority task. It returns only when the machine halts.
func (k *Kernel) Start() error {
	if k.started || k.halted {
		return ErrSchedulerRunning
	}
	if k.startupErr != nil {
		return errors.Join(ErrStartupFailed, k.startupErr)
	}

	idle, err := k.CreateTask(k.idleLoop, "IDLE", k.opts.MinimalStackSize, 0)
	if err != nil {
		return errors.Join(ErrStartupFailed, err)
	}
	k.idle = idle

	if k.opts.UseTimers {
		if err := k.startTimerService(); err != nil {
			return errors.Join(ErrStartupFailed, err)
		}
	}

	first := k.popReady()
	k.log.Infof("starting scheduler, first task %s", first.name)
	if err := k.timer.Start(k.tickISR); err != nil {
		k.makeReady(first)
		return errors.Join(ErrStartupFailed, err)
	}

	first.state = Running
	k.cur = first
	k.started = true
	k.switchedAt = k.cpu.Clock()
	k.record(trace.TaskSwitch, -1, first.id, 0)

	first.started = true
	k.launch(first)
	first.resume <- struct{}{}
	return <-k.done
}

// Stop asks the machine to halt at the next tick. It may be called from any
// goroutine.
func (k *Kernel) Stop() {
	k.cpu.RequestStop()
}

func (k *Kernel) launch(t *Task) {
	go func() {
		select {
		case <-t.resume:
		case <-t.kill:
			return
		case <-k.quit:
			return
		}

		// First return from trap into the task entry
		k.cpu.Mret(&t.ctx)
		k.cpu.Deliver()
		t.fn()
		k.fatal(ProtocolViolation, fmt.Errorf("%w: %s", ErrTaskReturned, t.name))
	}()
}

// transfer hands the CPU from prev to next and parks the calling goroutine
// until prev is scheduled again.
func (k *Kernel) transfer(prev, next *Task) {
	exit := prev.state == Deleted
	if !next.started {
		next.started = true
		k.launch(next)
	}
	next.resume <- struct{}{}
	if exit {
		runtime.Goexit()
	}
	select {
	case <-prev.resume:
	case <-prev.kill:
		runtime.Goexit()
	case <-k.quit:
		runtime.Goexit()
	}
}

func (k *Kernel) fatal(class FaultClass, err error) {
	fe := &FatalError{Class: class, Err: err, Tick: k.tickCount}
	if k.cur != nil {
		fe.Task = k.cur.name
	}
	if !k.started || k.halted {
		panic(fe)
	}
	k.log.Fatalf("%v", fe)
	k.record(trace.Fault, k.curID(), 0, uint32(class))
	k.halt(fe)
}

// Fault halts the machine with a protocol violation detected outside the
// kernel, such as a driver contract broken by the application.
func (k *Kernel) Fault(err error) {
	k.fatal(ProtocolViolation, err)
}

func (k *Kernel) halt(err error) {
	k.halted = true
	k.cpu.DisableInterrupts()
	k.timer.Stop()
	close(k.quit)
	k.done <- err
	runtime.Goexit()
}

// idleLoop passes the CPU on whenever another task is ready and otherwise
// sleeps until an interrupt. Ready tasks at the idle priority go ahead of
// it even without preemption or time slicing.
func (k *Kernel) idleLoop() {
	for {
		if k.opts.IdleHook != nil {
			k.opts.IdleHook()
		}
		state := k.enter()
		if k.readyMask != 0 {
			k.rotate = true
			k.requestSwitch()
			k.exit(state)
			k.yield()
			continue
		}
		err := k.cpu.WaitForInterrupt()
		k.exit(state)
		if err != nil {
			k.fatal(CorruptState, err)
		}
	}
}

func (k *Kernel) curID() int {
	if k.cur == nil {
		return -1
	}
	return k.cur.id
}

func (k *Kernel) record(kind trace.Kind, task, other int, arg uint32) {
	if k.trace == nil {
		return
	}
	k.trace.Record(trace.Event{
		Cycle: k.cpu.Clock(),
		Tick:  uint32(k.tickCount),
		Kind:  kind,
		Task:  task,
		Other: other,
		Arg:   arg,
	})
}

// Mark adds an application event to the trace.
func (k *Kernel) Mark(arg uint32) {
	k.record(trace.Mark, k.curID(), 0, arg)
}

func (k *Kernel) traceTrap(kind trace.Kind) func(*trap.Frame) {
	return func(f *trap.Frame) {
		k.record(kind, f.Depth, f.Source, uint32(f.Cause))
	}
}
