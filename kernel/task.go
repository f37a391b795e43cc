package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"

	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/trace"
)

type TaskState uint8

const (
	Ready TaskState = iota
	Running
	Blocked
	Suspended
	Deleted
)

func (s TaskState) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Suspended:
		return "suspended"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

const (
	// Context frame: pc, x1..x30 and mstatus, one word each
	frameWords = 32
	frameBytes = frameWords * 4

	// Heap space taken by a task control block
	tcbBytes = 168

	stackFill = 0xa5

	entryBase    = 0x0000_1000
	taskExitAddr = 0x0000_0ffc
)

type TaskFunc func()

// Task is a task control block.
type Task struct {
	k     *Kernel
	id    int
	slot  int
	name  string
	fn    TaskFunc
	state TaskState

	basePrio int
	prio     int

	ctx       hal.Regs
	stack     []byte
	stackAddr uint32
	stackOff  int
	tcbOff    int

	// Ready or suspended list
	list       *taskList
	next, prev *Task

	// Delay list
	dnext, dprev *Task
	delta        Ticks
	delayed      bool

	// Wait list of the primitive the task is blocked on
	waitOn       *waitList
	wnext, wprev *Task
	wake         wakeReason
	xfer         interface{}

	mutexesHeld int
	runCycles   uint64

	started bool
	resume  chan struct{}
	kill    chan struct{}
}

func (t *Task) Name() string {
	return t.name
}

func (t *Task) ID() int {
	return t.id
}

func (t *Task) String() string {
	return t.name
}

// TaskStatus is a snapshot of one task.
type TaskStatus struct {
	ID             int
	Name           string
	State          TaskState
	Priority       int
	BasePriority   int
	RunCycles      uint64
	StackHighWater int
}

// CreateTask allocates a control block and a stack of stackWords words and
// makes the task ready. A task of higher priority than the caller runs at
// once when the scheduler is running. Failures before Start are remembered
// and keep the scheduler from starting.
func (k *Kernel) CreateTask(fn TaskFunc, name string, stackWords int, prio int) (*Task, error) {
	if k.InISR() {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: create task", ErrCalledFromISR))
	}

	t, err := k.newTask(fn, name, stackWords, prio)
	if err != nil {
		err = fmt.Errorf("task %q: %w", name, err)
		if !k.started {
			k.startupErr = errors.Join(k.startupErr, err)
		}
		k.log.Errorf("%v", err)
		return nil, err
	}

	state := k.enter()
	k.makeReady(t)
	k.record(trace.TaskCreate, t.id, 0, uint32(prio))
	yield := k.preempts(t)
	if yield {
		k.requestSwitch()
	}
	k.exit(state)
	if yield {
		k.yield()
	}
	return t, nil
}

func (k *Kernel) newTask(fn TaskFunc, name string, stackWords int, prio int) (*Task, error) {
	switch {
	case fn == nil:
		return nil, ErrNilTaskFunc
	case prio < 0 || prio >= k.opts.MaxPriorities:
		return nil, fmt.Errorf("%w: %d not in 0..%d", ErrInvalidPriority, prio, k.opts.MaxPriorities-1)
	case stackWords < k.opts.MinimalStackSize || stackWords > k.opts.MaxStackSize:
		return nil, fmt.Errorf("%w: %d words not in %d..%d", ErrInvalidStackSize, stackWords, k.opts.MinimalStackSize, k.opts.MaxStackSize)
	}

	slot := k.freeSlot()
	if slot < 0 {
		return nil, fmt.Errorf("%w: %d tasks", ErrRegistryFull, k.ntasks)
	}

	tcbOff, err := k.heap.Alloc(tcbBytes)
	if err != nil {
		return nil, err
	}
	stackOff, err := k.heap.Alloc(stackWords * 4)
	if err != nil {
		k.heap.Free(tcbOff)
		return nil, err
	}

	if len(name) > k.opts.MaxTaskNameLen-1 {
		name = name[:k.opts.MaxTaskNameLen-1]
	}

	t := &Task{
		k:         k,
		id:        k.nextID,
		slot:      slot,
		name:      name,
		fn:        fn,
		basePrio:  prio,
		prio:      prio,
		stack:     k.heap.Bytes(stackOff)[:stackWords*4],
		stackAddr: k.heapBase + uint32(stackOff),
		stackOff:  stackOff,
		tcbOff:    tcbOff,
		resume:    make(chan struct{}, 1),
		kill:      make(chan struct{}),
	}
	k.nextID++
	if slot == len(k.tasks) {
		k.tasks = append(k.tasks, t)
	} else {
		k.tasks[slot] = t
	}
	k.ntasks++

	for i := range t.stack {
		t.stack[i] = stackFill
	}

	// Initial frame as if the task had been interrupted at its entry point
	sp := (t.stackAddr + uint32(len(t.stack)) - frameBytes) &^ 15
	t.ctx.PC = entryBase + uint32(t.id)*0x100
	t.ctx.Status = hal.StatusMPIE
	t.ctx.X[hal.RegSP] = sp
	t.ctx.X[hal.RegRA] = taskExitAddr
	t.ctx.X[hal.RegA0] = uint32(t.id)
	k.saveFrame(t)
	return t, nil
}

func (k *Kernel) freeSlot() int {
	for i, t := range k.tasks {
		if t == nil {
			return i
		}
	}
	if k.opts.MaxTasks > 0 {
		return -1
	}
	return len(k.tasks)
}

// saveFrame writes the task's context below its stack pointer.
func (k *Kernel) saveFrame(t *Task) {
	off := int(t.ctx.X[hal.RegSP]) - int(t.stackAddr)
	if off < 0 || off+frameBytes > len(t.stack) {
		k.fatal(CorruptState, fmt.Errorf("%w: task %s sp %#08x", ErrStackOverflow, t.name, t.ctx.X[hal.RegSP]))
	}
	b := t.stack[off : off+frameBytes]
	binary.LittleEndian.PutUint32(b, t.ctx.PC)
	for i := 1; i < 31; i++ {
		binary.LittleEndian.PutUint32(b[i*4:], t.ctx.X[i])
	}
	binary.LittleEndian.PutUint32(b[31*4:], t.ctx.Status)
}

// checkTask resolves nil to the running task and rejects deleted ones.
func (k *Kernel) checkTask(t *Task, op string) *Task {
	if t == nil {
		if k.cur == nil {
			k.fatal(ProtocolViolation, fmt.Errorf("%w: %s", ErrNotStarted, op))
		}
		return k.cur
	}
	if t.k != k || t.state == Deleted {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: %s on %s", ErrUseAfterDelete, op, t.name))
	}
	return t
}

// Current is the running task.
func (k *Kernel) Current() *Task {
	return k.cur
}

// State may be asked of deleted tasks.
func (k *Kernel) State(t *Task) TaskState {
	if t == nil {
		t = k.cur
	}
	return t.state
}

// Priority is the effective priority, including any inherited one.
func (k *Kernel) Priority(t *Task) int {
	return k.checkTask(t, "priority").prio
}

// SetPriority changes the base priority of t (the caller when nil).
func (k *Kernel) SetPriority(t *Task, prio int) error {
	t = k.checkTask(t, "set priority")
	if prio < 0 || prio >= k.opts.MaxPriorities {
		return fmt.Errorf("%w: %d not in 0..%d", ErrInvalidPriority, prio, k.opts.MaxPriorities-1)
	}

	state := k.enter()
	inheriting := t.prio != t.basePrio
	t.basePrio = prio
	if !inheriting || prio > t.prio {
		k.reprioritize(t, prio)
	}
	yield := false
	if k.started && k.opts.Preemption {
		if t == k.cur {
			yield = k.topReady() > t.prio
		} else {
			yield = t.state == Ready && t.prio > k.cur.prio
		}
	}
	if yield {
		k.requestSwitch()
	}
	k.exit(state)
	if yield && !k.InISR() {
		k.yield()
	}
	return nil
}

// reprioritize moves t to prio keeping every list it is on consistent.
func (k *Kernel) reprioritize(t *Task, prio int) {
	if t.prio == prio {
		return
	}
	switch {
	case t.state == Ready:
		k.removeReady(t)
		t.prio = prio
		k.ready[prio].pushBack(t)
		k.readyMask |= 1 << uint(prio)
	case t.waitOn != nil:
		t.prio = prio
		t.waitOn.reposition(t)
	default:
		t.prio = prio
	}
}

// Suspend takes t (the caller when nil) out of scheduling until Resume.
func (k *Kernel) Suspend(t *Task) {
	t = k.checkTask(t, "suspend")
	if t == k.idle {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: suspend", ErrIdleBlocked))
	}
	self := t == k.cur
	if self {
		k.checkBlocking("suspend")
	}

	state := k.enter()
	switch t.state {
	case Suspended:
		k.exit(state)
		return
	case Ready:
		k.removeReady(t)
	case Blocked:
		k.abortWait(t)
		t.wake = wakeTimeout
	}
	t.state = Suspended
	k.suspended.pushBack(t)
	k.record(trace.TaskBlock, t.id, 0, 0)
	if self {
		k.requestSwitch()
	}
	k.exit(state)
	if self {
		k.yield()
	}
}

// Resume makes a suspended task ready. It may be called from an ISR.
func (k *Kernel) Resume(t *Task) {
	t = k.checkTask(t, "resume")

	state := k.enter()
	if t.state != Suspended {
		k.exit(state)
		return
	}
	k.suspended.remove(t)
	k.makeReady(t)
	yield := k.preempts(t)
	if yield {
		k.requestSwitch()
	}
	k.exit(state)
	if yield && !k.InISR() {
		k.yield()
	}
}

// Delete removes t (the caller when nil) and frees its memory. Deleting the
// caller does not return.
func (k *Kernel) Delete(t *Task) {
	if k.InISR() {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: delete", ErrCalledFromISR))
	}
	t = k.checkTask(t, "delete")
	if t == k.idle {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: delete", ErrIdleBlocked))
	}
	self := t == k.cur
	if self && k.suspendDepth > 0 {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: delete", ErrSchedulerSuspended))
	}

	state := k.enter()
	switch t.state {
	case Ready:
		k.removeReady(t)
	case Blocked:
		k.abortWait(t)
	case Suspended:
		k.suspended.remove(t)
	}
	t.state = Deleted
	k.tasks[t.slot] = nil
	k.ntasks--
	k.heap.Free(t.stackOff)
	k.heap.Free(t.tcbOff)
	t.stack = nil
	k.record(trace.TaskDelete, t.id, 0, 0)
	if !self && t.started {
		close(t.kill)
	}
	if self {
		k.requestSwitch()
	}
	k.exit(state)
	if self {
		k.yield()
	}
}

// StackHighWaterMark is the smallest number of stack words that have stayed
// unused since the task was created.
func (k *Kernel) StackHighWaterMark(t *Task) int {
	t = k.checkTask(t, "stack high water mark")
	return stackHighWater(t.stack)
}

func stackHighWater(stack []byte) int {
	n := 0
	for n < len(stack) && stack[n] == stackFill {
		n++
	}
	return n / 4
}

// Tasks returns a snapshot of every live task in registry order.
func (k *Kernel) Tasks() []TaskStatus {
	now := k.cpu.Clock()
	out := make([]TaskStatus, 0, k.ntasks)
	for _, t := range k.tasks {
		if t == nil {
			continue
		}
		run := t.runCycles
		if t == k.cur && k.started {
			run += now - k.switchedAt
		}
		out = append(out, TaskStatus{
			ID:             t.id,
			Name:           t.name,
			State:          t.state,
			Priority:       t.prio,
			BasePriority:   t.basePrio,
			RunCycles:      run,
			StackHighWater: stackHighWater(t.stack),
		})
	}
	return out
}

// TaskByName finds a live task.
func (k *Kernel) TaskByName(name string) *Task {
	for _, t := range k.tasks {
		if t != nil && t.name == name {
			return t
		}
	}
	return nil
}
