package kernel

import (
	"fmt"
	"math/bits"

	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/trace"
	"omibyte.io/rvrtos/trap"
)

type wakeReason uint8

const (
	wakeNone wakeReason = iota
	wakeSignaled
	wakeTimeout
	wakeDelay
)

func (k *Kernel) makeReady(t *Task) {
	t.state = Ready
	k.ready[t.prio].pushBack(t)
	k.readyMask |= 1 << uint(t.prio)
	k.record(trace.TaskReady, t.id, 0, uint32(t.prio))
}

func (k *Kernel) removeReady(t *Task) {
	k.ready[t.prio].remove(t)
	if k.ready[t.prio].n == 0 {
		k.readyMask &^= 1 << uint(t.prio)
	}
}

// topReady is the highest priority with a ready task, or -1.
func (k *Kernel) topReady() int {
	return bits.Len32(k.readyMask) - 1
}

func (k *Kernel) popReady() *Task {
	top := k.topReady()
	if top < 0 {
		return nil
	}
	t := k.ready[top].popFront()
	if k.ready[top].n == 0 {
		k.readyMask &^= 1 << uint(top)
	}
	return t
}

// preempts reports whether t becoming ready should take the CPU from the
// running task.
func (k *Kernel) preempts(t *Task) bool {
	return k.started && k.opts.Preemption && k.cur != nil && t.prio > k.cur.prio
}

// requestSwitch records that a scheduling decision is due. It is acted on
// at the outermost trap return.
func (k *Kernel) requestSwitch() {
	k.switchPending = true
}

// SwitchPending implements trap.Switcher.
func (k *Kernel) SwitchPending() bool {
	return k.switchPending && k.suspendDepth == 0 && !k.halted
}

// Switch implements trap.Switcher. It runs on the interrupted task's
// goroutine at the outermost trap return.
func (k *Kernel) Switch(regs *hal.Regs) {
	k.switchPending = false
	rotate := k.rotate
	k.rotate = false

	prev := k.cur
	if prev.state == Running {
		top := k.topReady()
		if top < prev.prio || (top == prev.prio && !rotate) {
			return
		}
		k.makeReady(prev)
	}

	next := k.popReady()
	if next == prev {
		prev.state = Running
		return
	}

	// Save the outgoing context on its stack
	prev.ctx = *regs
	if prev.state != Deleted {
		k.saveFrame(prev)
	}
	now := k.cpu.Clock()
	prev.runCycles += now - k.switchedAt
	k.switchedAt = now

	next.state = Running
	k.cur = next
	k.record(trace.TaskSwitch, prev.id, next.id, 0)
	k.transfer(prev, next)

	// Resumed
	*regs = prev.ctx
}

func (k *Kernel) ecall(f *trap.Frame) {
	f.Regs.PC += 4
	k.requestSwitch()
}

// yield gives the scheduler a chance to run from task context.
func (k *Kernel) yield() {
	if !k.started || k.suspendDepth > 0 {
		return
	}
	k.cpu.Ecall()
}

// Yield passes the CPU to the next ready task of the same priority, if any.
func (k *Kernel) Yield() {
	if k.InISR() {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: yield", ErrCalledFromISR))
	}
	k.rotate = true
	k.requestSwitch()
	k.yield()
}

// checkBlocking validates that the current context may block.
func (k *Kernel) checkBlocking(op string) {
	switch {
	case !k.started:
		k.fatal(ProtocolViolation, fmt.Errorf("%w: %s", ErrNotStarted, op))
	case k.InISR():
		k.fatal(ProtocolViolation, fmt.Errorf("%w: %s", ErrCalledFromISR, op))
	case k.cur == k.idle:
		k.fatal(ProtocolViolation, fmt.Errorf("%w: %s", ErrIdleBlocked, op))
	case k.suspendDepth > 0:
		k.fatal(ProtocolViolation, fmt.Errorf("%w: %s", ErrSchedulerSuspended, op))
	case !k.cpu.InterruptsEnabled():
		k.fatal(ProtocolViolation, fmt.Errorf("%w: %s", ErrBlockingInCritical, op))
	}
}

// block moves the running task to the blocked registry, on wl if not nil
// and on the delay list unless timeout is Forever, then switches away. The
// caller passes the interrupt state from its critical section.
func (k *Kernel) block(state uint32, wl *waitList, timeout Ticks) wakeReason {
	t := k.cur
	t.state = Blocked
	t.wake = wakeNone
	if wl != nil {
		wl.insert(t)
	}
	if timeout != Forever {
		k.delayed.insert(t, timeout)
	}
	k.record(trace.TaskBlock, t.id, 0, uint32(timeout))
	k.requestSwitch()
	k.exit(state)
	k.yield()
	return t.wake
}

// wakeWaiter unblocks t, which must be Blocked, and reports whether it
// should preempt the running task.
func (k *Kernel) wakeWaiter(t *Task, reason wakeReason) bool {
	if t.waitOn != nil {
		t.waitOn.remove(t)
	}
	k.delayed.remove(t)
	t.wake = reason
	k.makeReady(t)
	if k.preempts(t) {
		k.requestSwitch()
		return true
	}
	return false
}

// abortWait takes t off whatever it is blocked on without waking it.
func (k *Kernel) abortWait(t *Task) {
	if wl := t.waitOn; wl != nil {
		wl.remove(t)
		if wl.mutex != nil {
			wl.mutex.waiterLeft()
		}
	}
	k.delayed.remove(t)
}

func (k *Kernel) tickISR() {
	if k.cpu.StopRequested() {
		k.halt(ErrStopped)
	}
	k.ticksSeen++

	if k.suspendDepth > 0 {
		k.pendedTicks++
	} else {
		k.incrementTick()
	}
	if k.opts.TickHook != nil {
		k.opts.TickHook()
	}
	if k.opts.TickLimit > 0 && k.ticksSeen >= k.opts.TickLimit {
		k.halt(ErrTickLimit)
	}
}

// incrementTick advances the tick count and wakes every task whose delay
// has run out. Work done is proportional to the number of tasks woken.
func (k *Kernel) incrementTick() {
	k.tickCount++
	k.record(trace.Tick, k.curID(), 0, uint32(k.tickCount))

	work := 0
	if head := k.delayed.head; head != nil {
		head.delta--
		for head = k.delayed.head; head != nil && head.delta == 0; head = k.delayed.head {
			work++
			k.delayed.remove(head)
			if wl := head.waitOn; wl != nil {
				wl.remove(head)
				if wl.mutex != nil {
					wl.mutex.waiterLeft()
				}
				head.wake = wakeTimeout
			} else {
				head.wake = wakeDelay
			}
			k.makeReady(head)
		}
	}
	k.tickWork = work

	if !k.opts.Preemption || k.cur == nil {
		return
	}
	top := k.topReady()
	switch {
	case top > k.cur.prio:
		k.requestSwitch()
	case top == k.cur.prio && k.opts.TimeSlicing:
		k.rotate = true
		k.requestSwitch()
	}
}

func (k *Kernel) TickCount() Ticks {
	return k.tickCount
}

// Delay blocks the calling task for the given number of ticks. A delay of
// zero yields.
func (k *Kernel) Delay(ticks Ticks) {
	if ticks == 0 {
		k.Yield()
		return
	}
	k.checkBlocking("delay")
	state := k.enter()
	k.block(state, nil, ticks)
}

// DelayUntil blocks until *prev+increment and advances *prev by increment.
// It reports whether the task actually blocked; a wake time already in the
// past returns at once.
func (k *Kernel) DelayUntil(prev *Ticks, increment Ticks) bool {
	k.checkBlocking("delay until")
	state := k.enter()
	now := k.tickCount
	target := *prev + increment

	var shouldDelay bool
	if now < *prev {
		// The tick count wrapped since prev
		shouldDelay = target < *prev && target > now
	} else {
		shouldDelay = target < *prev || target > now
	}
	*prev = target

	if !shouldDelay {
		k.exit(state)
		return false
	}
	k.block(state, nil, target-now)
	return true
}

// SuspendAll stops context switches without masking interrupts. Calls nest.
func (k *Kernel) SuspendAll() {
	if k.InISR() {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: suspend all", ErrCalledFromISR))
	}
	k.suspendDepth++
}

// ResumeAll undoes one SuspendAll. When the last one is undone, ticks that
// arrived meanwhile are processed and any deferred switch happens. It
// reports whether the call yielded.
func (k *Kernel) ResumeAll() bool {
	if k.InISR() {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: resume all", ErrCalledFromISR))
	}
	if k.suspendDepth == 0 {
		k.fatal(ProtocolViolation, ErrUnbalancedResume)
	}

	state := k.enter()
	k.suspendDepth--
	if k.suspendDepth > 0 {
		k.exit(state)
		return false
	}
	for ; k.pendedTicks > 0; k.pendedTicks-- {
		k.incrementTick()
	}
	pending := k.switchPending
	k.exit(state)
	if pending {
		k.yield()
	}
	return pending
}
