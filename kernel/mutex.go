package kernel

import (
	"fmt"

	"omibyte.io/rvrtos/trace"
)

// Mutex is a semaphore with an owner. While a higher priority task waits
// for it, the owner runs at that task's priority.
type Mutex struct {
	k         *Kernel
	owner     *Task
	held      int
	recursive bool
	waiters   waitList
	closed    bool
}

func (k *Kernel) NewMutex() (*Mutex, error) {
	m := &Mutex{k: k}
	m.waiters.mutex = m
	return m, nil
}

// NewRecursiveMutex returns a mutex its owner may take again; it is released
// after as many gives as takes.
func (k *Kernel) NewRecursiveMutex() (*Mutex, error) {
	m, err := k.NewMutex()
	if err != nil {
		return nil, err
	}
	m.recursive = true
	return m, nil
}

func (m *Mutex) check(op string) {
	if m.closed {
		m.k.fatal(ProtocolViolation, fmt.Errorf("%w: mutex %s", ErrUseAfterClose, op))
	}
	if m.k.InISR() {
		m.k.fatal(ProtocolViolation, fmt.Errorf("%w: mutex %s", ErrCalledFromISR, op))
	}
}

func (m *Mutex) Take(timeout Ticks) error {
	k := m.k
	m.check("take")
	if timeout != NoWait {
		k.checkBlocking("mutex take")
	}

	state := k.enter()
	cur := k.cur
	switch {
	case m.owner == nil:
		m.owner = cur
		m.held = 1
		cur.mutexesHeld++
		k.record(trace.Take, cur.id, 0, 1)
		k.exit(state)
		return nil
	case m.owner == cur:
		if !m.recursive {
			k.exit(state)
			k.fatal(ProtocolViolation, fmt.Errorf("%w: %s", ErrRecursiveTake, cur.name))
		}
		m.held++
		k.exit(state)
		return nil
	case timeout == NoWait:
		k.exit(state)
		return ErrTimeout
	}

	// Lend our priority to the owner
	if cur.prio > m.owner.prio {
		k.reprioritize(m.owner, cur.prio)
	}
	if k.block(state, &m.waiters, timeout) == wakeSignaled {
		k.record(trace.Take, cur.id, 0, 1)
		return nil
	}
	return ErrTimeout
}

func (m *Mutex) Give() error {
	k := m.k
	m.check("give")

	state := k.enter()
	cur := k.cur
	if m.owner != cur {
		k.exit(state)
		return ErrNotOwner
	}
	m.held--
	if m.held > 0 {
		k.exit(state)
		return nil
	}

	m.owner = nil
	cur.mutexesHeld--
	yield := false
	if cur.prio != cur.basePrio && cur.mutexesHeld == 0 {
		k.reprioritize(cur, cur.basePrio)
		if k.topReady() > cur.prio {
			k.requestSwitch()
			yield = true
		}
	}

	if w := m.waiters.popFront(); w != nil {
		m.owner = w
		m.held = 1
		w.mutexesHeld++
		if k.wakeWaiter(w, wakeSignaled) {
			yield = true
		}
		if h := m.waiters.head; h != nil && h.prio > w.prio {
			k.reprioritize(w, h.prio)
		}
	}
	k.record(trace.Give, cur.id, 0, 0)
	k.exit(state)
	if yield {
		k.yield()
	}
	return nil
}

// waiterLeft recomputes the owner's inherited priority after a waiter gave
// up.
func (m *Mutex) waiterLeft() {
	o := m.owner
	if o == nil {
		return
	}
	target := o.basePrio
	if h := m.waiters.head; h != nil && h.prio > target {
		target = h.prio
	}
	if target > o.prio || (target < o.prio && o.mutexesHeld == 1) {
		m.k.reprioritize(o, target)
	}
}

func (m *Mutex) Owner() *Task {
	return m.owner
}

func (m *Mutex) Close() {
	if m.closed {
		m.k.fatal(ProtocolViolation, fmt.Errorf("%w: mutex", ErrDoubleClose))
	}
	if !m.waiters.empty() {
		m.k.fatal(ProtocolViolation, fmt.Errorf("%w: mutex", ErrPrimitiveBusy))
	}
	m.closed = true
}
