package kernel

import (
	"fmt"

	"omibyte.io/rvrtos/trace"
)

// Semaphore is a counting semaphore. A binary semaphore has a maximum count
// of one. A Give with tasks waiting hands the unit straight to the highest
// priority waiter.
type Semaphore struct {
	k       *Kernel
	count   int
	max     int
	waiters waitList
	closed  bool
}

func (k *Kernel) NewSemaphore(max, initial int) (*Semaphore, error) {
	if max < 1 || initial < 0 || initial > max {
		return nil, fmt.Errorf("%w: max %d initial %d", ErrInvalidCount, max, initial)
	}
	return &Semaphore{
		k:     k,
		count: initial,
		max:   max,
	}, nil
}

// NewBinarySemaphore returns an empty binary semaphore.
func (k *Kernel) NewBinarySemaphore() (*Semaphore, error) {
	return k.NewSemaphore(1, 0)
}

func (s *Semaphore) check(op string) {
	if s.closed {
		s.k.fatal(ProtocolViolation, fmt.Errorf("%w: semaphore %s", ErrUseAfterClose, op))
	}
}

// Take acquires one unit, waiting up to timeout ticks. It must not be called
// from an interrupt.
func (s *Semaphore) Take(timeout Ticks) error {
	k := s.k
	s.check("take")
	if k.InISR() {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: semaphore take", ErrCalledFromISR))
	}
	if timeout != NoWait {
		k.checkBlocking("semaphore take")
	}

	state := k.enter()
	if s.count > 0 {
		s.count--
		k.record(trace.Take, k.curID(), 0, uint32(s.count))
		k.exit(state)
		return nil
	}
	if timeout == NoWait {
		k.exit(state)
		return ErrTimeout
	}
	if k.block(state, &s.waiters, timeout) == wakeSignaled {
		k.record(trace.Take, k.curID(), 0, uint32(s.count))
		return nil
	}
	return ErrTimeout
}

// Give releases one unit. From an interrupt, waking a task of higher
// priority than the interrupted one switches to it at trap return; from a
// task it switches at once.
func (s *Semaphore) Give() error {
	k := s.k
	s.check("give")

	state := k.enter()
	if w := s.waiters.popFront(); w != nil {
		yield := k.wakeWaiter(w, wakeSignaled)
		k.record(trace.Give, k.curID(), w.id, uint32(s.count))
		k.exit(state)
		if yield && !k.InISR() {
			k.yield()
		}
		return nil
	}
	if s.count == s.max {
		k.exit(state)
		return ErrSemaphoreFull
	}
	s.count++
	k.record(trace.Give, k.curID(), -1, uint32(s.count))
	k.exit(state)
	return nil
}

func (s *Semaphore) Count() int {
	return s.count
}

// Close releases the semaphore. It is fatal to close it twice or while tasks
// wait on it.
func (s *Semaphore) Close() {
	if s.closed {
		s.k.fatal(ProtocolViolation, fmt.Errorf("%w: semaphore", ErrDoubleClose))
	}
	if !s.waiters.empty() {
		s.k.fatal(ProtocolViolation, fmt.Errorf("%w: semaphore", ErrPrimitiveBusy))
	}
	s.closed = true
}
