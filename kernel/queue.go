package kernel

import (
	"fmt"
	"unsafe"

	"omibyte.io/rvrtos/trace"
)

const queueHeaderBytes = 80

// Queue is a bounded FIFO of T. Items pass directly between tasks when one
// side is already waiting.
type Queue[T any] struct {
	k         *Kernel
	buf       []T
	head      int
	n         int
	senders   waitList
	receivers waitList
	storage   int
	closed    bool
}

// NewQueue allocates a queue of length items. Its storage is charged to the
// kernel heap.
func NewQueue[T any](k *Kernel, length int) (*Queue[T], error) {
	if length < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	var zero T
	off, err := k.heap.Alloc(queueHeaderBytes + length*int(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return &Queue[T]{
		k:       k,
		buf:     make([]T, length),
		storage: off,
	}, nil
}

func (q *Queue[T]) check(op string, timeout Ticks) {
	k := q.k
	if q.closed {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: queue %s", ErrUseAfterClose, op))
	}
	if timeout == NoWait {
		return
	}
	if k.InISR() {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: queue %s with a timeout", ErrCalledFromISR, op))
	}
	k.checkBlocking("queue " + op)
}

func (q *Queue[T]) push(v T) {
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
}

func (q *Queue[T]) pop() T {
	var zero T
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v
}

// Send appends v, waiting up to timeout ticks for room. From an interrupt
// the timeout must be NoWait.
func (q *Queue[T]) Send(v T, timeout Ticks) error {
	k := q.k
	q.check("send", timeout)

	state := k.enter()
	if r := q.receivers.popFront(); r != nil {
		r.xfer = v
		yield := k.wakeWaiter(r, wakeSignaled)
		k.record(trace.Give, k.curID(), r.id, 0)
		k.exit(state)
		if yield && !k.InISR() {
			k.yield()
		}
		return nil
	}
	if q.n < len(q.buf) {
		q.push(v)
		k.record(trace.Give, k.curID(), -1, uint32(q.n))
		k.exit(state)
		return nil
	}
	if timeout == NoWait {
		k.exit(state)
		return ErrTimeout
	}

	cur := k.cur
	cur.xfer = v
	if k.block(state, &q.senders, timeout) == wakeSignaled {
		return nil
	}
	cur.xfer = nil
	return ErrTimeout
}

// Receive removes the oldest item, waiting up to timeout ticks for one.
func (q *Queue[T]) Receive(timeout Ticks) (T, error) {
	k := q.k
	var zero T
	q.check("receive", timeout)

	state := k.enter()
	if q.n > 0 {
		v := q.pop()
		yield := false
		if s := q.senders.popFront(); s != nil {
			q.push(s.xfer.(T))
			s.xfer = nil
			yield = k.wakeWaiter(s, wakeSignaled)
		}
		k.record(trace.Take, k.curID(), 0, uint32(q.n))
		k.exit(state)
		if yield && !k.InISR() {
			k.yield()
		}
		return v, nil
	}
	if timeout == NoWait {
		k.exit(state)
		return zero, ErrTimeout
	}

	cur := k.cur
	if k.block(state, &q.receivers, timeout) == wakeSignaled {
		v := cur.xfer.(T)
		cur.xfer = nil
		k.record(trace.Take, cur.id, 0, uint32(q.n))
		return v, nil
	}
	return zero, ErrTimeout
}

func (q *Queue[T]) Len() int {
	return q.n
}

func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

func (q *Queue[T]) Close() {
	k := q.k
	if q.closed {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: queue", ErrDoubleClose))
	}
	if !q.senders.empty() || !q.receivers.empty() {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: queue", ErrPrimitiveBusy))
	}
	q.closed = true
	k.heap.Free(q.storage)
}
