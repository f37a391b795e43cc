package board

import (
	"fmt"

	"omibyte.io/rvrtos/kernel"
)

type HandoffState uint8

const (
	HandoffIdle HandoffState = iota
	HandoffArmed
	HandoffFilled
	HandoffLeased
)

func (s HandoffState) String() string {
	switch s {
	case HandoffIdle:
		return "idle"
	case HandoffArmed:
		return "armed"
	case HandoffFilled:
		return "filled"
	case HandoffLeased:
		return "leased"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Handoff is a buffer in static SRAM shared between a DMA channel and one
// task. Ownership moves idle -> armed (hardware may write) -> filled
// (completion ISR ran) -> leased (task may read) -> idle. Hardware access
// outside armed and task access through a released lease halt the machine.
type Handoff struct {
	k     *kernel.Kernel
	buf   []byte
	n     int
	state HandoffState
	gen   uint64
	ready *kernel.Semaphore
}

func NewHandoff(k *kernel.Kernel, size int) (*Handoff, error) {
	buf, err := k.Machine().SRAM().Static(size)
	if err != nil {
		return nil, err
	}
	ready, err := k.NewBinarySemaphore()
	if err != nil {
		return nil, err
	}
	return &Handoff{
		k:     k,
		buf:   buf,
		ready: ready,
	}, nil
}

func (h *Handoff) Size() int {
	return len(h.buf)
}

func (h *Handoff) State() HandoffState {
	return h.state
}

func (h *Handoff) fault(err error, format string, args ...interface{}) {
	h.k.Fault(fmt.Errorf("%w: "+format, append([]interface{}{err}, args...)...))
}

// Arm hands an idle buffer to the hardware.
func (h *Handoff) Arm() {
	if h.state != HandoffIdle {
		h.fault(ErrHandoffState, "arm while %s", h.state)
		return
	}
	h.n = 0
	h.state = HandoffArmed
}

// Store is the hardware write path.
func (h *Handoff) Store(i int, b byte) bool {
	if h.state != HandoffArmed {
		h.fault(ErrHandoffNotArmed, "write of byte %d while %s", i, h.state)
		return false
	}
	if i < 0 || i >= len(h.buf) {
		h.fault(ErrHandoffState, "write of byte %d past %d", i, len(h.buf))
		return false
	}
	h.buf[i] = b
	if i >= h.n {
		h.n = i + 1
	}
	return true
}

// Load is the hardware read path. It is used to transmit a leased buffer
// and is valid only while the lease is held.
func (h *Handoff) Load(i int) (byte, bool) {
	if h.state != HandoffLeased {
		h.fault(ErrHandoffState, "hardware read of byte %d while %s", i, h.state)
		return 0, false
	}
	if i < 0 || i >= h.n {
		return 0, false
	}
	return h.buf[i], true
}

// Complete is called from the completion ISR once the hardware is done
// with the buffer.
func (h *Handoff) Complete() {
	if h.state != HandoffArmed {
		h.fault(ErrHandoffState, "complete while %s", h.state)
		return
	}
	h.state = HandoffFilled
	if err := h.ready.Give(); err != nil {
		h.fault(err, "complete")
	}
}

// Acquire waits for a filled buffer and leases it to the caller.
func (h *Handoff) Acquire(timeout kernel.Ticks) (*Lease, error) {
	if err := h.ready.Take(timeout); err != nil {
		return nil, err
	}
	if h.state != HandoffFilled {
		h.fault(ErrHandoffState, "acquire while %s", h.state)
		return nil, ErrHandoffState
	}
	h.state = HandoffLeased
	h.gen++
	return &Lease{h: h, gen: h.gen}, nil
}

// Lease grants read access to a filled buffer until Release.
type Lease struct {
	h   *Handoff
	gen uint64
}

func (l *Lease) check(op string) bool {
	h := l.h
	if h.state != HandoffLeased || h.gen != l.gen {
		h.fault(ErrStaleLease, "%s", op)
		return false
	}
	return true
}

// Bytes is the data the hardware wrote. The slice must not be used after
// Release.
func (l *Lease) Bytes() []byte {
	if !l.check("read") {
		return nil
	}
	return l.h.buf[:l.h.n]
}

// Release clears the buffer and returns it to idle.
func (l *Lease) Release() {
	if !l.check("release") {
		return
	}
	h := l.h
	for i := range h.buf {
		h.buf[i] = 0
	}
	h.n = 0
	h.state = HandoffIdle
}
