package hal

import (
	"errors"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// mstatus bits
const (
	StatusMIE  uint32 = 1 << 3
	StatusMPIE uint32 = 1 << 7
)

// Interrupt codes used in mip/mie and in mcause.
const (
	IntSoftware uint32 = 3
	IntTimer    uint32 = 7
	IntExternal uint32 = 11
)

// Exception codes.
const (
	ExcInstructionMisaligned uint32 = 0
	ExcInstructionFault      uint32 = 1
	ExcIllegalInstruction    uint32 = 2
	ExcBreakpoint            uint32 = 3
	ExcLoadMisaligned        uint32 = 4
	ExcLoadFault             uint32 = 5
	ExcStoreMisaligned       uint32 = 6
	ExcStoreFault            uint32 = 7
	ExcEcallU                uint32 = 8
	ExcEcallM                uint32 = 11
)

// CauseInterrupt is set in mcause when the trap was caused by an interrupt.
const CauseInterrupt uint32 = 1 << 31

// Register indices in the X file following the RISC-V ABI names.
const (
	RegRA = 1
	RegSP = 2
	RegGP = 3
	RegTP = 4
	RegA0 = 10
)

var (
	ErrNoEvents    = errors.New("wait for interrupt with no pending interrupt and no scheduled event")
	ErrPollTimeout = errors.New("poll timed out")
)

// Regs is the architectural state saved and restored on a context switch.
type Regs struct {
	X      [32]uint32
	PC     uint32
	Status uint32
}

// TrapHandler receives every trap the core takes. Entry has already moved
// MIE into MPIE and cleared MIE.
type TrapHandler interface {
	Trap(cause uint32, tval uint32)
}

type event struct {
	at  uint64
	seq uint64
	fn  func()
}

// CPU is a single RV32 hart with a cycle counter. Everything that runs on the
// hart, including hardware events, executes on whichever goroutine currently
// owns it.
type CPU struct {
	hz      uint64
	clock   uint64
	regs    Regs
	mie     uint32
	mip     uint32
	handler TrapHandler

	events []event
	seq    uint64

	pacer func(clock uint64)
	stop  atomic.Bool
}

func newCPU(hz uint64) *CPU {
	return &CPU{
		hz: hz,
	}
}

func (c *CPU) SetTrapHandler(h TrapHandler) {
	c.handler = h
}

func (c *CPU) SetPacer(fn func(clock uint64)) {
	c.pacer = fn
}

func (c *CPU) Hz() uint64 {
	return c.hz
}

func (c *CPU) Clock() uint64 {
	return c.clock
}

func (c *CPU) Regs() Regs {
	return c.regs
}

func (c *CPU) SetRegs(r Regs) {
	c.regs = r
}

func (c *CPU) Status() uint32 {
	return c.regs.Status
}

func (c *CPU) SetStatus(s uint32) {
	c.regs.Status = s
}

// InterruptsEnabled reports whether mstatus.MIE is set.
func (c *CPU) InterruptsEnabled() bool {
	return c.regs.Status&StatusMIE != 0
}

func (c *CPU) EnableLocal(code uint32) {
	c.mie |= 1 << code
}

func (c *CPU) DisableLocal(code uint32) {
	c.mie &^= 1 << code
}

func (c *CPU) LocalEnabled(code uint32) bool {
	return c.mie&(1<<code) != 0
}

func (c *CPU) setPending(code uint32, pending bool) {
	if pending {
		c.mip |= 1 << code
	} else {
		c.mip &^= 1 << code
	}
}

func (c *CPU) Pending(code uint32) bool {
	return c.mip&(1<<code) != 0
}

// DisableInterrupts clears mstatus.MIE and returns the previous state.
func (c *CPU) DisableInterrupts() uint32 {
	state := c.regs.Status & StatusMIE
	c.regs.Status &^= StatusMIE
	return state
}

// RestoreInterrupts puts MIE back to a state returned by DisableInterrupts.
// Anything that became pending in between is taken before it returns.
func (c *CPU) RestoreInterrupts(state uint32) {
	c.regs.Status = (c.regs.Status &^ StatusMIE) | (state & StatusMIE)
	c.Deliver()
}

// EnableInterrupts sets MIE and takes pending interrupts.
func (c *CPU) EnableInterrupts() {
	c.RestoreInterrupts(StatusMIE)
}

// Mret loads regs and moves MPIE back into MIE.
func (c *CPU) Mret(r *Regs) {
	c.regs = *r
	if c.regs.Status&StatusMPIE != 0 {
		c.regs.Status |= StatusMIE
	} else {
		c.regs.Status &^= StatusMIE
	}
	c.regs.Status |= StatusMPIE
}

// Deliver takes every deliverable interrupt, highest architectural priority
// first, until none remain or MIE is clear.
func (c *CPU) Deliver() {
	for c.regs.Status&StatusMIE != 0 {
		code, ok := c.nextInterrupt()
		if !ok {
			return
		}
		c.take(CauseInterrupt|code, 0)
	}
}

func (c *CPU) nextInterrupt() (uint32, bool) {
	ready := c.mip & c.mie
	switch {
	case ready&(1<<IntExternal) != 0:
		return IntExternal, true
	case ready&(1<<IntSoftware) != 0:
		return IntSoftware, true
	case ready&(1<<IntTimer) != 0:
		return IntTimer, true
	}
	return 0, false
}

func (c *CPU) take(cause, tval uint32) {
	// Hardware trap entry
	if c.regs.Status&StatusMIE != 0 {
		c.regs.Status |= StatusMPIE
	} else {
		c.regs.Status &^= StatusMPIE
	}
	c.regs.Status &^= StatusMIE

	if c.handler == nil {
		panic("hal: trap taken with no trap vector installed")
	}
	c.handler.Trap(cause, tval)
}

// Ecall raises an environment call from machine mode. The trap is taken
// synchronously regardless of MIE.
func (c *CPU) Ecall() {
	c.take(ExcEcallM, 0)
	c.Deliver()
}

// RaiseException takes a synchronous exception.
func (c *CPU) RaiseException(code, tval uint32) {
	c.take(code&^CauseInterrupt, tval)
	c.Deliver()
}

// Spin executes n cycles of straight-line code. Hardware events fire as the
// clock passes them and interrupts are taken at every boundary, so the
// caller may be switched out and resumed later with the remaining cycles
// still owed.
func (c *CPU) Spin(n uint64) {
	for n > 0 {
		c.Deliver()
		step := n
		if at, ok := c.nextEvent(); ok {
			if at <= c.clock {
				c.fireDue()
				continue
			}
			if at-c.clock < step {
				step = at - c.clock
			}
		}
		c.advance(step)
		c.regs.PC += 4 * uint32(step)
		n -= step
	}
	c.Deliver()
}

// WaitForInterrupt stalls until an interrupt is pending, whether or not MIE
// allows it to be taken.
func (c *CPU) WaitForInterrupt() error {
	for c.mip&c.mie == 0 {
		at, ok := c.nextEvent()
		if !ok {
			return ErrNoEvents
		}
		if at > c.clock {
			c.advance(at - c.clock)
		} else {
			c.fireDue()
		}
	}
	c.Deliver()
	return nil
}

// Poll spins until cond holds, giving up after timeout cycles.
func (c *CPU) Poll(cond func() bool, timeout uint64) error {
	deadline := c.clock + timeout
	for !cond() {
		if c.clock >= deadline {
			return ErrPollTimeout
		}
		step := deadline - c.clock
		if at, ok := c.nextEvent(); ok && at > c.clock && at-c.clock < step {
			step = at - c.clock
		}
		c.Spin(step)
	}
	return nil
}

// Schedule registers fn to run when the clock reaches at. Events scheduled
// for the same cycle run in registration order.
func (c *CPU) Schedule(at uint64, fn func()) {
	c.seq++
	e := event{at: at, seq: c.seq, fn: fn}
	i, _ := slices.BinarySearchFunc(c.events, at, func(e event, t uint64) int {
		if e.at <= t {
			return -1
		}
		return 1
	})
	c.events = slices.Insert(c.events, i, e)
}

// After schedules fn d cycles from now.
func (c *CPU) After(d uint64, fn func()) {
	c.Schedule(c.clock+d, fn)
}

func (c *CPU) nextEvent() (uint64, bool) {
	if len(c.events) == 0 {
		return 0, false
	}
	return c.events[0].at, true
}

func (c *CPU) fireDue() {
	for len(c.events) > 0 && c.events[0].at <= c.clock {
		e := c.events[0]
		c.events = slices.Delete(c.events, 0, 1)
		e.fn()
	}
}

func (c *CPU) advance(d uint64) {
	c.clock += d
	if c.pacer != nil {
		c.pacer(c.clock)
	}
	c.fireDue()
}

// RequestStop may be called from any goroutine.
func (c *CPU) RequestStop() {
	c.stop.Store(true)
}

func (c *CPU) StopRequested() bool {
	return c.stop.Load()
}
