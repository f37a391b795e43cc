package trap

import (
	"fmt"

	"omibyte.io/rvrtos/hal"
)

// Frame is the context captured at trap entry. Regs is what trap return
// restores.
type Frame struct {
	Cause  Cause
	Tval   uint32
	Regs   hal.Regs
	Depth  int
	Source int
}

// Switcher is consulted on the outermost trap return. Switch saves regs as
// the outgoing context and returns once that context is resumed, with regs
// holding the context to restore.
type Switcher interface {
	SwitchPending() bool
	Switch(regs *hal.Regs)
}

type Options struct {
	// Nesting lets a handler be preempted by strictly higher priority
	// sources. Off by default.
	Nesting bool

	// LocalPriority is the priority the machine timer and software
	// interrupts are treated as having when nesting is on.
	LocalPriority uint8
}

// Dispatcher is the machine trap vector.
type Dispatcher struct {
	cpu  *hal.CPU
	plic *hal.PLIC

	vectors    []vector
	local      [16]func()
	exceptions [16]func(*Frame)

	depth         int
	nesting       bool
	localPriority uint8

	switcher Switcher
	fault    func(error)
	onEnter  func(*Frame)
	onExit   func(*Frame)
}

func New(m *hal.Machine, opts Options) *Dispatcher {
	d := &Dispatcher{
		cpu:           m.CPU(),
		plic:          m.PLIC(),
		vectors:       make([]vector, m.PLIC().NumSources()),
		nesting:       opts.Nesting,
		localPriority: opts.LocalPriority,
	}

	// Point mtvec here and let the PLIC reach the hart
	d.cpu.SetTrapHandler(d)
	d.cpu.EnableLocal(hal.IntExternal)
	return d
}

func (d *Dispatcher) SetSwitcher(s Switcher) {
	d.switcher = s
}

// SetFaultHandler installs the function called for fatal traps. It is not
// expected to return.
func (d *Dispatcher) SetFaultHandler(fn func(error)) {
	d.fault = fn
}

// SetHooks installs observers called after entry and before exit.
func (d *Dispatcher) SetHooks(enter, exit func(*Frame)) {
	d.onEnter = enter
	d.onExit = exit
}

// Depth is the current trap nesting depth. Zero means thread context.
func (d *Dispatcher) Depth() int {
	return d.depth
}

func (d *Dispatcher) Nesting() bool {
	return d.nesting
}

func (d *Dispatcher) SetLocalHandler(code uint32, h func()) error {
	if code != hal.IntTimer && code != hal.IntSoftware {
		return ErrInvalidSource
	}
	d.local[code] = h
	return nil
}

func (d *Dispatcher) SetExceptionHandler(code uint32, h func(*Frame)) error {
	if code >= uint32(len(d.exceptions)) {
		return ErrInvalidSource
	}
	d.exceptions[code] = h
	return nil
}

// Trap implements hal.TrapHandler.
func (d *Dispatcher) Trap(cause, tval uint32) {
	f := Frame{
		Cause: Cause(cause),
		Tval:  tval,
		Regs:  d.cpu.Regs(),
	}
	d.depth++
	f.Depth = d.depth
	if f.Cause == MachineExternal {
		f.Source = d.plic.Claim()
	}
	if d.onEnter != nil {
		d.onEnter(&f)
	}

	if f.Cause.Interrupt() {
		d.interrupt(&f)
	} else {
		d.exception(&f)
	}

	if d.onExit != nil {
		d.onExit(&f)
	}
	d.depth--

	// Only the outermost return may change the running context
	if d.depth == 0 && d.switcher != nil && d.switcher.SwitchPending() {
		d.switcher.Switch(&f.Regs)
	}
	d.cpu.Mret(&f.Regs)
}

func (d *Dispatcher) interrupt(f *Frame) {
	switch code := f.Cause.Code(); code {
	case hal.IntExternal:
		src := f.Source
		if src == 0 {
			// Spurious, the request went away before the claim
			return
		}
		v := d.vectors[src]
		if v.handler == nil {
			d.plic.Complete(src)
			d.raise(fmt.Errorf("%w: %s from source %d", ErrUnhandledTrap, f.Cause, src))
			return
		}
		d.run(v.handler, d.plic.Priority(src))
		d.plic.Complete(src)
	case hal.IntTimer, hal.IntSoftware:
		h := d.local[code]
		if h == nil {
			d.raise(fmt.Errorf("%w: %s", ErrUnhandledTrap, f.Cause))
			return
		}
		d.run(h, d.localPriority)
	default:
		d.raise(fmt.Errorf("%w: %s", ErrUnhandledTrap, f.Cause))
	}
}

func (d *Dispatcher) exception(f *Frame) {
	code := f.Cause.Code()
	if code >= uint32(len(d.exceptions)) || d.exceptions[code] == nil {
		d.raise(fmt.Errorf("%w: %s at pc %#08x tval %#08x", ErrUnhandledTrap, f.Cause, f.Regs.PC, f.Tval))
		return
	}
	d.exceptions[code](f)
}

func (d *Dispatcher) run(h func(), prio uint8) {
	if !d.nesting {
		h()
		return
	}

	// Raise the PLIC threshold to this handler's priority and open the
	// window for anything strictly above it
	prevThreshold := d.plic.Threshold()
	timerOn := d.cpu.LocalEnabled(hal.IntTimer)
	d.plic.SetThreshold(prio)
	if timerOn && d.localPriority <= prio {
		d.cpu.DisableLocal(hal.IntTimer)
	}
	d.cpu.EnableInterrupts()

	h()

	d.cpu.DisableInterrupts()
	if timerOn {
		d.cpu.EnableLocal(hal.IntTimer)
	}
	d.plic.SetThreshold(prevThreshold)
}

func (d *Dispatcher) raise(err error) {
	if d.fault == nil {
		panic(err)
	}
	d.fault(err)
}
