package tick

import (
	"errors"

	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/trap"
)

var (
	ErrInvalidRate    = errors.New("tick rate must be non-zero and below the timebase frequency")
	ErrAlreadyRunning = errors.New("tick timer already running")
)

// Timer drives the kernel tick from the CLINT machine timer.
//
// Each expiry re-arms the compare register relative to the time the ISR
// runs, not relative to the previous deadline, so interrupt latency
// accumulates as drift against wall time. Tick counts stay exact.
type Timer struct {
	clint   *hal.CLINT
	cpu     *hal.CPU
	disp    *trap.Dispatcher
	period  uint64
	handler func()
	running bool
	fired   uint64
	last    uint64
}

func New(m *hal.Machine, disp *trap.Dispatcher, rateHz uint32) (*Timer, error) {
	if rateHz == 0 || uint64(rateHz) > m.TimebaseHz() {
		return nil, ErrInvalidRate
	}
	return &Timer{
		clint:  m.CLINT(),
		cpu:    m.CPU(),
		disp:   disp,
		period: m.TimebaseHz() / uint64(rateHz),
	}, nil
}

// Period is the number of timebase counts between ticks.
func (t *Timer) Period() uint64 {
	return t.period
}

// Start installs the timer ISR and arms the first expiry.
func (t *Timer) Start(handler func()) error {
	if t.running {
		return ErrAlreadyRunning
	}
	if err := t.disp.SetLocalHandler(hal.IntTimer, t.isr); err != nil {
		return err
	}
	t.handler = handler
	t.running = true

	// Disable the timer interrupt first
	t.cpu.DisableLocal(hal.IntTimer)
	t.clint.SetMtimecmp(t.clint.Mtime() + t.period)
	t.cpu.EnableLocal(hal.IntTimer)
	return nil
}

func (t *Timer) Stop() {
	t.cpu.DisableLocal(hal.IntTimer)
	t.clint.SetMtimecmp(^uint64(0))
	t.running = false
}

// Fired is the number of expiries serviced.
func (t *Timer) Fired() uint64 {
	return t.fired
}

// LastFire is the mtime at which the last expiry was serviced.
func (t *Timer) LastFire() uint64 {
	return t.last
}

func (t *Timer) isr() {
	t.fired++
	t.last = t.clint.Mtime()
	if t.handler != nil {
		t.handler()
	}

	// Re-arm, which also drops MTIP
	t.clint.SetMtimecmp(t.clint.Mtime() + t.period)
}
