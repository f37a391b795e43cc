package board

import (
	"omibyte.io/rvrtos/hal"
)

// TMR32 interrupt flags, in IM and IC.
const (
	TMR32Overflow uint32 = 1 << 0
	TMR32Capcom0  uint32 = 1 << 1
)

// TMR32 is the 32-bit timer counting up to CAPCOM[0] and restarting.
type TMR32 struct {
	cpu     *hal.CPU
	plic    *hal.PLIC
	src     int
	period  uint64
	im      uint32
	ic      uint32
	gen     uint64
	running bool
	matches uint64
}

func newTMR32(m *hal.Machine, src int) *TMR32 {
	return &TMR32{
		cpu:  m.CPU(),
		plic: m.PLIC(),
		src:  src,
	}
}

// Source is the PLIC source the timer raises.
func (t *TMR32) Source() int {
	return t.src
}

// Start counts from zero with a match every period cycles.
func (t *TMR32) Start(period uint64) error {
	if period == 0 {
		return ErrInvalidPeriod
	}
	t.gen++
	t.period = period
	t.running = true
	t.schedule(t.gen)
	return nil
}

func (t *TMR32) Stop() {
	t.gen++
	t.running = false
}

func (t *TMR32) Running() bool {
	return t.running
}

func (t *TMR32) schedule(gen uint64) {
	t.cpu.After(t.period, func() {
		if gen != t.gen {
			// Restarted or stopped meanwhile
			return
		}
		t.matches++
		t.ic |= TMR32Capcom0 | TMR32Overflow
		if t.ic&t.im != 0 {
			t.plic.Raise(t.src)
		}
		t.schedule(gen)
	})
}

func (t *TMR32) SetIM(mask uint32) {
	t.im = mask
}

func (t *TMR32) IC() uint32 {
	return t.ic
}

// ClearIC clears the flags set in mask.
func (t *TMR32) ClearIC(mask uint32) {
	t.ic &^= mask
}

func (t *TMR32) Matches() uint64 {
	return t.matches
}
