package hal

// CLINT holds the machine timer and the software interrupt register.
type CLINT struct {
	cpu      *CPU
	divider  uint64
	mtimecmp uint64
	msip     bool
}

func newCLINT(cpu *CPU, divider uint64) *CLINT {
	if divider == 0 {
		divider = 1
	}
	return &CLINT{
		cpu:      cpu,
		divider:  divider,
		mtimecmp: ^uint64(0),
	}
}

// Mtime is the free running timebase counter.
func (c *CLINT) Mtime() uint64 {
	return c.cpu.clock / c.divider
}

func (c *CLINT) Mtimecmp() uint64 {
	return c.mtimecmp
}

// SetMtimecmp programs the compare register. MTIP follows mtime >= mtimecmp,
// so writing a future value acknowledges the timer.
func (c *CLINT) SetMtimecmp(v uint64) {
	c.mtimecmp = v
	c.update()
	if v != ^uint64(0) && v > c.Mtime() {
		c.cpu.Schedule(v*c.divider, c.update)
	}
}

func (c *CLINT) update() {
	c.cpu.setPending(IntTimer, c.Mtime() >= c.mtimecmp)
}

// SetMsip writes the software interrupt pending register.
func (c *CLINT) SetMsip(v bool) {
	c.msip = v
	c.cpu.setPending(IntSoftware, v)
}

func (c *CLINT) Msip() bool {
	return c.msip
}
