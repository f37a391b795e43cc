package hal

// MaxSourcePriority is the highest priority a PLIC source can be given.
// Priority 0 means the source never interrupts.
const MaxSourcePriority = 7

// PLIC is the platform-level interrupt controller. Source 0 is reserved.
// Pending bits are latched by the gateway and survive the source being
// disabled.
type PLIC struct {
	cpu       *CPU
	priority  []uint8
	pending   []bool
	enabled   []bool
	inService []bool
	threshold uint8
}

func newPLIC(cpu *CPU, sources int) *PLIC {
	return &PLIC{
		cpu:       cpu,
		priority:  make([]uint8, sources),
		pending:   make([]bool, sources),
		enabled:   make([]bool, sources),
		inService: make([]bool, sources),
	}
}

func (p *PLIC) NumSources() int {
	return len(p.priority)
}

func (p *PLIC) valid(src int) bool {
	return src > 0 && src < len(p.priority)
}

// Raise latches the pending bit of src. Raising a source that is in service
// is remembered and delivered after completion.
func (p *PLIC) Raise(src int) {
	if !p.valid(src) {
		return
	}
	p.pending[src] = true
	p.update()
}

// Clear drops a latched request that has not been claimed yet.
func (p *PLIC) Clear(src int) {
	if !p.valid(src) {
		return
	}
	p.pending[src] = false
	p.update()
}

func (p *PLIC) IsPending(src int) bool {
	return p.valid(src) && p.pending[src]
}

func (p *PLIC) Enable(src int) {
	if !p.valid(src) {
		return
	}
	p.enabled[src] = true
	p.update()
}

func (p *PLIC) Disable(src int) {
	if !p.valid(src) {
		return
	}
	p.enabled[src] = false
	p.update()
}

func (p *PLIC) Enabled(src int) bool {
	return p.valid(src) && p.enabled[src]
}

func (p *PLIC) SetPriority(src int, prio uint8) {
	if !p.valid(src) {
		return
	}
	if prio > MaxSourcePriority {
		prio = MaxSourcePriority
	}
	p.priority[src] = prio
	p.update()
}

func (p *PLIC) Priority(src int) uint8 {
	if !p.valid(src) {
		return 0
	}
	return p.priority[src]
}

func (p *PLIC) SetThreshold(t uint8) {
	p.threshold = t
	p.update()
}

func (p *PLIC) Threshold() uint8 {
	return p.threshold
}

// best returns the highest priority deliverable source, lowest id on ties.
func (p *PLIC) best() int {
	src, prio := 0, p.threshold
	for i := 1; i < len(p.priority); i++ {
		if p.pending[i] && p.enabled[i] && !p.inService[i] && p.priority[i] > prio {
			src, prio = i, p.priority[i]
		}
	}
	return src
}

// Claim returns the source to service and clears its pending bit. Zero means
// nothing is deliverable.
func (p *PLIC) Claim() int {
	src := p.best()
	if src != 0 {
		p.pending[src] = false
		p.inService[src] = true
	}
	p.update()
	return src
}

// Complete signals the end of service for src.
func (p *PLIC) Complete(src int) {
	if !p.valid(src) {
		return
	}
	p.inService[src] = false
	p.update()
}

func (p *PLIC) update() {
	p.cpu.setPending(IntExternal, p.best() != 0)
}
