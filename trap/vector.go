package trap

import (
	"omibyte.io/rvrtos/hal"
)

type vector struct {
	handler func()
}

func (d *Dispatcher) validSource(src int) bool {
	return src > 0 && src < len(d.vectors)
}

// Register binds handler to src at the given priority, replacing any handler
// already there. The source is disabled while the entry is swapped and its
// previous enable state is put back afterwards; a request latched in the
// meantime is delivered to the new handler.
func (d *Dispatcher) Register(src int, handler func(), prio uint8) error {
	if !d.validSource(src) {
		return ErrInvalidSource
	}
	if prio == 0 || prio > hal.MaxSourcePriority {
		return ErrInvalidPriority
	}
	if handler == nil {
		return ErrNilHandler
	}

	enabled := d.plic.Enabled(src)
	d.plic.Disable(src)
	d.vectors[src] = vector{handler: handler}
	d.plic.SetPriority(src, prio)
	if enabled {
		d.plic.Enable(src)
	}
	return nil
}

// Unregister disables src and removes its handler.
func (d *Dispatcher) Unregister(src int) error {
	if !d.validSource(src) {
		return ErrInvalidSource
	}
	d.plic.Disable(src)
	d.vectors[src] = vector{}
	return nil
}

func (d *Dispatcher) Installed(src int) bool {
	return d.validSource(src) && d.vectors[src].handler != nil
}

func (d *Dispatcher) Enable(src int) error {
	if !d.validSource(src) {
		return ErrInvalidSource
	}
	d.plic.Enable(src)
	return nil
}

func (d *Dispatcher) Disable(src int) error {
	if !d.validSource(src) {
		return ErrInvalidSource
	}
	d.plic.Disable(src)
	return nil
}

func (d *Dispatcher) SetPriority(src int, prio uint8) error {
	if !d.validSource(src) {
		return ErrInvalidSource
	}
	if prio == 0 || prio > hal.MaxSourcePriority {
		return ErrInvalidPriority
	}
	d.plic.SetPriority(src, prio)
	return nil
}
