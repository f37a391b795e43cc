package board

import (
	"fmt"

	"omibyte.io/rvrtos/hal"
)

// ChannelConfig describes a basic-mode transfer of Count byte elements.
// Read fetches element i from the source and Write stores it at the
// destination; either may refuse, which stalls the channel until the
// peripheral requests again.
type ChannelConfig struct {
	Count int
	Read  func(i int) (byte, bool)
	Write func(i int, b byte) bool
}

type dmaChannel struct {
	cfg     ChannelConfig
	enabled bool
	done    int
}

// DMA is the peripheral DMA controller. A request from a peripheral moves
// one element; the last one disables the channel, sets its IRQSTAT bit and
// raises the channel's PLIC source.
type DMA struct {
	plic     *hal.PLIC
	master   bool
	channels []dmaChannel
	sources  []int
	irqStat  uint32
}

func newDMA(m *hal.Machine, sources []int) *DMA {
	return &DMA{
		plic:     m.PLIC(),
		channels: make([]dmaChannel, len(sources)),
		sources:  sources,
	}
}

func (d *DMA) NumChannels() int {
	return len(d.channels)
}

func (d *DMA) valid(ch int) error {
	if ch < 0 || ch >= len(d.channels) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	return nil
}

// Configure loads a channel's control data. The channel must be disabled.
func (d *DMA) Configure(ch int, cfg ChannelConfig) error {
	if err := d.valid(ch); err != nil {
		return err
	}
	if d.channels[ch].enabled {
		return fmt.Errorf("%w: %d", ErrChannelBusy, ch)
	}
	if cfg.Count <= 0 || cfg.Read == nil || cfg.Write == nil {
		return fmt.Errorf("%w: channel %d has no transfer", ErrInvalidChannel, ch)
	}
	d.channels[ch] = dmaChannel{cfg: cfg}
	return nil
}

func (d *DMA) Enable(ch int) error {
	if err := d.valid(ch); err != nil {
		return err
	}
	d.channels[ch].enabled = true
	return nil
}

func (d *DMA) Disable(ch int) error {
	if err := d.valid(ch); err != nil {
		return err
	}
	d.channels[ch].enabled = false
	return nil
}

func (d *DMA) Enabled(ch int) bool {
	return d.valid(ch) == nil && d.channels[ch].enabled
}

// Remaining is the number of elements the channel has still to move.
func (d *DMA) Remaining(ch int) int {
	if d.valid(ch) != nil {
		return 0
	}
	c := d.channels[ch]
	return c.cfg.Count - c.done
}

func (d *DMA) SetMaster(on bool) {
	d.master = on
}

// Source is the PLIC source raised when ch completes.
func (d *DMA) Source(ch int) int {
	if d.valid(ch) != nil {
		return 0
	}
	return d.sources[ch]
}

func (d *DMA) IRQStat() uint32 {
	return d.irqStat
}

func (d *DMA) ClearIRQ(mask uint32) {
	d.irqStat &^= mask
}

// Request moves one element on ch. It reports whether anything moved.
func (d *DMA) Request(ch int) bool {
	if d.valid(ch) != nil || !d.master {
		return false
	}
	c := &d.channels[ch]
	if !c.enabled {
		return false
	}
	b, ok := c.cfg.Read(c.done)
	if !ok {
		return false
	}
	if !c.cfg.Write(c.done, b) {
		return false
	}
	c.done++
	if c.done == c.cfg.Count {
		c.enabled = false
		d.irqStat |= 1 << uint(ch)
		d.plic.Raise(d.sources[ch])
	}
	return true
}
