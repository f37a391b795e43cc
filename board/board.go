package board

import (
	"fmt"

	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/targets"
)

// LED pins on GPIOA.
const (
	LEDsMask uint16 = 0xff00
	LED0     uint16 = 1 << 8
	LED7     uint16 = 1 << 15
)

type Config struct {
	Chip      targets.TargetInfo
	UART0Baud int
	UART1Baud int
}

func DefaultConfig() Config {
	chip, err := targets.All().FindByChip("k1921vg015")
	if err != nil {
		panic(err)
	}
	return Config{
		Chip:      chip,
		UART0Baud: 115200,
		UART1Baud: 115200,
	}
}

// Board wires the peripheral models of a chip to a machine.
type Board struct {
	m     *hal.Machine
	chip  targets.TargetInfo
	GPIOA *GPIO
	TMR32 *TMR32
	UART0 *UART
	UART1 *UART
	DMA   *DMA
}

func New(m *hal.Machine, cfg Config) (*Board, error) {
	chip := cfg.Chip
	plicSources := m.PLIC().NumSources()
	source := func(src int, err error) (int, error) {
		if err != nil {
			return 0, err
		}
		if src >= plicSources {
			return 0, fmt.Errorf("%w: %d of %d", ErrSourceRange, src, plicSources)
		}
		return src, nil
	}

	tmrSrc, err := source(chip.IRQ("tmr32"))
	if err != nil {
		return nil, err
	}
	dmaSources := make([]int, chip.DMAChannels)
	for ch := range dmaSources {
		if dmaSources[ch], err = source(chip.DMAIRQ(ch)); err != nil {
			return nil, err
		}
	}

	uart0, err := newUART(m.CPU(), "UART0", cfg.UART0Baud)
	if err != nil {
		return nil, err
	}
	uart1, err := newUART(m.CPU(), "UART1", cfg.UART1Baud)
	if err != nil {
		return nil, err
	}

	return &Board{
		m:     m,
		chip:  chip,
		GPIOA: newGPIO("GPIOA"),
		TMR32: newTMR32(m, tmrSrc),
		UART0: uart0,
		UART1: uart1,
		DMA:   newDMA(m, dmaSources),
	}, nil
}

func (b *Board) Machine() *hal.Machine {
	return b.m
}

func (b *Board) Chip() targets.TargetInfo {
	return b.chip
}

// UID is the factory programmed unique id, derived from the chip name so
// that runs are reproducible.
func (b *Board) UID() [4]uint32 {
	var uid [4]uint32
	h := uint32(2166136261)
	for i := range uid {
		for _, c := range []byte(b.chip.Series) {
			h = (h ^ uint32(c)) * 16777619
		}
		uid[i] = h
	}
	return uid
}

// Retarget returns the console sink on UART0.
func (b *Board) Retarget() *Retarget {
	return NewRetarget(b.UART0)
}
