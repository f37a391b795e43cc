package hal

import (
	"errors"
)

var ErrInvalidConfig = errors.New("invalid machine configuration")

type Config struct {
	ClockHz         uint64
	SRAMSize        int
	StaticSize      int
	NumSources      int
	TimebaseDivider uint64
}

func DefaultConfig() Config {
	return Config{
		ClockHz:         16_000_000,
		SRAMSize:        64 * 1024,
		StaticSize:      4 * 1024,
		NumSources:      64,
		TimebaseDivider: 1,
	}
}

// Machine bundles the hart with its memory and interrupt hardware.
type Machine struct {
	cpu   *CPU
	clint *CLINT
	plic  *PLIC
	sram  *SRAM
}

func NewMachine(cfg Config) (*Machine, error) {
	if cfg.ClockHz == 0 || cfg.NumSources < 2 || cfg.SRAMSize <= 0 {
		return nil, ErrInvalidConfig
	}

	cpu := newCPU(cfg.ClockHz)
	sram, err := newSRAM(cfg.SRAMSize, cfg.StaticSize)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	return &Machine{
		cpu:   cpu,
		clint: newCLINT(cpu, cfg.TimebaseDivider),
		plic:  newPLIC(cpu, cfg.NumSources),
		sram:  sram,
	}, nil
}

func (m *Machine) CPU() *CPU {
	return m.cpu
}

func (m *Machine) CLINT() *CLINT {
	return m.clint
}

func (m *Machine) PLIC() *PLIC {
	return m.plic
}

func (m *Machine) SRAM() *SRAM {
	return m.sram
}

// TimebaseHz is the mtime frequency.
func (m *Machine) TimebaseHz() uint64 {
	return m.cpu.hz / m.clint.divider
}

func (m *Machine) Close() error {
	return m.sram.Close()
}
