package trap

import (
	"fmt"

	"omibyte.io/rvrtos/hal"
)

// Cause is the raw mcause value.
type Cause uint32

const (
	MachineSoftware = Cause(hal.CauseInterrupt | hal.IntSoftware)
	MachineTimer    = Cause(hal.CauseInterrupt | hal.IntTimer)
	MachineExternal = Cause(hal.CauseInterrupt | hal.IntExternal)
	EnvironmentCall = Cause(hal.ExcEcallM)
)

var exceptionNames = map[uint32]string{
	hal.ExcInstructionMisaligned: "instruction address misaligned",
	hal.ExcInstructionFault:      "instruction access fault",
	hal.ExcIllegalInstruction:    "illegal instruction",
	hal.ExcBreakpoint:            "breakpoint",
	hal.ExcLoadMisaligned:        "load address misaligned",
	hal.ExcLoadFault:             "load access fault",
	hal.ExcStoreMisaligned:       "store address misaligned",
	hal.ExcStoreFault:            "store access fault",
	hal.ExcEcallU:                "environment call from U-mode",
	hal.ExcEcallM:                "environment call from M-mode",
}

func (c Cause) Interrupt() bool {
	return uint32(c)&hal.CauseInterrupt != 0
}

func (c Cause) Code() uint32 {
	return uint32(c) &^ hal.CauseInterrupt
}

func (c Cause) String() string {
	if c.Interrupt() {
		switch c.Code() {
		case hal.IntSoftware:
			return "machine software interrupt"
		case hal.IntTimer:
			return "machine timer interrupt"
		case hal.IntExternal:
			return "machine external interrupt"
		}
		return fmt.Sprintf("interrupt %d", c.Code())
	}
	if name, ok := exceptionNames[c.Code()]; ok {
		return name
	}
	return fmt.Sprintf("exception %d", c.Code())
}
