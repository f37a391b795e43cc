package kernel

import (
	"errors"
	"fmt"

	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/logger"
)

type Options struct {
	TickRateHz       uint32
	MaxPriorities    int
	MinimalStackSize int // words
	MaxStackSize     int // words
	TotalHeapSize    int // bytes
	MaxTaskNameLen   int
	MaxTasks         int // zero means bounded by the heap only

	Preemption       bool
	TimeSlicing      bool
	NestedInterrupts bool
	TickPriority     uint8

	UseTimers           bool
	TimerTaskPriority   int
	TimerQueueLength    int
	TimerTaskStackDepth int

	IdleHook func()
	TickHook func()

	TraceCapacity int
	TickLimit     uint64

	Logger *logger.Logger
}

func DefaultOptions() Options {
	return Options{
		TickRateHz:          1000,
		MaxPriorities:       32,
		MinimalStackSize:    128,
		MaxStackSize:        2048,
		TotalHeapSize:       16 * 1024,
		MaxTaskNameLen:      16,
		Preemption:          true,
		TimeSlicing:         true,
		TickPriority:        1,
		UseTimers:           true,
		TimerTaskPriority:   20,
		TimerQueueLength:    10,
		TimerTaskStackDepth: 256,
	}
}

// Validate reports every invalid option.
func (o *Options) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidOption}, args...)...))
		}
	}

	check(o.TickRateHz > 0, "tick rate must be positive")
	check(o.MaxPriorities >= 1 && o.MaxPriorities <= 32, "max priorities %d outside 1..32", o.MaxPriorities)
	check(o.MinimalStackSize >= frameWords, "minimal stack size %d below one context frame (%d words)", o.MinimalStackSize, frameWords)
	check(o.MaxStackSize >= o.MinimalStackSize, "max stack size %d below minimal stack size %d", o.MaxStackSize, o.MinimalStackSize)
	check(o.TotalHeapSize >= 1024, "heap size %d too small", o.TotalHeapSize)
	check(o.MaxTaskNameLen >= 2, "max task name length %d too small", o.MaxTaskNameLen)
	check(o.MaxTasks >= 0, "max tasks %d negative", o.MaxTasks)
	check(o.TickPriority >= 1 && o.TickPriority <= hal.MaxSourcePriority, "tick priority %d outside 1..%d", o.TickPriority, hal.MaxSourcePriority)
	if o.UseTimers {
		check(o.TimerQueueLength >= 1, "timer queue length %d too small", o.TimerQueueLength)
		check(o.TimerTaskStackDepth >= o.MinimalStackSize, "timer task stack %d below minimal stack size", o.TimerTaskStackDepth)
		check(o.TimerTaskPriority >= 0, "timer task priority %d negative", o.TimerTaskPriority)
	}
	return errors.Join(errs...)
}
