package kernel

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOption      = errors.New("invalid kernel option")
	ErrInvalidPriority    = errors.New("invalid task priority")
	ErrInvalidStackSize   = errors.New("invalid stack size")
	ErrNilTaskFunc        = errors.New("nil task function")
	ErrRegistryFull       = errors.New("task registry full")
	ErrOutOfMemory        = errors.New("out of heap memory")
	ErrInvalidFree        = errors.New("free of a block that is not allocated")
	ErrStartupFailed      = errors.New("scheduler startup failed")
	ErrSchedulerRunning   = errors.New("scheduler already started")
	ErrTimeout            = errors.New("timed out")
	ErrSemaphoreFull      = errors.New("semaphore already at its maximum count")
	ErrInvalidCount       = errors.New("invalid semaphore count")
	ErrInvalidLength      = errors.New("invalid queue length")
	ErrNotOwner           = errors.New("mutex not owned by the calling task")
	ErrInvalidPeriod      = errors.New("invalid timer period")
	ErrTimersDisabled     = errors.New("software timers are disabled")
	ErrTickLimit          = errors.New("tick limit reached")
	ErrStopped            = errors.New("stop requested")
	ErrCalledFromISR      = errors.New("operation not permitted in interrupt context")
	ErrBlockingInCritical = errors.New("blocking call inside a critical section")
	ErrSchedulerSuspended = errors.New("blocking call while the scheduler is suspended")
	ErrIdleBlocked        = errors.New("idle task attempted to block")
	ErrUseAfterDelete     = errors.New("use of a deleted task")
	ErrTaskReturned       = errors.New("task function returned")
	ErrUseAfterClose      = errors.New("use of a closed primitive")
	ErrDoubleClose        = errors.New("primitive closed twice")
	ErrPrimitiveBusy      = errors.New("primitive closed with tasks waiting on it")
	ErrRecursiveTake      = errors.New("non-recursive mutex taken twice by its owner")
	ErrUnbalancedResume   = errors.New("resume without matching suspend")
	ErrNotStarted         = errors.New("scheduler not started")
	ErrStackOverflow      = errors.New("stack overflow")
)

type FaultClass uint8

const (
	ProtocolViolation FaultClass = iota + 1
	UnhandledTrap
	CorruptState
)

func (c FaultClass) String() string {
	switch c {
	case ProtocolViolation:
		return "protocol violation"
	case UnhandledTrap:
		return "unhandled trap"
	case CorruptState:
		return "corrupt state"
	}
	return fmt.Sprintf("fault(%d)", uint8(c))
}

// FatalError is the reason the machine halted.
type FatalError struct {
	Class FaultClass
	Err   error
	Task  string
	Tick  Ticks
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s in task %q at tick %d: %v", e.Class, e.Task, e.Tick, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
