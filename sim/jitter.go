package sim

import (
	"errors"
	"fmt"

	"omibyte.io/rvrtos/config"
	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/kernel"
	"omibyte.io/rvrtos/logger"
	"omibyte.io/rvrtos/trace"
)

var ErrNoSamples = errors.New("no samples collected")

// JitterReport describes how accurately a periodic task wakes up.
type JitterReport struct {
	Delay      kernel.Ticks
	TickPeriod uint64

	// Late counts wake ups that came at least one tick after the requested
	// delay.
	Late int

	// Latency is measured in cycles from the tick that made the task ready
	// to the task running again.
	Latency trace.Summary
}

func (r JitterReport) String() string {
	return fmt.Sprintf("delay %d ticks, tick %d cycles, %d late, latency %v", r.Delay, r.TickPeriod, r.Late, r.Latency)
}

// MeasureJitter runs a task that delays for delay ticks, samples times,
// against a busy lower priority load and reports the wake latency.
func MeasureJitter(cfg config.Config, delay kernel.Ticks, samples int) (JitterReport, error) {
	if delay == 0 || delay == kernel.Forever || samples <= 0 {
		return JitterReport{}, fmt.Errorf("%w: delay %d samples %d", config.ErrInvalidConfig, delay, samples)
	}
	mcfg, err := cfg.MachineConfig()
	if err != nil {
		return JitterReport{}, err
	}
	m, err := hal.NewMachine(mcfg)
	if err != nil {
		return JitterReport{}, err
	}
	defer m.Close()
	cpu := m.CPU()

	var lastTick uint64
	opts := cfg.KernelOptions()
	opts.Logger = logger.Discard
	opts.TickLimit = (uint64(delay)+1)*uint64(samples+1) + 100
	opts.TickHook = func() { lastTick = cpu.Clock() }
	k, err := kernel.New(m, opts)
	if err != nil {
		return JitterReport{}, err
	}

	report := JitterReport{Delay: delay, TickPeriod: k.TickPeriod()}
	var latency []float64
	_, err = k.CreateTask(func() {
		for i := 0; i < samples; i++ {
			// Start each delay at a different point inside the tick
			k.Spin(uint64(i*397) % k.TickPeriod())
			start := k.TickCount()
			k.Delay(delay)
			if k.TickCount()-start > delay {
				report.Late++
			}
			latency = append(latency, float64(cpu.Clock()-lastTick))
		}
		k.Stop()
		k.Delay(kernel.Forever)
	}, "periodic", opts.MinimalStackSize*2, opts.MaxPriorities-1)
	if err != nil {
		return JitterReport{}, err
	}
	_, err = k.CreateTask(func() {
		for {
			k.Spin(500)
		}
	}, "load", opts.MinimalStackSize, 1)
	if err != nil {
		return JitterReport{}, err
	}

	err = k.Start()
	if !errors.Is(err, kernel.ErrStopped) && !errors.Is(err, kernel.ErrTickLimit) {
		return JitterReport{}, err
	}
	if len(latency) == 0 {
		return JitterReport{}, ErrNoSamples
	}
	report.Latency = trace.Summarize(latency)
	return report, nil
}
