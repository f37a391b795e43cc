package trace

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type Summary struct {
	N      int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

func (s Summary) String() string {
	return fmt.Sprintf("n=%d min=%.1f max=%.1f mean=%.2f stddev=%.2f", s.N, s.Min, s.Max, s.Mean, s.StdDev)
}

// Summarize computes the spread of a set of latency samples.
func Summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	s := Summary{
		N:   len(samples),
		Min: floats.Min(samples),
		Max: floats.Max(samples),
	}
	if len(samples) == 1 {
		s.Mean = samples[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(samples, nil)
	return s
}

// SwitchLatencies returns, for every switch into task id, the cycles since
// the preceding tick event. It measures how late a task woken by a tick
// starts running.
func SwitchLatencies(events []Event, id int) []float64 {
	var out []float64
	var lastTick uint64
	seen := false
	for _, e := range events {
		switch {
		case e.Kind == Tick:
			lastTick = e.Cycle
			seen = true
		case e.Kind == TaskSwitch && e.Other == id && seen:
			out = append(out, float64(e.Cycle-lastTick))
		}
	}
	return out
}
