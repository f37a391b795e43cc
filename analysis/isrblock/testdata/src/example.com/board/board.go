package board

import "example.com/kernel"

type Handoff struct{}

func (h *Handoff) Complete() {}

func (h *Handoff) Acquire(timeout kernel.Ticks) (int, error) { return 0, nil }
