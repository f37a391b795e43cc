package israpp

import (
	"example.com/board"
	"example.com/kernel"
	"example.com/trap"
)

type app struct {
	k   *kernel.Kernel
	sem *kernel.Semaphore
	mu  *kernel.Mutex
	q   *kernel.Queue[int]
	tmr *kernel.Timer
	h   *board.Handoff
}

func (a *app) register(d *trap.Dispatcher) {
	d.Register(1, func() {
		a.sem.Give()
		a.sem.Take(kernel.NoWait) // want `blocking call to Semaphore.Take in interrupt handler`
		a.q.Send(1, kernel.NoWait)
		a.q.Send(1, 0)
		a.q.Send(1, 5) // want `blocking call to Queue.Send in interrupt handler`
		a.k.Spin(10)
	}, 1)

	d.Register(2, a.timerISR, 1)
	d.Register(3, (a.dmaISR), 1)
	d.Register(4, plainISR, 1)
}

func (a *app) timerISR() {
	a.tmr.Reset(kernel.NoWait)
	a.tmr.Start(kernel.Forever) // want `blocking call to Timer.Start in interrupt handler`
	a.helper()
}

func (a *app) helper() {
	a.k.Delay(1) // want `blocking call to Kernel.Delay in interrupt handler`
	a.mu.Give()  // want `blocking call to Mutex.Give in interrupt handler`
}

func (a *app) dmaISR() {
	a.h.Complete()
	a.h.Acquire(kernel.NoWait) // want `blocking call to Handoff.Acquire in interrupt handler`
	go func() {
		a.k.Delay(5)
	}()
	later := func() {
		a.sem.Take(kernel.Forever)
	}
	_ = later
	if v, err := a.q.Receive(kernel.Forever); err == nil { // want `blocking call to Queue.Receive in interrupt handler`
		_ = v
	}
}

func plainISR() {}

// Called from tasks only.
func (a *app) task() {
	a.k.Delay(10)
	a.sem.Take(kernel.Forever)
	a.helper()
}
