package kernel

import (
	"fmt"

	"golang.org/x/exp/slices"
)

type timerOp uint8

const (
	timerStart timerOp = iota
	timerStop
	timerReset
	timerChangePeriod
	timerDelete
)

type timerCommand struct {
	op     timerOp
	timer  *Timer
	at     Ticks
	period Ticks
}

// Timer runs its callback on the timer service task after its period has
// elapsed, once or repeatedly.
type Timer struct {
	k          *Kernel
	name       string
	period     Ticks
	autoReload bool
	fn         func(*Timer)
	active     bool
	deleted    bool
	expiry     Ticks
	fired      int
}

type timerService struct {
	k      *Kernel
	queue  *Queue[timerCommand]
	task   *Task
	active []*Timer
}

// NewTimer creates a dormant timer.
func (k *Kernel) NewTimer(name string, period Ticks, autoReload bool, fn func(*Timer)) (*Timer, error) {
	if !k.opts.UseTimers {
		return nil, ErrTimersDisabled
	}
	if period == 0 || period == Forever {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}
	if err := k.ensureTimerQueue(); err != nil {
		return nil, err
	}
	return &Timer{
		k:          k,
		name:       name,
		period:     period,
		autoReload: autoReload,
		fn:         fn,
	}, nil
}

func (t *Timer) Name() string {
	return t.name
}

func (t *Timer) Period() Ticks {
	return t.period
}

// Active reports whether the service task has the timer armed.
func (t *Timer) Active() bool {
	return t.active
}

// Fired counts callback runs.
func (t *Timer) Fired() int {
	return t.fired
}

func (t *Timer) send(cmd timerCommand, timeout Ticks) error {
	k := t.k
	if t.deleted {
		k.fatal(ProtocolViolation, fmt.Errorf("%w: timer %s", ErrUseAfterClose, t.name))
	}
	if !k.started || k.InISR() {
		timeout = NoWait
	}
	cmd.timer = t
	cmd.at = k.tickCount
	return k.timers.queue.Send(cmd, timeout)
}

// Start arms the timer to expire one period from now.
func (t *Timer) Start(timeout Ticks) error {
	return t.send(timerCommand{op: timerStart}, timeout)
}

func (t *Timer) Stop(timeout Ticks) error {
	return t.send(timerCommand{op: timerStop}, timeout)
}

// Reset re-arms the timer one period from now, starting it if dormant.
func (t *Timer) Reset(timeout Ticks) error {
	return t.send(timerCommand{op: timerReset}, timeout)
}

// ChangePeriod sets a new period and arms the timer with it.
func (t *Timer) ChangePeriod(period Ticks, timeout Ticks) error {
	if period == 0 || period == Forever {
		return fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}
	return t.send(timerCommand{op: timerChangePeriod, period: period}, timeout)
}

func (t *Timer) Delete(timeout Ticks) error {
	return t.send(timerCommand{op: timerDelete}, timeout)
}

func (k *Kernel) ensureTimerQueue() error {
	if k.timers != nil {
		return nil
	}
	q, err := NewQueue[timerCommand](k, k.opts.TimerQueueLength)
	if err != nil {
		return err
	}
	k.timers = &timerService{k: k, queue: q}
	return nil
}

func (k *Kernel) startTimerService() error {
	if err := k.ensureTimerQueue(); err != nil {
		return err
	}
	prio := k.opts.TimerTaskPriority
	if prio >= k.opts.MaxPriorities {
		prio = k.opts.MaxPriorities - 1
	}
	task, err := k.CreateTask(k.timers.run, "Tmr Svc", k.opts.TimerTaskStackDepth, prio)
	if err != nil {
		return err
	}
	k.timers.task = task
	return nil
}

func expired(expiry, now Ticks) bool {
	return int32(now-expiry) >= 0
}

func (s *timerService) insert(t *Timer) {
	i := slices.IndexFunc(s.active, func(o *Timer) bool {
		return int32(o.expiry-t.expiry) > 0
	})
	if i < 0 {
		i = len(s.active)
	}
	s.active = slices.Insert(s.active, i, t)
	t.active = true
}

func (s *timerService) remove(t *Timer) {
	if i := slices.Index(s.active, t); i >= 0 {
		s.active = slices.Delete(s.active, i, i+1)
	}
	t.active = false
}

func (s *timerService) run() {
	k := s.k
	for {
		now := k.tickCount
		for len(s.active) > 0 && expired(s.active[0].expiry, now) {
			t := s.active[0]
			s.active = slices.Delete(s.active, 0, 1)
			t.active = false
			if t.autoReload {
				t.expiry += t.period
				s.insert(t)
			}
			t.fired++
			if t.fn != nil {
				t.fn(t)
			}
		}

		timeout := Forever
		if len(s.active) > 0 {
			timeout = s.active[0].expiry - k.tickCount
			if int32(timeout) <= 0 {
				continue
			}
		}
		cmd, err := s.queue.Receive(timeout)
		if err != nil {
			continue
		}
		s.apply(cmd)
	}
}

func (s *timerService) apply(cmd timerCommand) {
	t := cmd.timer
	switch cmd.op {
	case timerStart, timerReset:
		s.remove(t)
		t.expiry = cmd.at + t.period
		s.insert(t)
	case timerStop:
		s.remove(t)
	case timerChangePeriod:
		s.remove(t)
		t.period = cmd.period
		t.expiry = s.k.tickCount + t.period
		s.insert(t)
	case timerDelete:
		s.remove(t)
		t.deleted = true
	}
}
