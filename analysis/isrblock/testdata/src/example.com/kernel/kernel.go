package kernel

type Ticks uint32

const (
	NoWait  Ticks = 0
	Forever Ticks = ^Ticks(0)
)

type Kernel struct{}

func (k *Kernel) Delay(t Ticks) {}

func (k *Kernel) DelayUntil(prev *Ticks, d Ticks) bool { return true }

func (k *Kernel) Spin(cycles uint64) {}

type Semaphore struct{}

func (s *Semaphore) Take(t Ticks) error { return nil }

func (s *Semaphore) Give() error { return nil }

type Mutex struct{}

func (m *Mutex) Take(t Ticks) error { return nil }

func (m *Mutex) Give() error { return nil }

type Queue[T any] struct{}

func (q *Queue[T]) Send(v T, t Ticks) error { return nil }

func (q *Queue[T]) Receive(t Ticks) (T, error) {
	var v T
	return v, nil
}

type Timer struct{}

func (t *Timer) Start(timeout Ticks) error { return nil }

func (t *Timer) Reset(timeout Ticks) error { return nil }
