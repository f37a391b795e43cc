package trap

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"omibyte.io/rvrtos/hal"
)

type fakeSwitcher struct {
	pending bool
	calls   []int
	d       *Dispatcher
}

func (s *fakeSwitcher) SwitchPending() bool {
	return s.pending
}

func (s *fakeSwitcher) Switch(regs *hal.Regs) {
	s.calls = append(s.calls, s.d.Depth())
	s.pending = false
}

func newTestDispatcher(t *testing.T, opts Options) (*hal.Machine, *Dispatcher, *[]string) {
	t.Helper()
	m, err := hal.NewMachine(hal.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })

	d := New(m, opts)
	log := &[]string{}
	d.SetHooks(func(f *Frame) {
		*log = append(*log, fmt.Sprintf("enter %d", f.Source))
	}, func(f *Frame) {
		*log = append(*log, fmt.Sprintf("exit %d", f.Source))
	})
	return m, d, log
}

func TestExternalDispatch(t *testing.T) {
	m, d, _ := newTestDispatcher(t, Options{})
	cpu := m.CPU()

	calls := 0
	if err := d.Register(12, func() { calls++ }, 3); err != nil {
		t.Fatal(err)
	}
	d.Enable(12)
	cpu.EnableInterrupts()

	cpu.Schedule(50, func() { m.PLIC().Raise(12) })
	cpu.Spin(100)

	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if d.Depth() != 0 {
		t.Errorf("depth = %d after return", d.Depth())
	}
	if !cpu.InterruptsEnabled() {
		t.Errorf("interrupts left disabled after trap return")
	}
}

func TestUnhandledTrapsAreFatal(t *testing.T) {
	tests := []struct {
		name  string
		raise func(m *hal.Machine, d *Dispatcher)
		want  string
	}{
		{"external", func(m *hal.Machine, d *Dispatcher) {
			m.PLIC().SetPriority(7, 2)
			m.PLIC().Enable(7)
			m.PLIC().Raise(7)
			m.CPU().EnableInterrupts()
		}, "source 7"},
		{"illegal instruction", func(m *hal.Machine, d *Dispatcher) {
			m.CPU().RaiseException(hal.ExcIllegalInstruction, 0xdead)
		}, "illegal instruction"},
		{"timer", func(m *hal.Machine, d *Dispatcher) {
			m.CPU().EnableLocal(hal.IntTimer)
			m.CLINT().SetMtimecmp(0)
			m.CPU().EnableInterrupts()
		}, "machine timer"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, d, _ := newTestDispatcher(t, Options{})
			var faults []error
			d.SetFaultHandler(func(err error) {
				faults = append(faults, err)
				// Stop the request from being retaken
				m.CPU().DisableInterrupts()
				m.CLINT().SetMtimecmp(^uint64(0))
			})
			test.raise(m, d)

			if len(faults) == 0 {
				t.Fatal("no fault reported")
			}
			if !errors.Is(faults[0], ErrUnhandledTrap) {
				t.Errorf("fault %v is not ErrUnhandledTrap", faults[0])
			}
			if !strings.Contains(faults[0].Error(), test.want) {
				t.Errorf("fault %q does not mention %q", faults[0], test.want)
			}
		})
	}
}

func TestNestingPolicy(t *testing.T) {
	tests := []struct {
		name      string
		nesting   bool
		want      []string
		threshold uint8
	}{
		{"off", false, []string{"enter 1", "exit 1", "enter 2", "exit 2", "enter 3", "exit 3"}, 0},
		{"on", true, []string{"enter 1", "enter 2", "exit 2", "exit 1", "enter 3", "exit 3"}, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, d, log := newTestDispatcher(t, Options{Nesting: test.nesting, LocalPriority: 1})
			cpu, plic := m.CPU(), m.PLIC()

			// Source 1 is low priority and slow, 2 is high, 3 is as low as 1
			var threshold uint8
			d.Register(1, func() {
				threshold = plic.Threshold()
				cpu.Spin(100)
			}, 1)
			d.Register(2, func() { cpu.Spin(10) }, 5)
			d.Register(3, func() {}, 1)
			for _, src := range []int{1, 2, 3} {
				d.Enable(src)
			}
			cpu.EnableInterrupts()

			cpu.Schedule(10, func() { plic.Raise(1) })
			cpu.Schedule(50, func() { plic.Raise(2) })
			cpu.Schedule(55, func() { plic.Raise(3) })
			cpu.Spin(500)

			got := strings.Join(*log, ",")
			if want := strings.Join(test.want, ","); got != want {
				t.Errorf("trap order\n got %s\nwant %s", got, want)
			}
			if threshold != test.threshold || plic.Threshold() != 0 {
				t.Errorf("threshold %d in handler and %d after, want %d and 0", threshold, plic.Threshold(), test.threshold)
			}
		})
	}
}

func TestSwitchOnlyAtOutermostReturn(t *testing.T) {
	m, d, _ := newTestDispatcher(t, Options{Nesting: true, LocalPriority: 1})
	cpu, plic := m.CPU(), m.PLIC()
	s := &fakeSwitcher{d: d}
	d.SetSwitcher(s)

	d.Register(1, func() { cpu.Spin(100) }, 1)
	d.Register(2, func() { s.pending = true }, 6)
	d.Enable(1)
	d.Enable(2)
	cpu.EnableInterrupts()

	cpu.Schedule(10, func() { plic.Raise(1) })
	cpu.Schedule(20, func() { plic.Raise(2) })
	cpu.Spin(500)

	if len(s.calls) != 1 {
		t.Fatalf("switch performed %d times, want 1", len(s.calls))
	}
	if s.calls[0] != 0 {
		t.Errorf("switch performed at depth %d", s.calls[0])
	}
}

func TestReregisterKeepsLatchedRequest(t *testing.T) {
	m, d, _ := newTestDispatcher(t, Options{})
	cpu, plic := m.CPU(), m.PLIC()

	var old, replacement int
	d.Register(9, func() { old++ }, 2)
	d.Enable(9)
	cpu.EnableInterrupts()

	s := cpu.DisableInterrupts()
	plic.Raise(9)
	if err := d.Register(9, func() { replacement++ }, 2); err != nil {
		t.Fatal(err)
	}
	if !plic.Enabled(9) {
		t.Fatal("enable state not restored")
	}
	cpu.RestoreInterrupts(s)

	if old != 0 || replacement != 1 {
		t.Errorf("old ran %d times, replacement %d times", old, replacement)
	}
}

func TestRegisterValidation(t *testing.T) {
	_, d, _ := newTestDispatcher(t, Options{})
	tests := []struct {
		name    string
		src     int
		prio    uint8
		handler func()
		want    error
	}{
		{"reserved source", 0, 1, func() {}, ErrInvalidSource},
		{"out of range", 64, 1, func() {}, ErrInvalidSource},
		{"priority zero", 3, 0, func() {}, ErrInvalidPriority},
		{"priority too high", 3, hal.MaxSourcePriority + 1, func() {}, ErrInvalidPriority},
		{"nil handler", 3, 1, nil, ErrNilHandler},
		{"ok", 3, 1, func() {}, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := d.Register(test.src, test.handler, test.prio)
			if !errors.Is(err, test.want) {
				t.Errorf("got %v, want %v", err, test.want)
			}
		})
	}
	if !d.Installed(3) {
		t.Error("source 3 not installed")
	}
	d.Unregister(3)
	if d.Installed(3) {
		t.Error("source 3 still installed")
	}
}

func TestCauseString(t *testing.T) {
	tests := []struct {
		cause Cause
		want  string
	}{
		{MachineTimer, "machine timer interrupt"},
		{MachineExternal, "machine external interrupt"},
		{EnvironmentCall, "environment call from M-mode"},
		{Cause(hal.ExcLoadFault), "load access fault"},
		{Cause(42), "exception 42"},
	}
	for _, test := range tests {
		if got := test.cause.String(); got != test.want {
			t.Errorf("%#x: got %q, want %q", uint32(test.cause), got, test.want)
		}
	}
}
