// Package sim assembles a complete simulated system from a configuration:
// machine, board, kernel and the echo application.
package sim

import (
	"errors"
	"io"
	"time"

	"omibyte.io/rvrtos/app/echo"
	"omibyte.io/rvrtos/board"
	"omibyte.io/rvrtos/config"
	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/kernel"
	"omibyte.io/rvrtos/logger"
)

type Options struct {
	// Console receives UART0, the log port.
	Console io.Writer

	// Port receives what the application sends on UART1.
	Port io.Writer

	// Input is fed to UART1 one frame at a time, each frame once the
	// application has armed its receive buffer.
	Input []byte

	// StopAfterInput stops the machine once every byte of Input has been
	// echoed.
	StopAfterInput bool

	// Realtime paces the simulated clock to the wall clock.
	Realtime bool
}

type System struct {
	Config  config.Config
	Machine *hal.Machine
	Board   *board.Board
	Kernel  *kernel.Kernel
	App     *echo.App
	Log     *logger.Logger

	input     []byte
	frameSize int
	stop      bool
}

// New builds the system. Nothing runs until Run.
func New(cfg config.Config, opts Options) (*System, error) {
	mcfg, err := cfg.MachineConfig()
	if err != nil {
		return nil, err
	}
	bcfg, err := cfg.BoardConfig()
	if err != nil {
		return nil, err
	}

	m, err := hal.NewMachine(mcfg)
	if err != nil {
		return nil, err
	}
	s := &System{
		Config:    cfg,
		Machine:   m,
		input:     opts.Input,
		frameSize: cfg.Board.EchoBufferSize,
		stop:      opts.StopAfterInput,
	}

	if s.Board, err = board.New(m, bcfg); err != nil {
		m.Close()
		return nil, err
	}
	if opts.Console != nil {
		s.Board.UART0.SetOutput(opts.Console)
	}
	if opts.Port != nil {
		s.Board.UART1.SetOutput(opts.Port)
	}
	if opts.Realtime {
		m.CPU().SetPacer(Pacer(m.CPU().Hz()))
	}

	s.Log = logger.New(s.Board.Retarget(), cfg.LogLevel())
	kopts := cfg.KernelOptions()
	kopts.Logger = s.Log
	if s.Kernel, err = kernel.New(m, kopts); err != nil {
		m.Close()
		return nil, err
	}

	ecfg := echo.DefaultConfig()
	ecfg.FrameSize = cfg.Board.EchoBufferSize
	ecfg.OnArmed = s.feed
	if s.App, err = echo.New(s.Kernel, s.Board, ecfg); err != nil {
		m.Close()
		return nil, err
	}
	return s, nil
}

// feed runs on the echo task each time the receive buffer is armed.
// A trailing partial frame is never echoed; with StopAfterInput it is
// dropped and the machine stops.
func (s *System) feed(int) {
	if s.stop && len(s.input) < s.frameSize {
		s.input = nil
		s.Kernel.Stop()
		return
	}
	n := s.frameSize
	if n > len(s.input) {
		n = len(s.input)
	}
	if n > 0 {
		s.Board.UART1.Inject(s.input[:n])
		s.input = s.input[n:]
	}
}

// Attach connects r to the UART1 receive line.
func (s *System) Attach(r io.Reader) {
	s.Board.UART1.Attach(r)
}

// Run starts the scheduler and blocks until the machine halts. A halt
// requested through Stop or the tick limit is not an error. The transmit
// lines are drained before Run returns.
func (s *System) Run() error {
	err := s.Kernel.Start()
	s.drain()
	if errors.Is(err, kernel.ErrStopped) || errors.Is(err, kernel.ErrTickLimit) {
		return nil
	}
	return err
}

func (s *System) drain() {
	b := s.Board
	cycles := b.UART0.ByteCycles()
	if c := b.UART1.ByteCycles(); c > cycles {
		cycles = c
	}
	s.Machine.CPU().Spin(cycles * 20)
}

func (s *System) Stop() {
	s.Kernel.Stop()
}

func (s *System) Close() error {
	return s.Machine.Close()
}

// Pacer returns a clock hook that holds the simulation back to real time
// for a core running at hz.
func Pacer(hz uint64) func(clock uint64) {
	start := time.Now()
	step := hz / 1000
	var next uint64
	return func(clock uint64) {
		if clock < next {
			return
		}
		next = clock + step
		due := time.Duration(float64(clock) / float64(hz) * float64(time.Second))
		if ahead := due - time.Since(start); ahead > 0 {
			time.Sleep(ahead)
		}
	}
}
