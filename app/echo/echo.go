// Package echo is the UART1 DMA echo demo: LEDs walk on a TMR32 interrupt
// while every 16 bytes received on UART1 are logged and sent back.
package echo

import (
	"errors"
	"fmt"
	"strings"

	"omibyte.io/rvrtos/board"
	"omibyte.io/rvrtos/kernel"
	"omibyte.io/rvrtos/logger"
)

const (
	MainTaskName = "MainTask"
	EchoTaskName = "EchoTask"
)

var ErrInvalidConfig = errors.New("invalid echo configuration")

type Config struct {
	FrameSize    int
	RxChannel    int
	TxChannel    int
	MainPriority int
	EchoPriority int
	StackWords   int
	IRQPriority  uint8

	// OnArmed runs on the echo task every time the receive buffer is handed
	// back to the hardware, with the number of frames echoed so far.
	OnArmed func(frames int)
}

func DefaultConfig() Config {
	return Config{
		FrameSize:    16,
		RxChannel:    12,
		TxChannel:    9,
		MainPriority: 5,
		EchoPriority: 6,
		StackWords:   256,
		IRQPriority:  1,
	}
}

type App struct {
	k   *kernel.Kernel
	b   *board.Board
	cfg Config
	log *logger.Logger

	handoff  *board.Handoff
	txDone   *kernel.Semaphore
	ledShift uint16
	frames   int

	main, echo *kernel.Task
}

// New initializes the peripherals and creates the demo tasks. The kernel
// must not be started yet.
func New(k *kernel.Kernel, b *board.Board, cfg Config) (*App, error) {
	if cfg.FrameSize <= 0 || cfg.RxChannel == cfg.TxChannel ||
		cfg.RxChannel < 0 || cfg.RxChannel >= b.DMA.NumChannels() ||
		cfg.TxChannel < 0 || cfg.TxChannel >= b.DMA.NumChannels() {
		return nil, fmt.Errorf("%w: frame %d bytes, rx channel %d, tx channel %d", ErrInvalidConfig, cfg.FrameSize, cfg.RxChannel, cfg.TxChannel)
	}

	a := &App{
		k:        k,
		b:        b,
		cfg:      cfg,
		log:      k.Logger(),
		ledShift: board.LED0,
	}
	if err := a.initPeripherals(); err != nil {
		return nil, err
	}

	var err error
	if a.main, err = k.CreateTask(a.mainTask, MainTaskName, cfg.StackWords, cfg.MainPriority); err != nil {
		return nil, err
	}
	if a.echo, err = k.CreateTask(a.echoTask, EchoTaskName, cfg.StackWords, cfg.EchoPriority); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) initPeripherals() error {
	k, b := a.k, a.b

	b.GPIOA.OutEnSet(board.LEDsMask)
	b.GPIOA.DataOutSet(board.LEDsMask)

	var err error
	if a.handoff, err = board.NewHandoff(k, a.cfg.FrameSize); err != nil {
		return err
	}
	if a.txDone, err = k.NewBinarySemaphore(); err != nil {
		return err
	}

	b.UART1.ConnectDMA(b.DMA, a.cfg.RxChannel, a.cfg.TxChannel)
	b.DMA.SetMaster(true)
	// Both channels may share one DMA line.
	for _, ch := range []int{a.cfg.RxChannel, a.cfg.TxChannel} {
		src := b.DMA.Source(ch)
		if k.Interrupts().Installed(src) {
			continue
		}
		if err := k.Interrupts().Register(src, a.dmaISR, a.cfg.IRQPriority); err != nil {
			return err
		}
		if err := k.Interrupts().Enable(src); err != nil {
			return err
		}
	}

	uid := b.UID()
	a.log.Infof("%s SYSCLK = %d MHz", strings.ToUpper(b.Chip().Series), b.Machine().CPU().Hz()/1_000_000)
	a.log.Infof("UID[0] = 0x%X  UID[1] = 0x%X  UID[2] = 0x%X  UID[3] = 0x%X", uid[0], uid[1], uid[2], uid[3])
	a.log.Infof("Start UART1(TX - A.3,  RX - A.2) DMA")
	return nil
}

func (a *App) mainTask() {
	tmr := a.b.TMR32
	if err := a.k.Interrupts().Register(tmr.Source(), a.tmr32ISR, a.cfg.IRQPriority); err != nil {
		a.log.Errorf("TMR32 handler: %v", err)
	}
	if err := a.k.Interrupts().Enable(tmr.Source()); err != nil {
		a.log.Errorf("TMR32 enable: %v", err)
	}
	tmr.SetIM(board.TMR32Capcom0)
	if err := tmr.Start(a.b.Machine().CPU().Hz() >> 4); err != nil {
		a.log.Errorf("TMR32 start: %v", err)
	}

	a.log.Warningf("\texample::\t%f", 0.123)
	a.log.Errorf("\t\texample::\t%f", 0.123)
	a.log.Infof("\t\texample::\t%s", "Hello world")

	for {
		a.k.Delay(1000)
	}
}

func (a *App) tmr32ISR() {
	a.b.GPIOA.DataOutTgl(a.ledShift)
	a.ledShift <<= 1
	if a.ledShift == 0 || a.ledShift > board.LED7 {
		a.ledShift = board.LED0
	}
	a.b.TMR32.ClearIC(board.TMR32Capcom0 | board.TMR32Overflow)
}

func (a *App) dmaISR() {
	dma, uart := a.b.DMA, a.b.UART1
	stat := dma.IRQStat()
	if rx := uint32(1) << uint(a.cfg.RxChannel); stat&rx != 0 {
		dma.ClearIRQ(rx)
		uart.SetDMACR(uart.DMACR() &^ board.DMACRRXDMAE)
		a.handoff.Complete()
	}
	if tx := uint32(1) << uint(a.cfg.TxChannel); stat&tx != 0 {
		dma.ClearIRQ(tx)
		uart.SetDMACR(uart.DMACR() &^ board.DMACRTXDMAE)
		if err := a.txDone.Give(); err != nil {
			a.k.Fault(err)
		}
	}
}

// armRX hands the buffer to the RX channel and turns on RX requests.
func (a *App) armRX() {
	b := a.b
	a.handoff.Arm()
	err := b.DMA.Configure(a.cfg.RxChannel, board.ChannelConfig{
		Count: a.handoff.Size(),
		Read:  b.UART1.ReadDRAt,
		Write: a.handoff.Store,
	})
	if err == nil {
		err = b.DMA.Enable(a.cfg.RxChannel)
	}
	if err != nil {
		a.k.Fault(err)
	}
	b.UART1.SetDMACR(b.UART1.DMACR() | board.DMACRRXDMAE)
	if a.cfg.OnArmed != nil {
		a.cfg.OnArmed(a.frames)
	}
}

func (a *App) echoTask() {
	b := a.b
	a.armRX()
	for {
		lease, err := a.handoff.Acquire(kernel.Forever)
		if err != nil {
			a.log.Errorf("UART1 receive: %v", err)
			continue
		}
		data := lease.Bytes()
		a.log.Infof("UART1 Echo: %s", data)

		err = b.DMA.Configure(a.cfg.TxChannel, board.ChannelConfig{
			Count: len(data),
			Read:  a.handoff.Load,
			Write: b.UART1.WriteDRAt,
		})
		if err == nil {
			err = b.DMA.Enable(a.cfg.TxChannel)
		}
		if err != nil {
			a.k.Fault(err)
		}
		b.UART1.SetDMACR(b.UART1.DMACR() | board.DMACRTXDMAE)
		if err := a.txDone.Take(kernel.Forever); err != nil {
			a.k.Fault(err)
		}

		lease.Release()
		a.frames++
		a.armRX()
	}
}

// Frames is the number of frames echoed.
func (a *App) Frames() int {
	return a.frames
}

func (a *App) LEDs() uint16 {
	return a.b.GPIOA.DataOut() & board.LEDsMask
}

func (a *App) MainTask() *kernel.Task {
	return a.main
}

func (a *App) EchoTask() *kernel.Task {
	return a.echo
}
