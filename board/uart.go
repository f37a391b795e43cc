package board

import (
	"fmt"
	"io"

	"golang.org/x/exp/slices"

	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/ringbuffer"
)

// DMACR bits
const (
	DMACRRXDMAE uint32 = 1 << 0
	DMACRTXDMAE uint32 = 1 << 1
)

// FR bits
const (
	FlagBUSY uint32 = 1 << 3
	FlagRXFE uint32 = 1 << 4
	FlagTXFF uint32 = 1 << 5
	FlagRXFF uint32 = 1 << 6
	FlagTXFE uint32 = 1 << 7
)

const fifoDepth = 16

// UART is a PL011 style UART with 16 byte FIFOs and 8N1 framing. A byte
// takes ten bit times on the line.
type UART struct {
	cpu        *hal.CPU
	name       string
	baud       int
	byteCycles uint64

	rx, tx   *ringbuffer.RingBuffer
	shifting bool
	out      io.Writer
	lineFree uint64

	dmacr      uint32
	dma        *DMA
	rxCh, txCh int

	overruns uint64
	sent     uint64
	received uint64

	inbox chan []byte
}

func newUART(cpu *hal.CPU, name string, baud int) (*UART, error) {
	if baud <= 0 || uint64(baud)*10 > cpu.Hz() {
		return nil, fmt.Errorf("%w: %s at %d", ErrInvalidBaud, name, baud)
	}
	return &UART{
		cpu:        cpu,
		name:       name,
		baud:       baud,
		byteCycles: cpu.Hz() * 10 / uint64(baud),
		rx:         ringbuffer.New(fifoDepth),
		tx:         ringbuffer.New(fifoDepth),
		rxCh:       -1,
		txCh:       -1,
	}, nil
}

func (u *UART) Name() string {
	return u.name
}

func (u *UART) Baud() int {
	return u.baud
}

// ByteCycles is the time one frame occupies the line.
func (u *UART) ByteCycles() uint64 {
	return u.byteCycles
}

// SetOutput sets where transmitted bytes go.
func (u *UART) SetOutput(w io.Writer) {
	u.out = w
}

// ConnectDMA routes the RX and TX DMA requests to channels of d. A negative
// channel leaves that direction unconnected.
func (u *UART) ConnectDMA(d *DMA, rxCh, txCh int) {
	u.dma = d
	u.rxCh = rxCh
	u.txCh = txCh
}

func (u *UART) DMACR() uint32 {
	return u.dmacr
}

func (u *UART) SetDMACR(v uint32) {
	u.dmacr = v
	u.serviceRX()
	u.serviceTX()
}

func (u *UART) FR() uint32 {
	var fr uint32
	if u.shifting || u.tx.Len() > 0 {
		fr |= FlagBUSY
	}
	if u.rx.Len() == 0 {
		fr |= FlagRXFE
	}
	if u.rx.Full() {
		fr |= FlagRXFF
	}
	if u.tx.Full() {
		fr |= FlagTXFF
	}
	if u.tx.Len() == 0 {
		fr |= FlagTXFE
	}
	return fr
}

// ReadDR pops the RX FIFO.
func (u *UART) ReadDR() (byte, bool) {
	b, err := u.rx.ReadByte()
	return b, err == nil
}

// WriteDR pushes onto the TX FIFO. A full FIFO drops the write.
func (u *UART) WriteDR(b byte) bool {
	if u.tx.WriteByte(b) != nil {
		return false
	}
	u.startShift()
	return true
}

// WriteDRAt is WriteDR with the element index a DMA channel passes.
func (u *UART) WriteDRAt(_ int, b byte) bool {
	return u.WriteDR(b)
}

// ReadDRAt is ReadDR with the element index a DMA channel passes.
func (u *UART) ReadDRAt(_ int) (byte, bool) {
	return u.ReadDR()
}

// PutChar waits for the transmitter to go idle and sends b.
func (u *UART) PutChar(b byte) error {
	idle := func() bool { return u.FR()&FlagBUSY == 0 }
	if err := u.cpu.Poll(idle, u.byteCycles*(fifoDepth+1)); err != nil {
		return fmt.Errorf("%s: %w", u.name, ErrTXTimeout)
	}
	u.WriteDR(b)
	return nil
}

func (u *UART) startShift() {
	if u.shifting {
		return
	}
	b, err := u.tx.ReadByte()
	if err != nil {
		return
	}
	u.shifting = true
	u.cpu.After(u.byteCycles, func() {
		u.shifting = false
		u.sent++
		if u.out != nil {
			u.out.Write([]byte{b})
		}
		u.startShift()
		u.serviceTX()
	})
}

func (u *UART) serviceRX() {
	if u.dma == nil || u.rxCh < 0 {
		return
	}
	for u.dmacr&DMACRRXDMAE != 0 && u.rx.Len() > 0 {
		if !u.dma.Request(u.rxCh) {
			return
		}
	}
}

func (u *UART) serviceTX() {
	if u.dma == nil || u.txCh < 0 {
		return
	}
	for u.dmacr&DMACRTXDMAE != 0 && !u.tx.Full() {
		if !u.dma.Request(u.txCh) {
			return
		}
	}
}

func (u *UART) receive(b byte) {
	u.received++
	if u.rx.WriteByte(b) != nil {
		u.overruns++
		return
	}
	u.serviceRX()
}

// Inject puts data on the RX line. Bytes arrive back to back at the line
// rate, after anything injected earlier.
func (u *UART) Inject(data []byte) {
	at := u.cpu.Clock()
	if u.lineFree > at {
		at = u.lineFree
	}
	for _, b := range data {
		b := b
		at += u.byteCycles
		u.cpu.Schedule(at, func() { u.receive(b) })
	}
	u.lineFree = at
}

// Attach feeds the RX line from r. r is read on its own goroutine and its
// data is picked up by the machine every FIFO's worth of line time.
func (u *UART) Attach(r io.Reader) {
	inbox := make(chan []byte, 16)
	u.inbox = inbox
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				inbox <- slices.Clone(buf[:n])
			}
			if err != nil {
				close(inbox)
				return
			}
		}
	}()
	u.cpu.After(u.byteCycles*fifoDepth, u.pollInbox)
}

func (u *UART) pollInbox() {
	for {
		select {
		case data, ok := <-u.inbox:
			if !ok {
				u.inbox = nil
				return
			}
			u.Inject(data)
		default:
			u.cpu.After(u.byteCycles*fifoDepth, u.pollInbox)
			return
		}
	}
}

// Overruns counts bytes dropped because the RX FIFO was full.
func (u *UART) Overruns() uint64 {
	return u.overruns
}

func (u *UART) Sent() uint64 {
	return u.sent
}

func (u *UART) Received() uint64 {
	return u.received
}
