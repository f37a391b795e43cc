package board

import (
	"bytes"
	"errors"
	"testing"

	"omibyte.io/rvrtos/hal"
)

func newTestBoard(t *testing.T) (*hal.Machine, *Board) {
	t.Helper()
	m, err := hal.NewMachine(hal.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	b, err := New(m, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return m, b
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		machine func(*hal.Config)
		board   func(*Config)
		err     error
	}{
		{"baud zero", nil, func(c *Config) { c.UART1Baud = 0 }, ErrInvalidBaud},
		{"baud above clock", nil, func(c *Config) { c.UART0Baud = 10_000_000 }, ErrInvalidBaud},
		{"too few sources", func(c *hal.Config) { c.NumSources = 16 }, nil, ErrSourceRange},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mc := hal.DefaultConfig()
			if test.machine != nil {
				test.machine(&mc)
			}
			m, err := hal.NewMachine(mc)
			if err != nil {
				t.Fatal(err)
			}
			defer m.Close()
			bc := DefaultConfig()
			if test.board != nil {
				test.board(&bc)
			}
			if _, err := New(m, bc); !errors.Is(err, test.err) {
				t.Errorf("got %v, want %v", err, test.err)
			}
		})
	}
}

func TestPutCharWaitsForTransmitter(t *testing.T) {
	m, b := newTestBoard(t)
	var out bytes.Buffer
	u := b.UART0
	u.SetOutput(&out)

	for _, c := range []byte("abc") {
		if err := u.PutChar(c); err != nil {
			t.Fatal(err)
		}
	}
	if m.CPU().Clock() != 2*u.ByteCycles() {
		t.Errorf("third character sent at cycle %d, want %d", m.CPU().Clock(), 2*u.ByteCycles())
	}
	if out.String() != "ab" || u.FR()&FlagBUSY == 0 {
		t.Errorf("line carries %q, flags %#x", out.String(), u.FR())
	}
	m.CPU().Spin(u.ByteCycles())
	if out.String() != "abc" || u.FR()&FlagBUSY != 0 {
		t.Errorf("line carries %q, flags %#x", out.String(), u.FR())
	}

	sink := NewRetarget(u)
	if n, err := sink.Write([]byte("xyz")); n != 3 || err != nil {
		t.Errorf("retarget wrote %d, %v", n, err)
	}
}

func TestReceiveOverrun(t *testing.T) {
	m, b := newTestBoard(t)
	u := b.UART1
	u.Inject([]byte("0123456789abcdefghij"))
	m.CPU().Spin(21 * u.ByteCycles())

	if u.Received() != 20 || u.Overruns() != 4 {
		t.Errorf("received %d, overruns %d", u.Received(), u.Overruns())
	}
	if u.FR()&FlagRXFF == 0 {
		t.Errorf("flags %#x, want RX full", u.FR())
	}
	if c, ok := u.ReadDR(); !ok || c != '0' {
		t.Errorf("first byte %q", c)
	}
}

func TestDMAEcho(t *testing.T) {
	const rxCh, txCh = 12, 9
	m, b := newTestBoard(t)
	u, dma, plic := b.UART1, b.DMA, m.PLIC()
	var out bytes.Buffer
	u.SetOutput(&out)
	u.ConnectDMA(dma, rxCh, txCh)
	dma.SetMaster(true)

	buf := make([]byte, 16)
	err := dma.Configure(rxCh, ChannelConfig{
		Count: len(buf),
		Read:  u.ReadDRAt,
		Write: func(i int, c byte) bool { buf[i] = c; return true },
	})
	if err != nil {
		t.Fatal(err)
	}
	dma.Enable(rxCh)
	if err := dma.Configure(rxCh, ChannelConfig{}); !errors.Is(err, ErrChannelBusy) {
		t.Errorf("reconfigure enabled channel: %v", err)
	}
	u.SetDMACR(DMACRRXDMAE)
	u.Inject([]byte("0123456789abcdef"))
	m.CPU().Spin(17 * u.ByteCycles())

	if string(buf) != "0123456789abcdef" {
		t.Errorf("received %q", buf)
	}
	if dma.Enabled(rxCh) || dma.Remaining(rxCh) != 0 || dma.IRQStat() != 1<<rxCh {
		t.Errorf("rx channel enabled %v remaining %d irqstat %#x", dma.Enabled(rxCh), dma.Remaining(rxCh), dma.IRQStat())
	}
	if !plic.IsPending(dma.Source(rxCh)) {
		t.Error("rx completion not raised")
	}
	dma.ClearIRQ(1 << rxCh)

	dma.Configure(txCh, ChannelConfig{
		Count: len(buf),
		Read:  func(i int) (byte, bool) { return buf[i], true },
		Write: u.WriteDRAt,
	})
	dma.Enable(txCh)
	u.SetDMACR(DMACRTXDMAE)
	if dma.IRQStat() != 1<<txCh || !plic.IsPending(dma.Source(txCh)) {
		t.Errorf("tx did not complete into the fifo, irqstat %#x", dma.IRQStat())
	}
	m.CPU().Spin(17 * u.ByteCycles())
	if out.String() != "0123456789abcdef" || u.Sent() != 16 {
		t.Errorf("transmitted %q", out.String())
	}
}

func TestDMARequestIgnoredWhenDisabled(t *testing.T) {
	_, b := newTestBoard(t)
	dma := b.DMA
	moved := 0
	dma.Configure(3, ChannelConfig{
		Count: 4,
		Read:  func(int) (byte, bool) { return 1, true },
		Write: func(int, byte) bool { moved++; return true },
	})
	if dma.Request(3) {
		t.Error("request moved data with the controller and channel off")
	}
	dma.SetMaster(true)
	if dma.Request(3) {
		t.Error("request moved data with the channel off")
	}
	dma.Enable(3)
	if !dma.Request(3) || moved != 1 || dma.Remaining(3) != 3 {
		t.Errorf("moved %d, remaining %d", moved, dma.Remaining(3))
	}
	if err := dma.Enable(99); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("got %v", err)
	}
}

func TestTMR32(t *testing.T) {
	m, b := newTestBoard(t)
	tmr := b.TMR32
	if err := tmr.Start(0); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("got %v", err)
	}

	tmr.SetIM(TMR32Capcom0)
	tmr.Start(1000)
	m.CPU().Spin(2500)
	if tmr.Matches() != 2 || tmr.IC()&TMR32Capcom0 == 0 {
		t.Errorf("matches %d flags %#x", tmr.Matches(), tmr.IC())
	}
	if !m.PLIC().IsPending(tmr.Source()) {
		t.Error("match not raised")
	}
	tmr.ClearIC(TMR32Capcom0 | TMR32Overflow)
	if tmr.IC() != 0 {
		t.Errorf("flags %#x after clear", tmr.IC())
	}

	tmr.Stop()
	m.CPU().Spin(5000)
	if tmr.Matches() != 2 || tmr.Running() {
		t.Errorf("stopped timer matched %d times", tmr.Matches())
	}
}

func TestGPIO(t *testing.T) {
	_, b := newTestBoard(t)
	g := b.GPIOA
	var changes int
	g.Watch(func(prev, cur uint16) { changes++ })

	g.DataOutSet(LEDsMask)
	if g.Pins() != 0 || changes != 0 {
		t.Errorf("pins %#x with outputs disabled", g.Pins())
	}
	g.OutEnSet(LEDsMask)
	g.DataOutTgl(LED0)
	g.DataOutClr(LED7)
	if g.Pins() != 0x7e00 || changes != 2 || g.Toggles() != 1 {
		t.Errorf("pins %#x changes %d toggles %d", g.Pins(), changes, g.Toggles())
	}
}

func TestUID(t *testing.T) {
	_, a := newTestBoard(t)
	_, b := newTestBoard(t)
	if a.UID() != b.UID() || a.UID()[0] == 0 {
		t.Errorf("uid %x", a.UID())
	}
}
