package targets

import (
	"errors"
	"testing"
)

func TestFindByChip(t *testing.T) {
	tests := []struct {
		chip   string
		series string
		err    error
	}{
		{"k1921vg015", "k1921vg015", nil},
		{"K1921VG015", "k1921vg015", nil},
		{"rvsim", "sim", nil},
		{"stm32f4", "", ErrTargetNotFound},
	}
	for _, test := range tests {
		t.Run(test.chip, func(t *testing.T) {
			target, err := All().FindByChip(test.chip)
			if !errors.Is(err, test.err) || target.Series != test.series {
				t.Errorf("got %q, %v; want %q, %v", target.Series, err, test.series, test.err)
			}
		})
	}
}

func TestK1921VG015(t *testing.T) {
	target, err := All().FindBySeries("K1921VG015")
	if err != nil {
		t.Fatal(err)
	}
	if target.ISA() != "rv32imfc" {
		t.Errorf("isa %s", target.ISA())
	}

	// TX and RX channels of the UART1 echo
	for channel, want := range map[int]int{9: 10, 12: 11} {
		src, err := target.DMAIRQ(channel)
		if err != nil || src != want {
			t.Errorf("dma channel %d: got %d, %v; want %d", channel, src, err, want)
		}
	}
	if _, err := target.DMAIRQ(24); !errors.Is(err, ErrInterruptNotFound) {
		t.Errorf("channel out of range: %v", err)
	}
	if _, err := target.IRQ("usb"); !errors.Is(err, ErrInterruptNotFound) {
		t.Errorf("unknown source: %v", err)
	}

	names := target.InterruptNames()
	if len(names) != len(target.Interrupts) || names[0] != "wdt" || names[len(names)-1] != "adc" {
		t.Errorf("interrupt names %v", names)
	}
	for _, src := range target.Interrupts {
		if src <= 0 || src >= target.NumSources {
			t.Errorf("source %d outside the controller", src)
		}
	}
}
