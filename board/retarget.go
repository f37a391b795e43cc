package board

// Retarget is the character sink behind the logger. Every byte is written
// with PutChar, busy-waiting on the transmitter like the firmware's
// __io_putchar.
type Retarget struct {
	uart *UART
}

func NewRetarget(u *UART) *Retarget {
	return &Retarget{uart: u}
}

func (r *Retarget) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := r.uart.PutChar(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}
