package ringbuffer

import "errors"

var (
	ErrEmpty = errors.New("buffer is empty")
	ErrFull  = errors.New("buffer is full")
)

const defaultBufferSz = 256

// RingBuffer is a fixed size byte FIFO. It is not safe for concurrent use.
type RingBuffer struct {
	buffer []byte
	begin  int
	n      int
}

func New(sz int) *RingBuffer {
	if sz <= 0 {
		sz = defaultBufferSz
	}
	return &RingBuffer{
		buffer: make([]byte, sz),
	}
}

// Read drains up to len(p) bytes. It returns ErrEmpty only when nothing
// could be read.
func (r *RingBuffer) Read(p []byte) (n int, err error) {
	if r.n == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, ErrEmpty
	}
	for n < len(p) && r.n > 0 {
		// Copy the contiguous run at begin
		end := r.begin + r.n
		if end > len(r.buffer) {
			end = len(r.buffer)
		}
		c := copy(p[n:], r.buffer[r.begin:end])
		r.begin = (r.begin + c) % len(r.buffer)
		r.n -= c
		n += c
	}
	return n, nil
}

// Write stores as much of p as fits. A short write returns ErrFull.
func (r *RingBuffer) Write(p []byte) (n int, err error) {
	for n < len(p) && r.n < len(r.buffer) {
		end := (r.begin + r.n) % len(r.buffer)
		limit := len(r.buffer)
		if end < r.begin {
			limit = r.begin
		}
		c := copy(r.buffer[end:limit], p[n:])
		r.n += c
		n += c
	}
	if n < len(p) {
		return n, ErrFull
	}
	return n, nil
}

func (r *RingBuffer) WriteString(str string) (n int, err error) {
	for i := 0; i < len(str); i++ {
		if err = r.WriteByte(str[i]); err != nil {
			return n, err
		}
		n++
	}
	return
}

func (r *RingBuffer) ReadByte() (byte, error) {
	if r.n == 0 {
		return 0, ErrEmpty
	}
	b := r.buffer[r.begin]
	r.begin = (r.begin + 1) % len(r.buffer)
	r.n--
	return b, nil
}

func (r *RingBuffer) WriteByte(b byte) error {
	if r.n == len(r.buffer) {
		return ErrFull
	}
	r.buffer[(r.begin+r.n)%len(r.buffer)] = b
	r.n++
	return nil
}

func (r *RingBuffer) Len() int {
	return r.n
}

func (r *RingBuffer) Cap() int {
	return len(r.buffer)
}

// Free is the number of bytes that can be written before the buffer fills.
func (r *RingBuffer) Free() int {
	return len(r.buffer) - r.n
}

func (r *RingBuffer) Full() bool {
	return r.n == len(r.buffer)
}

func (r *RingBuffer) Reset() {
	r.begin, r.n = 0, 0
}
