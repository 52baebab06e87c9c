package radix

import "net"

// frameBuffer is a growable read buffer with start/end cursors, letting the
// codec re-parse from the unconsumed window after every socket read without
// ever blocking mid-frame. Grounded on the same start/end/grow-on-full
// cursor discipline a RESP command reader uses on the server side.
type frameBuffer struct {
	buf        []byte
	start, end int
}

func newFrameBuffer() *frameBuffer {
	return &frameBuffer{buf: make([]byte, 4096)}
}

// bytes returns the unconsumed window; it is only valid until the next
// consume or fill call.
func (f *frameBuffer) bytes() []byte {
	return f.buf[f.start:f.end]
}

// consume advances past n bytes of the unconsumed window, i.e. a value
// Decode reported as consumed.
func (f *frameBuffer) consume(n int) {
	f.start += n
}

// fill reads more bytes from nc, growing or rewinding the buffer first if
// it is full.
func (f *frameBuffer) fill(nc net.Conn) (int, error) {
	if f.end == len(f.buf) {
		if f.start == f.end {
			f.start, f.end = 0, 0
		} else {
			nb := make([]byte, len(f.buf)*2+4096)
			copy(nb, f.buf[f.start:f.end])
			f.end -= f.start
			f.start = 0
			f.buf = nb
		}
	}
	n, err := nc.Read(f.buf[f.end:])
	f.end += n
	return n, err
}
