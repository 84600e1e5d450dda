package ipcbinary

// buffer is a growable byte region holding a single contiguous run of valid
// data at buf[off : off+len(data)]. It is the Go translation of the
// ipc_binary_buf_t and expand_buffer/add_to_buffer/consume_from_buffer
// helpers in the original ipc-binary.c: a channel owns one for its incoming
// data and one for its outgoing data.
type buffer struct {
	buf []byte
	off int
}

// readable returns the currently valid bytes. The returned slice aliases the
// buffer and is only valid until the next mutating call.
func (b *buffer) readable() []byte {
	return b.buf[b.off:]
}

// len returns the number of valid bytes.
func (b *buffer) len() int {
	return len(b.buf) - b.off
}

// grow ensures there is room for n more bytes at the tail, shifting the
// valid region back to offset 0 first if that alone makes enough room,
// otherwise reallocating. An empty buffer never forces an allocation until
// this is called.
func (b *buffer) grow(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	if b.off > 0 && cap(b.buf)-b.len() >= n {
		copy(b.buf[:b.len()], b.buf[b.off:])
		b.buf = b.buf[:b.len()]
		b.off = 0
		return
	}
	nb := make([]byte, b.len(), b.off+b.len()+n)
	copy(nb, b.buf[b.off:])
	b.buf = nb
	b.off = 0
}

// append adds data to the tail of the buffer.
func (b *buffer) append(data []byte) {
	b.grow(len(data))
	b.buf = append(b.buf, data...)
}

// writableTail ensures at least n bytes of spare capacity after the valid
// region and returns a slice over that spare capacity, for callers (such as
// the synchronous read adapter) that want to read directly into the buffer
// instead of copying through append.
func (b *buffer) writableTail(n int) []byte {
	b.grow(n)
	return b.buf[len(b.buf) : len(b.buf)+n : len(b.buf)+n]
}

// commitTail records that n bytes of a previously requested writableTail
// slice were filled in and are now valid.
func (b *buffer) commitTail(n int) {
	b.buf = b.buf[:len(b.buf)+n]
}

// consumeHead drops n bytes from the head of the valid region. It is a
// programmer error to consume more than is available.
func (b *buffer) consumeHead(n int) {
	if n > b.len() {
		panic("ipcbinary: consumeHead past end of buffer")
	}
	b.off += n
	if b.len() == 0 {
		b.buf = b.buf[:0]
		b.off = 0
	}
}
