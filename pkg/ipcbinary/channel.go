package ipcbinary

// Channel pairs an input and output buffer with a reference to the
// protocol in use for one peer connection. A Channel is not safe for
// concurrent use: all parsing and serialization is channel-local and
// callers must provide their own synchronization if a channel is shared
// across goroutines (which is discouraged — create one Channel per
// connection instead).
type Channel struct {
	proto *Protocol
	in    buffer
	out   buffer

	poisoned bool
}

// NewChannel creates a new channel ready to send and receive messages
// using proto. The protocol may be shared by reference across many
// channels.
func NewChannel(proto *Protocol) *Channel {
	return &Channel{proto: proto}
}

// Protocol returns the channel's protocol table.
func (c *Channel) Protocol() *Protocol {
	return c.proto
}

// Poisoned reports whether this channel has observed a ProtocolError and
// must be discarded.
func (c *Channel) Poisoned() bool {
	return c.poisoned
}

// Feed appends raw bytes received from the peer to the channel's input
// buffer. Used by the asynchronous, buffer-driven API; callers of the
// synchronous adapters in io.go never need this directly.
func (c *Channel) Feed(data []byte) {
	c.in.append(data)
}

// Transmitted drops n bytes from the head of the output buffer, signaling
// that they have been written to the peer. Used by the asynchronous API
// after a non-blocking write succeeds.
func (c *Channel) Transmitted(n int) {
	c.out.consumeHead(n)
}

// Outgoing returns the bytes currently queued for transmission. The
// returned slice aliases the channel's buffer and is only valid until the
// next mutating call.
func (c *Channel) Outgoing() []byte {
	return c.out.readable()
}
