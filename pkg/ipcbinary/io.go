package ipcbinary

import (
	"errors"
	"io"
)

// readQuantum is the minimum chunk requested from the reader on each
// underlying Read call, matching the original's 32KiB expand_buffer/read
// pairing in ipc_binary_read_message.
const readQuantum = 32 * 1024

// ErrTruncated is returned by ReadMessage when the peer closes the
// connection with unconsumed, incomplete bytes still buffered — the Go
// equivalent of the original's EIO-on-EOF-with-leftover-bytes behavior.
var ErrTruncated = errors.New("ipcbinary: connection closed with a partial message")

// ReadMessage blocks on r, reading and buffering data until PollMessage
// yields a complete message, returning (nil, nil) on a clean EOF with no
// leftover bytes. It generalizes the original's file-descriptor-based
// ipc_binary_read_message to any io.Reader (a net.Conn, os.File, or pipe
// alike), the idiomatic Go translation of "file-descriptor-based API".
func ReadMessage(c *Channel, r io.Reader) (*Message, error) {
	for {
		msg, err := PollMessage(c)
		switch {
		case err == nil:
			return msg, nil
		case errors.Is(err, ErrNotReady):
			// fall through to read more
		default:
			return nil, err
		}

		tail := c.in.writableTail(readQuantum)
		n, err := r.Read(tail)
		if n > 0 {
			c.in.commitTail(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if c.in.len() > 0 {
					return nil, ErrTruncated
				}
				return nil, nil
			}
			return nil, err
		}
	}
}

// WriteMessage queues msg (consuming it, per QueueMessage) and then drains
// the channel's output buffer to w, blocking until every queued byte has
// been written or an error occurs, mirroring the original's full_write-based
// ipc_binary_write_message. After a partial write the remainder is written
// again; a write that makes no progress and reports no error returns
// io.ErrShortWrite.
func WriteMessage(c *Channel, w io.Writer, msg *Message) error {
	QueueMessage(c, msg)

	for c.out.len() > 0 {
		n, err := w.Write(c.out.readable())
		if n > 0 {
			c.out.consumeHead(n)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}
