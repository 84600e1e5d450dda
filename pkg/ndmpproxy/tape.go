package ndmpproxy

import (
	"fmt"
	"strconv"
	"sync"
)

// TapeOpenRequest carries the arguments of a TAPE_OPEN command, grounded on
// ndma_comm_proxy.c's use of msg->args[NDMP_PROXY_FILENAME/HOST/PORT/...].
type TapeOpenRequest struct {
	Filename string
	Mode     string
	Host     string
	Port     string
	Username string
	Password string
}

// TapeError pairs an NDMP9 error code with its human-readable string, the Go
// equivalent of the original's (errcode, errstr) pair threaded through
// ndma_comm_proxy.c's close_chan/reply paths.
type TapeError struct {
	Code string
	Text string
}

func (e *TapeError) Error() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Code
}

// TapeBackend abstracts the NDMP tape agent connection that a DEVICE slot
// drives. The real transport (connecting to a tape agent over NDMP,
// negotiating NDMP9_TAPE_OPEN/NDMP9_TAPE_MTIO/etc.) is out of scope; callers
// supply an implementation, and tests use the in-memory NewMemBackend.
type TapeBackend interface {
	// Open establishes the underlying tape connection and opens the device.
	// A non-nil *TapeError is returned on failure; other error types
	// indicate an implementation bug.
	Open(req TapeOpenRequest) *TapeError

	// Close tears down the tape connection. It is safe to call even if Open
	// was never called or already failed.
	Close()

	// MTIO issues a tape-motion command ("REWIND" or "EOF").
	MTIO(command string, count int64) *TapeError

	// Write appends data to the tape.
	Write(data []byte) *TapeError

	// Read reads up to count bytes from the tape. A short (even zero-length)
	// read with a nil error is valid at end of medium.
	Read(count int64) ([]byte, *TapeError)
}

// MemBackend is an in-memory reference TapeBackend, standing in for a real
// connection to an NDMP tape agent. It behaves like a single unbounded byte
// tape: WRITE appends at the current position, READ consumes forward from
// it, and MTIO REWIND resets the position to zero (MTIO EOF truncates the
// tape at the current position).
type MemBackend struct {
	mu     sync.Mutex
	opened bool
	data   []byte
	pos    int64
}

// NewMemBackend returns a ready-to-use in-memory tape backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{}
}

func (m *MemBackend) Open(req TapeOpenRequest) *TapeError {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Filename == "" {
		return &TapeError{Code: ErrIllegalArgs, Text: "missing tape filename"}
	}
	m.opened = true
	m.data = m.data[:0]
	m.pos = 0
	return nil
}

func (m *MemBackend) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
}

func (m *MemBackend) MTIO(command string, count int64) *TapeError {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opened {
		return &TapeError{Code: ErrNoDeviceErr, Text: "device not open"}
	}
	switch command {
	case MTIORewind:
		m.pos = 0
	case MTIOEOF:
		if m.pos < int64(len(m.data)) {
			m.data = m.data[:m.pos]
		}
	default:
		// an unrecognized MTIO command is a client protocol error, not a
		// backend limitation: the original reads an uninitialized errcode
		// here, a bug corrected by reporting NDMP9_ILLEGAL_ARGS_ERR instead.
		return &TapeError{Code: ErrIllegalArgs, Text: fmt.Sprintf("unsupported mtio command %q", command)}
	}
	return nil
}

func (m *MemBackend) Write(data []byte) *TapeError {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opened {
		return &TapeError{Code: ErrNoDeviceErr, Text: "device not open"}
	}
	if m.pos < int64(len(m.data)) {
		m.data = m.data[:m.pos]
	}
	m.data = append(m.data, data...)
	m.pos += int64(len(data))
	return nil
}

func (m *MemBackend) Read(count int64) ([]byte, *TapeError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opened {
		return nil, &TapeError{Code: ErrNoDeviceErr, Text: "device not open"}
	}
	if count < 0 {
		return nil, &TapeError{Code: ErrIllegalArgs, Text: "negative read count"}
	}
	avail := int64(len(m.data)) - m.pos
	if avail < 0 {
		avail = 0
	}
	if count > avail {
		count = avail
	}
	buf := append([]byte(nil), m.data[m.pos:m.pos+count]...)
	m.pos += count
	return buf, nil
}

// parseCount parses the string-encoded counts used by TAPE_MTIO/TAPE_READ,
// matching the original's strtol(..., NULL, 10) calls.
func parseCount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", s, err)
	}
	return n, nil
}
