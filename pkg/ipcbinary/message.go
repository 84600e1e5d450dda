package ipcbinary

// arg holds one argument's on-the-wire length and bytes. A nil data with
// present==false means the argument was not set, distinct from a
// zero-length present argument.
type arg struct {
	present bool
	len     int
	data    []byte
}

// Message is an in-memory assembly of a command id plus its arguments. It
// is either built by the caller for sending (NewMessage + SetArg /
// SetArgTaken) or produced by PollMessage for a received frame.
//
// The original C API modeled argument ownership with a take_memory bool on
// a single ipc_binary_add_arg call. Per the redesign notes in spec.md §9,
// that is replaced here by two explicit builder methods: SetArg always
// copies the caller's bytes, while SetArgTaken takes ownership of the
// slice outright (the caller must not modify it afterwards). Since Go is
// garbage collected there is no explicit Free; a Message simply becomes
// unreachable once queued or dropped.
type Message struct {
	proto *Protocol
	cmdID uint16
	cmd   *Command
	args  map[uint16]arg
}

// NewMessage creates a blank message for cmdID on proto, ready to have
// arguments attached before being queued on a channel. It panics if cmdID
// is not declared in proto, mirroring the g_assert checks in
// ipc_binary_new_message.
func NewMessage(proto *Protocol, cmdID uint16) *Message {
	cmd := proto.command(cmdID)
	if cmd == nil {
		panic("ipcbinary: undeclared command id")
	}
	return &Message{
		proto: proto,
		cmdID: cmdID,
		cmd:   cmd,
		args:  make(map[uint16]arg, len(cmd.args)),
	}
}

// CmdID returns the message's command id.
func (m *Message) CmdID() uint16 {
	return m.cmdID
}

func (m *Message) setArg(id uint16, data []byte) {
	if _, ok := m.cmd.args[id]; !ok {
		panic("ipcbinary: undeclared argument id")
	}
	if _, set := m.args[id]; set {
		panic("ipcbinary: argument already set")
	}
	m.args[id] = arg{present: true, len: len(data), data: data}
}

// SetArg declares arg id present with a copy of data.
func (m *Message) SetArg(id uint16, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.setArg(id, cp)
}

// SetArgString is a convenience wrapper for String-flagged arguments.
func (m *Message) SetArgString(id uint16, s string) {
	m.SetArg(id, []byte(s))
}

// SetArgTaken declares arg id present, taking ownership of data. The
// caller must not modify data after this call.
func (m *Message) SetArgTaken(id uint16, data []byte) {
	m.setArg(id, data)
}

// Arg returns the bytes for arg id and whether it was present. For
// String-flagged arguments, the returned slice has the stored length, which
// excludes the convenience trailing NUL; the NUL sits just past the end of
// the slice, within its capacity.
func (m *Message) Arg(id uint16) (data []byte, ok bool) {
	a, set := m.args[id]
	if !set {
		return nil, false
	}
	return a.data[:a.len], true
}

// ArgString is a convenience wrapper returning the argument as a string.
func (m *Message) ArgString(id uint16) (string, bool) {
	d, ok := m.Arg(id)
	if !ok {
		return "", false
	}
	return string(d), true
}

// complete reports whether every non-Optional declared argument slot is
// present, per the all_args_present check in the original source.
func (m *Message) complete() bool {
	for id, flags := range m.cmd.args {
		if flags&Optional != 0 {
			continue
		}
		if a, ok := m.args[id]; !ok || !a.present {
			return false
		}
	}
	return true
}
