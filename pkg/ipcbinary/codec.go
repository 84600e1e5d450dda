package ipcbinary

import "encoding/binary"

const (
	msgHdrLen = 10
	argHdrLen = 6

	maxWireLen = 1<<32 - 1
)

// PollMessage drains zero or one complete message from the channel's input
// buffer. It returns:
//
//   - (msg, nil) if a complete, valid message was parsed and consumed;
//   - (nil, ErrNotReady) if the buffer does not yet hold a complete frame —
//     this is not an error and never mutates the buffer;
//   - (nil, *ProtocolError) if the available bytes form an invalid frame,
//     which poisons the channel (see Channel.Poisoned).
//
// PollMessage never panics on adversarial input; only programmer errors in
// protocol/message construction panic.
func PollMessage(c *Channel) (*Message, error) {
	if c.poisoned {
		return nil, ErrPoisoned
	}

	buf := c.in.readable()
	if len(buf) < msgHdrLen {
		return nil, ErrNotReady
	}

	magic := binary.BigEndian.Uint16(buf[0:2])
	if magic != c.proto.magic {
		c.poisoned = true
		return nil, &ProtocolError{Kind: InvalidMagic}
	}

	cmdID := binary.BigEndian.Uint16(buf[2:4])
	cmd := c.proto.command(cmdID)
	if cmd == nil {
		c.poisoned = true
		return nil, &ProtocolError{Kind: InvalidCommand}
	}

	length := binary.BigEndian.Uint32(buf[4:8])
	if int64(length) > int64(len(buf)) {
		return nil, ErrNotReady
	}
	if length < msgHdrLen {
		c.poisoned = true
		return nil, &ProtocolError{Kind: InvalidCommand}
	}

	nArgs := binary.BigEndian.Uint16(buf[8:10])

	frame := buf[:length]
	p := frame[msgHdrLen:]

	msg := &Message{
		proto: c.proto,
		cmdID: cmdID,
		cmd:   cmd,
		args:  make(map[uint16]arg, len(cmd.args)),
	}

	for i := uint16(0); i < nArgs; i++ {
		if len(p) < argHdrLen {
			c.poisoned = true
			return nil, &ProtocolError{Kind: InvalidOrDuplicateArg}
		}
		argLen := binary.BigEndian.Uint32(p[0:4])
		argID := binary.BigEndian.Uint16(p[4:6])
		p = p[argHdrLen:]

		if int64(argLen) > int64(len(p)) {
			c.poisoned = true
			return nil, &ProtocolError{Kind: InvalidOrDuplicateArg}
		}

		flags, declared := cmd.args[argID]
		if argID == 0 || !declared {
			c.poisoned = true
			return nil, &ProtocolError{Kind: InvalidOrDuplicateArg}
		}
		if _, set := msg.args[argID]; set {
			c.poisoned = true
			return nil, &ProtocolError{Kind: InvalidOrDuplicateArg}
		}

		raw := p[:argLen]
		var data []byte
		if flags&String != 0 {
			data = make([]byte, argLen+1)
			copy(data, raw)
			// data[argLen] left as the implicit NUL terminator
		} else {
			data = make([]byte, argLen)
			copy(data, raw)
		}
		msg.args[argID] = arg{present: true, len: int(argLen), data: data}

		p = p[argLen:]
	}

	if !msg.complete() {
		c.poisoned = true
		return nil, &ProtocolError{Kind: MissingMandatoryArg}
	}

	c.in.consumeHead(int(length))
	return msg, nil
}

// QueueMessage serializes msg onto the channel's output buffer and
// discards msg, which must not be used again afterwards. It panics if msg
// is missing a non-Optional declared argument, matching the g_assert in
// ipc_binary_queue_message — building an incomplete message is a
// programmer error, not a wire-input condition.
func QueueMessage(c *Channel, msg *Message) {
	if !msg.complete() {
		panic("ipcbinary: queued message is missing a mandatory argument")
	}

	ids := msg.cmd.argIDs()

	var nArgs int
	msgLen := int64(msgHdrLen)
	for _, id := range ids {
		a, ok := msg.args[id]
		if !ok || !a.present {
			continue
		}
		nArgs++
		msgLen += int64(argHdrLen) + int64(a.len)
	}
	if msgLen > maxWireLen {
		panic("ipcbinary: message length exceeds wire limit")
	}

	tail := c.out.writableTail(int(msgLen))

	binary.BigEndian.PutUint16(tail[0:2], c.proto.magic)
	binary.BigEndian.PutUint16(tail[2:4], msg.cmdID)
	binary.BigEndian.PutUint32(tail[4:8], uint32(msgLen))
	binary.BigEndian.PutUint16(tail[8:10], uint16(nArgs))

	p := tail[msgHdrLen:]
	for _, id := range ids {
		a, ok := msg.args[id]
		if !ok || !a.present {
			continue
		}
		binary.BigEndian.PutUint32(p[0:4], uint32(a.len))
		binary.BigEndian.PutUint16(p[4:6], id)
		copy(p[argHdrLen:], a.data[:a.len])
		p = p[argHdrLen+a.len:]
	}

	c.out.commitTail(int(msgLen))
}
