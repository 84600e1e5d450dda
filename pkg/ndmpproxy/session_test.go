package ndmpproxy

import (
	"net"
	"testing"

	"github.com/amanda-backup/ndmp-ipc/pkg/ipcbinary"
	"github.com/rs/zerolog"
)

// send writes msg to conn using a throwaway channel, mirroring how a client
// would talk to the proxy.
func send(t *testing.T, conn net.Conn, cmd uint16, set func(*ipcbinary.Message)) {
	t.Helper()
	proto := Protocol()
	ch := ipcbinary.NewChannel(proto)
	msg := ipcbinary.NewMessage(proto, cmd)
	if set != nil {
		set(msg)
	}
	if err := ipcbinary.WriteMessage(ch, conn, msg); err != nil {
		t.Fatalf("write %d: %v", cmd, err)
	}
}

func recv(t *testing.T, conn net.Conn) *ipcbinary.Message {
	t.Helper()
	ch := ipcbinary.NewChannel(Protocol())
	msg, err := ipcbinary.ReadMessage(ch, conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg == nil {
		t.Fatal("read: clean EOF, expected a message")
	}
	return msg
}

func assertNoError(t *testing.T, msg *ipcbinary.Message) {
	t.Helper()
	if _, ok := msg.Arg(ArgErrCode); ok {
		t.Fatalf("unexpected errcode in reply")
	}
	if _, ok := msg.Arg(ArgError); ok {
		t.Fatalf("unexpected error in reply")
	}
}

// TestHappyPathDeviceRewind exercises a SELECT_SERVICE(DEVICE) then
// TAPE_MTIO(REWIND) sequence and checks both replies carry no error args.
func TestHappyPathDeviceRewind(t *testing.T) {
	s := NewSession()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		HandleConn(s, zerolog.Nop(), server)
	}()

	send(t, client, CmdSelectService, func(m *ipcbinary.Message) {
		m.SetArgString(ArgService, ServiceDevice)
	})
	reply := recv(t, client)
	if reply.CmdID() != CmdReplyGeneric {
		t.Fatalf("cmd = %d, want CmdReplyGeneric", reply.CmdID())
	}
	assertNoError(t, reply)

	send(t, client, CmdTapeMTIO, func(m *ipcbinary.Message) {
		m.SetArgString(ArgCommand, MTIORewind)
		m.SetArgString(ArgCount, "1")
	})
	reply = recv(t, client)
	if reply.CmdID() != CmdReplyGeneric {
		t.Fatalf("cmd = %d, want CmdReplyGeneric", reply.CmdID())
	}
	assertNoError(t, reply)

	client.Close()
	<-done
}

// TestSelectServiceBusy checks that a second SELECT_SERVICE for a slot
// already held by another connection is rejected with DEVICE_BUSY and the
// transport is closed.
func TestSelectServiceBusy(t *testing.T) {
	s := NewSession()

	client1, server1 := net.Pipe()
	defer client1.Close()
	go HandleConn(s, zerolog.Nop(), server1)

	send(t, client1, CmdSelectService, func(m *ipcbinary.Message) {
		m.SetArgString(ArgService, ServiceDevice)
	})
	reply := recv(t, client1)
	assertNoError(t, reply)

	client2, server2 := net.Pipe()
	defer client2.Close()
	done2 := make(chan struct{})
	go func() {
		defer close(done2)
		HandleConn(s, zerolog.Nop(), server2)
	}()

	send(t, client2, CmdSelectService, func(m *ipcbinary.Message) {
		m.SetArgString(ArgService, ServiceDevice)
	})
	reply = recv(t, client2)
	if reply.CmdID() != CmdReplyGeneric {
		t.Fatalf("cmd = %d, want CmdReplyGeneric", reply.CmdID())
	}
	errcode, ok := reply.ArgString(ArgErrCode)
	if !ok || errcode != ErrDeviceBusy {
		t.Fatalf("errcode = %q, ok=%v, want %q", errcode, ok, ErrDeviceBusy)
	}
	errstr, ok := reply.ArgString(ArgError)
	if !ok || errstr != ErrDeviceBusy {
		t.Fatalf("error = %q, ok=%v, want %q", errstr, ok, ErrDeviceBusy)
	}

	<-done2 // HandleConn closes the connection after the busy reply
}

// TestSelectServiceIllegal checks that an unrecognized service name is
// rejected with ILLEGAL_ARGS and the transport is closed.
func TestSelectServiceIllegal(t *testing.T) {
	s := NewSession()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		HandleConn(s, zerolog.Nop(), server)
	}()

	send(t, client, CmdSelectService, func(m *ipcbinary.Message) {
		m.SetArgString(ArgService, "BOGUS")
	})
	reply := recv(t, client)
	errcode, ok := reply.ArgString(ArgErrCode)
	if !ok || errcode != ErrIllegalArgs {
		t.Fatalf("errcode = %q, ok=%v, want %q", errcode, ok, ErrIllegalArgs)
	}

	<-done
}

// TestDeviceOpenWriteRead exercises TAPE_OPEN, TAPE_WRITE, and TAPE_READ
// against the in-memory backend, checking data round-trips.
func TestDeviceOpenWriteRead(t *testing.T) {
	s := NewSession()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		HandleConn(s, zerolog.Nop(), server)
	}()

	send(t, client, CmdSelectService, func(m *ipcbinary.Message) {
		m.SetArgString(ArgService, ServiceDevice)
	})
	assertNoError(t, recv(t, client))

	send(t, client, CmdTapeOpen, func(m *ipcbinary.Message) {
		m.SetArgString(ArgFilename, "/dev/null")
		m.SetArgString(ArgMode, "rw")
		m.SetArgString(ArgHost, "localhost")
		m.SetArgString(ArgPort, "10000")
		m.SetArgString(ArgUsername, "user")
		m.SetArgString(ArgPassword, "pass")
	})
	assertNoError(t, recv(t, client))

	send(t, client, CmdTapeWrite, func(m *ipcbinary.Message) {
		m.SetArgTaken(ArgData, []byte("hello tape"))
	})
	assertNoError(t, recv(t, client))

	send(t, client, CmdTapeMTIO, func(m *ipcbinary.Message) {
		m.SetArgString(ArgCommand, MTIORewind)
		m.SetArgString(ArgCount, "0")
	})
	assertNoError(t, recv(t, client))

	send(t, client, CmdTapeRead, func(m *ipcbinary.Message) {
		m.SetArgString(ArgCount, "10")
	})
	reply := recv(t, client)
	if reply.CmdID() != CmdReplyTapeRead {
		t.Fatalf("cmd = %d, want CmdReplyTapeRead", reply.CmdID())
	}
	data, ok := reply.Arg(ArgData)
	if !ok || string(data) != "hello tape" {
		t.Fatalf("data = %q, ok=%v, want %q", data, ok, "hello tape")
	}

	client.Close()
	<-done
}

// TestDeviceMTIOUnsupportedCommand checks that an MTIO command other than
// REWIND/EOF yields a proper error reply rather than undefined behavior.
func TestDeviceMTIOUnsupportedCommand(t *testing.T) {
	s := NewSession()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		HandleConn(s, zerolog.Nop(), server)
	}()

	send(t, client, CmdSelectService, func(m *ipcbinary.Message) {
		m.SetArgString(ArgService, ServiceDevice)
	})
	assertNoError(t, recv(t, client))

	send(t, client, CmdTapeOpen, func(m *ipcbinary.Message) {
		m.SetArgString(ArgFilename, "/dev/null")
		m.SetArgString(ArgMode, "rw")
		m.SetArgString(ArgHost, "")
		m.SetArgString(ArgPort, "")
		m.SetArgString(ArgUsername, "")
		m.SetArgString(ArgPassword, "")
	})
	assertNoError(t, recv(t, client))

	send(t, client, CmdTapeMTIO, func(m *ipcbinary.Message) {
		m.SetArgString(ArgCommand, "BOGUS")
		m.SetArgString(ArgCount, "0")
	})
	reply := recv(t, client)
	errcode, ok := reply.ArgString(ArgErrCode)
	if !ok || errcode != ErrIllegalArgs {
		t.Fatalf("errcode = %q, ok=%v, want %q", errcode, ok, ErrIllegalArgs)
	}

	client.Close()
	<-done
}
