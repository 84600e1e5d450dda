package ndmpproxy

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/amanda-backup/ndmp-ipc/pkg/ipcbinary"
	"github.com/rs/zerolog"
)

func TestServerListenAndServe(t *testing.T) {
	s := NewServer(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ap, errch, err := s.Run(ctx, "127.0.0.1:0", 4)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	conn, err := net.DialTimeout("tcp", ap.String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	proto := Protocol()
	ch := ipcbinary.NewChannel(proto)
	msg := ipcbinary.NewMessage(proto, CmdSelectService)
	msg.SetArgString(ArgService, ServiceApplication)
	if err := ipcbinary.WriteMessage(ch, conn, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	reply, err := ipcbinary.ReadMessage(ch, conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply == nil {
		t.Fatal("read: clean EOF, expected a reply")
	}
	if _, ok := reply.Arg(ArgErrCode); ok {
		t.Fatal("unexpected errcode in reply")
	}

	cancel()
	if err := <-errch; err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

// TestServerListenRebindsImmediately checks that a second Server can bind
// the same port right after the first releases it, exercising
// reuseAddrListenConfig's SO_REUSEADDR setup.
func TestServerListenRebindsImmediately(t *testing.T) {
	s1 := NewServer(zerolog.Nop())
	ap, err := s1.Listen("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := NewServer(zerolog.Nop())
	if _, err := s2.Listen(ap.String(), 0); err != nil {
		t.Fatalf("rebind Listen: %v", err)
	}
	defer s2.Close()
}

func TestServerMetricsCoverAllFields(t *testing.T) {
	s := NewServer(zerolog.Nop())
	var buf bytes.Buffer
	s.WritePrometheus(&buf) // forces m(), which panics on any unwired field
	if buf.Len() == 0 {
		t.Fatal("expected non-empty prometheus output")
	}
}
