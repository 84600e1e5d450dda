package ndmpproxy

import "testing"

func TestMemBackendWriteReadRewind(t *testing.T) {
	b := NewMemBackend()
	if terr := b.Open(TapeOpenRequest{Filename: "/dev/null"}); terr != nil {
		t.Fatalf("Open: %v", terr)
	}
	defer b.Close()

	if terr := b.Write([]byte("abcdef")); terr != nil {
		t.Fatalf("Write: %v", terr)
	}

	data, terr := b.Read(3)
	if terr != nil {
		t.Fatalf("Read: %v", terr)
	}
	if len(data) != 0 {
		t.Fatalf("data = %q, want empty (position is at end after write)", data)
	}

	if terr := b.MTIO(MTIORewind, 0); terr != nil {
		t.Fatalf("MTIO REWIND: %v", terr)
	}
	data, terr = b.Read(3)
	if terr != nil {
		t.Fatalf("Read: %v", terr)
	}
	if string(data) != "abc" {
		t.Fatalf("data = %q, want %q", data, "abc")
	}

	data, terr = b.Read(100)
	if terr != nil {
		t.Fatalf("Read: %v", terr)
	}
	if string(data) != "def" {
		t.Fatalf("data = %q, want %q (short read at end of medium)", data, "def")
	}
}

func TestMemBackendOpenRequiresFilename(t *testing.T) {
	b := NewMemBackend()
	if terr := b.Open(TapeOpenRequest{}); terr == nil {
		t.Fatal("expected error opening without a filename")
	}
}

func TestMemBackendMTIOEOFTruncates(t *testing.T) {
	b := NewMemBackend()
	if terr := b.Open(TapeOpenRequest{Filename: "/dev/null"}); terr != nil {
		t.Fatalf("Open: %v", terr)
	}
	defer b.Close()

	if terr := b.Write([]byte("abcdef")); terr != nil {
		t.Fatalf("Write: %v", terr)
	}
	if terr := b.MTIO(MTIORewind, 0); terr != nil {
		t.Fatalf("MTIO REWIND: %v", terr)
	}
	if data, terr := b.Read(3); terr != nil || string(data) != "abc" {
		t.Fatalf("Read: data=%q terr=%v", data, terr)
	}
	if terr := b.MTIO(MTIOEOF, 0); terr != nil {
		t.Fatalf("MTIO EOF: %v", terr)
	}
	if terr := b.MTIO(MTIORewind, 0); terr != nil {
		t.Fatalf("MTIO REWIND: %v", terr)
	}
	data, terr := b.Read(100)
	if terr != nil {
		t.Fatalf("Read: %v", terr)
	}
	if string(data) != "abc" {
		t.Fatalf("data = %q, want %q (tape truncated at EOF mark)", data, "abc")
	}
}

func TestMemBackendMTIOUnsupportedCommand(t *testing.T) {
	b := NewMemBackend()
	if terr := b.Open(TapeOpenRequest{Filename: "/dev/null"}); terr != nil {
		t.Fatalf("Open: %v", terr)
	}
	defer b.Close()

	terr := b.MTIO("BOGUS", 0)
	if terr == nil {
		t.Fatal("expected error for unsupported MTIO command")
	}
	if terr.Code != ErrIllegalArgs {
		t.Fatalf("code = %q, want %q", terr.Code, ErrIllegalArgs)
	}
}

func TestMemBackendRequiresOpen(t *testing.T) {
	b := NewMemBackend()
	if terr := b.Write([]byte("x")); terr == nil || terr.Code != ErrNoDeviceErr {
		t.Fatalf("Write before Open: terr=%v, want code %q", terr, ErrNoDeviceErr)
	}
	if _, terr := b.Read(1); terr == nil || terr.Code != ErrNoDeviceErr {
		t.Fatalf("Read before Open: terr=%v, want code %q", terr, ErrNoDeviceErr)
	}
	if terr := b.MTIO(MTIORewind, 0); terr == nil || terr.Code != ErrNoDeviceErr {
		t.Fatalf("MTIO before Open: terr=%v, want code %q", terr, ErrNoDeviceErr)
	}
}
