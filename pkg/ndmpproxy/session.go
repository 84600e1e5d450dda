package ndmpproxy

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/amanda-backup/ndmp-ipc/pkg/ipcbinary"
	"github.com/rs/zerolog"
)

// errBusy is returned by Session.bind when the requested slot is already
// occupied by another connection, mirroring the original's
// NDMP9_DEVICE_BUSY_ERR path in ndma_dispatch_proxy_listen.
var errBusy = errors.New("ndmpproxy: service slot is busy")

// errUnknownService is returned for a SELECT_SERVICE naming anything other
// than DEVICE/APPLICATION/CHANGER.
var errUnknownService = errors.New("ndmpproxy: unknown service name")

// Session tracks the three named service slots shared by every connection to
// a single proxy listener, the Go equivalent of the original's per-session
// proxy_device_chan/proxy_application_chan/proxy_changer_chan fields plus
// proxy_connections.
type Session struct {
	Backend func() TapeBackend // constructs a TapeBackend for a newly-opened DEVICE slot; defaults to NewMemBackend

	// Observability hooks, wired up by Server.m(); nil hooks are skipped.
	OnSelectService        func(service string, busy bool)
	OnSelectServiceIllegal func()
	OnTapeOpen             func(success bool)
	OnTapeRead             func(n int)
	OnTapeWrite            func(n int)

	mu      sync.Mutex
	slots   map[string]bool
	monitor *monitor
}

// NewSession creates an empty session with all three slots free.
func NewSession() *Session {
	return &Session{slots: make(map[string]bool, 3), monitor: newMonitor()}
}

// bind atomically claims name if it is free, returning errBusy otherwise.
func (s *Session) bind(name string) error {
	switch name {
	case ServiceDevice, ServiceApplication, ServiceChanger:
	default:
		return errUnknownService
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[name] {
		return errBusy
	}
	s.slots[name] = true
	return nil
}

// release frees name, allowing a subsequent connection to bind it.
func (s *Session) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, name)
}

func (s *Session) backend() TapeBackend {
	if s.Backend != nil {
		return s.Backend()
	}
	return NewMemBackend()
}

// HandleConn drives a single accepted connection through INIT, then (if it
// selects a service) through that slot's command loop, until the connection
// closes or a protocol error poisons the channel. It never returns an error
// for ordinary client-initiated disconnects.
func HandleConn(s *Session, l zerolog.Logger, conn net.Conn) {
	defer conn.Close()

	proto := Protocol()
	ch := ipcbinary.NewChannel(proto)

	msg, err := ipcbinary.ReadMessage(ch, conn)
	if err != nil || msg == nil {
		if err != nil && !errors.Is(err, io.EOF) {
			l.Debug().Err(err).Msg("select_service: read failed")
		}
		return
	}

	if msg.CmdID() != CmdSelectService {
		l.Debug().Uint16("cmd", msg.CmdID()).Msg("select_service: unexpected command, closing")
		return
	}
	service, _ := msg.ArgString(ArgService)
	remote := conn.RemoteAddr().String()
	s.monitor.publish(MonitorEvent{Remote: remote, Service: service, In: true, Cmd: msg.CmdID()})

	err = s.bind(service)
	reply := ipcbinary.NewMessage(proto, CmdReplyGeneric)
	switch {
	case errors.Is(err, errUnknownService):
		reply.SetArgString(ArgErrCode, ErrIllegalArgs)
		reply.SetArgString(ArgError, ErrIllegalArgs)
	case errors.Is(err, errBusy):
		reply.SetArgString(ArgErrCode, ErrDeviceBusy)
		reply.SetArgString(ArgError, ErrDeviceBusy)
	}
	if errors.Is(err, errUnknownService) {
		if s.OnSelectServiceIllegal != nil {
			s.OnSelectServiceIllegal()
		}
	} else if s.OnSelectService != nil {
		s.OnSelectService(service, errors.Is(err, errBusy))
	}
	s.monitor.publish(MonitorEvent{Remote: remote, Service: service, In: false, Cmd: reply.CmdID()})
	if werr := ipcbinary.WriteMessage(ch, conn, reply); werr != nil {
		l.Debug().Err(werr).Msg("select_service: write failed")
		return
	}
	if err != nil {
		return
	}
	defer s.release(service)

	sl := l.With().Str("service", service).Logger()
	switch service {
	case ServiceDevice:
		runDeviceSlot(s, sl, ch, conn, remote)
	default:
		// APPLICATION and CHANGER slots bind successfully but have no
		// further commands defined, matching ndma_dispatch_proxy_application
		// and ndma_dispatch_proxy_changer's empty bodies in the original.
		io.Copy(io.Discard, conn)
	}
}

// runDeviceSlot processes the DEVICE slot's TAPE_OPEN/CLOSE/MTIO/WRITE/READ
// command sequence, grounded on ndma_dispatch_proxy_device.
func runDeviceSlot(s *Session, l zerolog.Logger, ch *ipcbinary.Channel, conn net.Conn, remote string) {
	var (
		tape TapeBackend
		open bool
	)
	closeTape := func() {
		if open {
			tape.Close()
			open = false
		}
	}
	defer closeTape()

	publish := func(in bool, cmd uint16) {
		s.monitor.publish(MonitorEvent{Remote: remote, Service: ServiceDevice, In: in, Cmd: cmd})
	}

	for {
		msg, err := ipcbinary.ReadMessage(ch, conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.Debug().Err(err).Msg("device: read failed")
			}
			return
		}
		if msg == nil {
			return
		}
		publish(true, msg.CmdID())

		switch msg.CmdID() {
		case CmdTapeOpen:
			closeTape() // close any previously opened tape before opening a new one

			tape = s.backend()
			req := TapeOpenRequest{}
			req.Filename, _ = msg.ArgString(ArgFilename)
			req.Mode, _ = msg.ArgString(ArgMode)
			req.Host, _ = msg.ArgString(ArgHost)
			req.Port, _ = msg.ArgString(ArgPort)
			req.Username, _ = msg.ArgString(ArgUsername)
			req.Password, _ = msg.ArgString(ArgPassword)

			terr := tape.Open(req)
			reply := ipcbinary.NewMessage(ch.Protocol(), CmdReplyGeneric)
			if terr != nil {
				tape.Close() // tear down the partially opened connection before replying
				reply.SetArgString(ArgErrCode, terr.Code)
				reply.SetArgString(ArgError, terr.Error())
			} else {
				open = true
			}
			if s.OnTapeOpen != nil {
				s.OnTapeOpen(terr == nil)
			}
			publish(false, reply.CmdID())
			if werr := ipcbinary.WriteMessage(ch, conn, reply); werr != nil {
				l.Debug().Err(werr).Msg("device: write failed")
				closeTape()
				return
			}

		case CmdTapeClose:
			closeTape()
			reply := ipcbinary.NewMessage(ch.Protocol(), CmdReplyGeneric)
			publish(false, reply.CmdID())
			if werr := ipcbinary.WriteMessage(ch, conn, reply); werr != nil {
				l.Debug().Err(werr).Msg("device: write failed")
				return
			}

		case CmdTapeMTIO:
			command, _ := msg.ArgString(ArgCommand)
			countStr, _ := msg.ArgString(ArgCount)

			var terr *TapeError
			if count, perr := parseCount(countStr); perr != nil {
				terr = &TapeError{Code: ErrIllegalArgs, Text: perr.Error()}
			} else if open {
				terr = tape.MTIO(command, count)
			} else if command != MTIORewind && command != MTIOEOF {
				// with no tape open, REWIND and EOF have nothing to move and
				// succeed; any other command is still rejected
				terr = &TapeError{Code: ErrIllegalArgs, Text: "unsupported mtio command " + command}
			}

			reply := ipcbinary.NewMessage(ch.Protocol(), CmdReplyGeneric)
			if terr != nil {
				reply.SetArgString(ArgErrCode, terr.Code)
				reply.SetArgString(ArgError, terr.Error())
			}
			publish(false, reply.CmdID())
			if werr := ipcbinary.WriteMessage(ch, conn, reply); werr != nil {
				l.Debug().Err(werr).Msg("device: write failed")
				closeTape()
				return
			}

		case CmdTapeWrite:
			data, _ := msg.Arg(ArgData)

			var terr *TapeError
			if !open {
				terr = &TapeError{Code: ErrNoDeviceErr, Text: "device not open"}
			} else {
				terr = tape.Write(data)
				if terr == nil && s.OnTapeWrite != nil {
					s.OnTapeWrite(len(data))
				}
			}

			reply := ipcbinary.NewMessage(ch.Protocol(), CmdReplyGeneric)
			if terr != nil {
				reply.SetArgString(ArgErrCode, terr.Code)
				reply.SetArgString(ArgError, terr.Error())
			}
			publish(false, reply.CmdID())
			if werr := ipcbinary.WriteMessage(ch, conn, reply); werr != nil {
				l.Debug().Err(werr).Msg("device: write failed")
				closeTape()
				return
			}

		case CmdTapeRead:
			countStr, _ := msg.ArgString(ArgCount)

			var (
				terr *TapeError
				data []byte
			)
			if !open {
				terr = &TapeError{Code: ErrNoDeviceErr, Text: "device not open"}
			} else if count, perr := parseCount(countStr); perr != nil {
				terr = &TapeError{Code: ErrIllegalArgs, Text: perr.Error()}
			} else {
				data, terr = tape.Read(count)
				if terr == nil && s.OnTapeRead != nil {
					s.OnTapeRead(len(data))
				}
			}

			reply := ipcbinary.NewMessage(ch.Protocol(), CmdReplyTapeRead)
			if terr != nil {
				reply.SetArgString(ArgErrCode, terr.Code)
				reply.SetArgString(ArgError, terr.Error())
			} else {
				reply.SetArgTaken(ArgData, data)
			}
			publish(false, reply.CmdID())
			if werr := ipcbinary.WriteMessage(ch, conn, reply); werr != nil {
				l.Debug().Err(werr).Msg("device: write failed")
				closeTape()
				return
			}

		default:
			// undefined command on a bound slot: the original silently
			// ignores it (see the "default: /* TODO */" case in
			// ndma_dispatch_proxy_device); we do the same.
		}
	}
}
