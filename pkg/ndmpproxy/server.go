package ndmpproxy

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

// Server listens for proxy connections and dispatches each to a shared
// Session. It plays the role of ndma_dispatch_proxy_listen plus the
// accept()-loop that drives it in the original's single-threaded session
// dispatcher, generalized to Go's goroutine-per-connection model: unlike the
// original's cooperative ndmchan-based scheduler, each accepted connection
// here runs in its own goroutine, synchronizing only through Session's
// mutex-guarded slot map.
type Server struct {
	Logger  zerolog.Logger
	Session *Session

	mu       sync.Mutex
	ln       net.Listener
	closed   bool
	metrics  *serverMetrics
	metricsO sync.Once
}

// NewServer creates a Server with a fresh Session. Callers may replace
// Session.Backend before calling Listen if a non-default TapeBackend
// constructor is needed.
func NewServer(l zerolog.Logger) *Server {
	return &Server{
		Logger:  l,
		Session: NewSession(),
	}
}

// Listen binds addr (normally on loopback; see handle for the
// per-connection enforcement the original performs in
// ndma_dispatch_proxy_listen) and returns once bound, matching the original
// ndmp-proxy executable's startup behavior of printing "PORT n" once ready.
// The socket is set up with SO_REUSEADDR (see reuseAddrListenConfig), echoing
// the original's tolerance of a lingering socket from a prior proxy instance
// in start_ndmp_proxy.
//
// maxConns bounds the number of simultaneously accepted connections using
// golang.org/x/net/netutil.LimitListener; since only three named slots ever
// exist, values above 3 simply allow extra connections to queue for
// SELECT_SERVICE and be rejected as busy.
func (s *Server) Listen(addr string, maxConns int) (netip.AddrPort, error) {
	ln, err := reuseAddrListenConfig().Listen(context.Background(), "tcp", addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("listen: %w", err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	ap, err := netip.ParseAddrPort(ln.Addr().String())
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse listen address: %w", err)
	}
	return ap, nil
}

// Serve accepts connections until the listener is closed, handling each on
// its own goroutine. It blocks until Close is called or accept fails.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("ndmpproxy: Listen must be called before Serve")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections. In-flight connections are left to
// finish on their own.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// handle enforces the loopback-only policy from ndma_dispatch_proxy_listen
// ("demand that it be from localhost") before handing the connection to
// HandleConn.
func (s *Server) handle(conn net.Conn) {
	m := s.m()
	m.conns_accepted_total.Inc()

	remote, ok := netip.Addr{}, false
	if a, err := netip.ParseAddrPort(conn.RemoteAddr().String()); err == nil {
		remote, ok = a.Addr(), true
	}
	l := s.Logger.With().Stringer("remote", conn.RemoteAddr()).Logger()

	if !ok || !remote.IsLoopback() {
		l.Debug().Msg("rejecting non-loopback connection")
		m.conns_rejected_nonloopback_total.Inc()
		conn.Close()
		return
	}

	m.conns_active.Inc()
	defer m.conns_active.Dec()

	HandleConn(s.Session, l, conn)
}

// Run is a convenience wrapper combining Listen and Serve, returning the
// bound address once listening and shutting down when ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string, maxConns int) (netip.AddrPort, <-chan error, error) {
	ap, err := s.Listen(addr, maxConns)
	if err != nil {
		return netip.AddrPort{}, nil, err
	}

	errch := make(chan error, 1)
	go func() { errch <- s.Serve() }()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return ap, errch, nil
}
