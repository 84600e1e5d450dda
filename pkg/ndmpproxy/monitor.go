package ndmpproxy

import (
	"context"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
)

//go:embed monitor.html
var monitorHTML []byte

// MonitorEvent describes one command/reply frame observed on a bound slot,
// the ndmp-proxy analogue of nspkt.MonitorPacket.
type MonitorEvent struct {
	Remote  string
	Service string
	In      bool // true if read from the client, false if written to it
	Cmd     uint16
	Data    []byte // raw bytes for display only; the events Session publishes leave it empty
}

// monitor fans MonitorEvents out to any subscribed channel, discarding events
// for subscribers that aren't keeping up.
type monitor struct {
	mu  sync.Mutex
	sub map[chan<- MonitorEvent]struct{}
}

func newMonitor() *monitor {
	return &monitor{sub: make(map[chan<- MonitorEvent]struct{})}
}

func (m *monitor) Subscribe(ctx context.Context, c chan<- MonitorEvent) {
	m.mu.Lock()
	m.sub[c] = struct{}{}
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.sub, c)
	m.mu.Unlock()
}

func (m *monitor) publish(ev MonitorEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.sub {
		select {
		case c <- ev:
		default:
		}
	}
}

// DebugMonitorHandler returns a HTTP handler serving a live view of proxy
// traffic, in the style of nspkt.DebugMonitorHandler.
func DebugMonitorHandler(s *Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, no-cache, no-store")
		w.Header().Set("Expires", "0")
		w.Header().Set("Pragma", "no-cache")

		if r.URL.RawQuery != "sse" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Content-Length", strconv.Itoa(len(monitorHTML)))
			w.WriteHeader(http.StatusOK)
			w.Write(monitorHTML)
			return
		}

		f, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "cannot stream events", http.StatusInternalServerError)
			return
		}

		c := make(chan MonitorEvent, 16)
		go s.monitor.Subscribe(r.Context(), c)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		io.WriteString(w, "event: init\ndata: ready\n\n")
		f.Flush()

		e := json.NewEncoder(w)
		for ev := range c {
			io.WriteString(w, "event: frame\ndata: ")
			e.Encode(map[string]any{
				"in":      ev.In,
				"remote":  ev.Remote,
				"service": ev.Service,
				"cmd":     ev.Cmd,
				"data":    hex.Dump(ev.Data),
			})
			io.WriteString(w, "\n")
			f.Flush()
		}
	})
}
