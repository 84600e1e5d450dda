package ndmpproxy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// zerologWriterLevel is an io.Writer/zerolog.LevelWriter whose underlying
// writer can be swapped out while in use, used to reopen the log file on
// SIGHUP without losing any log lines written concurrently.
type zerologWriterLevel struct {
	w io.Writer // or zerolog.LevelWriter
	l zerolog.Level
	m sync.Mutex
}

var _ zerolog.LevelWriter = (*zerologWriterLevel)(nil)

func newZerologWriterLevel(w io.Writer, l zerolog.Level) *zerologWriterLevel {
	return &zerologWriterLevel{w: w, l: l}
}

func (wl *zerologWriterLevel) Write(p []byte) (n int, err error) {
	wl.m.Lock()
	defer wl.m.Unlock()
	if wl.w != nil {
		return wl.w.Write(p)
	}
	return len(p), nil
}

func (wl *zerologWriterLevel) WriteLevel(l zerolog.Level, p []byte) (n int, err error) {
	if l >= wl.l {
		wl.m.Lock()
		defer wl.m.Unlock()
		if wl.w != nil {
			if lw, ok := wl.w.(zerolog.LevelWriter); ok {
				return lw.WriteLevel(l, p)
			}
			return wl.w.Write(p)
		}
	}
	return len(p), nil
}

func (wl *zerologWriterLevel) SwapWriter(fn func(io.Writer) io.Writer) {
	wl.m.Lock()
	defer wl.m.Unlock()
	wl.w = fn(wl.w)
}

// ConfigureLogging builds a zerolog.Logger from c's LogStdout/LogLevel/
// LogFile/LogFileChmod fields. The returned reopen func reopens the log file
// (truncating nothing; it appends), intended to be called on SIGHUP.
func ConfigureLogging(c *Config) (l zerolog.Logger, reopen func(), err error) {
	var outputs []io.Writer
	if c.LogStdout {
		outputs = append(outputs, newZerologWriterLevel(os.Stdout, c.LogLevel))
	}
	if fn := c.LogFile; fn != "" {
		x := newZerologWriterLevel(nil, c.LogLevel)
		if fn, err = filepath.Abs(fn); err != nil {
			err = fmt.Errorf("resolve log file: %w", err)
			return
		}
		reopen = func() {
			x.SwapWriter(func(old io.Writer) io.Writer {
				if o, ok := old.(io.Closer); ok {
					o.Close()
				}
				f, oerr := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
				if oerr != nil {
					fmt.Fprintf(os.Stderr, "error: failed to open log file: %v\n", oerr)
					return nil
				}
				if c.LogFileChmod != 0 {
					if cerr := f.Chmod(c.LogFileChmod); cerr != nil {
						fmt.Fprintf(os.Stderr, "error: chmod log file: %v\n", cerr)
					}
				}
				return f
			})
		}
		outputs = append(outputs, x)
		reopen()
	}
	if reopen == nil {
		reopen = func() {}
	}
	l = zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(c.LogLevel).
		With().
		Timestamp().
		Logger()
	return
}
