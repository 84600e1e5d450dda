// Command ndmp-proxy listens for loopback connections speaking the NDMP
// proxy protocol and demultiplexes them onto named DEVICE/APPLICATION/
// CHANGER service slots, in the manner of the original ndmp-proxy helper
// invoked by Amanda's NDMP code as
// "ndmp-proxy -o proxy=PORT -dN -LFILE".
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"net/http/pprof"

	"github.com/amanda-backup/ndmp-ipc/pkg/ndmpproxy"
	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

var opt struct {
	Help bool
	Opt  []string
	Debg int
	Log  string
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.StringArrayVarP(&opt.Opt, "opt", "o", nil, "Set an Amanda-style option (key=value); only proxy=PORT is recognized")
	pflag.IntVarP(&opt.Debg, "debug", "d", 0, "Debug level (0=info, higher=more verbose)")
	pflag.StringVarP(&opt.Log, "logfile", "L", "", "Debug log file")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else {
		if x, err := readEnv(pflag.Arg(0)); err == nil {
			e = x
		} else {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
	}

	var c ndmpproxy.Config
	if err := c.UnmarshalEnv(e, false); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}
	applyLegacyFlags(&c)

	l, reopen, err := ndmpproxy.ConfigureLogging(&c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: initialize logging: %v\n", err)
		os.Exit(1)
	}

	s := ndmpproxy.NewServer(l)

	dbg := http.NewServeMux()
	dbg.HandleFunc("/debug/pprof/", pprof.Index)
	dbg.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	dbg.HandleFunc("/debug/pprof/profile", pprof.Profile)
	dbg.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	dbg.HandleFunc("/debug/pprof/trace", pprof.Trace)
	dbg.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) { s.WritePrometheus(w) })
	dbg.Handle("/monitor", ndmpproxy.DebugMonitorHandler(s.Session))

	if dbgAddr, _ := getEnvList("INSECURE_DEBUG_SERVER_ADDR", e, os.Environ()); dbgAddr != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "warning: running insecure debug server on %q\n", dbgAddr)
			if err := http.ListenAndServe(dbgAddr, dbg); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to start debug server: %v\n", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hch := make(chan os.Signal, 1)
	signal.Notify(hch, syscall.SIGHUP)
	go func() {
		for range hch {
			reopen()
		}
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", c.Port)
	ap, errch, err := s.Run(ctx, addr, c.MaxConns)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: listen: %v\n", err)
		os.Exit(1)
	}

	// matches the original executable's stdout protocol: once listening, it
	// prints "PORT n" so the parent process can learn the ephemeral port.
	fmt.Printf("PORT %d\n", ap.Port())

	if err := <-errch; err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: run server: %v\n", err)
		os.Exit(1)
	}
}

// applyLegacyFlags folds the "-o proxy=PORT", "-d", and "-L" flags (matching
// the original's invocation convention) over whatever Config.UnmarshalEnv
// already produced, so either configuration style works.
func applyLegacyFlags(c *ndmpproxy.Config) {
	for _, kv := range opt.Opt {
		if k, v, ok := strings.Cut(kv, "="); ok && k == "proxy" {
			fmt.Sscanf(v, "%d", &c.Port)
		}
	}
	if opt.Debg > 0 {
		switch {
		case opt.Debg >= 9:
			c.LogLevel = zerolog.TraceLevel
		default:
			c.LogLevel = zerolog.DebugLevel
		}
	}
	if opt.Log != "" {
		c.LogFile = opt.Log
	}
}

func getEnvList(k string, e ...[]string) (string, bool) {
	for _, l := range e {
		for _, x := range l {
			if xk, xv, ok := strings.Cut(x, "="); ok && xk == k {
				return xv, true
			}
		}
	}
	return "", false
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
