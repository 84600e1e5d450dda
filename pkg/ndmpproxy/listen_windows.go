//go:build windows

package ndmpproxy

import "net"

// reuseAddrListenConfig is a no-op on Windows, where SO_REUSEADDR has
// different (and unsafe) semantics than on POSIX systems; a plain listen is
// used instead.
func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
