//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package network

import "syscall"

// Port sharing needs SO_REUSEPORT; elsewhere the first node owns the port.
func reuseControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
