//go:build !unix

package network

import "syscall"

func reusePort(network, address string, c syscall.RawConn) error {
	return nil
}
