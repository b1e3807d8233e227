//go:build !linux

package transport

import "syscall"

// setSocketOptions is a no-op off Linux; SO_REUSEPORT has no portable
// equivalent. Grounded on the teacher's socket_other.go.
func setSocketOptions(network, address string, c syscall.RawConn) error {
	return nil
}
