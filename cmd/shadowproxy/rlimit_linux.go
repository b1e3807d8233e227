//go:build linux

package main

import (
	"log"
	"syscall"
)

// raiseFileDescriptorLimit bumps RLIMIT_NOFILE to its hard ceiling, the
// same adjustment the teacher's main.go makes before opening any
// listeners, since a proxy fans out one file descriptor per session on
// top of however many listeners are configured.
func raiseFileDescriptorLimit() {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Printf("could not read rlimit: %v", err)
		return
	}
	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Printf("could not raise rlimit: %v", err)
		return
	}
	log.Printf("file descriptor limit set to %d", rLimit.Cur)
}
