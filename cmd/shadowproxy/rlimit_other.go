//go:build !linux

package main

// raiseFileDescriptorLimit is a no-op outside Linux, matching the
// teacher's own platform split for rlimit/socket tuning.
func raiseFileDescriptorLimit() {}
