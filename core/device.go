package core

import "fmt"

// Device names the placement target for an aggregated buffer. The pure Go
// runtime only computes on the host, but the device travels with the handle
// so that placement-aware callers can route buffers consistently.
type Device string

const (
	// CPU is the host device and the only target with native storage.
	CPU Device = "cpu"
)

// Validate checks that the device is usable as an aggregation target.
func (d Device) Validate() error {
	if d == "" {
		return fmt.Errorf("device is empty")
	}
	if d != CPU {
		return fmt.Errorf("unsupported device %q", string(d))
	}
	return nil
}
