//go:build linux

package rt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PriorityRange returns the valid priority range for policy.
func PriorityRange(policy Policy) (int, int) {
	switch policy {
	case PolicyFIFO, PolicyRR:
		return 1, 99
	default:
		return 0, 0
	}
}

// SetScheduling switches the calling OS thread to the given scheduling
// policy and priority. periodNS is the expected cycle period; it is
// advisory on Linux, where fixed-priority classes carry no period.
//
// The thread keeps its default scheduling when the request is denied
// (typically missing CAP_SYS_NICE); the error reports the denial so the
// caller can decide between weak and hard real-time behavior.
func SetScheduling(policy Policy, prio int, periodNS float64) error {
	_ = periodNS

	attr := &unix.SchedAttr{
		Size:   unix.SizeofSchedAttr,
		Policy: unix.SCHED_NORMAL,
	}
	switch policy {
	case PolicyFIFO:
		attr.Policy = unix.SCHED_FIFO
		attr.Priority = uint32(Clamp(policy, prio))
	case PolicyRR:
		attr.Policy = unix.SCHED_RR
		attr.Priority = uint32(Clamp(policy, prio))
	}

	// Thread id 0 targets the calling thread.
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		return fmt.Errorf("rt: sched_setattr(policy=%d prio=%d): %w", attr.Policy, attr.Priority, err)
	}
	return nil
}
