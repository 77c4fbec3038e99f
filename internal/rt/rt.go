// Package rt requests real-time scheduling for the calling OS thread.
//
// Convolution level workers run with fixed-priority scheduling where the
// platform provides it. Callers must pin the goroutine to its OS thread
// with runtime.LockOSThread before calling SetScheduling.
package rt

import "errors"

// Policy selects the scheduling class for a worker thread.
type Policy int

const (
	// PolicyOther is the default time-sharing scheduler.
	PolicyOther Policy = iota

	// PolicyFIFO is first-in first-out real-time scheduling.
	PolicyFIFO

	// PolicyRR is round-robin real-time scheduling.
	PolicyRR
)

// ErrUnsupported is returned where the platform offers no way to raise
// the calling thread's scheduling class.
var ErrUnsupported = errors.New("rt: real-time scheduling not supported on this platform")

// Clamp limits prio to the valid priority range of the given policy.
func Clamp(policy Policy, prio int) int {
	lo, hi := PriorityRange(policy)
	if prio > hi {
		prio = hi
	}
	if prio < lo {
		prio = lo
	}
	return prio
}

// DefaultPriority returns the midpoint of the policy's priority range,
// used when the host does not supply one.
func DefaultPriority(policy Policy) int {
	lo, hi := PriorityRange(policy)
	return (lo + hi) / 2
}
