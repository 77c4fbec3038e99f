//go:build !linux

package rt

// PriorityRange returns the valid priority range for policy.
func PriorityRange(policy Policy) (int, int) {
	if policy == PolicyFIFO || policy == PolicyRR {
		return 1, 99
	}
	return 0, 0
}

// SetScheduling is not available; workers keep default scheduling.
func SetScheduling(policy Policy, prio int, periodNS float64) error {
	return ErrUnsupported
}
