//go:build !linux && !darwin

package sched

// RaiseFileLimit is a no-op on platforms without POSIX rlimits.
func RaiseFileLimit(want uint64) (current uint64, err error) {
	return want, nil
}
