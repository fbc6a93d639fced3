package util

import "time"

// FromUnixMilli converts an enclave timestamp to UTC.
func FromUnixMilli(ms uint64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// WithinWindow reports whether ts is no older than window and no further than skew in the
// future, both measured from now.
func WithinWindow(ts, now time.Time, window, skew time.Duration) bool {
	if ts.After(now.Add(skew)) {
		return false
	}
	return !ts.Before(now.Add(-window))
}
