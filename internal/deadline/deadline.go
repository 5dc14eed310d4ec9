// Package deadline computes and checks the absolute end instant of an attempt.
// Only the server clock is consulted; client timestamps never reach this package.
package deadline

import "time"

// Compute returns min(startedAt + duration, examEnd). The result is stored once
// on the attempt and never recomputed.
func Compute(startedAt time.Time, durationMinutes int, examEnd time.Time) time.Time {
	d := startedAt.Add(time.Duration(durationMinutes) * time.Minute)
	if !examEnd.IsZero() && examEnd.Before(d) {
		return examEnd
	}
	return d
}

// IsExpired reports whether now is strictly past the deadline.
func IsExpired(deadline, now time.Time) bool {
	return now.After(deadline)
}

// Remaining returns the whole seconds left before the deadline, floored at zero.
func Remaining(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}
