package deadline

import (
	"testing"
	"time"
)

func TestCompute(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		duration int
		examEnd  time.Time
		want     time.Time
	}{
		{"duration fits in window", 60, start.Add(3 * time.Hour), start.Add(time.Hour)},
		{"window closes first", 90, start.Add(30 * time.Minute), start.Add(30 * time.Minute)},
		{"equal bounds", 45, start.Add(45 * time.Minute), start.Add(45 * time.Minute)},
		{"no exam end", 30, time.Time{}, start.Add(30 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compute(start, tt.duration, tt.examEnd); !got.Equal(tt.want) {
				t.Fatalf("Compute = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpiredIsStrict(t *testing.T) {
	d := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if IsExpired(d, d) {
		t.Fatal("deadline instant itself must not count as expired")
	}
	if IsExpired(d, d.Add(-time.Nanosecond)) {
		t.Fatal("before deadline reported expired")
	}
	if !IsExpired(d, d.Add(time.Nanosecond)) {
		t.Fatal("after deadline not reported expired")
	}
}

func TestRemaining(t *testing.T) {
	d := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if got := Remaining(d, d.Add(-90*time.Second-400*time.Millisecond)); got != 90 {
		t.Errorf("Remaining = %d, want 90", got)
	}
	if got := Remaining(d, d); got != 0 {
		t.Errorf("Remaining at deadline = %d, want 0", got)
	}
	if got := Remaining(d, d.Add(time.Hour)); got != 0 {
		t.Errorf("Remaining after deadline = %d, want 0", got)
	}
}
