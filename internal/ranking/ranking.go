// Package ranking orders finalized attempts into a strict 1..N ranking.
package ranking

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Entry is the subset of a finalized attempt that ranking depends on.
type Entry struct {
	AttemptID     uuid.UUID
	MarksObtained float64
	SubmittedAt   time.Time
}

// Assignment pairs an attempt with its rank.
type Assignment struct {
	AttemptID uuid.UUID
	Rank      int
}

// Order ranks entries by marks descending, then earliest submission.
// Equal marks never share a rank. The attempt ID breaks exact timestamp ties
// so the result is reproducible.
func Order(entries []Entry) []Assignment {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.MarksObtained != b.MarksObtained {
			return a.MarksObtained > b.MarksObtained
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return bytes.Compare(a.AttemptID[:], b.AttemptID[:]) < 0
	})

	out := make([]Assignment, len(sorted))
	for i, e := range sorted {
		out[i] = Assignment{AttemptID: e.AttemptID, Rank: i + 1}
	}
	return out
}
