package ranking

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestOrderBreaksTiesBySubmissionTime(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	early, late := uuid.New(), uuid.New()

	got := Order([]Entry{
		{AttemptID: late, MarksObtained: 8, SubmittedAt: t2},
		{AttemptID: early, MarksObtained: 8, SubmittedAt: t1},
	})

	if got[0].AttemptID != early || got[0].Rank != 1 {
		t.Fatalf("rank 1 = %+v, want earlier submission", got[0])
	}
	if got[1].AttemptID != late || got[1].Rank != 2 {
		t.Fatalf("rank 2 = %+v, want later submission", got[1])
	}
}

func TestOrderDenseAndDistinct(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := []Entry{
		{AttemptID: uuid.New(), MarksObtained: 3, SubmittedAt: base},
		{AttemptID: uuid.New(), MarksObtained: 10, SubmittedAt: base.Add(5 * time.Minute)},
		{AttemptID: uuid.New(), MarksObtained: 7, SubmittedAt: base.Add(time.Minute)},
		{AttemptID: uuid.New(), MarksObtained: 7, SubmittedAt: base},
		{AttemptID: uuid.New(), MarksObtained: 0, SubmittedAt: base},
	}

	got := Order(entries)

	wantOrder := []uuid.UUID{entries[1].AttemptID, entries[3].AttemptID, entries[2].AttemptID, entries[0].AttemptID, entries[4].AttemptID}
	for i, a := range got {
		if a.Rank != i+1 {
			t.Errorf("position %d has rank %d", i, a.Rank)
		}
		if a.AttemptID != wantOrder[i] {
			t.Errorf("rank %d = %s, want %s", i+1, a.AttemptID, wantOrder[i])
		}
	}
}

func TestOrderIdenticalTimestampsDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	for i := 0; i < 5; i++ {
		got := Order([]Entry{
			{AttemptID: b, MarksObtained: 4, SubmittedAt: at},
			{AttemptID: a, MarksObtained: 4, SubmittedAt: at},
		})
		if got[0].AttemptID != a {
			t.Fatalf("run %d: rank 1 = %s, want %s", i, got[0].AttemptID, a)
		}
	}
}

func TestOrderEmpty(t *testing.T) {
	if got := Order(nil); len(got) != 0 {
		t.Fatalf("Order(nil) = %v", got)
	}
}
