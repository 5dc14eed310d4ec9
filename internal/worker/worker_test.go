package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository/memstore"
)

type fakeRanker struct {
	calls map[uuid.UUID]int
	fail  map[uuid.UUID]bool
}

func (r *fakeRanker) Recompute(_ context.Context, examID uuid.UUID) (int, error) {
	r.calls[examID]++
	if r.fail[examID] {
		return 0, errors.New("boom")
	}
	return 3, nil
}

func TestRankWorkerProcessDedupesAndRequeues(t *testing.T) {
	ok, bad := uuid.New(), uuid.New()
	ranker := &fakeRanker{calls: map[uuid.UUID]int{}, fail: map[uuid.UUID]bool{bad: true}}
	queue := &memstore.Queue{}
	w := NewRankWorker(nil, ranker, queue, zerolog.Nop())

	done, failed := w.process(context.Background(), []string{
		ok.String(), ok.String(), "not-a-uuid", bad.String(), ok.String(),
	})

	if done != 1 || failed != 1 {
		t.Fatalf("done=%d failed=%d, want 1/1", done, failed)
	}
	if ranker.calls[ok] != 1 {
		t.Errorf("exam recomputed %d times, want 1", ranker.calls[ok])
	}
	ranks, _ := queue.Snapshot()
	if len(ranks) != 1 || ranks[0] != bad {
		t.Fatalf("requeued = %v, want [%s]", ranks, bad)
	}
}

func TestDecodeEvent(t *testing.T) {
	attemptID, examID := uuid.New(), uuid.New()

	good := `{"attempt_id":"` + attemptID.String() + `","exam_id":"` + examID.String() +
		`","student_id":4,"type":"tab_switch","recorded_at":1772438400000}`
	ev, err := decodeEvent(good)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}

	row := eventRow(ev)
	if row[0] != attemptID || row[1] != examID || row[2] != 4 || row[3] != string(model.ProctorEventTabSwitch) {
		t.Fatalf("row = %v", row)
	}
	if at := row[4].(time.Time); !at.Equal(time.UnixMilli(1772438400000)) {
		t.Fatalf("recorded_at = %v", at)
	}

	bad := []string{
		`{`,
		`{"attempt_id":"x","exam_id":"` + examID.String() + `","type":"tab_switch"}`,
		`{"attempt_id":"` + attemptID.String() + `","exam_id":"` + examID.String() + `","type":"copy"}`,
	}
	for _, raw := range bad {
		if _, err := decodeEvent(raw); err == nil {
			t.Errorf("decodeEvent(%q) accepted malformed input", raw)
		}
	}
}

func TestPermanentInsertError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"foreign key after reset", &pgconn.PgError{Code: "23503"}, true},
		{"wrapped check violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23514"}), true},
		{"invalid byte sequence", &pgconn.PgError{Code: "22021"}, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, false},
		{"connection lost", errors.New("conn closed"), false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := permanentInsertError(tc.err); got != tc.want {
				t.Fatalf("permanentInsertError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
