package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

func TestSubmitGradesAndRanks(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 2, func(e *model.ExamSnapshot) {
		for i := range e.Questions {
			e.Questions[i].Marks = 5
		}
		e.TotalMarks = 10
		e.PassingMarks = 6
	})
	ctx := context.Background()
	s := f.start(t, exam, 1)

	res, err := f.submissions.Submit(ctx, SubmitInput{
		AttemptID: s.AttemptID, StudentID: 1, SessionToken: s.SessionToken,
		Answers: []model.AnswerInput{pick(exam, 0, 0), pick(exam, 1, 2)},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if res.Status != model.AttemptStatusSubmitted || res.AutoSubmitted {
		t.Fatalf("status = %s auto=%v", res.Status, res.AutoSubmitted)
	}
	if !res.ShowResult || res.Result == nil {
		t.Fatal("summary missing although the exam shows results")
	}
	r := res.Result
	if r.MarksObtained != 5 || r.Percentage != 50 || r.IsPassed {
		t.Fatalf("summary = %+v", r)
	}
	if r.Rank == nil || *r.Rank != 1 {
		t.Fatalf("rank = %v, want 1", r.Rank)
	}

	stored := f.store.Attempts(exam.ID, 1)[0]
	if !stored.Answers[exam.Questions[0].ID].IsCorrect || stored.Answers[exam.Questions[0].ID].MarksAwarded != 5 {
		t.Error("per-answer grading not persisted")
	}
	if stored.SubmittedAt == nil || !stored.SubmittedAt.Equal(f.clock.Now()) {
		t.Errorf("SubmittedAt = %v", stored.SubmittedAt)
	}
}

func TestSubmitHidesSummaryWhenResultsWithheld(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1, func(e *model.ExamSnapshot) { e.ShowResultImmediately = false })
	s := f.start(t, exam, 1)

	res, err := f.submissions.Submit(context.Background(), SubmitInput{AttemptID: s.AttemptID, StudentID: 1, SessionToken: s.SessionToken})
	if err != nil {
		t.Fatal(err)
	}
	if res.ShowResult || res.Result != nil {
		t.Fatalf("summary leaked: %+v", res)
	}
}

func TestSubmitTwiceIsAlreadyFinalized(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1)
	ctx := context.Background()
	s := f.start(t, exam, 1)
	in := SubmitInput{AttemptID: s.AttemptID, StudentID: 1, SessionToken: s.SessionToken}

	first, err := f.submissions.Submit(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.submissions.Submit(ctx, in); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("second submit: got %v, want ErrAlreadyFinalized", err)
	}

	stored := f.store.Attempts(exam.ID, 1)[0]
	if !stored.SubmittedAt.Equal(first.SubmittedAt) {
		t.Fatal("finalized attempt was modified")
	}
}

func TestSubmitLateDiscardsCarriedAnswers(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 2)
	ctx := context.Background()
	s := f.start(t, exam, 1)

	if _, err := f.answers.Save(ctx, SaveInput{
		AttemptID: s.AttemptID, StudentID: 1, SessionToken: s.SessionToken,
		Answers: []model.AnswerInput{pick(exam, 0, 0)},
	}); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(2 * time.Hour)
	res, err := f.submissions.Submit(ctx, SubmitInput{
		AttemptID: s.AttemptID, StudentID: 1, SessionToken: s.SessionToken,
		Answers: []model.AnswerInput{pick(exam, 0, 0), pick(exam, 1, 0)},
	})
	if err != nil {
		t.Fatalf("late submit returned error: %v", err)
	}
	if res.Status != model.AttemptStatusAutoSubmitted {
		t.Fatalf("status = %s, want AUTO_SUBMITTED", res.Status)
	}
	if res.Result.MarksObtained != 1 || res.Result.SkippedCount != 1 {
		t.Fatalf("carried answers were graded: %+v", res.Result)
	}
}

func TestSubmitInvalidPayloadLeavesAttemptOpen(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1)
	other := f.addExam(t, 1)
	s := f.start(t, exam, 1)

	_, err := f.submissions.Submit(context.Background(), SubmitInput{
		AttemptID: s.AttemptID, StudentID: 1, SessionToken: s.SessionToken,
		Answers: []model.AnswerInput{pick(other, 0, 0)},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
	if st := f.store.Attempts(exam.ID, 1)[0].Status; st != model.AttemptStatusInProgress {
		t.Fatalf("status = %s after rejected submit", st)
	}
}

func TestRankTieBrokenBySubmissionTime(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 10)
	ctx := context.Background()

	answers := make([]model.AnswerInput, 0, 8)
	for i := 0; i < 8; i++ {
		answers = append(answers, pick(exam, i, 0))
	}

	first := f.start(t, exam, 1)
	second := f.start(t, exam, 2)
	third := f.start(t, exam, 3)

	f.clock.Advance(10 * time.Minute)
	if _, err := f.submissions.Submit(ctx, SubmitInput{AttemptID: first.AttemptID, StudentID: 1, SessionToken: first.SessionToken, Answers: answers}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Minute)
	if _, err := f.submissions.Submit(ctx, SubmitInput{AttemptID: second.AttemptID, StudentID: 2, SessionToken: second.SessionToken, Answers: answers}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Minute)
	if _, err := f.submissions.Submit(ctx, SubmitInput{
		AttemptID: third.AttemptID, StudentID: 3, SessionToken: third.SessionToken,
		Answers: append(answers, pick(exam, 8, 0)),
	}); err != nil {
		t.Fatal(err)
	}

	rank := func(student int) int {
		t.Helper()
		a := f.store.Attempts(exam.ID, student)[0]
		if a.Rank == nil {
			t.Fatalf("student %d unranked", student)
		}
		return *a.Rank
	}

	if got := rank(3); got != 1 {
		t.Errorf("highest score rank = %d, want 1", got)
	}
	if got := rank(1); got != 2 {
		t.Errorf("earlier tie rank = %d, want 2", got)
	}
	if got := rank(2); got != 3 {
		t.Errorf("later tie rank = %d, want 3", got)
	}
}

func TestRankFailureQueuesRetry(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1)
	s := f.start(t, exam, 1)

	f.store.FailAssignRanks = errors.New("db gone")

	res, err := f.submissions.Submit(context.Background(), SubmitInput{AttemptID: s.AttemptID, StudentID: 1, SessionToken: s.SessionToken})
	if err != nil {
		t.Fatalf("submit failed with ranking down: %v", err)
	}
	if res.Result.Rank != nil {
		t.Fatalf("rank = %v, want unranked", *res.Result.Rank)
	}
	if st := f.store.Attempts(exam.ID, 1)[0].Status; st != model.AttemptStatusSubmitted {
		t.Fatalf("finalization rolled back: %s", st)
	}

	ranks, _ := f.queue.Snapshot()
	if len(ranks) != 1 || ranks[0] != exam.ID {
		t.Fatalf("rank queue = %v, want [%s]", ranks, exam.ID)
	}

	f.store.FailAssignRanks = nil
	n, err := f.ranking.Recompute(context.Background(), exam.ID)
	if err != nil || n != 1 {
		t.Fatalf("Recompute = %d, %v", n, err)
	}
	if r := f.store.Attempts(exam.ID, 1)[0].Rank; r == nil || *r != 1 {
		t.Fatalf("rank after retry = %v", r)
	}
}

func TestRankIgnoresInProgressAttempts(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1)
	done := f.start(t, exam, 1)
	f.start(t, exam, 2)

	if _, err := f.submissions.Submit(context.Background(), SubmitInput{AttemptID: done.AttemptID, StudentID: 1, SessionToken: done.SessionToken}); err != nil {
		t.Fatal(err)
	}

	if r := f.store.Attempts(exam.ID, 2)[0].Rank; r != nil {
		t.Fatalf("in-progress attempt ranked %d", *r)
	}
}
