package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

func TestGetResultDetail(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 3, func(e *model.ExamSnapshot) {
		e.NegativeMarking = true
		e.DefaultNegativeMarkValue = 0.25
	})
	ctx := context.Background()
	s := f.start(t, exam, 1)

	if _, err := f.submissions.Submit(ctx, SubmitInput{
		AttemptID: s.AttemptID, StudentID: 1, SessionToken: s.SessionToken,
		Answers: []model.AnswerInput{pick(exam, 0, 0), pick(exam, 1, 1)},
	}); err != nil {
		t.Fatal(err)
	}

	res, err := f.results.GetResult(ctx, s.AttemptID, 1)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if !res.ShowResult || res.Summary == nil {
		t.Fatal("detail withheld")
	}
	if res.Summary.MarksObtained != 0.75 || res.Summary.SkippedCount != 1 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if len(res.Questions) != 3 {
		t.Fatalf("questions = %d, want 3", len(res.Questions))
	}

	q0 := res.Questions[0]
	if !q0.IsCorrect || q0.MarksAwarded != 1 || q0.Explanation == "" {
		t.Fatalf("question 0 = %+v", q0)
	}
	if !q0.Options[0].IsCorrect {
		t.Fatal("correct option not revealed after finalization")
	}
	if q1 := res.Questions[1]; q1.IsCorrect || q1.MarksAwarded != -0.25 {
		t.Fatalf("question 1 = %+v", q1)
	}
	if q2 := res.Questions[2]; q2.SelectedOptionIDs == nil || len(q2.SelectedOptionIDs) != 0 {
		t.Fatalf("skipped question selection = %v", q2.SelectedOptionIDs)
	}
}

func TestGetResultCoarseWhenWithheld(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1, func(e *model.ExamSnapshot) { e.ShowResultImmediately = false })
	s := f.start(t, exam, 1)
	if _, err := f.submissions.Submit(context.Background(), SubmitInput{AttemptID: s.AttemptID, StudentID: 1, SessionToken: s.SessionToken}); err != nil {
		t.Fatal(err)
	}

	res, err := f.results.GetResult(context.Background(), s.AttemptID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.ShowResult || res.Summary != nil || res.Questions != nil {
		t.Fatalf("withheld result exposes detail: %+v", res)
	}
	if res.Message != ResultPendingMessage || res.SubmittedAt == nil {
		t.Fatalf("coarse view = %+v", res)
	}
}

func TestGetResultErrors(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1)
	s := f.start(t, exam, 1)
	ctx := context.Background()

	if _, err := f.results.GetResult(ctx, s.AttemptID, 1); !errors.Is(err, ErrAttemptInProgress) {
		t.Fatalf("in progress: got %v", err)
	}
	if _, err := f.results.GetResult(ctx, s.AttemptID, 2); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("foreign: got %v", err)
	}
	if _, err := f.results.GetResult(ctx, uuid.New(), 1); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("missing: got %v", err)
	}
}

func TestHistoryPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t)
	shown := f.addExam(t, 1)
	hidden := f.addExam(t, 1, func(e *model.ExamSnapshot) { e.ShowResultImmediately = false })
	ctx := context.Background()

	a := f.start(t, shown, 1)
	if _, err := f.submissions.Submit(ctx, SubmitInput{AttemptID: a.AttemptID, StudentID: 1, SessionToken: a.SessionToken}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Minute)
	b := f.start(t, hidden, 1)
	if _, err := f.submissions.Submit(ctx, SubmitInput{AttemptID: b.AttemptID, StudentID: 1, SessionToken: b.SessionToken}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Minute)
	c := f.start(t, shown, 1)
	f.start(t, shown, 2)

	page1, total, err := f.results.History(ctx, 1, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(page1) != 2 {
		t.Fatalf("total=%d len=%d", total, len(page1))
	}
	if page1[0].AttemptID != c.AttemptID || page1[1].AttemptID != b.AttemptID {
		t.Fatalf("page 1 order = %s, %s", page1[0].AttemptID, page1[1].AttemptID)
	}
	if page1[0].Summary != nil {
		t.Error("in-progress attempt carries a score")
	}
	if page1[1].Summary != nil {
		t.Error("withheld exam carries a score")
	}

	page2, _, err := f.results.History(ctx, 1, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 1 || page2[0].AttemptID != a.AttemptID || page2[0].Summary == nil {
		t.Fatalf("page 2 = %+v", page2)
	}
}
