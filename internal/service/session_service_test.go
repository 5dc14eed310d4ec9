package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

func TestStartNaturalOrderWithoutShuffle(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 4)

	res := f.start(t, exam, 1)

	if res.Resumed {
		t.Fatal("first start reported as resume")
	}
	if res.TimeLeftSeconds != 3600 {
		t.Errorf("TimeLeftSeconds = %d, want 3600", res.TimeLeftSeconds)
	}
	for i, q := range res.Questions {
		if q.ID != exam.Questions[i].ID {
			t.Fatalf("question %d out of natural order", i)
		}
		for j, o := range q.Options {
			if o.ID != exam.Questions[i].Options[j].ID {
				t.Fatalf("question %d option %d out of natural order", i, j)
			}
		}
	}

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "is_correct") || strings.Contains(string(raw), "explanation") {
		t.Fatalf("in-progress payload leaks the answer key: %s", raw)
	}
}

func TestStartDeadlineCappedByExamEnd(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1, func(e *model.ExamSnapshot) {
		e.EndTime = f.clock.Now().Add(20 * time.Minute)
	})

	res := f.start(t, exam, 1)

	if !res.ServerDeadline.Equal(exam.EndTime) {
		t.Fatalf("ServerDeadline = %v, want exam end %v", res.ServerDeadline, exam.EndTime)
	}
}

func TestStartShuffleStableAcrossResume(t *testing.T) {
	f := newFixture(t)
	// Reverse deterministically so the permutation is observable.
	f.sessions.shuffle = func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}
	exam := f.addExam(t, 5, func(e *model.ExamSnapshot) {
		e.ShuffleQuestions = true
		e.ShuffleOptions = true
	})

	first := f.start(t, exam, 7)
	if first.Questions[0].ID != exam.Questions[4].ID {
		t.Fatal("questions were not shuffled")
	}
	if first.Questions[0].Options[0].ID != exam.Questions[4].Options[3].ID {
		t.Fatal("options were not shuffled")
	}

	// A different shuffle on resume must not be applied.
	f.sessions.shuffle = func(int, func(i, j int)) { t.Fatal("resume reshuffled") }
	f.clock.Advance(5 * time.Minute)

	second := f.start(t, exam, 7)
	if !second.Resumed || second.AttemptID != first.AttemptID {
		t.Fatalf("expected resume of %s, got %+v", first.AttemptID, second)
	}
	if !second.ServerDeadline.Equal(first.ServerDeadline) {
		t.Fatal("resume changed the deadline")
	}
	if second.TimeLeftSeconds != first.TimeLeftSeconds-300 {
		t.Errorf("resume TimeLeftSeconds = %d, want %d", second.TimeLeftSeconds, first.TimeLeftSeconds-300)
	}
	for i := range first.Questions {
		if first.Questions[i].ID != second.Questions[i].ID {
			t.Fatalf("question order changed at %d", i)
		}
		for j := range first.Questions[i].Options {
			if first.Questions[i].Options[j].ID != second.Questions[i].Options[j].ID {
				t.Fatalf("option order changed at %d/%d", i, j)
			}
		}
	}
}

func TestStartResumeRotatesCredential(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 2)
	ctx := context.Background()

	first := f.start(t, exam, 3)
	second := f.start(t, exam, 3)

	if first.SessionToken == second.SessionToken {
		t.Fatal("resume reissued the same credential")
	}

	_, err := f.answers.Save(ctx, SaveInput{
		AttemptID: first.AttemptID, StudentID: 3, SessionToken: first.SessionToken,
		Answers: []model.AnswerInput{pick(exam, 0, 0)},
	})
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("old credential: got %v, want ErrInvalidSession", err)
	}

	if _, err := f.answers.Save(ctx, SaveInput{
		AttemptID: second.AttemptID, StudentID: 3, SessionToken: second.SessionToken,
		Answers: []model.AnswerInput{pick(exam, 0, 0)},
	}); err != nil {
		t.Fatalf("new credential rejected: %v", err)
	}

	resumed := f.start(t, exam, 3)
	if len(resumed.Answers) != 1 || resumed.Answers[0].QuestionID != exam.Questions[0].ID {
		t.Fatalf("resume did not return saved answers: %+v", resumed.Answers)
	}
}

func TestStartRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unpublished := f.addExam(t, 1, func(e *model.ExamSnapshot) { e.IsPublished = false })
	inactive := f.addExam(t, 1, func(e *model.ExamSnapshot) { e.IsActive = false })
	upcoming := f.addExam(t, 1, func(e *model.ExamSnapshot) { e.StartTime = f.clock.Now().Add(time.Minute) })
	closed := f.addExam(t, 1, func(e *model.ExamSnapshot) { e.EndTime = f.clock.Now().Add(-time.Second) })

	tests := []struct {
		name   string
		examID uuid.UUID
		want   error
	}{
		{"missing", uuid.New(), ErrExamNotFound},
		{"unpublished", unpublished.ID, ErrExamNotFound},
		{"inactive", inactive.ID, ErrExamNotFound},
		{"not yet open", upcoming.ID, ErrOutOfWindow},
		{"already closed", closed.ID, ErrOutOfWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sessions.Start(ctx, StartInput{ExamID: tt.examID, StudentID: 1})
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStartAttemptLimit(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1)
	ctx := context.Background()

	for i := 0; i < exam.MaxAttempts; i++ {
		res := f.start(t, exam, 9)
		if _, err := f.submissions.Submit(ctx, SubmitInput{
			AttemptID: res.AttemptID, StudentID: 9, SessionToken: res.SessionToken,
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	_, err := f.sessions.Start(ctx, StartInput{ExamID: exam.ID, StudentID: 9})
	if !errors.Is(err, ErrAttemptLimitExceeded) {
		t.Fatalf("6th attempt: got %v, want ErrAttemptLimitExceeded", err)
	}

	// Another student is unaffected.
	f.start(t, exam, 10)

	// An administrative reset clears the counter.
	f.store.Reset(exam.ID, 9)
	f.start(t, exam, 9)
}

func TestStartInProgressCountsTowardLimit(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1, func(e *model.ExamSnapshot) { e.MaxAttempts = 1 })

	first := f.start(t, exam, 4)

	// Resuming is still allowed at the limit.
	again := f.start(t, exam, 4)
	if again.AttemptID != first.AttemptID {
		t.Fatal("resume created a new attempt")
	}

	if _, err := f.submissions.Submit(context.Background(), SubmitInput{
		AttemptID: again.AttemptID, StudentID: 4, SessionToken: again.SessionToken,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sessions.Start(context.Background(), StartInput{ExamID: exam.ID, StudentID: 4}); !errors.Is(err, ErrAttemptLimitExceeded) {
		t.Fatalf("got %v, want ErrAttemptLimitExceeded", err)
	}
}

func TestStartConcurrentCreatesOneAttempt(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 3)

	const n = 16
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.sessions.Start(context.Background(), StartInput{ExamID: exam.ID, StudentID: 5})
			errs[i] = err
			if err == nil {
				ids[i] = res.AttemptID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("start %d got attempt %s, want %s", i, ids[i], ids[0])
		}
	}
	if got := len(f.store.Attempts(exam.ID, 5)); got != 1 {
		t.Fatalf("stored attempts = %d, want 1", got)
	}
}

func TestStartRecordsDeviceAudit(t *testing.T) {
	f := newFixture(t)
	exam := f.addExam(t, 1)

	_, err := f.sessions.Start(context.Background(), StartInput{
		ExamID: exam.ID, StudentID: 2, IPAddress: "10.0.0.7", DeviceInfo: "Mozilla/5.0",
	})
	if err != nil {
		t.Fatal(err)
	}

	stored := f.store.Attempts(exam.ID, 2)[0]
	if stored.IPAddress != "10.0.0.7" || stored.DeviceInfo != "Mozilla/5.0" {
		t.Fatalf("device audit = %q / %q", stored.IPAddress, stored.DeviceInfo)
	}
}
