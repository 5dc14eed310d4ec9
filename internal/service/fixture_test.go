package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository/memstore"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	clock *fakeClock
	store *memstore.Store
	queue *memstore.Queue

	creds       *CredentialService
	sessions    *SessionService
	answers     *AnswerService
	submissions *SubmissionService
	proctor     *ProctorService
	ranking     *RankingService
	results     *ResultService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		ExamTokenSecret:     "test-exam-secret",
		ExamTokenTTL:        4 * time.Hour,
		TabSwitchLimit:      5,
		FullscreenExitLimit: 3,
	}
	log := zerolog.Nop()

	f := &fixture{
		clock: &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)},
		store: memstore.New(),
		queue: &memstore.Queue{},
	}

	f.creds = NewCredentialService(cfg)
	f.creds.now = f.clock.Now

	f.ranking = NewRankingService(f.store, f.queue, log)

	f.submissions = NewSubmissionService(f.store, f.store, f.creds, f.ranking,
		AntiCheatLimits{TabSwitches: cfg.TabSwitchLimit, FullscreenExits: cfg.FullscreenExitLimit}, log)
	f.submissions.now = f.clock.Now

	f.sessions = NewSessionService(f.store, f.store, f.creds, log)
	f.sessions.now = f.clock.Now

	f.answers = NewAnswerService(f.store, f.store, f.creds, f.submissions, log)
	f.answers.now = f.clock.Now

	f.proctor = NewProctorService(f.store, f.store, f.creds, f.submissions, f.queue, log)
	f.proctor.now = f.clock.Now

	f.results = NewResultService(f.store, f.store, log)

	return f
}

// addExam registers a published, open exam of n single-choice one-mark questions.
// Option 0 of every question is the correct one.
func (f *fixture) addExam(t *testing.T, n int, mutate ...func(e *model.ExamSnapshot)) *model.ExamSnapshot {
	t.Helper()

	e := &model.ExamSnapshot{
		ID:                    uuid.New(),
		Title:                 "Fisika Dasar",
		IsPublished:           true,
		IsActive:              true,
		StartTime:             f.clock.Now().Add(-time.Hour),
		EndTime:               f.clock.Now().Add(3 * time.Hour),
		DurationMinutes:       60,
		MaxAttempts:           5,
		PassingMarks:          float64(n) / 2,
		TotalMarks:            float64(n),
		ShowResultImmediately: true,
	}
	for i := 0; i < n; i++ {
		q := model.Question{
			ID:          uuid.New(),
			Text:        "Q",
			Type:        model.QuestionTypeSingle,
			Marks:       1,
			Explanation: "because",
		}
		for j := 0; j < 4; j++ {
			q.Options = append(q.Options, model.Option{ID: uuid.New(), Text: "opt", IsCorrect: j == 0})
		}
		e.Questions = append(e.Questions, q)
	}
	for _, m := range mutate {
		m(e)
	}
	f.store.PutExam(e)
	return e
}

func (f *fixture) start(t *testing.T, exam *model.ExamSnapshot, studentID int) *StartResult {
	t.Helper()
	res, err := f.sessions.Start(context.Background(), StartInput{ExamID: exam.ID, StudentID: studentID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return res
}

// pick answers question i of the exam with option index opt.
func pick(exam *model.ExamSnapshot, i, opt int) model.AnswerInput {
	q := exam.Questions[i]
	return model.AnswerInput{
		QuestionID:        q.ID,
		SelectedOptionIDs: []uuid.UUID{q.Options[opt].ID},
		TimeSpentSeconds:  10,
	}
}
