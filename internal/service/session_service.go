package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/deadline"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// StartInput identifies who is starting which exam, plus device audit data.
type StartInput struct {
	ExamID     uuid.UUID
	StudentID  int
	IPAddress  string
	DeviceInfo string
}

// SessionService creates and resumes attempts.
type SessionService struct {
	store repository.AttemptStore
	exams repository.ExamSource
	creds *CredentialService
	log   zerolog.Logger

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	store repository.AttemptStore,
	exams repository.ExamSource,
	creds *CredentialService,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		store:   store,
		exams:   exams,
		creds:   creds,
		log:     log.With().Str("component", "session_service").Logger(),
		now:     time.Now,
		shuffle: rand.Shuffle,
	}
}

// Start creates a new attempt or resumes the student's in-progress one.
// A resume rotates the session credential and never reshuffles.
func (s *SessionService) Start(ctx context.Context, in StartInput) (*StartResult, error) {
	exam, err := loadExam(ctx, s.exams, in.ExamID)
	if err != nil {
		return nil, err
	}
	if !exam.Available() {
		return nil, ErrExamNotFound
	}

	now := s.now()
	if now.Before(exam.StartTime) || now.After(exam.EndTime) {
		return nil, ErrOutOfWindow
	}

	var (
		attempt *model.Attempt
		token   string
		resumed bool
	)

	err = s.store.WithTx(ctx, func(tx repository.AttemptTx) error {
		if err := tx.LockStudentExam(ctx, exam.ID, in.StudentID); err != nil {
			return err
		}

		existing, err := tx.FindInProgress(ctx, exam.ID, in.StudentID)
		switch {
		case err == nil:
			existing.SessionJTI = uuid.NewString()
			if err := tx.RotateCredential(ctx, existing.ID, existing.SessionJTI); err != nil {
				return fmt.Errorf("rotate credential: %w", err)
			}
			attempt, resumed = existing, true

		case errors.Is(err, repository.ErrNotFound):
			count, err := tx.CountByStudentExam(ctx, exam.ID, in.StudentID)
			if err != nil {
				return fmt.Errorf("count attempts: %w", err)
			}
			if count >= exam.MaxAttempts {
				return ErrAttemptLimitExceeded
			}

			attempt = s.newAttempt(exam, in, now)
			if err := tx.Insert(ctx, attempt); err != nil {
				return fmt.Errorf("insert attempt: %w", err)
			}

		default:
			return fmt.Errorf("find in-progress attempt: %w", err)
		}

		token, err = s.creds.Issue(attempt)
		return err
	})
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx, s.log)
	outcome := "created"
	if resumed {
		outcome = "resumed"
	}
	metrics.AttemptsStarted.WithLabelValues(outcome).Inc()
	log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", exam.ID.String()).
		Int("student_id", in.StudentID).
		Str("outcome", outcome).
		Msg("Attempt session issued")

	return &StartResult{
		AttemptID:       attempt.ID,
		ExamID:          exam.ID,
		ExamTitle:       exam.Title,
		Resumed:         resumed,
		SessionToken:    token,
		StartedAt:       attempt.StartedAt,
		ServerDeadline:  attempt.ServerDeadline,
		TimeLeftSeconds: deadline.Remaining(attempt.ServerDeadline, now),
		Questions:       orderedQuestions(exam, attempt),
		Answers:         savedAnswers(attempt),
	}, nil
}

func (s *SessionService) newAttempt(exam *model.ExamSnapshot, in StartInput, now time.Time) *model.Attempt {
	qOrder := make([]uuid.UUID, len(exam.Questions))
	oOrder := make(map[uuid.UUID][]uuid.UUID, len(exam.Questions))
	for i, q := range exam.Questions {
		qOrder[i] = q.ID

		opts := make([]uuid.UUID, len(q.Options))
		for j, o := range q.Options {
			opts[j] = o.ID
		}
		if exam.ShuffleOptions {
			s.shuffle(len(opts), func(a, b int) { opts[a], opts[b] = opts[b], opts[a] })
		}
		oOrder[q.ID] = opts
	}
	if exam.ShuffleQuestions {
		s.shuffle(len(qOrder), func(a, b int) { qOrder[a], qOrder[b] = qOrder[b], qOrder[a] })
	}

	end := deadline.Compute(now, exam.DurationMinutes, exam.EndTime)

	return &model.Attempt{
		ID:              uuid.New(),
		ExamID:          exam.ID,
		StudentID:       in.StudentID,
		QuestionOrder:   qOrder,
		OptionOrder:     oOrder,
		Answers:         map[uuid.UUID]model.Answer{},
		Status:          model.AttemptStatusInProgress,
		StartedAt:       now,
		ServerDeadline:  end,
		TimeLeftSeconds: deadline.Remaining(end, now),
		TotalMarks:      exam.TotalMarks,
		SessionJTI:      uuid.NewString(),
		IPAddress:       in.IPAddress,
		DeviceInfo:      in.DeviceInfo,
	}
}

// loadExam maps a missing exam onto ErrExamNotFound.
func loadExam(ctx context.Context, src repository.ExamSource, examID uuid.UUID) (*model.ExamSnapshot, error) {
	exam, err := src.GetSnapshot(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}
