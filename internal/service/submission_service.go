package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/deadline"
	"github.com/stemsi/exstem-attempt/internal/grading"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// SubmitInput is an explicit submit. Answers, when non-nil, replace the stored
// set before grading; they are ignored if the deadline has already passed.
type SubmitInput struct {
	AttemptID    uuid.UUID
	StudentID    int
	SessionToken string
	Answers      []model.AnswerInput
}

// SubmissionService finalizes attempts: grade, evaluate anti-cheat flags,
// persist, then recompute ranks.
type SubmissionService struct {
	store   repository.AttemptStore
	exams   repository.ExamSource
	creds   *CredentialService
	ranking *RankingService
	limits  AntiCheatLimits
	log     zerolog.Logger
	now     func() time.Time
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(
	store repository.AttemptStore,
	exams repository.ExamSource,
	creds *CredentialService,
	ranking *RankingService,
	limits AntiCheatLimits,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		store:   store,
		exams:   exams,
		creds:   creds,
		ranking: ranking,
		limits:  limits,
		log:     log.With().Str("component", "submission_service").Logger(),
		now:     time.Now,
	}
}

// Submit finalizes the attempt. A late submit becomes an auto-submit of the
// last persisted answers.
func (s *SubmissionService) Submit(ctx context.Context, in SubmitInput) (*SubmissionResult, error) {
	claims, err := s.creds.Decode(in.SessionToken)
	if err != nil {
		return nil, err
	}
	if err := claims.Authorize(in.AttemptID, in.StudentID); err != nil {
		return nil, err
	}

	var (
		finalized *model.Attempt
		exam      *model.ExamSnapshot
	)

	err = s.store.WithTx(ctx, func(tx repository.AttemptTx) error {
		a, err := lockAttempt(ctx, tx, claims, in.AttemptID, in.StudentID)
		if err != nil {
			return err
		}

		exam, err = loadExam(ctx, s.exams, a.ExamID)
		if err != nil {
			return err
		}

		now := s.now()
		status := model.AttemptStatusSubmitted
		if deadline.IsExpired(a.ServerDeadline, now) {
			status = model.AttemptStatusAutoSubmitted
		} else if in.Answers != nil {
			answers, err := buildAnswers(exam, in.Answers, now)
			if err != nil {
				return err
			}
			a.Answers = answers
		}

		if err := s.finalize(ctx, tx, a, exam, status, now); err != nil {
			return err
		}
		finalized = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.afterFinalize(ctx, finalized, exam), nil
}

// finalize grades the attempt and persists its terminal state inside tx.
// The caller holds the attempt's row lock.
func (s *SubmissionService) finalize(ctx context.Context, tx repository.AttemptTx, a *model.Attempt, exam *model.ExamSnapshot, status model.AttemptStatus, now time.Time) error {
	res := grading.Grade(exam, a.Answers)
	res.Apply(a.Answers)

	submittedAt := now
	a.Status = status
	a.SubmittedAt = &submittedAt
	a.TimeLeftSeconds = deadline.Remaining(a.ServerDeadline, now)
	a.TotalMarks = res.TotalMarks
	a.MarksObtained = res.MarksObtained
	a.Percentage = res.Percentage
	a.IsPassed = res.IsPassed
	a.CorrectCount = res.CorrectCount
	a.IncorrectCount = res.IncorrectCount
	a.SkippedCount = res.SkippedCount
	a.Flagged, a.FlagReason = EvaluateFlags(a.TabSwitchCount, a.FullscreenExitCount, s.limits)

	if err := tx.Finalize(ctx, a); err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	return nil
}

// afterFinalize runs once the finalizing transaction has committed.
func (s *SubmissionService) afterFinalize(ctx context.Context, a *model.Attempt, exam *model.ExamSnapshot) *SubmissionResult {
	log := logger.FromContext(ctx, s.log)

	metrics.AttemptsFinalized.WithLabelValues(string(a.Status)).Inc()
	if a.Flagged {
		metrics.AttemptsFlagged.Inc()
		log.Warn().
			Str("attempt_id", a.ID.String()).
			Str("reason", a.FlagReason).
			Msg("Attempt flagged")
	}
	log.Info().
		Str("attempt_id", a.ID.String()).
		Str("exam_id", a.ExamID.String()).
		Int("student_id", a.StudentID).
		Str("status", string(a.Status)).
		Float64("marks", a.MarksObtained).
		Msg("Attempt finalized")

	s.ranking.RecomputeOrEnqueue(ctx, a.ExamID)

	out := &SubmissionResult{
		AttemptID:     a.ID,
		Status:        a.Status,
		AutoSubmitted: a.Status == model.AttemptStatusAutoSubmitted,
		SubmittedAt:   *a.SubmittedAt,
		ShowResult:    exam.ShowResultImmediately,
	}
	if !exam.ShowResultImmediately {
		return out
	}

	if ranked, err := s.store.GetByID(ctx, a.ID); err == nil {
		a.Rank = ranked.Rank
	} else {
		log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Reload for rank failed")
	}
	out.Result = summaryOf(a)
	return out
}
