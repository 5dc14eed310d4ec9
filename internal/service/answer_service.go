package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/deadline"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// SaveInput is one autosave call. A nil Answers slice leaves the stored set untouched.
type SaveInput struct {
	AttemptID    uuid.UUID
	StudentID    int
	SessionToken string
	Answers      []model.AnswerInput
}

// AnswerService buffers in-progress answers. It never grades.
type AnswerService struct {
	store       repository.AttemptStore
	exams       repository.ExamSource
	creds       *CredentialService
	submissions *SubmissionService
	log         zerolog.Logger
	now         func() time.Time
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(
	store repository.AttemptStore,
	exams repository.ExamSource,
	creds *CredentialService,
	submissions *SubmissionService,
	log zerolog.Logger,
) *AnswerService {
	return &AnswerService{
		store:       store,
		exams:       exams,
		creds:       creds,
		submissions: submissions,
		log:         log.With().Str("component", "answer_service").Logger(),
		now:         time.Now,
	}
}

// Save replaces the attempt's whole answer set. A save that arrives after the
// deadline is not an error: the attempt is auto-submitted with what was
// already stored and the carried answers are discarded.
func (s *AnswerService) Save(ctx context.Context, in SaveInput) (*SaveResult, error) {
	claims, err := s.creds.Decode(in.SessionToken)
	if err != nil {
		return nil, err
	}
	if err := claims.Authorize(in.AttemptID, in.StudentID); err != nil {
		return nil, err
	}

	var (
		result   *SaveResult
		expired  *model.Attempt
		examSnap *model.ExamSnapshot
	)

	err = s.store.WithTx(ctx, func(tx repository.AttemptTx) error {
		a, err := lockAttempt(ctx, tx, claims, in.AttemptID, in.StudentID)
		if err != nil {
			return err
		}

		exam, err := loadExam(ctx, s.exams, a.ExamID)
		if err != nil {
			return err
		}

		now := s.now()
		if deadline.IsExpired(a.ServerDeadline, now) {
			if err := s.submissions.finalize(ctx, tx, a, exam, model.AttemptStatusAutoSubmitted, now); err != nil {
				return err
			}
			expired, examSnap = a, exam
			return nil
		}

		if in.Answers != nil {
			answers, err := buildAnswers(exam, in.Answers, now)
			if err != nil {
				return err
			}
			a.Answers = answers
		}
		a.TimeLeftSeconds = deadline.Remaining(a.ServerDeadline, now)

		if err := tx.SaveProgress(ctx, a); err != nil {
			return fmt.Errorf("save progress: %w", err)
		}

		result = &SaveResult{
			Saved:           true,
			TimeLeftSeconds: a.TimeLeftSeconds,
			ServerDeadline:  a.ServerDeadline,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired != nil {
		sub := s.submissions.afterFinalize(ctx, expired, examSnap)
		return &SaveResult{
			Saved:          false,
			ServerDeadline: expired.ServerDeadline,
			AutoSubmitted:  sub,
		}, nil
	}

	l := logger.FromContext(ctx, s.log)
	l.Debug().
		Str("attempt_id", in.AttemptID.String()).
		Int("answers", len(in.Answers)).
		Int("time_left", result.TimeLeftSeconds).
		Msg("Answers saved")

	return result, nil
}

// lockAttempt loads the attempt under a row lock and checks that the
// credential is the current one for it and that it is still in progress.
func lockAttempt(ctx context.Context, tx repository.AttemptTx, claims *SessionClaims, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := tx.GetForUpdate(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("lock attempt: %w", err)
	}
	if a.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	if !claims.Matches(a) {
		return nil, ErrInvalidSession
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, ErrAlreadyFinalized
	}
	return a, nil
}

// buildAnswers validates a full replacement answer set against the exam.
func buildAnswers(exam *model.ExamSnapshot, inputs []model.AnswerInput, now time.Time) (map[uuid.UUID]model.Answer, error) {
	fields := map[string]string{}
	out := make(map[uuid.UUID]model.Answer, len(inputs))

	for i, in := range inputs {
		path := fmt.Sprintf("answers[%d]", i)

		q, ok := exam.Question(in.QuestionID)
		if !ok {
			fields[path+".question_id"] = "question does not belong to this exam"
			continue
		}
		if _, dup := out[q.ID]; dup {
			fields[path+".question_id"] = "question answered more than once"
			continue
		}
		if in.TimeSpentSeconds < 0 {
			fields[path+".time_spent_seconds"] = "must not be negative"
		}

		selected := make([]uuid.UUID, 0, len(in.SelectedOptionIDs))
		seen := make(map[uuid.UUID]struct{}, len(in.SelectedOptionIDs))
		for _, oid := range in.SelectedOptionIDs {
			if _, ok := q.Option(oid); !ok {
				fields[path+".selected_option_ids"] = "option does not belong to this question"
				break
			}
			if _, dup := seen[oid]; dup {
				fields[path+".selected_option_ids"] = "option selected more than once"
				break
			}
			seen[oid] = struct{}{}
			selected = append(selected, oid)
		}

		answeredAt := now
		if in.AnsweredAt != nil && !in.AnsweredAt.IsZero() {
			answeredAt = *in.AnsweredAt
		}

		out[q.ID] = model.Answer{
			QuestionID:        q.ID,
			SelectedOptionIDs: selected,
			TimeSpentSeconds:  in.TimeSpentSeconds,
			AnsweredAt:        answeredAt,
		}
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return out, nil
}
