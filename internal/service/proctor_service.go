package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/deadline"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// AntiCheatLimits are the highest counts that still leave an attempt unflagged.
type AntiCheatLimits struct {
	TabSwitches     int
	FullscreenExits int
}

// EvaluateFlags decides the flag at submission time. It is never evaluated
// while the attempt is in progress.
func EvaluateFlags(tabSwitches, fullscreenExits int, limits AntiCheatLimits) (bool, string) {
	if tabSwitches > limits.TabSwitches || fullscreenExits > limits.FullscreenExits {
		return true, fmt.Sprintf("Tab switches: %d, Fullscreen exits: %d", tabSwitches, fullscreenExits)
	}
	return false, ""
}

// ReportInput is a single proctoring signal from the client.
type ReportInput struct {
	AttemptID    uuid.UUID
	StudentID    int
	SessionToken string
	Type         model.ProctorEventType
}

// ProctorService accumulates proctoring counters on in-progress attempts.
type ProctorService struct {
	store       repository.AttemptStore
	exams       repository.ExamSource
	creds       *CredentialService
	submissions *SubmissionService
	queue       repository.Queue
	log         zerolog.Logger
	now         func() time.Time
}

// NewProctorService creates a new ProctorService.
func NewProctorService(
	store repository.AttemptStore,
	exams repository.ExamSource,
	creds *CredentialService,
	submissions *SubmissionService,
	queue repository.Queue,
	log zerolog.Logger,
) *ProctorService {
	return &ProctorService{
		store:       store,
		exams:       exams,
		creds:       creds,
		submissions: submissions,
		queue:       queue,
		log:         log.With().Str("component", "proctor_service").Logger(),
		now:         time.Now,
	}
}

// RecordEvent increments the matching counter. Repeated events are all counted.
// A report arriving after the deadline auto-submits the attempt instead.
func (s *ProctorService) RecordEvent(ctx context.Context, in ReportInput) (*ReportResult, error) {
	if in.Type != model.ProctorEventTabSwitch && in.Type != model.ProctorEventFullscreenExit {
		return nil, &ValidationError{Fields: map[string]string{"type": "must be tab_switch or fullscreen_exit"}}
	}

	claims, err := s.creds.Decode(in.SessionToken)
	if err != nil {
		return nil, err
	}
	if err := claims.Authorize(in.AttemptID, in.StudentID); err != nil {
		return nil, err
	}

	var (
		result   *ReportResult
		expired  *model.Attempt
		examSnap *model.ExamSnapshot
		now      time.Time
	)

	err = s.store.WithTx(ctx, func(tx repository.AttemptTx) error {
		a, err := lockAttempt(ctx, tx, claims, in.AttemptID, in.StudentID)
		if err != nil {
			return err
		}

		now = s.now()
		if deadline.IsExpired(a.ServerDeadline, now) {
			exam, err := loadExam(ctx, s.exams, a.ExamID)
			if err != nil {
				return err
			}
			if err := s.submissions.finalize(ctx, tx, a, exam, model.AttemptStatusAutoSubmitted, now); err != nil {
				return err
			}
			expired, examSnap = a, exam
			return nil
		}

		switch in.Type {
		case model.ProctorEventTabSwitch:
			a.TabSwitchCount++
		case model.ProctorEventFullscreenExit:
			a.FullscreenExitCount++
		}
		a.TimeLeftSeconds = deadline.Remaining(a.ServerDeadline, now)

		if err := tx.SaveProgress(ctx, a); err != nil {
			return fmt.Errorf("save counters: %w", err)
		}

		result = &ReportResult{
			Recorded:            true,
			TabSwitchCount:      a.TabSwitchCount,
			FullscreenExitCount: a.FullscreenExitCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired != nil {
		return &ReportResult{
			TabSwitchCount:      expired.TabSwitchCount,
			FullscreenExitCount: expired.FullscreenExitCount,
			AutoSubmitted:       s.submissions.afterFinalize(ctx, expired, examSnap),
		}, nil
	}

	metrics.ProctorEvents.WithLabelValues(string(in.Type)).Inc()

	ev := model.ProctorEvent{
		AttemptID:  in.AttemptID.String(),
		ExamID:     claims.ExamID,
		StudentID:  in.StudentID,
		Type:       in.Type,
		RecordedAt: now.UnixMilli(),
	}
	if err := s.queue.EnqueueProctorEvent(ctx, ev); err != nil {
		l := logger.FromContext(ctx, s.log)
		l.Error().Err(err).
			Str("attempt_id", in.AttemptID.String()).
			Msg("Failed to queue proctor event for audit")
	}

	return result, nil
}
