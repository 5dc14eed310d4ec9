package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// ResultPendingMessage is shown when an exam withholds results.
const ResultPendingMessage = "Results will be declared by the administrator."

// ResultService serves finalized results and attempt history.
type ResultService struct {
	store repository.AttemptStore
	exams repository.ExamSource
	log   zerolog.Logger
}

// NewResultService creates a new ResultService.
func NewResultService(store repository.AttemptStore, exams repository.ExamSource, log zerolog.Logger) *ResultService {
	return &ResultService{
		store: store,
		exams: exams,
		log:   log.With().Str("component", "result_service").Logger(),
	}
}

// GetResult returns the result view of a finalized attempt owned by studentID.
func (s *ResultService) GetResult(ctx context.Context, attemptID uuid.UUID, studentID int) (*AttemptResult, error) {
	a, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	if a.Status == model.AttemptStatusInProgress {
		return nil, ErrAttemptInProgress
	}

	exam, err := loadExam(ctx, s.exams, a.ExamID)
	if err != nil {
		return nil, err
	}

	out := &AttemptResult{
		AttemptID:   a.ID,
		ExamID:      exam.ID,
		ExamTitle:   exam.Title,
		Status:      a.Status,
		StartedAt:   a.StartedAt,
		SubmittedAt: a.SubmittedAt,
		ShowResult:  exam.ShowResultImmediately,
	}
	if !exam.ShowResultImmediately {
		out.Message = ResultPendingMessage
		return out, nil
	}

	out.Summary = summaryOf(a)
	out.TabSwitchCount = a.TabSwitchCount
	out.FullscreenExitCount = a.FullscreenExitCount
	out.Questions = make([]ResultQuestion, 0, len(a.QuestionOrder))

	for _, qid := range a.QuestionOrder {
		q, ok := exam.Question(qid)
		if !ok {
			continue
		}
		ans := a.Answers[qid]

		rq := ResultQuestion{
			QuestionID:        q.ID,
			Text:              q.Text,
			Type:              q.Type,
			Marks:             q.Marks,
			Options:           make([]ResultOption, 0, len(q.Options)),
			SelectedOptionIDs: ans.SelectedOptionIDs,
			IsCorrect:         ans.IsCorrect,
			MarksAwarded:      ans.MarksAwarded,
			TimeSpentSeconds:  ans.TimeSpentSeconds,
			Explanation:       q.Explanation,
		}
		if rq.SelectedOptionIDs == nil {
			rq.SelectedOptionIDs = []uuid.UUID{}
		}
		for _, oid := range a.OptionOrder[qid] {
			if o, ok := q.Option(oid); ok {
				rq.Options = append(rq.Options, ResultOption{ID: o.ID, Text: o.Text, IsCorrect: o.IsCorrect})
			}
		}
		out.Questions = append(out.Questions, rq)
	}

	return out, nil
}

// History returns a page of the student's attempts, newest first.
// Scores are included only for finalized attempts of exams that show results.
func (s *ResultService) History(ctx context.Context, studentID, page, perPage int) ([]HistoryItem, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}

	attempts, total, err := s.store.ListByStudent(ctx, studentID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}

	snapshots := make(map[uuid.UUID]*model.ExamSnapshot)
	items := make([]HistoryItem, 0, len(attempts))

	for i := range attempts {
		a := &attempts[i]

		exam, ok := snapshots[a.ExamID]
		if !ok {
			exam, err = s.exams.GetSnapshot(ctx, a.ExamID)
			if err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					return nil, 0, fmt.Errorf("get exam: %w", err)
				}
				s.log.Warn().Str("exam_id", a.ExamID.String()).Msg("History references a missing exam")
				exam = nil
			}
			snapshots[a.ExamID] = exam
		}

		item := HistoryItem{
			AttemptID:   a.ID,
			ExamID:      a.ExamID,
			Status:      a.Status,
			StartedAt:   a.StartedAt,
			SubmittedAt: a.SubmittedAt,
		}
		if exam != nil {
			item.ExamTitle = exam.Title
			item.ShowResult = exam.ShowResultImmediately
			if exam.ShowResultImmediately && a.Status.Finalized() {
				item.Summary = summaryOf(a)
			}
		}
		items = append(items, item)
	}

	return items, total, nil
}
