package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// SavedAnswer is an in-progress answer as shown back to the student.
type SavedAnswer struct {
	QuestionID        uuid.UUID   `json:"question_id"`
	SelectedOptionIDs []uuid.UUID `json:"selected_option_ids"`
	TimeSpentSeconds  int         `json:"time_spent_seconds"`
	AnsweredAt        time.Time   `json:"answered_at"`
}

// StartResult is returned from both a fresh start and a resume.
type StartResult struct {
	AttemptID       uuid.UUID                  `json:"attempt_id"`
	ExamID          uuid.UUID                  `json:"exam_id"`
	ExamTitle       string                     `json:"exam_title"`
	Resumed         bool                       `json:"resumed"`
	SessionToken    string                     `json:"session_token"`
	StartedAt       time.Time                  `json:"started_at"`
	ServerDeadline  time.Time                  `json:"server_deadline"`
	TimeLeftSeconds int                        `json:"time_left_seconds"`
	Questions       []model.QuestionForStudent `json:"questions"`
	Answers         []SavedAnswer              `json:"answers"`
}

// SaveResult is the outcome of an autosave. When the deadline had already
// passed, Saved is false and AutoSubmitted carries the finalized outcome.
type SaveResult struct {
	Saved           bool              `json:"saved"`
	TimeLeftSeconds int               `json:"time_left_seconds"`
	ServerDeadline  time.Time         `json:"server_deadline"`
	AutoSubmitted   *SubmissionResult `json:"auto_submitted,omitempty"`
}

// ReportResult is the outcome of a proctoring report.
type ReportResult struct {
	Recorded            bool              `json:"recorded"`
	TabSwitchCount      int               `json:"tab_switch_count"`
	FullscreenExitCount int               `json:"fullscreen_exit_count"`
	AutoSubmitted       *SubmissionResult `json:"auto_submitted,omitempty"`
}

// ResultSummary is the graded headline of a finalized attempt.
type ResultSummary struct {
	TotalMarks     float64 `json:"total_marks"`
	MarksObtained  float64 `json:"marks_obtained"`
	Percentage     int     `json:"percentage"`
	IsPassed       bool    `json:"is_passed"`
	CorrectCount   int     `json:"correct_count"`
	IncorrectCount int     `json:"incorrect_count"`
	SkippedCount   int     `json:"skipped_count"`
	Rank           *int    `json:"rank,omitempty"`
	Flagged        bool    `json:"flagged"`
	FlagReason     string  `json:"flag_reason,omitempty"`
}

// SubmissionResult is returned by submit and by any operation redirected to auto-submit.
type SubmissionResult struct {
	AttemptID     uuid.UUID           `json:"attempt_id"`
	Status        model.AttemptStatus `json:"status"`
	AutoSubmitted bool                `json:"auto_submitted"`
	SubmittedAt   time.Time           `json:"submitted_at"`
	ShowResult    bool                `json:"show_result"`
	Result        *ResultSummary      `json:"result"`
}

// ResultOption is an option in the post-submission detail view.
type ResultOption struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	IsCorrect bool      `json:"is_correct"`
}

// ResultQuestion is one question's graded detail.
type ResultQuestion struct {
	QuestionID        uuid.UUID          `json:"question_id"`
	Text              string             `json:"text"`
	Type              model.QuestionType `json:"type"`
	Marks             float64            `json:"marks"`
	Options           []ResultOption     `json:"options"`
	SelectedOptionIDs []uuid.UUID        `json:"selected_option_ids"`
	IsCorrect         bool               `json:"is_correct"`
	MarksAwarded      float64            `json:"marks_awarded"`
	TimeSpentSeconds  int                `json:"time_spent_seconds"`
	Explanation       string             `json:"explanation,omitempty"`
}

// AttemptResult is the result view. Detail fields are nil unless the exam
// shows results immediately.
type AttemptResult struct {
	AttemptID           uuid.UUID           `json:"attempt_id"`
	ExamID              uuid.UUID           `json:"exam_id"`
	ExamTitle           string              `json:"exam_title"`
	Status              model.AttemptStatus `json:"status"`
	StartedAt           time.Time           `json:"started_at"`
	SubmittedAt         *time.Time          `json:"submitted_at"`
	ShowResult          bool                `json:"show_result"`
	Message             string              `json:"message,omitempty"`
	Summary             *ResultSummary      `json:"summary,omitempty"`
	TabSwitchCount      int                 `json:"tab_switch_count,omitempty"`
	FullscreenExitCount int                 `json:"fullscreen_exit_count,omitempty"`
	Questions           []ResultQuestion    `json:"questions,omitempty"`
}

// HistoryItem is one row of a student's attempt history.
type HistoryItem struct {
	AttemptID   uuid.UUID           `json:"attempt_id"`
	ExamID      uuid.UUID           `json:"exam_id"`
	ExamTitle   string              `json:"exam_title"`
	Status      model.AttemptStatus `json:"status"`
	StartedAt   time.Time           `json:"started_at"`
	SubmittedAt *time.Time          `json:"submitted_at"`
	ShowResult  bool                `json:"show_result"`
	Summary     *ResultSummary      `json:"summary,omitempty"`
}

func summaryOf(a *model.Attempt) *ResultSummary {
	return &ResultSummary{
		TotalMarks:     a.TotalMarks,
		MarksObtained:  a.MarksObtained,
		Percentage:     a.Percentage,
		IsPassed:       a.IsPassed,
		CorrectCount:   a.CorrectCount,
		IncorrectCount: a.IncorrectCount,
		SkippedCount:   a.SkippedCount,
		Rank:           a.Rank,
		Flagged:        a.Flagged,
		FlagReason:     a.FlagReason,
	}
}

// orderedQuestions rebuilds the student's question list from the stored
// permutations. The answer key never leaves this function.
func orderedQuestions(exam *model.ExamSnapshot, a *model.Attempt) []model.QuestionForStudent {
	out := make([]model.QuestionForStudent, 0, len(a.QuestionOrder))
	for _, qid := range a.QuestionOrder {
		q, ok := exam.Question(qid)
		if !ok {
			continue
		}
		fq := model.QuestionForStudent{
			ID:      q.ID,
			Text:    q.Text,
			Type:    q.Type,
			Marks:   q.Marks,
			Options: make([]model.OptionForStudent, 0, len(q.Options)),
		}
		for _, oid := range a.OptionOrder[qid] {
			if o, ok := q.Option(oid); ok {
				fq.Options = append(fq.Options, model.OptionForStudent{ID: o.ID, Text: o.Text})
			}
		}
		out = append(out, fq)
	}
	return out
}

func savedAnswers(a *model.Attempt) []SavedAnswer {
	out := make([]SavedAnswer, 0, len(a.Answers))
	for _, qid := range a.QuestionOrder {
		ans, ok := a.Answers[qid]
		if !ok {
			continue
		}
		out = append(out, SavedAnswer{
			QuestionID:        ans.QuestionID,
			SelectedOptionIDs: ans.SelectedOptionIDs,
			TimeSpentSeconds:  ans.TimeSpentSeconds,
			AnsweredAt:        ans.AnsweredAt,
		})
	}
	return out
}
